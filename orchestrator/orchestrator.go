// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/poiesic/kbsync/chunker"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/poiesic/kbsync/staging"
	"github.com/poiesic/kbsync/storage"
)

// Tunneler gives scoped access to the remote target's address.
// *tunnel.Manager implements it.
type Tunneler interface {
	Use(ctx context.Context, fn func(ctx context.Context, addr string) error) error
}

// StoreOpener connects to the remote vector store reachable at addr.
type StoreOpener func(ctx context.Context, addr string) (storage.VectorStore, error)

// Direct is a Tunneler for remotes that are reachable without a port forward.
type Direct string

// Use calls fn with the address itself.
func (d Direct) Use(ctx context.Context, fn func(ctx context.Context, addr string) error) error {
	return fn(ctx, string(d))
}

// Remote is the optional second target.
type Remote struct {
	Target core.SyncTarget
	Tunnel Tunneler
	Open   StoreOpener
}

// Components are the collaborators an Orchestrator drives.
type Components struct {
	Area       *staging.Area
	Chunker    *chunker.Chunker
	Pipeline   *ingestion.Pipeline
	Documents  storage.DocumentRepository
	Registry   storage.Registry
	Jobs       storage.JobRepository
	Local      core.SyncTarget
	LocalStore storage.VectorStore
}

// Orchestrator moves documents through staged, locally_synced and
// fully_synced. It is not safe for concurrent runs; the tunnel port is what
// keeps two processes from syncing the remote at once.
type Orchestrator struct {
	Components
	remote *Remote
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRemote configures the remote target.
func WithRemote(remote *Remote) Option {
	return func(o *Orchestrator) {
		o.remote = remote
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator.
func New(c Components, opts ...Option) (*Orchestrator, error) {
	switch {
	case c.Area == nil:
		return nil, ErrAreaRequired
	case c.Chunker == nil:
		return nil, ErrChunkerRequired
	case c.Pipeline == nil:
		return nil, ErrPipelineRequired
	case c.Documents == nil || c.Registry == nil || c.Jobs == nil:
		return nil, ErrRepositoryRequired
	case c.LocalStore == nil:
		return nil, ErrLocalStoreRequired
	}
	if c.Local.ID == "" {
		return nil, fmt.Errorf("%w: local target id is required", core.ErrValidation)
	}

	o := &Orchestrator{Components: c, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")

	if o.remote != nil {
		if o.remote.Tunnel == nil || o.remote.Open == nil {
			return nil, ErrRemoteIncomplete
		}
		if o.remote.Target.ID == "" || o.remote.Target.ID == c.Local.ID {
			return nil, fmt.Errorf("%w: remote target id must be set and differ from local", core.ErrValidation)
		}
	}
	return o, nil
}

// Targets returns every configured target, local first.
func (o *Orchestrator) Targets() []core.SyncTarget {
	targets := []core.SyncTarget{o.Local}
	if o.remote != nil {
		targets = append(targets, o.remote.Target)
	}
	return targets
}

// HasRemote reports whether a remote target is configured.
func (o *Orchestrator) HasRemote() bool {
	return o.remote != nil
}

// RunOptions tune a sync command.
type RunOptions struct {
	// Force bypasses the dedup registry and the embedding cache.
	Force bool
}

func newRunID() string {
	return ulid.Make().String()
}

func (o *Orchestrator) saveState(ctx context.Context, st *core.DocumentState) error {
	st.UpdatedAt = time.Now().UTC()
	if err := o.Documents.SaveDocument(ctx, st); err != nil {
		return fmt.Errorf("failed to save state of %s: %w", st.OriginPath, err)
	}
	return nil
}

// statesIn returns the documents currently in one of the given states.
func (o *Orchestrator) statesIn(ctx context.Context, states ...core.DocState) ([]*core.DocumentState, error) {
	all, err := o.Documents.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	var out []*core.DocumentState
	for _, st := range all {
		for _, s := range states {
			if st.State == s {
				if st.SyncFailures == nil {
					st.SyncFailures = map[string]string{}
				}
				out = append(out, st)
				break
			}
		}
	}
	return out, nil
}

// loadDocuments reads the prepared chunks of each state. Documents whose
// batch can't be read are returned as failures.
func (o *Orchestrator) loadDocuments(states []*core.DocumentState, stage string) ([]ingestion.Document, []*core.DocumentState, []Failure) {
	batches := make(map[string]map[string][]core.Chunk)
	var docs []ingestion.Document
	var loaded []*core.DocumentState
	var failures []Failure

	for _, st := range states {
		byDoc, ok := batches[st.BatchID]
		if !ok {
			records, err := o.Area.ReadBatch(st.BatchID)
			if err != nil {
				failures = append(failures, Failure{DocumentID: st.DocumentID, Path: st.OriginPath, Stage: stage, Err: err})
				continue
			}
			byDoc = make(map[string][]core.Chunk)
			for _, rec := range records {
				byDoc[rec.DocumentID] = append(byDoc[rec.DocumentID], rec.Chunk())
			}
			batches[st.BatchID] = byDoc
		}

		chunks := byDoc[st.DocumentID]
		if len(chunks) != len(st.ChunkIDs) {
			failures = append(failures, Failure{
				DocumentID: st.DocumentID, Path: st.OriginPath, Stage: stage,
				Err: fmt.Errorf("%w: batch %s holds %d chunks, expected %d",
					staging.ErrMalformedBatch, st.BatchID, len(chunks), len(st.ChunkIDs)),
			})
			continue
		}
		docs = append(docs, ingestion.Document{DocumentID: st.DocumentID, Source: st.OriginPath, Chunks: chunks})
		loaded = append(loaded, st)
	}
	return docs, loaded, failures
}
