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


// Package kbsync wires a configuration into a ready-to-run sync workspace.
package kbsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/ai/openai"
	"github.com/poiesic/kbsync/chunker"
	"github.com/poiesic/kbsync/config"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/poiesic/kbsync/orchestrator"
	"github.com/poiesic/kbsync/search"
	"github.com/poiesic/kbsync/staging"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/storage/badger"
	"github.com/poiesic/kbsync/storage/milvus"
	"github.com/poiesic/kbsync/storage/pgvector"
	"github.com/poiesic/kbsync/tunnel"
)

// Workspace owns the state DB, the staging area, the provider and the
// orchestrator built from one configuration.
type Workspace struct {
	cfg          *config.Config
	repos        *badger.Repositories
	area         *staging.Area
	provider     ai.AIProvider
	pipeline     *ingestion.Pipeline
	localStore   storage.VectorStore
	orchestrator *orchestrator.Orchestrator
	logger       *slog.Logger
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*workspaceOptions)

type workspaceOptions struct {
	provider      ai.AIProvider
	tunneler      orchestrator.Tunneler
	opener        orchestrator.StoreOpener
	logger        *slog.Logger
	extraPipeline []ingestion.Option
}

// WithProvider replaces the OpenAI-compatible provider built from the
// config. The workspace takes ownership and closes it.
func WithProvider(provider ai.AIProvider) WorkspaceOption {
	return func(o *workspaceOptions) {
		o.provider = provider
	}
}

// WithRemoteAccess replaces how the remote target is reached and opened.
func WithRemoteAccess(tunneler orchestrator.Tunneler, opener orchestrator.StoreOpener) WorkspaceOption {
	return func(o *workspaceOptions) {
		o.tunneler = tunneler
		o.opener = opener
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) WorkspaceOption {
	return func(o *workspaceOptions) {
		o.logger = logger
	}
}

// WithPipelineOptions appends options after the configured ones.
func WithPipelineOptions(opts ...ingestion.Option) WorkspaceOption {
	return func(o *workspaceOptions) {
		o.extraPipeline = append(o.extraPipeline, opts...)
	}
}

// OpenWorkspace builds every component cfg describes.
func OpenWorkspace(cfg *config.Config, opts ...WorkspaceOption) (*Workspace, error) {
	options := &workspaceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	area, err := staging.Open(cfg.Staging.Root, staging.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	ch, err := chunker.New(cfg.ChunkerOptions()...)
	if err != nil {
		return nil, err
	}

	backend, err := badger.OpenBackend(cfg.State.Dir, cfg.State.Dir == "")
	if err != nil {
		return nil, err
	}
	repos := badger.NewRepositories(backend)

	provider := options.provider
	if provider == nil {
		if provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			backend.Close()
			return nil, err
		}
	}

	pipelineOpts := append(cfg.PipelineOptions(), ingestion.WithLogger(logger))
	pipelineOpts = append(pipelineOpts, options.extraPipeline...)
	pipeline, err := ingestion.NewPipeline(repos.Registry, repos.Jobs, repos.Embeddings, provider, pipelineOpts...)
	if err != nil {
		provider.Close()
		backend.Close()
		return nil, err
	}

	w := &Workspace{
		cfg:        cfg,
		repos:      repos,
		area:       area,
		provider:   provider,
		pipeline:   pipeline,
		localStore: badger.NewVectorStore(backend, cfg.Local.Collection),
		logger:     logger,
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if cfg.Remote.Enabled() {
		remote, err := w.remote(options)
		if err != nil {
			w.Close()
			return nil, err
		}
		orchOpts = append(orchOpts, orchestrator.WithRemote(remote))
	}

	w.orchestrator, err = orchestrator.New(orchestrator.Components{
		Area:       area,
		Chunker:    ch,
		Pipeline:   pipeline,
		Documents:  repos.Documents,
		Registry:   repos.Registry,
		Jobs:       repos.Jobs,
		Local:      cfg.LocalTarget(),
		LocalStore: w.localStore,
	}, orchOpts...)
	if err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *Workspace) remote(options *workspaceOptions) (*orchestrator.Remote, error) {
	r := &orchestrator.Remote{
		Target: w.cfg.RemoteTarget(),
		Tunnel: options.tunneler,
		Open:   options.opener,
	}
	if r.Tunnel == nil {
		if w.cfg.Tunnel.Enabled() {
			m, err := tunnel.NewManager(w.cfg.TunnelConfig(), tunnel.WithLogger(w.logger))
			if err != nil {
				return nil, err
			}
			r.Tunnel = m
		} else {
			r.Tunnel = orchestrator.Direct(w.cfg.Remote.Address)
		}
	}
	if r.Open == nil {
		r.Open = w.openRemote
	}
	return r, nil
}

// openRemote connects to the configured remote driver at addr. pgvector
// connects with its DSN, which must point at the tunnel when one is used.
func (w *Workspace) openRemote(ctx context.Context, addr string) (storage.VectorStore, error) {
	switch w.cfg.Remote.Driver {
	case "milvus":
		return milvus.NewStore(ctx, w.cfg.MilvusOptions(addr))
	case "pgvector":
		return pgvector.NewStore(ctx, w.cfg.Remote.DSN, w.cfg.Remote.Collection)
	default:
		return nil, fmt.Errorf("%w: unknown remote driver %q", core.ErrValidation, w.cfg.Remote.Driver)
	}
}

// Close releases the pipeline, the provider and the state DB.
func (w *Workspace) Close() error {
	w.pipeline.Release()
	if err := w.provider.Close(); err != nil {
		w.logger.Error("error closing AI provider", "err", err)
	}
	if err := w.localStore.Close(); err != nil {
		w.logger.Error("error closing local store", "err", err)
	}
	if err := w.repos.Backend.Close(); err != nil {
		w.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

func (w *Workspace) Config() *config.Config {
	return w.cfg
}

func (w *Workspace) Orchestrator() *orchestrator.Orchestrator {
	return w.orchestrator
}

func (w *Workspace) Area() *staging.Area {
	return w.area
}

func (w *Workspace) LocalStore() storage.VectorStore {
	return w.localStore
}

// Jobs returns up to limit recent ingestion jobs, newest first.
func (w *Workspace) Jobs(ctx context.Context, limit int) ([]*core.IngestionJob, error) {
	return w.repos.Jobs.ListJobs(ctx, limit)
}

// NewRetriever returns a retriever over the local target, checked against
// the dimension local was ingested with.
func (w *Workspace) NewRetriever(opts ...search.Option) (*search.Retriever, error) {
	opts = append([]search.Option{
		search.WithLogger(w.logger),
		search.WithDimensionCheck(w.repos.Registry, w.cfg.Local.ID),
	}, opts...)
	return search.NewRetriever(w.localStore, w.provider, opts...)
}
