package orchestrator

import (
	"context"
	"fmt"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/staging"
)

// TargetStatus describes one target.
type TargetStatus struct {
	Target core.SyncTarget

	// Registered is how many chunk hashes the registry holds for the target.
	Registered int
	Dimension  int

	// Vectors is the store's own count. -1 when it was not queried, which is
	// the case for the remote since counting it needs the tunnel.
	Vectors int
}

// Status is a snapshot of the pipeline state.
type Status struct {
	Staging staging.Counts

	Prepared       int // documents with a prepared chunk set
	Staged         int
	LocallySynced  int
	FullySynced    int
	IngestedLocal  int // locally_synced + fully_synced
	IngestedRemote int // fully_synced, when a remote is configured
	WithErrors     int

	Targets []TargetStatus
	Jobs    map[core.JobStatus]int

	// Pending lists documents not yet archived, ordered by path.
	Pending []*core.DocumentState
}

// Status reports document, target and job counts without modifying anything.
func (o *Orchestrator) Status(ctx context.Context) (*Status, error) {
	counts, err := o.Area.Counts()
	if err != nil {
		return nil, fmt.Errorf("failed to count staging area: %w", err)
	}
	states, err := o.Documents.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	s := &Status{Staging: counts, Prepared: len(states)}
	for _, st := range states {
		switch st.State {
		case core.StateStaged:
			s.Staged++
		case core.StateLocallySynced:
			s.LocallySynced++
		case core.StateFullySynced:
			s.FullySynced++
		}
		if st.LastError != "" || len(st.SyncFailures) > 0 {
			s.WithErrors++
		}
		if !st.Archived() {
			s.Pending = append(s.Pending, st)
		}
	}
	s.IngestedLocal = s.LocallySynced + s.FullySynced
	if o.remote != nil {
		s.IngestedRemote = s.FullySynced
	}

	for _, target := range o.Targets() {
		ts := TargetStatus{Target: target, Vectors: -1}
		if ts.Registered, err = o.Registry.Count(ctx, target.ID); err != nil {
			return nil, err
		}
		if ts.Dimension, err = o.Registry.Dimension(ctx, target.ID); err != nil {
			return nil, err
		}
		if target.ID == o.Local.ID {
			if ts.Vectors, err = o.LocalStore.Count(ctx); err != nil {
				return nil, fmt.Errorf("failed to count local vectors: %w", err)
			}
		}
		s.Targets = append(s.Targets, ts)
	}

	if s.Jobs, err = o.Jobs.CountJobs(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
