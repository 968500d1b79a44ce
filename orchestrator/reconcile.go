package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/staging"
	"github.com/poiesic/kbsync/storage"
)

// Reconcile promotes every document that all configured targets fully hold,
// whatever its recorded state. It repairs runs interrupted between the last
// remote write and the archive move.
func (o *Orchestrator) Reconcile(ctx context.Context) (*Report, error) {
	report := newReport(newRunID())
	if err := o.reconcile(ctx, report); err != nil {
		report.Fatal = err
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) reconcile(ctx context.Context, report *Report) error {
	states, err := o.statesIn(ctx, core.StateStaged, core.StateLocallySynced)
	if err != nil {
		return err
	}

	jobs := make(map[string]*core.IngestionJob)
	for _, st := range states {
		complete, err := o.complete(ctx, st, jobs)
		if err != nil {
			return err
		}
		if !complete {
			continue
		}

		archived, err := o.Area.Promote(st.OriginPath, st.ContentHash)
		if err != nil {
			if errors.Is(err, staging.ErrContentChanged) || errors.Is(err, staging.ErrSourceMissing) {
				st.LastError = err.Error()
				if saveErr := o.saveState(ctx, st); saveErr != nil {
					return saveErr
				}
				report.fail(Failure{DocumentID: st.DocumentID, Path: st.OriginPath, Stage: StagePromote, Err: err})
				o.logger.Warn("document synced but not promoted", "path", st.OriginPath, "err", err)
				continue
			}
			return fmt.Errorf("failed to promote %s: %w", st.OriginPath, err)
		}

		st.State = core.StateFullySynced
		st.ArchivePath = archived
		st.LastError = ""
		clear(st.SyncFailures)
		if err := o.saveState(ctx, st); err != nil {
			return err
		}
		report.Promoted++
	}
	if report.Promoted > 0 {
		o.logger.Info("documents promoted", "count", report.Promoted)
	}
	return nil
}

// complete reports whether every target holds every chunk of st through a
// succeeded job. jobs caches lookups across documents.
func (o *Orchestrator) complete(ctx context.Context, st *core.DocumentState, jobs map[string]*core.IngestionJob) (bool, error) {
	if len(st.ChunkHashes) == 0 {
		return false, nil
	}
	for _, target := range o.Targets() {
		entries, err := o.Registry.Lookup(ctx, target.ID, st.ChunkHashes...)
		if err != nil {
			return false, fmt.Errorf("registry lookup for %s: %w", target.ID, err)
		}
		for _, hash := range st.ChunkHashes {
			entry, ok := entries[hash]
			if !ok {
				return false, nil
			}
			job, ok := jobs[entry.JobID]
			if !ok {
				job, err = o.Jobs.GetJob(ctx, entry.JobID)
				if errors.Is(err, storage.ErrNotFound) {
					return false, nil
				}
				if err != nil {
					return false, fmt.Errorf("failed to read job %s: %w", entry.JobID, err)
				}
				jobs[entry.JobID] = job
			}
			if job.Status != core.JobSucceeded || job.TargetID != target.ID {
				return false, nil
			}
		}
	}
	return true, nil
}
