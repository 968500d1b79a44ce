package orchestrator

import (
	"context"
	"errors"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/ingestion"
	"github.com/poiesic/kbsync/tunnel"
)

// IngestLocal writes every staged document to the local target. Documents
// that succeed become locally_synced; the rest stay staged with their error.
// Documents already locally_synced are run again and are normally skipped
// as duplicates. Without a remote, documents are promoted as soon as local
// holds them.
func (o *Orchestrator) IngestLocal(ctx context.Context, opts RunOptions) (*Report, error) {
	report := newReport(newRunID())
	if err := o.ingestLocal(ctx, report, opts); err != nil {
		return report, err
	}
	if o.remote == nil {
		report.RemoteState = RemoteNotConfigured
		if err := o.reconcile(ctx, report); err != nil {
			report.Fatal = err
			return report, err
		}
	}
	return report, nil
}

func (o *Orchestrator) ingestLocal(ctx context.Context, report *Report, opts RunOptions) error {
	logger := o.logger.With("run", report.RunID, "op", "ingest-local")
	report.LocalRan = true
	report.reached(o.Local, true)

	states, err := o.statesIn(ctx, core.StateStaged, core.StateLocallySynced)
	if err != nil {
		report.Fatal = err
		report.localFatal = true
		return err
	}
	if len(states) == 0 {
		logger.Info("no documents awaiting local sync")
		return nil
	}

	docs, loaded, failures := o.loadDocuments(states, StageLocal)
	for _, f := range failures {
		report.fail(f)
	}

	result, runErr := o.Pipeline.Run(ctx, ingestion.Request{
		RunID:     report.RunID,
		Target:    o.Local,
		Store:     o.LocalStore,
		Documents: docs,
		Force:     opts.Force,
	})
	if result != nil {
		report.Local = result.Stats
	}
	if runErr != nil {
		// A run-wide failure leaves every document in its current state.
		report.Fatal = runErr
		report.localFatal = true
		for _, st := range loaded {
			st.LastError = runErr.Error()
			st.SyncFailures[o.Local.ID] = runErr.Error()
			if err := o.saveState(ctx, st); err != nil {
				logger.Error("failed to record run failure", "path", st.OriginPath, "err", err)
			}
		}
		return runErr
	}

	for i, st := range loaded {
		res := result.Documents[i]
		if res.Err != nil {
			st.LastError = res.Err.Error()
			st.SyncFailures[o.Local.ID] = res.Err.Error()
			report.fail(Failure{DocumentID: st.DocumentID, Path: st.OriginPath, Stage: StageLocal, Err: res.Err})
		} else {
			st.State = core.StateLocallySynced
			st.LastError = ""
			delete(st.SyncFailures, o.Local.ID)
		}
		if err := o.saveState(ctx, st); err != nil {
			report.Fatal = err
			report.localFatal = true
			return err
		}
	}
	logger.Info("local ingestion finished", "documents", len(loaded), "failed", len(result.Failed()))
	return nil
}

// IngestRemote first promotes anything already complete, then writes every
// locally_synced document to the remote through the tunnel and promotes the
// documents that every target now holds. An unreachable remote is not an
// error: the documents stay locally_synced and are retried next run.
func (o *Orchestrator) IngestRemote(ctx context.Context, opts RunOptions) (*Report, error) {
	report := newReport(newRunID())
	if err := o.ingestRemote(ctx, report, opts); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) ingestRemote(ctx context.Context, report *Report, opts RunOptions) error {
	if err := o.reconcile(ctx, report); err != nil {
		report.Fatal = err
		return err
	}
	if o.remote == nil {
		report.RemoteState = RemoteNotConfigured
		return nil
	}

	logger := o.logger.With("run", report.RunID, "op", "ingest-remote", "target", o.remote.Target.ID)
	states, err := o.statesIn(ctx, core.StateLocallySynced)
	if err != nil {
		report.Fatal = err
		return err
	}
	if len(states) == 0 {
		report.RemoteState = RemoteUpToDate
		return nil
	}

	docs, loaded, failures := o.loadDocuments(states, StageRemote)
	for _, f := range failures {
		report.fail(f)
	}

	var (
		result    *ingestion.Result
		reachable bool
	)
	useErr := o.remote.Tunnel.Use(ctx, func(ctx context.Context, addr string) error {
		store, err := o.remote.Open(ctx, addr)
		if err != nil {
			return err
		}
		defer store.Close()
		reachable = true

		var runErr error
		result, runErr = o.Pipeline.Run(ctx, ingestion.Request{
			RunID:     report.RunID,
			Target:    o.remote.Target,
			Store:     store,
			Documents: docs,
			Force:     opts.Force,
		})
		return runErr
	})
	if result != nil {
		report.Remote = result.Stats
	}
	report.reached(o.remote.Target, reachable)

	switch {
	case errors.Is(useErr, tunnel.ErrPortInUse):
		report.RemoteState = RemoteBusy
		report.RemoteErr = useErr
		report.Fatal = useErr
		logger.Error("another run holds the tunnel port", "err", useErr)
		return useErr

	case errors.Is(useErr, core.ErrTargetUnreachable):
		report.RemoteState = RemoteUnreachable
		report.RemoteErr = useErr
		logger.Warn("remote target unreachable, documents stay locally synced", "documents", len(loaded), "err", useErr)
		o.recordRemoteFailure(ctx, loaded, useErr)
		return nil

	case useErr != nil:
		report.RemoteState = RemoteFailed
		report.RemoteErr = useErr
		o.recordRemoteFailure(ctx, loaded, useErr)
		if errors.Is(useErr, context.Canceled) || errors.Is(useErr, core.ErrDimensionMismatch) {
			report.Fatal = useErr
			return useErr
		}
		if isProviderError(useErr) {
			logger.Warn("embedding provider failed during remote sync, documents stay locally synced", "documents", len(loaded), "err", useErr)
			return nil
		}
		logger.Warn("remote sync failed, documents stay locally synced", "err", useErr)
		return nil
	}

	failed := 0
	for i, st := range loaded {
		res := result.Documents[i]
		if res.Err != nil {
			failed++
			st.SyncFailures[o.remote.Target.ID] = res.Err.Error()
			report.fail(Failure{DocumentID: st.DocumentID, Path: st.OriginPath, Stage: StageRemote, Err: res.Err})
		} else {
			delete(st.SyncFailures, o.remote.Target.ID)
		}
		if err := o.saveState(ctx, st); err != nil {
			report.Fatal = err
			return err
		}
	}
	switch {
	case failed == len(loaded) && failed > 0:
		report.RemoteState = RemoteFailed
	case failed > 0:
		report.RemoteState = RemotePartial
	case report.Remote.Upserted > 0:
		report.RemoteState = RemoteUpdated
	default:
		report.RemoteState = RemoteUpToDate
	}

	if err := o.reconcile(ctx, report); err != nil {
		report.Fatal = err
		return err
	}
	return nil
}

func (o *Orchestrator) recordRemoteFailure(ctx context.Context, states []*core.DocumentState, cause error) {
	for _, st := range states {
		st.SyncFailures[o.remote.Target.ID] = cause.Error()
		if err := o.saveState(ctx, st); err != nil {
			o.logger.Error("failed to record remote failure", "path", st.OriginPath, "err", err)
		}
	}
}

// SyncAll runs prep, local ingestion, remote ingestion and reconciliation.
// A run-wide local failure stops before the remote is touched.
func (o *Orchestrator) SyncAll(ctx context.Context, opts RunOptions) (*Report, error) {
	report, err := o.Prep(ctx)
	if err != nil {
		return report, err
	}

	if err := o.ingestLocal(ctx, report, opts); err != nil {
		return report, err
	}
	if err := o.ingestRemote(ctx, report, opts); err != nil {
		return report, err
	}
	o.logger.Info("sync finished", "run", report.RunID, "status", report.StatusLine())
	return report, nil
}

func isProviderError(err error) bool {
	return errors.Is(err, ai.ErrProviderUnavailable) || errors.Is(err, ai.ErrProviderTimeout)
}
