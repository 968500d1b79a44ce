package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// writeProcessor upserts each document's vectors under its own job and
// records the chunk hashes in the registry once the job succeeded.
type writeProcessor struct {
	registry storage.Registry
	jobs     storage.JobRepository
	logger   *slog.Logger
}

var _ processor = (*writeProcessor)(nil)

func newWriteProcessor(registry storage.Registry, jobs storage.JobRepository, logger *slog.Logger) *writeProcessor {
	return &writeProcessor{
		registry: registry,
		jobs:     jobs,
		logger:   logger.With("processor", "write"),
	}
}

func (wp *writeProcessor) name() string { return "write" }

func (wp *writeProcessor) process(ctx context.Context, r *run) error {
	dimensionSet := r.established != 0
	var unreachable error

	for _, d := range r.docs {
		if d.failed() || len(d.pending) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := wp.startJob(ctx, r, d)
		if err != nil {
			return err
		}
		d.result.JobID = job.ID

		// Once the target is known to be down the remaining documents fail
		// without another round trip.
		writeErr := unreachable
		if writeErr == nil {
			writeErr = wp.upsert(ctx, r, d)
		}
		if writeErr != nil {
			if errors.Is(writeErr, core.ErrTargetUnreachable) {
				unreachable = writeErr
			}
			if err := wp.finishJob(ctx, job, writeErr); err != nil {
				return err
			}
			d.result.Err = fmt.Errorf("write to %s: %w", r.req.Target.ID, writeErr)
			r.result.Stats.Failed += len(d.pending)
			wp.logger.Warn("document write failed", "document", d.doc.DocumentID, "job", job.ID, "err", writeErr)
			continue
		}

		if !dimensionSet {
			if err := wp.registry.SetDimension(ctx, r.req.Target.ID, len(d.vectors[0])); err != nil {
				return fmt.Errorf("failed to record dimension of %s: %w", r.req.Target.ID, err)
			}
			dimensionSet = true
		}
		// The job is marked first: a registry entry must never point at a
		// job that did not succeed.
		if err := wp.finishJob(ctx, job, nil); err != nil {
			return err
		}
		if err := wp.record(ctx, r, d, job); err != nil {
			return err
		}

		d.result.Upserted = len(d.pending)
		r.result.Stats.Upserted += len(d.pending)
		wp.logger.Debug("document written", "document", d.doc.DocumentID, "job", job.ID, "chunks", len(d.pending))
	}
	return nil
}

func (wp *writeProcessor) startJob(ctx context.Context, r *run, d *docRun) (*core.IngestionJob, error) {
	ids := make([]string, len(d.pending))
	for i, chunk := range d.pending {
		ids[i] = chunk.ID
	}
	job := &core.IngestionJob{
		ID:         ulid.Make().String(),
		RunID:      r.req.RunID,
		TargetID:   r.req.Target.ID,
		DocumentID: d.doc.DocumentID,
		ChunkIDs:   ids,
		Status:     core.JobPending,
		StartedAt:  time.Now().UTC(),
	}
	if err := wp.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	job.Status = core.JobRunning
	if err := wp.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to start job %s: %w", job.ID, err)
	}
	return job, nil
}

func (wp *writeProcessor) finishJob(ctx context.Context, job *core.IngestionJob, cause error) error {
	job.CompletedAt = time.Now().UTC()
	job.Status = core.JobSucceeded
	if cause != nil {
		job.Status = core.JobFailed
		job.Error = cause.Error()
	}
	if err := wp.jobs.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

func (wp *writeProcessor) upsert(ctx context.Context, r *run, d *docRun) error {
	n := len(d.pending)
	ids := make([]string, n)
	texts := make([]string, n)
	metadatas := make([]map[string]string, n)
	for i, chunk := range d.pending {
		ids[i] = chunk.ID
		texts[i] = chunk.Text
		meta := core.ChunkMetadata{
			Source:      d.doc.Source,
			ChunkIndex:  chunk.Ordinal,
			TotalChunks: len(d.doc.Chunks),
			WordCount:   chunk.WordCount,
			ModelID:     r.modelID,
			IngestedAt:  r.started,
		}.Map()
		meta["document_id"] = chunk.DocumentID
		meta["content_hash"] = chunk.ContentHash
		metadatas[i] = meta
	}
	return r.req.Store.Upsert(ctx, ids, d.vectors, texts, metadatas)
}

// record adds the document's chunk hashes to the registry in chunk order.
func (wp *writeProcessor) record(ctx context.Context, r *run, d *docRun, job *core.IngestionJob) error {
	entries := make([]*core.RegistryEntry, len(d.pending))
	for i, chunk := range d.pending {
		entries[i] = &core.RegistryEntry{
			TargetID:    r.req.Target.ID,
			ContentHash: chunk.ContentHash,
			ChunkID:     chunk.ID,
			DocumentID:  chunk.DocumentID,
			JobID:       job.ID,
		}
	}
	if err := wp.registry.Record(ctx, entries...); err != nil {
		return fmt.Errorf("failed to update registry for job %s: %w", job.ID, err)
	}
	return nil
}
