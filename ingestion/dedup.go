package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// dedupProcessor validates chunks and drops those the target already holds.
type dedupProcessor struct {
	registry storage.Registry
	logger   *slog.Logger
}

var _ processor = (*dedupProcessor)(nil)

func newDedupProcessor(registry storage.Registry, logger *slog.Logger) *dedupProcessor {
	return &dedupProcessor{
		registry: registry,
		logger:   logger.With("processor", "dedup"),
	}
}

func (dp *dedupProcessor) name() string { return "dedup" }

func (dp *dedupProcessor) process(ctx context.Context, r *run) error {
	target := r.req.Target.ID
	for _, d := range r.docs {
		r.result.Stats.Processed += len(d.doc.Chunks)

		if err := validateDocument(d.doc); err != nil {
			d.result.Err = err
			r.result.Stats.Failed += len(d.doc.Chunks)
			dp.logger.Warn("document rejected", "document", d.doc.DocumentID, "err", err)
			continue
		}

		for i := range d.doc.Chunks {
			chunk := &d.doc.Chunks[i]
			if r.req.Force {
				d.pending = append(d.pending, *chunk)
				continue
			}
			decision, err := dp.registry.Decide(ctx, target, chunk)
			if err != nil {
				return fmt.Errorf("dedup lookup for %s: %w", chunk.ID, err)
			}
			if decision == storage.DecisionSkip {
				d.result.Skipped++
				r.result.Stats.SkippedDuplicate++
				continue
			}
			d.pending = append(d.pending, *chunk)
		}
	}

	dp.logger.Debug("dedup complete",
		"target", target,
		"processed", r.result.Stats.Processed,
		"skipped", r.result.Stats.SkippedDuplicate,
		"force", r.req.Force)
	return nil
}

// validateDocument checks every chunk and that chunks are numbered 0..n-1.
func validateDocument(doc Document) error {
	if doc.DocumentID == "" {
		return fmt.Errorf("%w: document id is required", core.ErrValidation)
	}
	for i := range doc.Chunks {
		chunk := &doc.Chunks[i]
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
		if chunk.DocumentID != doc.DocumentID || chunk.Ordinal != i {
			return fmt.Errorf("%w: chunk %s out of place in document %s", core.ErrValidation, chunk.ID, doc.DocumentID)
		}
	}
	return nil
}
