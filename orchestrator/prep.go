package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/staging"
	"github.com/poiesic/kbsync/storage"
)

// Prep chunks every new or changed document in intake into one prepared
// batch. A document whose content hash matches its last prep, and whose
// batch still exists, is left alone. A changed document is re-chunked and
// goes back to staged. Empty documents are counted and stay in intake.
func (o *Orchestrator) Prep(ctx context.Context) (*Report, error) {
	report := newReport(newRunID())
	logger := o.logger.With("run", report.RunID, "op", "prep")

	sources, err := o.Area.Scan(ctx)
	if err != nil {
		report.Fatal = err
		return report, err
	}
	report.Prep.Scanned = len(sources)

	batches, err := o.Area.ListBatches()
	if err != nil {
		report.Fatal = err
		return report, err
	}
	haveBatch := make(map[string]bool, len(batches))
	for _, id := range batches {
		haveBatch[id] = true
	}

	var (
		records []staging.Record
		changed []*core.DocumentState
	)
	for _, src := range sources {
		doc := src.Document
		if src.Err != nil {
			report.fail(Failure{DocumentID: doc.ID, Path: doc.OriginPath, Stage: StagePrep, Err: src.Err})
			logger.Warn("document rejected", "path", doc.OriginPath, "err", src.Err)
			continue
		}

		prev, err := o.Documents.GetDocument(ctx, doc.ID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			report.Fatal = err
			return report, err
		}
		if prev != nil && prev.ContentHash == doc.ContentHash && !prev.Archived() && haveBatch[prev.BatchID] {
			report.Prep.Unchanged++
			continue
		}

		chunks := o.Chunker.Chunk(doc.ID, src.Text)
		if len(chunks) == 0 {
			report.Prep.Empty++
			logger.Warn("document is empty, leaving it in intake", "path", doc.OriginPath)
			continue
		}

		st := &core.DocumentState{
			DocumentID:   doc.ID,
			OriginPath:   doc.OriginPath,
			ContentHash:  doc.ContentHash,
			ChunkIDs:     make([]string, len(chunks)),
			ChunkHashes:  make([]string, len(chunks)),
			State:        core.StateStaged,
			SyncFailures: map[string]string{},
		}
		for i, chunk := range chunks {
			st.ChunkIDs[i] = chunk.ID
			st.ChunkHashes[i] = chunk.ContentHash
			records = append(records, staging.NewRecord(doc, chunk, len(chunks)))
		}
		changed = append(changed, st)
		report.Prep.Prepared++
		report.Prep.Chunks += len(chunks)
		logger.Debug("document prepared", "path", doc.OriginPath, "chunks", len(chunks), "new_version", prev != nil)
	}

	if len(records) > 0 {
		batchID, err := o.Area.WriteBatch(records)
		if err != nil {
			report.Fatal = err
			return report, err
		}
		report.Prep.BatchID = batchID
		for _, st := range changed {
			st.BatchID = batchID
			if err := o.saveState(ctx, st); err != nil {
				report.Fatal = err
				return report, err
			}
		}
	}

	if err := o.pruneBatches(ctx); err != nil {
		logger.Warn("failed to prune prepared batches", "err", err)
	}

	logger.Info("prep finished",
		"scanned", report.Prep.Scanned,
		"prepared", report.Prep.Prepared,
		"unchanged", report.Prep.Unchanged,
		"empty", report.Prep.Empty,
		"chunks", report.Prep.Chunks,
		"batch", report.Prep.BatchID)
	return report, nil
}

// pruneBatches removes batches no document state refers to.
func (o *Orchestrator) pruneBatches(ctx context.Context) error {
	states, err := o.Documents.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	keep := make(map[string]bool, len(states))
	for _, st := range states {
		if !st.Archived() {
			keep[st.BatchID] = true
		}
	}
	_, err = o.Area.PruneBatches(keep)
	return err
}
