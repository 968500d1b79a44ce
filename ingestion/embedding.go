package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// embeddingProcessor produces a vector for every pending chunk, reusing
// cached vectors of the same model and content, and checks that all vectors
// fit the target's dimension before anything is written.
type embeddingProcessor struct {
	embeddings storage.EmbeddingRepository
	registry   storage.Registry
	embedder   ai.Embedder
	pool       *ants.Pool
	batchSize  int
	attempts   int
	retryDelay time.Duration
	progress   *ProgressTracker
	logger     *slog.Logger
}

var _ processor = (*embeddingProcessor)(nil)

func (ep *embeddingProcessor) name() string { return "embedding" }

func (ep *embeddingProcessor) process(ctx context.Context, r *run) error {
	chunks := r.pendingChunks()
	if len(chunks) == 0 {
		return nil
	}

	vectors := make(map[string][]float32, len(chunks))
	if !r.req.Force {
		reused, err := ep.reuse(ctx, r.modelID, chunks, vectors)
		if err != nil {
			return err
		}
		r.result.Stats.Reused += reused
	}

	var missing []core.Chunk
	for _, chunk := range chunks {
		if _, ok := vectors[chunk.ID]; !ok {
			missing = append(missing, chunk)
		}
	}

	if len(missing) > 0 {
		ep.logger.Info("generating embeddings", "chunks", len(missing), "batch_size", ep.batchSize)
		generated, err := ep.embed(ctx, missing)
		if err != nil {
			return err
		}
		for i, chunk := range missing {
			vectors[chunk.ID] = generated[i]
		}
		r.result.Stats.Embedded += len(missing)
	}

	if err := ep.checkDimensions(ctx, r, chunks, vectors); err != nil {
		return err
	}

	if len(missing) > 0 {
		records := make([]*core.EmbeddingRecord, len(missing))
		now := time.Now().UTC()
		for i, chunk := range missing {
			records[i] = &core.EmbeddingRecord{
				ChunkID:     chunk.ID,
				ContentHash: chunk.ContentHash,
				Vector:      vectors[chunk.ID],
				ModelID:     r.modelID,
				GeneratedAt: now,
			}
		}
		if err := ep.embeddings.SaveEmbeddings(ctx, records...); err != nil {
			return fmt.Errorf("failed to cache embeddings: %w", err)
		}
	}

	for _, d := range r.docs {
		if d.failed() {
			continue
		}
		d.vectors = make([][]float32, len(d.pending))
		for i, chunk := range d.pending {
			d.vectors[i] = vectors[chunk.ID]
		}
	}
	return nil
}

// reuse fills vectors from the embedding cache and returns how many were found.
func (ep *embeddingProcessor) reuse(ctx context.Context, modelID string, chunks []core.Chunk, vectors map[string][]float32) (int, error) {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	cached, err := ep.embeddings.GetEmbeddings(ctx, ids...)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding cache: %w", err)
	}

	reused := 0
	for _, chunk := range chunks {
		rec, ok := cached[chunk.ID]
		if !ok || rec.ModelID != modelID || rec.ContentHash != chunk.ContentHash {
			continue
		}
		vectors[chunk.ID] = rec.Vector
		reused++
	}
	if reused > 0 {
		ep.logger.Debug("reusing cached embeddings", "chunks", reused)
	}
	return reused, nil
}

// embed sends chunks to the provider in batches on the worker pool. The
// result is aligned with chunks. Any batch failure fails the whole call.
func (ep *embeddingProcessor) embed(ctx context.Context, chunks []core.Chunk) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([][]float32, len(chunks))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for start := 0; start < len(chunks); start += ep.batchSize {
		end := min(start+ep.batchSize, len(chunks))
		batch := chunks[start:end]
		offset := start

		wg.Add(1)
		err := ep.pool.Submit(func() {
			defer wg.Done()
			vectors, err := ep.embedBatch(ctx, batch)
			if err != nil {
				fail(err)
				return
			}
			// Each batch owns a disjoint range of out.
			copy(out[offset:], vectors)
			if ep.progress != nil {
				ep.progress.Increment(len(batch))
			}
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("failed to schedule embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (ep *embeddingProcessor) embedBatch(ctx context.Context, batch []core.Chunk) ([][]float32, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	var vectors [][]float32
	err := ai.RetryIf(ctx, func() error {
		var err error
		vectors, err = ep.embedder.EmbedTexts(ctx, texts)
		return err
	}, ep.attempts, ep.retryDelay, ai.IsRetryable)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if !errors.Is(err, ai.ErrProviderUnavailable) && !errors.Is(err, ai.ErrProviderTimeout) {
			err = fmt.Errorf("%w: %w", ai.ErrProviderUnavailable, err)
		}
		ep.logger.Error("embedding batch failed", "chunks", len(batch), "attempts", ep.attempts, "err", err)
		return nil, err
	}

	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: %w: expected %d vectors, got %d",
			ai.ErrProviderUnavailable, ai.ErrMalformedResponse, len(batch), len(vectors))
	}
	for i, v := range vectors {
		if err := core.ValidateVector(v); err != nil {
			return nil, fmt.Errorf("%w: %w: chunk %s: %w",
				ai.ErrProviderUnavailable, ai.ErrMalformedResponse, batch[i].ID, err)
		}
	}
	return vectors, nil
}

// checkDimensions requires every vector of the run to share one dimension
// that matches the target's established dimension, if any.
func (ep *embeddingProcessor) checkDimensions(ctx context.Context, r *run, chunks []core.Chunk, vectors map[string][]float32) error {
	target := r.req.Target.ID
	established, err := ep.registry.Dimension(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to read dimension of %s: %w", target, err)
	}

	want := established
	for _, chunk := range chunks {
		got := len(vectors[chunk.ID])
		if want == 0 {
			want = got
			continue
		}
		if err := core.CheckDimension(target, want, got); err != nil {
			ep.logger.Error("dimension mismatch, aborting run", "target", target, "chunk", chunk.ID, "want", want, "got", got)
			return err
		}
	}
	r.established = established
	return nil
}
