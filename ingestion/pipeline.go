package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

const (
	DefaultBatchSize  = 32
	DefaultMaxRetries = 3
	DefaultRetryDelay = 500 * time.Millisecond
)

// Pipeline writes prepared chunks to one target per Run: dedup, embed,
// check dimensions, then upsert document by document.
type Pipeline struct {
	registry   storage.Registry
	jobs       storage.JobRepository
	embeddings storage.EmbeddingRepository
	provider   ai.AIProvider
	pool       *ants.Pool
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	progress   *ProgressTracker
	logger     *slog.Logger

	processors []processor
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets how many embedding batches run concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many chunks are sent to the provider per request.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size must be positive", core.ErrValidation)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetry sets the attempt budget and base backoff delay for provider calls.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		p.maxRetries = maxAttempts
		p.retryDelay = baseDelay
		return nil
	}
}

// WithProgress reports embedding progress to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		if w != nil {
			p.progress = NewProgressTracker(w, "embedding", 1)
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	registry storage.Registry,
	jobs storage.JobRepository,
	embeddings storage.EmbeddingRepository,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingRepositoryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		registry:   registry,
		jobs:       jobs,
		embeddings: embeddings,
		provider:   provider,
		pool:       pool,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	// Processors are built after options so they see the final config.
	p.processors = []processor{
		newDedupProcessor(registry, p.logger),
		&embeddingProcessor{
			embeddings: embeddings,
			registry:   registry,
			embedder:   provider.Embedder(),
			pool:       p.pool,
			batchSize:  p.batchSize,
			attempts:   p.maxRetries,
			retryDelay: p.retryDelay,
			progress:   p.progress,
			logger:     p.logger.With("processor", "embedding"),
		},
		newWriteProcessor(registry, jobs, p.logger),
	}
	return p, nil
}

// Document is one document's full chunk set, in ordinal order.
type Document struct {
	DocumentID string
	Source     string // origin path, stored in vector metadata
	Chunks     []core.Chunk
}

// Request describes one run against one target.
type Request struct {
	// RunID groups the jobs of one operator command. Generated when empty.
	RunID     string
	Target    core.SyncTarget
	Store     storage.VectorStore
	Documents []Document

	// Force bypasses the dedup registry and the embedding cache.
	Force bool
}

// DocumentResult is the outcome of one document in a run.
type DocumentResult struct {
	DocumentID string
	JobID      string // empty when nothing had to be written
	Skipped    int
	Upserted   int
	Err        error
}

// Succeeded reports whether every chunk of the document is now in the target.
func (r DocumentResult) Succeeded() bool {
	return r.Err == nil
}

// Stats are chunk counts for one run.
type Stats struct {
	Processed        int
	SkippedDuplicate int
	Embedded         int
	Reused           int
	Upserted         int
	Failed           int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.SkippedDuplicate += other.SkippedDuplicate
	s.Embedded += other.Embedded
	s.Reused += other.Reused
	s.Upserted += other.Upserted
	s.Failed += other.Failed
}

// Result is the outcome of a run. Documents is aligned with Request.Documents.
type Result struct {
	RunID     string
	TargetID  string
	Documents []DocumentResult
	Stats     Stats
}

// Failed returns the results of documents that did not reach the target.
func (r *Result) Failed() []DocumentResult {
	var out []DocumentResult
	for _, d := range r.Documents {
		if !d.Succeeded() {
			out = append(out, d)
		}
	}
	return out
}

// Run writes req.Documents to req.Target.
//
// Document-scoped problems (invalid chunks, a failed upsert) are reported in
// Result.Documents and do not stop other documents. Run returns an error,
// together with the partial result, only for run-wide failures: the provider
// being unavailable, a dimension mismatch, a storage failure of the state DB
// or cancellation. Provider and dimension failures happen before any write.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Store == nil {
		return nil, ErrStoreRequired
	}
	if req.Target.ID == "" {
		return nil, fmt.Errorf("%w: target id is required", core.ErrValidation)
	}
	if req.RunID == "" {
		req.RunID = ulid.Make().String()
	}

	r := &run{
		req:     req,
		modelID: p.provider.ModelID(),
		started: time.Now().UTC(),
		result: &Result{
			RunID:     req.RunID,
			TargetID:  req.Target.ID,
			Documents: make([]DocumentResult, len(req.Documents)),
		},
	}
	r.docs = make([]*docRun, len(req.Documents))
	for i, doc := range req.Documents {
		r.result.Documents[i].DocumentID = doc.DocumentID
		r.docs[i] = &docRun{doc: doc, result: &r.result.Documents[i]}
	}

	logger := p.logger.With("run", req.RunID, "target", req.Target.ID)
	logger.Info("ingestion run started", "documents", len(req.Documents), "store", req.Store.Name())

	if p.progress != nil {
		p.progress.Start(countChunks(req.Documents))
		defer p.progress.Finish()
	}

	for _, proc := range p.processors {
		if err := proc.process(ctx, r); err != nil {
			logger.Error("ingestion run aborted", "stage", proc.name(), "err", err)
			return r.result, fmt.Errorf("%s stage: %w", proc.name(), err)
		}
	}

	s := r.result.Stats
	logger.Info("ingestion run finished",
		"processed", s.Processed,
		"skipped_duplicate", s.SkippedDuplicate,
		"embedded", s.Embedded,
		"reused", s.Reused,
		"upserted", s.Upserted,
		"failed", s.Failed)
	return r.result, nil
}

// Release releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func countChunks(docs []Document) int {
	n := 0
	for _, d := range docs {
		n += len(d.Chunks)
	}
	return n
}
