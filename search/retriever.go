package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/poiesic/kbsync/ai"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

const (
	// DefaultMaxDistance drops matches farther than this cosine distance,
	// i.e. below 0.40 similarity.
	DefaultMaxDistance float32 = 0.60

	verbatimBoost float32 = 0.3
)

// Hit is one ranked match.
type Hit struct {
	ID       string
	Text     string
	Distance float32
	// Score is 1 - Distance plus the verbatim boost when it applies.
	Score    float32
	Verbatim bool
	Metadata map[string]string
}

// Retriever answers queries against one target.
type Retriever struct {
	store       storage.VectorStore
	embedder    ai.Embedder
	registry    storage.Registry
	targetID    string
	maxDistance float32
	logger      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithMaxDistance sets the cosine distance cutoff, in (0, 2].
func WithMaxDistance(d float32) Option {
	return func(r *Retriever) error {
		if d <= 0 || d > 2 {
			return fmt.Errorf("%w: max distance %v out of range", core.ErrValidation, d)
		}
		r.maxDistance = d
		return nil
	}
}

// WithDimensionCheck rejects query vectors whose length differs from the
// dimension the registry established for targetID.
func WithDimensionCheck(registry storage.Registry, targetID string) Option {
	return func(r *Retriever) error {
		r.registry = registry
		r.targetID = targetID
		return nil
	}
}

// NewRetriever creates a retriever over store. provider must be the one
// the target was ingested with.
func NewRetriever(store storage.VectorStore, provider ai.AIProvider, opts ...Option) (*Retriever, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	r := &Retriever{
		store:       store,
		embedder:    provider.Embedder(),
		maxDistance: DefaultMaxDistance,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retriever", "store", store.Name())
	return r, nil
}

// Retrieve returns up to k hits for query, best first.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]*Hit, error) {
	return r.RetrieveWithMonitor(ctx, query, k, nil)
}

// RetrieveWithMonitor is Retrieve with callbacks at each stage.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, k int, monitor RetrievalMonitor) ([]*Hit, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", core.ErrValidation)
	}
	if core.NormalizeText(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrValidation)
	}

	monitor.Start(query)

	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	if r.registry != nil {
		want, err := r.registry.Dimension(ctx, r.targetID)
		if err != nil {
			return nil, err
		}
		if err := core.CheckDimension(r.targetID, want, len(embedding)); err != nil {
			return nil, err
		}
	}
	monitor.AfterEmbedding(len(embedding))

	matches, err := r.store.Query(ctx, embedding, k)
	if err != nil {
		r.logger.Error("error querying vector store", "err", err)
		return nil, err
	}
	monitor.AfterQuery(matches)

	hits := make([]*Hit, 0, len(matches))
	for _, m := range matches {
		if m.Distance > r.maxDistance {
			continue
		}
		hit := &Hit{
			ID:       m.ID,
			Text:     m.Text,
			Distance: m.Distance,
			Score:    1 - m.Distance,
			Metadata: m.Metadata,
		}
		if containsAllQueryWords(m.Text, query) {
			hit.Score += verbatimBoost
			hit.Verbatim = true
			monitor.VerbatimHit(hit)
		}
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	monitor.Finish(hits)
	return hits, nil
}
