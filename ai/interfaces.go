package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice has exactly one embedding per input, in input order.
	// Failures are classified as ErrProviderUnavailable or ErrProviderTimeout
	// and apply to the whole batch.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// AIProvider owns the embedding client and its lifecycle.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// ModelID names the embedding model. Cached vectors are only reused for
	// the same model.
	ModelID() string

	// Close releases resources held by the provider and its services.
	Close() error
}
