package ingestion

import "errors"

var (
	// ErrRegistryRequired is returned when a dedup registry is not provided.
	ErrRegistryRequired = errors.New("dedup registry required")

	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrEmbeddingRepositoryRequired is returned when an embedding repository is not provided.
	ErrEmbeddingRepositoryRequired = errors.New("embedding repository required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrStoreRequired is returned when a run has no vector store to write to.
	ErrStoreRequired = errors.New("vector store required")
)
