package orchestrator

import "errors"

var (
	// ErrAreaRequired is returned when no staging area is provided.
	ErrAreaRequired = errors.New("staging area required")

	// ErrChunkerRequired is returned when no chunker is provided.
	ErrChunkerRequired = errors.New("chunker required")

	// ErrPipelineRequired is returned when no ingestion pipeline is provided.
	ErrPipelineRequired = errors.New("ingestion pipeline required")

	// ErrRepositoryRequired is returned when a state repository is missing.
	ErrRepositoryRequired = errors.New("state repository required")

	// ErrLocalStoreRequired is returned when the local target has no store.
	ErrLocalStoreRequired = errors.New("local vector store required")

	// ErrRemoteIncomplete is returned when a remote target lacks a tunnel or opener.
	ErrRemoteIncomplete = errors.New("remote target needs a tunnel and a store opener")
)
