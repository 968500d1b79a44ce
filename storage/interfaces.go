package storage

import (
	"context"
	"fmt"

	"github.com/poiesic/kbsync/core"
)

// VectorRecord is a stored vector with its text and metadata.
type VectorRecord struct {
	ID       string
	Text     string
	Vector   []float32
	Metadata map[string]string
}

// QueryMatch is one k-NN result. Distance is cosine distance, lower is closer.
type QueryMatch struct {
	ID       string
	Text     string
	Distance float32
	Metadata map[string]string
}

// VectorStore is the write and read surface of a vector database collection.
// Implementations must be thread-safe and support concurrent access.
type VectorStore interface {
	// Name identifies the collection, e.g. "milvus://host:19530/knowledge".
	Name() string

	// Upsert writes records by id. Re-upserting an id overwrites it, so the
	// collection count does not grow. The slices must have equal length.
	Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error

	// Query returns up to k records ranked by ascending cosine distance.
	// An empty or missing collection yields an empty slice, not an error.
	Query(ctx context.Context, vector []float32, k int) ([]QueryMatch, error)

	// Get returns every record in the collection.
	Get(ctx context.Context) ([]VectorRecord, error)

	// Count returns the number of records in the collection.
	Count(ctx context.Context) (int, error)

	// Close releases the connection.
	Close() error
}

// CheckUpsertArgs validates the parallel slices passed to Upsert.
func CheckUpsertArgs(ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	n := len(ids)
	if len(vectors) != n || len(texts) != n || (metadatas != nil && len(metadatas) != n) {
		return fmt.Errorf("%w: upsert slices differ in length (ids=%d vectors=%d texts=%d metadatas=%d)",
			core.ErrValidation, n, len(vectors), len(texts), len(metadatas))
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("%w: empty id at position %d", core.ErrValidation, i)
		}
		if len(vectors[i]) != len(vectors[0]) {
			return fmt.Errorf("%w: vector %s has %d dimensions, batch has %d",
				core.ErrDimensionMismatch, id, len(vectors[i]), len(vectors[0]))
		}
	}
	return nil
}

// Decision is the dedup registry's verdict for a chunk.
type Decision int

const (
	// DecisionEmbed means the chunk must be embedded and written.
	DecisionEmbed Decision = iota
	// DecisionSkip means the target already holds identical content.
	DecisionSkip
)

func (d Decision) String() string {
	if d == DecisionSkip {
		return "skip"
	}
	return "embed"
}

// Registry is the per-target dedup registry of content hashes.
type Registry interface {
	// Decide reports whether chunk must be embedded for target.
	Decide(ctx context.Context, target string, chunk *core.Chunk) (Decision, error)

	// Lookup returns the entries held by target for the given hashes.
	// Missing hashes are absent from the map.
	Lookup(ctx context.Context, target string, hashes ...string) (map[string]*core.RegistryEntry, error)

	// Record stores entries in the order given.
	Record(ctx context.Context, entries ...*core.RegistryEntry) error

	// Count returns how many hashes target holds.
	Count(ctx context.Context, target string) (int, error)

	// Dimension returns the vector dimension established for target, or 0.
	Dimension(ctx context.Context, target string) (int, error)

	// SetDimension fixes the dimension for target.
	SetDimension(ctx context.Context, target string, dim int) error
}

// JobRepository persists ingestion jobs.
type JobRepository interface {
	// SaveJob inserts or replaces a job.
	SaveJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.IngestionJob, error)

	// ListJobs returns up to limit jobs, newest first. limit <= 0 means all.
	ListJobs(ctx context.Context, limit int) ([]*core.IngestionJob, error)

	// CountJobs counts jobs by status.
	CountJobs(ctx context.Context) (map[core.JobStatus]int, error)
}

// DocumentRepository persists per-document sync state.
type DocumentRepository interface {
	SaveDocument(ctx context.Context, state *core.DocumentState) error

	// GetDocument returns ErrNotFound if the document was never prepared.
	GetDocument(ctx context.Context, id string) (*core.DocumentState, error)

	// ListDocuments returns every known document ordered by origin path.
	ListDocuments(ctx context.Context) ([]*core.DocumentState, error)
}

// EmbeddingRepository caches generated vectors by chunk id.
type EmbeddingRepository interface {
	SaveEmbeddings(ctx context.Context, records ...*core.EmbeddingRecord) error

	// GetEmbeddings returns the cached records for the given chunk ids.
	// Missing ids are absent from the map.
	GetEmbeddings(ctx context.Context, chunkIDs ...string) (map[string]*core.EmbeddingRecord, error)
}
