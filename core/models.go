package core

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a 64-bit content-derived identifier.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as 16 lowercase hex digits.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// DocumentIDFor derives the stable document id from a path relative to the intake area.
// Editing a document keeps its id; its chunks are overwritten by chunk id.
func DocumentIDFor(relPath string) string {
	return IDFromContent(relPath).String()
}

// ChunkIDFor builds the chunk id for the ordinal-th chunk of a document.
func ChunkIDFor(documentID string, ordinal int) string {
	return fmt.Sprintf("%s:%d", documentID, ordinal)
}

// ContentHash returns the hex BLAKE2b-256 digest of text.
func ContentHash(text string) string {
	h, _ := blake2b.New(32, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// NormalizeText collapses runs of whitespace into single spaces and trims the result.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ChunkHash is the dedup key of a chunk: it covers the owning document, the
// ordinal and the normalized text.
func ChunkHash(documentID string, ordinal int, text string) string {
	return ContentHash(fmt.Sprintf("%s\x00%d\x00%s", documentID, ordinal, NormalizeText(text)))
}

// Document is a raw source artifact found in the intake area.
type Document struct {
	ID          string
	OriginPath  string // relative to the intake root, slash separated
	ContentHash string
	ModifiedAt  time.Time
}

// Chunk is a bounded span of a document's text.
type Chunk struct {
	ID          string `json:"chunk_id" validate:"required"`
	DocumentID  string `json:"document_id" validate:"required"`
	Ordinal     int    `json:"chunk_index" validate:"gte=0"`
	Text        string `json:"text" validate:"required"`
	WordCount   int    `json:"word_count"`
	ContentHash string `json:"content_hash" validate:"required,hexadecimal"`
}

// NewChunk builds a chunk with its derived id, word count and hash.
func NewChunk(documentID string, ordinal int, text string) Chunk {
	return Chunk{
		ID:          ChunkIDFor(documentID, ordinal),
		DocumentID:  documentID,
		Ordinal:     ordinal,
		Text:        text,
		WordCount:   len(strings.Fields(text)),
		ContentHash: ChunkHash(documentID, ordinal, text),
	}
}

// EmbeddingRecord caches the vector generated for a chunk by a given model.
type EmbeddingRecord struct {
	ChunkID     string
	ContentHash string
	Vector      []float32
	ModelID     string
	GeneratedAt time.Time
}

// JobStatus is the lifecycle state of an IngestionJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// IngestionJob records one attempt to write a document's chunks to one target.
type IngestionJob struct {
	ID          string
	RunID       string
	TargetID    string
	DocumentID  string
	ChunkIDs    []string
	Status      JobStatus
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
}

// Done reports whether the job reached a terminal status.
func (j *IngestionJob) Done() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}

// SyncTarget describes a vector store the pipeline writes to.
type SyncTarget struct {
	ID         string
	Driver     string
	Collection string
	Descriptor string // connection string or path; never contains credentials
	Remote     bool

	// Reachable is found per run and never persisted.
	Reachable bool
}

// DocState is a document's position in the sync state machine.
type DocState string

const (
	StateStaged        DocState = "staged"
	StateLocallySynced DocState = "locally_synced"
	StateFullySynced   DocState = "fully_synced"
)

// DocumentState is the persisted sync state of one document. It survives the
// source file moving to the archive.
type DocumentState struct {
	DocumentID   string
	OriginPath   string
	ContentHash  string
	BatchID      string // prepared batch holding the current chunk set
	ChunkIDs     []string
	ChunkHashes  []string
	State        DocState
	SyncFailures map[string]string // target id -> last failure
	LastError    string
	ArchivePath  string
	UpdatedAt    time.Time
}

// Archived reports whether the document reached its terminal state.
func (s *DocumentState) Archived() bool {
	return s.State == StateFullySynced
}

// RegistryEntry records that a chunk hash was written to a target by a job.
type RegistryEntry struct {
	TargetID    string
	ContentHash string
	ChunkID     string
	DocumentID  string
	JobID       string
	RecordedAt  time.Time
}

// ChunkMetadata is attached to each vector record.
type ChunkMetadata struct {
	Source      string
	ChunkIndex  int
	TotalChunks int
	WordCount   int
	ModelID     string
	IngestedAt  time.Time
}

// Map flattens the metadata into the string map stored with vectors.
func (m ChunkMetadata) Map() map[string]string {
	return map[string]string{
		"source":       m.Source,
		"chunk_index":  fmt.Sprint(m.ChunkIndex),
		"total_chunks": fmt.Sprint(m.TotalChunks),
		"word_count":   fmt.Sprint(m.WordCount),
		"model_id":     m.ModelID,
		"ingested_at":  m.IngestedAt.UTC().Format(time.RFC3339),
	}
}
