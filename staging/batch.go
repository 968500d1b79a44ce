package staging

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/poiesic/kbsync/core"
)

const (
	batchPrefix = "batch-"
	batchSuffix = ".jsonl"

	// maxRecordSize bounds a single JSON line when reading a batch back.
	maxRecordSize = 16 * 1024 * 1024
)

// Record is one line of a prepared batch file.
type Record struct {
	DocumentID string         `json:"document_id" validate:"required"`
	ChunkIndex int            `json:"chunk_index" validate:"gte=0"`
	Text       string         `json:"text" validate:"required"`
	Metadata   RecordMetadata `json:"metadata"`
}

// RecordMetadata carries the chunk's provenance.
type RecordMetadata struct {
	Source      string `json:"source" validate:"required"`
	TotalChunks int    `json:"total_chunks" validate:"gt=0"`
	WordCount   int    `json:"word_count" validate:"gte=0"`
	ContentHash string `json:"content_hash" validate:"required,hexadecimal"`
	ChunkID     string `json:"chunk_id" validate:"required"`
}

// NewRecord builds the batch record of a chunk of doc.
func NewRecord(doc core.Document, chunk core.Chunk, totalChunks int) Record {
	return Record{
		DocumentID: chunk.DocumentID,
		ChunkIndex: chunk.Ordinal,
		Text:       chunk.Text,
		Metadata: RecordMetadata{
			Source:      doc.OriginPath,
			TotalChunks: totalChunks,
			WordCount:   chunk.WordCount,
			ContentHash: chunk.ContentHash,
			ChunkID:     chunk.ID,
		},
	}
}

// Chunk converts the record back into a chunk.
func (r Record) Chunk() core.Chunk {
	return core.Chunk{
		ID:          r.Metadata.ChunkID,
		DocumentID:  r.DocumentID,
		Ordinal:     r.ChunkIndex,
		Text:        r.Text,
		WordCount:   r.Metadata.WordCount,
		ContentHash: r.Metadata.ContentHash,
	}
}

// WriteBatch writes records to a new batch file and returns the batch id.
// The file appears atomically under its final name.
func (a *Area) WriteBatch(records []Record) (string, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("%w: empty batch", core.ErrValidation)
	}
	id := ulid.Make().String()
	final := a.batchPath(id)

	tmp, err := os.CreateTemp(a.prepared, ".batch-*")
	if err != nil {
		return "", fmt.Errorf("failed to create batch file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			tmp.Close()
			return "", fmt.Errorf("failed to encode record %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write batch: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write batch: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to publish batch: %w", err)
	}

	a.logger.Debug("batch written", "batch", id, "records", len(records))
	return id, nil
}

// ReadBatch loads and validates every record of a batch.
func (a *Area) ReadBatch(id string) ([]Record, error) {
	f, err := os.Open(a.batchPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open batch %s: %w", id, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	line := 0
	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", ErrMalformedBatch, id, line, err)
		}
		if err := core.Validator().Struct(rec); err != nil {
			return nil, fmt.Errorf("%w: %s line %d: %w", ErrMalformedBatch, id, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedBatch, id, err)
	}
	return records, nil
}

// ReadDocument returns the chunks of one document from a batch, in ordinal order.
func (a *Area) ReadDocument(batchID, documentID string) ([]core.Chunk, error) {
	records, err := a.ReadBatch(batchID)
	if err != nil {
		return nil, err
	}
	var chunks []core.Chunk
	for _, rec := range records {
		if rec.DocumentID == documentID {
			chunks = append(chunks, rec.Chunk())
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Ordinal < chunks[j].Ordinal })
	return chunks, nil
}

// ListBatches returns batch ids oldest first.
func (a *Area) ListBatches() ([]string, error) {
	entries, err := os.ReadDir(a.prepared)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, batchPrefix) || !strings.HasSuffix(name, batchSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, batchPrefix), batchSuffix))
	}
	// ULIDs sort lexicographically by creation time.
	sort.Strings(ids)
	return ids, nil
}

// PruneBatches removes every batch whose id is not in keep and returns how
// many were removed.
func (a *Area) PruneBatches(keep map[string]bool) (int, error) {
	ids, err := a.ListBatches()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if keep[id] {
			continue
		}
		if err := os.Remove(a.batchPath(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove batch %s: %w", id, err)
		}
		removed++
	}
	if removed > 0 {
		a.logger.Debug("pruned prepared batches", "removed", removed)
	}
	return removed, nil
}

func (a *Area) batchPath(id string) string {
	return filepath.Join(a.prepared, batchPrefix+id+batchSuffix)
}
