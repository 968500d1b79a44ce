package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// EmbeddingRepository implements storage.EmbeddingRepository for BadgerDB.
type EmbeddingRepository struct {
	backend *Backend
}

var _ storage.EmbeddingRepository = (*EmbeddingRepository)(nil)

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(backend *Backend) *EmbeddingRepository {
	return &EmbeddingRepository{
		backend: backend,
	}
}

// SaveEmbeddings stores records keyed by chunk id, replacing older vectors.
func (r *EmbeddingRepository) SaveEmbeddings(ctx context.Context, records ...*core.EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, rec := range records {
			if rec.GeneratedAt.IsZero() {
				rec.GeneratedAt = time.Now().UTC()
			}
			if err := tx.Set(makeEmbeddingKey(rec.ChunkID), storage.MarshalEmbeddingRecord(rec)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// GetEmbeddings returns the cached records that exist for chunkIDs.
func (r *EmbeddingRepository) GetEmbeddings(ctx context.Context, chunkIDs ...string) (map[string]*core.EmbeddingRecord, error) {
	result := make(map[string]*core.EmbeddingRecord, len(chunkIDs))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			var rec *core.EmbeddingRecord
			found, err := getValue(tx, makeEmbeddingKey(id), func(val []byte) error {
				var err error
				rec, err = storage.UnmarshalEmbeddingRecord(val)
				return err
			})
			if err != nil {
				return err
			}
			if found {
				result[id] = rec
			}
		}
		return nil
	}, false)
	return result, err
}
