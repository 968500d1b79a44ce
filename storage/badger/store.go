// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package badger

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/storage"
)

// VectorStore implements storage.VectorStore on a BadgerDB key range.
// Vectors are stored unit-normalised, so cosine distance is 1 - dot product.
// Queries are a brute-force scan of the collection.
type VectorStore struct {
	backend     *Backend
	collection  string
	location    string
	ownsBackend bool
}

var _ storage.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates a collection on an existing backend. Closing the
// store leaves the backend open.
func NewVectorStore(backend *Backend, collection string) storage.VectorStore {
	return &VectorStore{
		backend:    backend,
		collection: collection,
		location:   "memory",
	}
}

// OpenVectorStore opens a dedicated database at path for the collection.
func OpenVectorStore(path, collection string) (storage.VectorStore, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return &VectorStore{
		backend:     backend,
		collection:  collection,
		location:    path,
		ownsBackend: true,
	}, nil
}

// Name identifies the collection.
func (s *VectorStore) Name() string {
	return fmt.Sprintf("badger://%s/%s", s.location, s.collection)
}

// Upsert writes all records in one transaction.
func (s *VectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := storage.CheckUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	return s.backend.WithTx(func(tx *badger.Txn) error {
		for i, id := range ids {
			rec := &storage.VectorRecord{
				ID:     id,
				Text:   texts[i],
				Vector: normalize(vectors[i]),
			}
			if metadatas != nil {
				rec.Metadata = metadatas[i]
			}
			if err := tx.Set(makeVectorKey(s.collection, id), storage.MarshalVectorRecord(rec)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Query ranks every record by cosine distance to vector.
func (s *VectorStore) Query(ctx context.Context, vector []float32, k int) ([]storage.QueryMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	query := normalize(vector)
	matches := []storage.QueryMatch{}

	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeCollectionPrefix(s.collection), false, func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			if len(rec.Vector) != len(query) {
				return fmt.Errorf("%w: query has %d dimensions, collection has %d",
					storage.ErrInvalidQuery, len(query), len(rec.Vector))
			}
			matches = append(matches, storage.QueryMatch{
				ID:       rec.ID,
				Text:     rec.Text,
				Distance: cosineDistance(query, rec.Vector),
				Metadata: rec.Metadata,
			})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(matches, func(a, b storage.QueryMatch) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Get returns every record in key order.
func (s *VectorStore) Get(ctx context.Context) ([]storage.VectorRecord, error) {
	var records []storage.VectorRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeCollectionPrefix(s.collection), false, func(_, val []byte) error {
			rec, err := storage.UnmarshalVectorRecord(val)
			if err != nil {
				return err
			}
			records = append(records, *rec)
			return nil
		})
	}, false)
	return records, err
}

// Count returns the number of records without decoding values.
func (s *VectorStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeCollectionPrefix(s.collection)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Close closes the backend when the store opened it.
func (s *VectorStore) Close() error {
	if s.ownsBackend {
		return s.backend.Close()
	}
	return nil
}
