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
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// Registry implements storage.Registry for BadgerDB.
type Registry struct {
	backend *Backend
}

var _ storage.Registry = (*Registry)(nil)

// NewRegistry creates a new Registry.
func NewRegistry(backend *Backend) *Registry {
	return &Registry{
		backend: backend,
	}
}

// Decide returns DecisionSkip when target already holds the chunk's hash.
func (r *Registry) Decide(ctx context.Context, target string, chunk *core.Chunk) (storage.Decision, error) {
	found, err := r.Lookup(ctx, target, chunk.ContentHash)
	if err != nil {
		return storage.DecisionEmbed, err
	}
	if _, ok := found[chunk.ContentHash]; ok {
		return storage.DecisionSkip, nil
	}
	return storage.DecisionEmbed, nil
}

// Lookup returns the entries target holds for hashes.
func (r *Registry) Lookup(ctx context.Context, target string, hashes ...string) (map[string]*core.RegistryEntry, error) {
	result := make(map[string]*core.RegistryEntry, len(hashes))
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, hash := range hashes {
			var entry *core.RegistryEntry
			found, err := getValue(tx, makeRegistryKey(target, hash), func(val []byte) error {
				var err error
				entry, err = storage.UnmarshalRegistryEntry(val)
				return err
			})
			if err != nil {
				return err
			}
			if found {
				result[hash] = entry
			}
		}
		return nil
	}, false)
	return result, err
}

// Record stores entries in one transaction.
func (r *Registry) Record(ctx context.Context, entries ...*core.RegistryEntry) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, entry := range entries {
			if entry.TargetID == "" || entry.ContentHash == "" {
				return fmt.Errorf("%w: registry entry needs a target and hash", core.ErrValidation)
			}
			if entry.RecordedAt.IsZero() {
				entry.RecordedAt = time.Now().UTC()
			}
			key := makeRegistryKey(entry.TargetID, entry.ContentHash)
			if err := tx.Set(key, storage.MarshalRegistryEntry(entry)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// Count returns how many hashes target holds.
func (r *Registry) Count(ctx context.Context, target string) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeRegistryTargetPrefix(target)
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// Dimension returns the established vector dimension for target, or 0.
func (r *Registry) Dimension(ctx context.Context, target string) (int, error) {
	dim := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := getValue(tx, makeDimensionKey(target), func(val []byte) error {
			var err error
			dim, err = storage.UnmarshalInt(val)
			return err
		})
		return err
	}, false)
	return dim, err
}

// SetDimension fixes the dimension for target. Changing an established
// dimension is refused with core.ErrDimensionMismatch.
func (r *Registry) SetDimension(ctx context.Context, target string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", core.ErrValidation, dim)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeDimensionKey(target)
		existing := 0
		_, err := getValue(tx, key, func(val []byte) error {
			var err error
			existing, err = storage.UnmarshalInt(val)
			return err
		})
		if err != nil {
			return err
		}
		if err := core.CheckDimension(target, existing, dim); err != nil {
			return err
		}
		if existing == dim {
			return nil
		}
		if err := tx.Set(key, storage.MarshalInt(dim)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
