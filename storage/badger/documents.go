package badger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// DocumentRepository implements storage.DocumentRepository for BadgerDB.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{
		backend: backend,
	}
}

// SaveDocument inserts or replaces a document state and stamps UpdatedAt.
func (r *DocumentRepository) SaveDocument(ctx context.Context, state *core.DocumentState) error {
	if state.DocumentID == "" {
		return fmt.Errorf("%w: document id is required", core.ErrValidation)
	}
	return r.backend.WithTx(func(tx *badger.Txn) error {
		state.UpdatedAt = time.Now().UTC()
		if err := tx.Set(makeDocumentKey(state.DocumentID), storage.MarshalDocumentState(state)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// GetDocument retrieves a document state by id.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.DocumentState, error) {
	var state *core.DocumentState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		found, err := getValue(tx, makeDocumentKey(id), func(val []byte) error {
			var err error
			state, err = storage.UnmarshalDocumentState(val)
			return err
		})
		if err != nil {
			return err
		}
		if !found {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return state, err
}

// ListDocuments returns all document states ordered by origin path.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.DocumentState, error) {
	var states []*core.DocumentState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefixOf(documentStatePrefix), false, func(_, val []byte) error {
			state, err := storage.UnmarshalDocumentState(val)
			if err != nil {
				return err
			}
			states = append(states, state)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(states, func(a, b *core.DocumentState) int {
		return strings.Compare(a.OriginPath, b.OriginPath)
	})
	return states, nil
}
