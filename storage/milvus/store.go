// Package milvus implements storage.VectorStore on a Milvus collection.
package milvus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

const (
	fieldID        = "id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldMetadata  = "metadata"

	maxIDLength       = 128
	maxTextLength     = 65535
	maxMetadataLength = 8192
)

// Store writes to and queries one Milvus collection.
type Store struct {
	client *milvusclient.Client
	opts   *Options
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

var _ storage.VectorStore = (*Store)(nil)

// NewStore connects to Milvus. Connection failures wrap core.ErrTargetUnreachable.
func NewStore(ctx context.Context, opts *Options) (storage.VectorStore, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(connectCtx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to milvus at %s: %w", core.ErrTargetUnreachable, opts.Address, err)
	}

	return &Store{
		client: c,
		opts:   opts,
		logger: slog.Default().With("component", "milvus-store", "collection", opts.Collection),
	}, nil
}

// Name identifies the collection.
func (s *Store) Name() string {
	return fmt.Sprintf("milvus://%s/%s", s.opts.Address, s.opts.Collection)
}

// exists reports whether the collection is present.
func (s *Store) exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready {
		return true, nil
	}
	has, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.opts.Collection))
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return has, nil
}

// ensureCollection creates, indexes and loads the collection on first use.
func (s *Store) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	has, err := s.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(s.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		s.logger.Info("creating collection", "dim", dim)
		schema := entity.NewSchema().
			WithName(s.opts.Collection).
			WithDescription("kbsync chunk vectors").
			WithAutoID(false).
			WithField(entity.NewField().
				WithName(fieldID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxIDLength).
				WithIsPrimaryKey(true)).
			WithField(entity.NewField().
				WithName(fieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dim))).
			WithField(entity.NewField().
				WithName(fieldText).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxTextLength)).
			WithField(entity.NewField().
				WithName(fieldMetadata).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxMetadataLength))

		if err := s.client.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(s.opts.Collection, schema)); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		idx := index.NewIvfFlatIndex(entity.COSINE, s.opts.NList)
		createIdxTask, err := s.client.CreateIndex(ctx, milvusclient.NewCreateIndexOption(s.opts.Collection, fieldEmbedding, idx))
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		if err := createIdxTask.Await(ctx); err != nil {
			return fmt.Errorf("failed to wait for index creation: %w", err)
		}
	}

	loadTask, err := s.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(s.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	s.ready = true
	return nil
}

// Upsert writes the batch and flushes so it is immediately queryable.
func (s *Store) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := storage.CheckUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	encoded := make([]string, len(ids))
	for i := range ids {
		var meta map[string]string
		if metadatas != nil {
			meta = metadatas[i]
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", ids[i], err)
		}
		encoded[i] = string(raw)
	}

	columns := []column.Column{
		column.NewColumnVarChar(fieldID, ids),
		column.NewColumnFloatVector(fieldEmbedding, len(vectors[0]), vectors),
		column.NewColumnVarChar(fieldText, texts),
		column.NewColumnVarChar(fieldMetadata, encoded),
	}

	if _, err := s.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(s.opts.Collection, columns...)); err != nil {
		return fmt.Errorf("failed to upsert data: %w", err)
	}

	flushTask, err := s.client.Flush(ctx, milvusclient.NewFlushOption(s.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	if err := flushTask.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for flush: %w", err)
	}

	s.logger.Debug("upserted vectors", "count", len(ids))
	return nil
}

// Query runs a COSINE search. Milvus reports similarity, which is converted
// to distance so results compare with the other drivers.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]storage.QueryMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	has, err := s.exists(ctx)
	if err != nil {
		return nil, err
	}
	if !has {
		return []storage.QueryMatch{}, nil
	}
	if err := s.ensureCollection(ctx, len(vector)); err != nil {
		return nil, err
	}

	results, err := s.client.Search(ctx, milvusclient.NewSearchOption(
		s.opts.Collection,
		k,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(fieldEmbedding).
		WithSearchParam("nprobe", strconv.Itoa(s.opts.NProbe)).
		WithOutputFields(fieldText, fieldMetadata))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := []storage.QueryMatch{}
	if len(results) == 0 {
		return matches, nil
	}

	rs := results[0]
	ids, _ := rs.IDs.(*column.ColumnVarChar)
	for i := 0; i < rs.ResultCount; i++ {
		match := storage.QueryMatch{Distance: 1 - rs.Scores[i]}
		if ids != nil {
			match.ID = ids.Data()[i]
		}
		for _, field := range rs.Fields {
			col, ok := field.(*column.ColumnVarChar)
			if !ok {
				continue
			}
			switch col.Name() {
			case fieldText:
				match.Text = col.Data()[i]
			case fieldMetadata:
				match.Metadata = decodeMetadata(col.Data()[i])
			}
		}
		matches = append(matches, match)
	}
	return matches, nil
}

// Get dumps the collection through a scalar query.
func (s *Store) Get(ctx context.Context) ([]storage.VectorRecord, error) {
	has, err := s.exists(ctx)
	if err != nil || !has {
		return nil, err
	}

	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.opts.Collection).
		WithFilter(fieldID+` != ""`).
		WithOutputFields(fieldID, fieldEmbedding, fieldText, fieldMetadata).
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	records := make([]storage.VectorRecord, rs.ResultCount)
	for _, field := range rs.Fields {
		switch col := field.(type) {
		case *column.ColumnVarChar:
			for i, v := range col.Data() {
				switch col.Name() {
				case fieldID:
					records[i].ID = v
				case fieldText:
					records[i].Text = v
				case fieldMetadata:
					records[i].Metadata = decodeMetadata(v)
				}
			}
		case *column.ColumnFloatVector:
			for i, v := range col.Data() {
				records[i].Vector = v
			}
		}
	}
	return records, nil
}

// Count returns count(*) for the collection, 0 if it does not exist.
func (s *Store) Count(ctx context.Context) (int, error) {
	has, err := s.exists(ctx)
	if err != nil || !has {
		return 0, err
	}

	rs, err := s.client.Query(ctx, milvusclient.NewQueryOption(s.opts.Collection).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("failed to count collection: %w", err)
	}
	col, ok := rs.GetColumn("count(*)").(*column.ColumnInt64)
	if !ok || len(col.Data()) == 0 {
		return 0, nil
	}
	return int(col.Data()[0]), nil
}

// Close closes the Milvus client connection.
func (s *Store) Close() error {
	return s.client.Close(context.Background())
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" || raw == "null" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return map[string]string{"raw": raw}
	}
	return meta
}
