// Package pgvector implements storage.VectorStore on a PostgreSQL table with
// the pgvector extension.
package pgvector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
)

// Store keeps one collection per table.
type Store struct {
	pool   *pgxpool.Pool
	table  string
	ident  string
	logger *slog.Logger

	mu    sync.Mutex
	ready bool
}

var _ storage.VectorStore = (*Store)(nil)

// NewStore connects with connStr and verifies the server answers.
// Connection failures wrap core.ErrTargetUnreachable.
func NewStore(ctx context.Context, connStr, table string) (storage.VectorStore, error) {
	if table == "" {
		return nil, fmt.Errorf("%w: pgvector table is required", core.ErrValidation)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrValidation, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to reach postgres: %w", core.ErrTargetUnreachable, err)
	}

	return &Store{
		pool:   pool,
		table:  table,
		ident:  pgx.Identifier{table}.Sanitize(),
		logger: slog.Default().With("component", "pgvector-store", "table", table),
	}, nil
}

// Name identifies the table.
func (s *Store) Name() string {
	cfg := s.pool.Config().ConnConfig
	return fmt.Sprintf("pgvector://%s:%d/%s/%s", cfg.Host, cfg.Port, cfg.Database, s.table)
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()
	if ready {
		return true, nil
	}
	var found bool
	if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", s.table).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// ensureTable creates the extension, table and cosine index on first use.
func (s *Store) ensureTable(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS %[1]s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		metadata JSONB,
		embedding vector(%[2]d) NOT NULL
	);

	CREATE INDEX IF NOT EXISTS %[3]s ON %[1]s USING ivfflat (embedding vector_cosine_ops)
	WITH (lists = 100);
	`, s.ident, dim, pgx.Identifier{s.table + "_embedding_idx"}.Sanitize())

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	s.ready = true
	return nil
}

// Upsert sends the batch in one round trip. Existing ids are overwritten.
func (s *Store) Upsert(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]string) error {
	if err := storage.CheckUpsertArgs(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, len(vectors[0])); err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.ident)

	batch := &pgx.Batch{}
	for i, id := range ids {
		var meta map[string]string
		if metadatas != nil {
			meta = metadatas[i]
		}
		batch.Queue(query, id, texts[i], meta, pgvector.NewVector(vectors[i]))
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range ids {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert row: %w", err)
		}
	}
	return nil
}

// Query orders by the <=> cosine distance operator.
func (s *Store) Query(ctx context.Context, vector []float32, k int) ([]storage.QueryMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	matches := []storage.QueryMatch{}
	has, err := s.exists(ctx)
	if err != nil || !has {
		return matches, err
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.ident)
	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m storage.QueryMatch
		var distance float64
		if err := rows.Scan(&m.ID, &m.Text, &m.Metadata, &distance); err != nil {
			return nil, err
		}
		m.Distance = float32(distance)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Get returns every row ordered by id.
func (s *Store) Get(ctx context.Context) ([]storage.VectorRecord, error) {
	has, err := s.exists(ctx)
	if err != nil || !has {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT id, content, metadata, embedding FROM %s ORDER BY id", s.ident))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.VectorRecord
	for rows.Next() {
		var rec storage.VectorRecord
		var embedding pgvector.Vector
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Metadata, &embedding); err != nil {
			return nil, err
		}
		rec.Vector = embedding.Slice()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the row count, 0 if the table does not exist.
func (s *Store) Count(ctx context.Context) (int, error) {
	has, err := s.exists(ctx)
	if err != nil || !has {
		return 0, err
	}
	var count int
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", s.ident)).Scan(&count)
	return count, err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
