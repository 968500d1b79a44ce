package badger

import (
	"context"
	"testing"

	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.VectorStore {
	t.Helper()
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return NewVectorStore(backend, "knowledge")
}

func TestVectorStore_QueryEmpty(t *testing.T) {
	store := newTestStore(t)

	matches, err := store.Query(context.Background(), []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVectorStore_UpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := []string{"d:0", "d:1"}
	vectors := [][]float32{{1, 0}, {0, 1}}
	texts := []string{"first", "second"}
	metas := []map[string]string{{"source": "a.md"}, {"source": "a.md"}}

	require.NoError(t, store.Upsert(ctx, ids, vectors, texts, metas))
	require.NoError(t, store.Upsert(ctx, ids, vectors, []string{"first v2", "second"}, metas))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	records, err := store.Get(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first v2", records[0].Text)
	assert.Equal(t, "a.md", records[0].Metadata["source"])
}

func TestVectorStore_QueryRanksByDistance(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx,
		[]string{"far", "near", "mid"},
		[][]float32{{0, 0, 1}, {1, 0, 0}, {0.7, 0.7, 0}},
		[]string{"far", "near", "mid"},
		nil,
	))

	matches, err := store.Query(ctx, []float32{2, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "near", matches[0].ID)
	assert.Equal(t, "mid", matches[1].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-6)
	assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
}

func TestVectorStore_InvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []string{"a"}, nil, []string{"t"}, nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = store.Query(ctx, []float32{1}, 0)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	require.NoError(t, store.Upsert(ctx, []string{"a"}, [][]float32{{1, 0}}, []string{"t"}, nil))
	_, err = store.Query(ctx, []float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
}

func TestVectorStore_CollectionsAreIsolated(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()
	ctx := context.Background()

	a := NewVectorStore(backend, "a")
	b := NewVectorStore(backend, "ab")
	require.NoError(t, a.Upsert(ctx, []string{"x"}, [][]float32{{1}}, []string{"x"}, nil))

	count, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenVectorStore(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenVectorStore(dir, "knowledge")
	require.NoError(t, err)

	assert.Contains(t, store.Name(), "knowledge")
	require.NoError(t, store.Upsert(context.Background(), []string{"x"}, [][]float32{{1}}, []string{"x"}, nil))
	require.NoError(t, store.Close())

	reopened, err := OpenVectorStore(dir, "knowledge")
	require.NoError(t, err)
	defer reopened.Close()
	count, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
