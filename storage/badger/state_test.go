package badger

import (
	"context"
	"fmt"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRepository_SaveAndGet(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	job := &core.IngestionJob{
		ID:         ulid.Make().String(),
		RunID:      "run",
		TargetID:   "local",
		DocumentID: "doc",
		ChunkIDs:   []string{"doc:0"},
		Status:     core.JobRunning,
	}
	require.NoError(t, repos.Jobs.SaveJob(ctx, job))

	job.Status = core.JobSucceeded
	require.NoError(t, repos.Jobs.SaveJob(ctx, job))

	got, err := repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobSucceeded, got.Status)
	assert.Equal(t, []string{"doc:0"}, got.ChunkIDs)

	_, err = repos.Jobs.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobRepository_ListNewestFirst(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	var ids []string
	for i := range 5 {
		id := ulid.Make().String()
		ids = append(ids, id)
		status := core.JobSucceeded
		if i%2 == 1 {
			status = core.JobFailed
		}
		require.NoError(t, repos.Jobs.SaveJob(ctx, &core.IngestionJob{ID: id, Status: status, DocumentID: fmt.Sprint(i)}))
	}

	jobs, err := repos.Jobs.ListJobs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	// ulid.Make is monotonic within a process
	assert.Equal(t, ids[4], jobs[0].ID)
	assert.Equal(t, ids[3], jobs[1].ID)

	all, err := repos.Jobs.ListJobs(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	counts, err := repos.Jobs.CountJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[core.JobSucceeded])
	assert.Equal(t, 2, counts[core.JobFailed])
}

func TestDocumentRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	_, err := repos.Documents.GetDocument(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	for _, path := range []string{"b.md", "a.md", "sub/c.txt"} {
		require.NoError(t, repos.Documents.SaveDocument(ctx, &core.DocumentState{
			DocumentID: core.DocumentIDFor(path),
			OriginPath: path,
			State:      core.StateStaged,
		}))
	}

	docs, err := repos.Documents.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a.md", docs[0].OriginPath)
	assert.Equal(t, "sub/c.txt", docs[2].OriginPath)
	assert.False(t, docs[0].UpdatedAt.IsZero())

	err = repos.Documents.SaveDocument(ctx, &core.DocumentState{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestEmbeddingRepository(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Embeddings.SaveEmbeddings(ctx,
		&core.EmbeddingRecord{ChunkID: "d:0", ContentHash: "h0", Vector: []float32{1, 2}, ModelID: "m"},
		&core.EmbeddingRecord{ChunkID: "d:1", ContentHash: "h1", Vector: []float32{3, 4}, ModelID: "m"},
	))

	got, err := repos.Embeddings.GetEmbeddings(ctx, "d:0", "d:1", "d:2")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []float32{3, 4}, got["d:1"].Vector)
	assert.False(t, got["d:0"].GeneratedAt.IsZero())

	require.NoError(t, repos.Embeddings.SaveEmbeddings(ctx))
}
