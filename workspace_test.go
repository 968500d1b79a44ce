package kbsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/kbsync/ai/mock"
	"github.com/poiesic/kbsync/config"
	"github.com/poiesic/kbsync/core"
	"github.com/poiesic/kbsync/orchestrator"
	"github.com/poiesic/kbsync/staging"
	"github.com/poiesic/kbsync/storage"
	"github.com/poiesic/kbsync/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Staging.Root = filepath.Join(t.TempDir(), "kb")
	cfg.State.Dir = filepath.Join(t.TempDir(), "state")
	cfg.Chunking.MaxChunkSize = 500
	cfg.Chunking.Overlap = 50
	return cfg
}

func TestOpenWorkspace(t *testing.T) {
	t.Run("local only", func(t *testing.T) {
		ws, err := OpenWorkspace(testConfig(t), WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		defer ws.Close()

		assert.NotNil(t, ws.Orchestrator())
		assert.False(t, ws.Orchestrator().HasRemote())
		assert.NotNil(t, ws.Area())
		assert.NotNil(t, ws.LocalStore())
	})

	t.Run("direct remote", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Remote.Driver = "milvus"
		cfg.Remote.Address = "127.0.0.1:19530"
		cfg.Remote.Collection = "kb"

		ws, err := OpenWorkspace(cfg, WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		defer ws.Close()
		assert.True(t, ws.Orchestrator().HasRemote())
		assert.Len(t, ws.Orchestrator().Targets(), 2)
	})

	t.Run("state dir is a file", func(t *testing.T) {
		cfg := testConfig(t)
		file := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(file, []byte("test"), 0644))
		cfg.State.Dir = file

		ws, err := OpenWorkspace(cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, ws)
	})
}

func TestWorkspace_SyncAllAndRetrieve(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Remote.Driver = "milvus"
	cfg.Remote.Address = "127.0.0.1:19530"
	cfg.Remote.Collection = "kb"

	remotePath := filepath.Join(t.TempDir(), "remote")
	opener := func(ctx context.Context, addr string) (storage.VectorStore, error) {
		return badger.OpenVectorStore(remotePath, "kb")
	}
	ws, err := OpenWorkspace(cfg,
		WithProvider(mock.NewMockProvider()),
		WithRemoteAccess(orchestrator.Direct(cfg.Remote.Address), opener))
	require.NoError(t, err)
	defer ws.Close()

	intake := ws.Area().IntakePath("guide.md")
	require.NoError(t, os.WriteFile(intake, []byte("Rotate the signing keys every ninety days."), 0644))

	report, err := ws.Orchestrator().SyncAll(ctx, orchestrator.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, orchestrator.OutcomeFullSuccess, report.Outcome())
	assert.Equal(t, 1, report.Promoted)

	counts, err := ws.Area().Counts()
	require.NoError(t, err)
	assert.Equal(t, staging.Counts{Archived: 1}, counts)

	remote, err := badger.OpenVectorStore(remotePath, "kb")
	require.NoError(t, err)
	n, err := remote.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, remote.Close())

	retriever, err := ws.NewRetriever()
	require.NoError(t, err)
	hits, err := retriever.Retrieve(ctx, "Rotate the signing keys every ninety days.", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, core.ChunkIDFor(core.DocumentIDFor("guide.md"), 0), hits[0].ID)

	jobs, err := ws.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, core.JobSucceeded, job.Status)
	}
}
