package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/poiesic/kbsync/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArea(t *testing.T) *Area {
	t.Helper()
	area, err := Open(t.TempDir())
	require.NoError(t, err)
	return area
}

func writeIntake(t *testing.T, area *Area, rel, content string) {
	t.Helper()
	p := area.IntakePath(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
}

func TestOpen_CreatesLayout(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root)
	require.NoError(t, err)

	for _, dir := range []string{IntakeDir, PreparedDir, ArchiveDir} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	_, err = Open("")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestScan(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "b.md", "second")
	writeIntake(t, area, "a.txt", "first")
	writeIntake(t, area, "nested/c.md", "third")
	writeIntake(t, area, ".hidden", "ignored")
	writeIntake(t, area, ".git/config", "ignored")
	writeIntake(t, area, "bad.bin", "\xff\xfe")

	sources, err := area.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 4)

	paths := make([]string, len(sources))
	for i, s := range sources {
		paths[i] = s.Document.OriginPath
	}
	assert.Equal(t, []string{"a.txt", "b.md", "bad.bin", "nested/c.md"}, paths)

	assert.Equal(t, "first", sources[0].Text)
	assert.Equal(t, core.ContentHash("first"), sources[0].Document.ContentHash)
	assert.Equal(t, core.DocumentIDFor("a.txt"), sources[0].Document.ID)
	assert.NoError(t, sources[0].Err)

	assert.ErrorIs(t, sources[2].Err, core.ErrValidation)
}

func TestScan_Cancelled(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "a.txt", "first")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := area.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromote(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "notes/a.md", "hello")
	hash := core.ContentHash("hello")

	archived, err := area.Promote("notes/a.md", hash)
	require.NoError(t, err)
	assert.Equal(t, area.ArchivePath("notes/a.md"), archived)

	_, err = os.Stat(area.IntakePath("notes/a.md"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Dir(area.IntakePath("notes/a.md")))
	assert.True(t, os.IsNotExist(err), "empty intake subdirectory is pruned")

	data, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestPromote_Idempotent(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "a.md", "hello")
	hash := core.ContentHash("hello")

	first, err := area.Promote("a.md", hash)
	require.NoError(t, err)
	second, err := area.Promote("a.md", hash)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	counts, err := area.Counts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Intake: 0, Prepared: 0, Archived: 1}, counts)
}

func TestPromote_ArchiveCollision(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "a.md", "version one")
	_, err := area.Promote("a.md", core.ContentHash("version one"))
	require.NoError(t, err)

	writeIntake(t, area, "a.md", "version two")
	hash := core.ContentHash("version two")
	archived, err := area.Promote("a.md", hash)
	require.NoError(t, err)
	assert.NotEqual(t, area.ArchivePath("a.md"), archived)

	data, err := os.ReadFile(area.ArchivePath("a.md"))
	require.NoError(t, err)
	assert.Equal(t, "version one", string(data), "existing archive is never overwritten")

	again, err := area.Promote("a.md", hash)
	require.NoError(t, err)
	assert.Equal(t, archived, again)
}

func TestPromote_SameContentAlreadyArchived(t *testing.T) {
	area := newTestArea(t)
	writeIntake(t, area, "a.md", "same")
	hash := core.ContentHash("same")
	_, err := area.Promote("a.md", hash)
	require.NoError(t, err)

	writeIntake(t, area, "a.md", "same")
	archived, err := area.Promote("a.md", hash)
	require.NoError(t, err)
	assert.Equal(t, area.ArchivePath("a.md"), archived)

	counts, err := area.Counts()
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Intake)
	assert.Equal(t, 1, counts.Archived)
}

func TestPromote_Errors(t *testing.T) {
	area := newTestArea(t)

	_, err := area.Promote("missing.md", core.ContentHash("x"))
	assert.ErrorIs(t, err, ErrSourceMissing)

	writeIntake(t, area, "a.md", "edited")
	_, err = area.Promote("a.md", core.ContentHash("original"))
	assert.ErrorIs(t, err, ErrContentChanged)

	_, err = area.Promote("../escape.md", core.ContentHash("x"))
	assert.ErrorIs(t, err, core.ErrValidation)
}
