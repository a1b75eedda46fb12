package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
)

func newFS(t *testing.T) *LocalFileSystem {
	t.Helper()
	fs, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, fs.Open(context.Background()))
	return fs
}

func TestConformance(t *testing.T) {
	suite := fstest.Suite{
		NewFS: func(t *testing.T) filesystem.WritableFileSystem {
			return newFS(t)
		},
	}
	suite.Run(t)
}

func TestNew_RequiresRoot(t *testing.T) {
	_, err := New("")
	var cfgErr *filesystem.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestForeignHandleRejected(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	_, err := fs.Exists(ctx, "not a handle")
	assert.ErrorIs(t, err, filesystem.ErrInvalidHandle)

	err = fs.DeleteFile(ctx, struct{}{})
	assert.ErrorIs(t, err, filesystem.ErrInvalidHandle)
}

func TestCanonicalNameIsAbsolute(t *testing.T) {
	fs := newFS(t)
	h := fstest.WriteFile(t, fs, "", "abs.txt", []byte("x"))

	canonical, err := fs.CanonicalName(h)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(canonical))
	assert.Equal(t, "abs.txt", filepath.Base(canonical))
}

func TestListFiles_OldestFirst(t *testing.T) {
	fs := newFS(t)

	newer := fstest.WriteFile(t, fs, "", "newer.txt", []byte("x"))
	older := fstest.WriteFile(t, fs, "", "older.txt", []byte("x"))

	newerPath, err := fs.CanonicalName(newer)
	require.NoError(t, err)
	olderPath, err := fs.CanonicalName(older)
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, os.Chtimes(olderPath, now, now.Add(-time.Hour)))
	require.NoError(t, os.Chtimes(newerPath, now, now.Add(-time.Minute)))

	stream, err := fs.ListFiles(context.Background(), "")
	require.NoError(t, err)
	handles, err := filesystem.CollectHandles(stream)
	require.NoError(t, err)
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = fs.Name(h)
	}
	assert.Equal(t, []string{"older.txt", "newer.txt"}, names)
}

func TestListFiles_SkipsDirectories(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateFolder(ctx, "sub"))
	fstest.WriteFile(t, fs, "", "file.txt", []byte("x"))

	names := fstest.ListNames(t, fs, "")
	assert.Equal(t, []string{"file.txt"}, names)
}

func TestFolderEscapeIsClamped(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	h, err := fs.ToFile(ctx, "../../etc/passwd")
	require.NoError(t, err)

	canonical, err := fs.CanonicalName(h)
	require.NoError(t, err)
	rel, err := filepath.Rel(fs.root, canonical)
	require.NoError(t, err)
	assert.False(t, filepath.IsAbs(rel))
	assert.NotContains(t, rel, "..")
}

func TestAdditionalProperties(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	h := fstest.WriteFile(t, fs, "", "meta.txt", []byte("x"))

	props, err := fs.AdditionalProperties(ctx, h)
	require.NoError(t, err)
	assert.Contains(t, props, "mode")
}
