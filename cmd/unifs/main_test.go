package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/unifs/pkg/filesystem/fstest"
	"github.com/marmos91/unifs/pkg/filesystem/listener"
	"github.com/marmos91/unifs/pkg/filesystem/memfs"
)

func newPollListener(t *testing.T, cfg listener.Config) (*listener.Listener, *memfs.MemFileSystem) {
	t.Helper()
	fs := memfs.New()
	ctx := context.Background()
	require.NoError(t, fs.Open(ctx))

	cfg.CreateFolders = true
	l, err := listener.New(fs, cfg)
	require.NoError(t, err)
	require.NoError(t, l.Open(ctx))
	return l, fs
}

func enqueue(t *testing.T, fs *memfs.MemFileSystem, folder, name string) {
	t.Helper()
	h := fstest.WriteFile(t, fs, folder, name, []byte("payload"))
	require.NoError(t, fs.SetModificationTime(h, time.Now().Add(-time.Minute)))
}

func TestPollOnce_DrainsToProcessedFolder(t *testing.T) {
	l, fs := newPollListener(t, listener.Config{
		InputFolder:     "in",
		InProcessFolder: "work",
		ProcessedFolder: "done",
	})
	enqueue(t, fs, "in", "a.txt")
	enqueue(t, fs, "in", "b.txt")

	pollOnce(context.Background(), "t", l)

	assert.Empty(t, fstest.ListNames(t, fs, "in"))
	assert.Len(t, fstest.ListNames(t, fs, "done"), 2)
}

// A listener with no delete flag and no processed or in-process folder
// leaves finished files where they are. The drain loop must stop after
// the first claim instead of picking the same file up again forever.
func TestPollOnce_StopsWhenFinishedFileStaysPut(t *testing.T) {
	l, fs := newPollListener(t, listener.Config{InputFolder: "in"})
	enqueue(t, fs, "in", "stuck.txt")

	done := make(chan struct{})
	go func() {
		defer close(done)
		pollOnce(context.Background(), "t", l)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pollOnce kept re-claiming a file that no state change relocates")
	}

	assert.Equal(t, []string{"stuck.txt"}, fstest.ListNames(t, fs, "in"))
}
