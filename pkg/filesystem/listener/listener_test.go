package listener

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
	"github.com/marmos91/unifs/pkg/filesystem/memfs"
)

func newListener(t *testing.T, cfg Config) (*Listener, *memfs.MemFileSystem) {
	t.Helper()
	fs := memfs.New()
	ctx := context.Background()
	require.NoError(t, fs.Open(ctx))

	cfg.CreateFolders = true
	l, err := New(fs, cfg)
	require.NoError(t, err)
	require.NoError(t, l.Open(ctx))
	return l, fs
}

// enqueue writes a file into the input folder and ages it past the
// stability window.
func enqueue(t *testing.T, fs *memfs.MemFileSystem, folder, name string, data []byte) filesystem.Handle {
	t.Helper()
	h := fstest.WriteFile(t, fs, folder, name, data)
	require.NoError(t, fs.SetModificationTime(h, time.Now().Add(-time.Minute)))
	return h
}

func TestNew_RequiresInputFolder(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, fs.Open(context.Background()))

	_, err := New(fs, Config{})
	var cfgErr *filesystem.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOpen_FolderPolicy(t *testing.T) {
	fs := memfs.New()
	ctx := context.Background()
	require.NoError(t, fs.Open(ctx))

	strict, err := New(fs, Config{InputFolder: "in", ProcessedFolder: "done"})
	require.NoError(t, err)
	assert.ErrorIs(t, strict.Open(ctx), filesystem.ErrFolderNotFound)

	lenient, err := New(fs, Config{InputFolder: "in", ProcessedFolder: "done", CreateFolders: true})
	require.NoError(t, err)
	require.NoError(t, lenient.Open(ctx))

	for _, folder := range []string{"in", "done"} {
		exists, err := fs.FolderExists(ctx, folder)
		require.NoError(t, err)
		assert.True(t, exists, folder)
	}
}

func TestGetRawMessage_EmptyFolder(t *testing.T) {
	l, _ := newListener(t, Config{InputFolder: "in"})
	msg, err := l.GetRawMessage(context.Background())
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestGetRawMessage_ClaimMovesToInProcess(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("payload"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, "job.dat", msg.ID)
	assert.Equal(t, "job.dat", msg.OriginalName)
	assert.NotEmpty(t, msg.CorrelationID)
	assert.Equal(t, "7", msg.Context[ContextSize])
	assert.NotEmpty(t, msg.Context[ContextModTime])

	assert.Empty(t, fstest.ListNames(t, fs, "in"), "claim must dequeue the file")
	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "work"))

	r, err := l.ReadMessage(ctx, msg)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "payload", string(data))
}

func TestGetRawMessage_StabilityWindow(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()

	h := fstest.WriteFile(t, fs, "in", "hot.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg, "a freshly written file must not be claimed")

	require.NoError(t, fs.SetModificationTime(h, time.Now().Add(-2*time.Second)))
	msg, err = l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "hot.dat", msg.ID)
}

func TestGetRawMessage_OldestFirst(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()

	newer := fstest.WriteFile(t, fs, "in", "newer.dat", []byte("x"))
	older := fstest.WriteFile(t, fs, "in", "older.dat", []byte("x"))
	require.NoError(t, fs.SetModificationTime(newer, time.Now().Add(-time.Minute)))
	require.NoError(t, fs.SetModificationTime(older, time.Now().Add(-time.Hour)))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "older.dat", msg.ID)
}

func TestGetRawMessage_SuffixOnCollision(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()

	// A leftover of a previous run occupies the plain name.
	fstest.WriteFile(t, fs, "work", "job.dat", []byte("stale"))
	enqueue(t, fs, "in", "job.dat", []byte("fresh"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	names := fstest.ListNames(t, fs, "work")
	require.Len(t, names, 2)
	claimed := fs.Name(msg.Handle)
	assert.NotEqual(t, "job.dat", claimed, "collision must pick a suffixed name")
	assert.Contains(t, claimed, "job.dat.")
}

func TestGetRawMessage_SuffixExhaustionFallsBack(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", Overwrite: true})
	ctx := context.Background()

	h := enqueue(t, fs, "in", "job.dat", []byte("fresh"))
	mtime, err := fs.ModificationTime(ctx, h)
	require.NoError(t, err)

	// Occupy the plain name and every suffix variant.
	fstest.WriteFile(t, fs, "work", "job.dat", []byte("stale"))
	for attempt := 0; attempt < inProcessSuffixRetries; attempt++ {
		fstest.WriteFile(t, fs, "work", suffixedName("job.dat", mtime, attempt), []byte("stale"))
	}

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err, "exhausted suffixes must fall back, not fail the claim")
	require.NotNil(t, msg)
	assert.Equal(t, "job.dat", fs.Name(msg.Handle))

	r, err := l.ReadMessage(ctx, msg)
	require.NoError(t, err)
	data, _ := io.ReadAll(r)
	r.Close()
	assert.Equal(t, "fresh", string(data), "fallback must carry the new file, not the stale one")
}

func TestGetRawMessage_AtMostOnceClaim(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()
	enqueue(t, fs, "in", "solo.dat", []byte("x"))

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan *RawMessage, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := l.GetRawMessage(ctx)
			if err == nil && msg != nil {
				results <- msg
			}
		}()
	}
	wg.Wait()
	close(results)

	assert.Len(t, results, 1, "exactly one claimer must win")
}

func TestGetRawMessage_AuditCopy(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", LogFolder: "audit"})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("payload"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "audit"))
	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "work"))
}

func TestChangeProcessState_Done(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", ProcessedFolder: "done"})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	stale := &RawMessage{Handle: msg.Handle}

	moved, err := l.ChangeProcessState(ctx, msg, StateDone)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "done"))
	assert.Empty(t, fstest.ListNames(t, fs, "work"))

	// Finalizing a handle whose file already moved on reports "not
	// moved" without an error.
	moved, err = l.ChangeProcessState(ctx, stale, StateDone)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestChangeProcessState_DeleteOnDone(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", Delete: true})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := l.ChangeProcessState(ctx, msg, StateDone)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Empty(t, fstest.ListNames(t, fs, "work"))
}

func TestChangeProcessState_ErrorRouting(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", ErrorFolder: "failed"})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := l.ChangeProcessState(ctx, msg, StateError)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "failed"))
}

func TestChangeProcessState_UnconfiguredStateIsSkipped(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work"})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := l.ChangeProcessState(ctx, msg, StateHold)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, []string{"job.dat"}, fstest.ListNames(t, fs, "work"))
}

func TestPayload(t *testing.T) {
	ctx := context.Background()

	claim := func(t *testing.T, cfg Config) (*Listener, *RawMessage) {
		t.Helper()
		l, fs := newListener(t, cfg)
		enqueue(t, fs, "in", "order.csv", []byte("a,b,c"))
		msg, err := l.GetRawMessage(ctx)
		require.NoError(t, err)
		require.NotNil(t, msg)
		return l, msg
	}

	t.Run("name", func(t *testing.T) {
		l, msg := claim(t, Config{InputFolder: "in"})
		payload, err := l.Payload(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "order.csv", string(payload))
	})

	t.Run("path", func(t *testing.T) {
		l, msg := claim(t, Config{InputFolder: "in", MessageType: MessageTypePath})
		payload, err := l.Payload(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, msg.Context[ContextPath], string(payload))
	})

	t.Run("contents", func(t *testing.T) {
		l, msg := claim(t, Config{InputFolder: "in", MessageType: MessageTypeContents})
		payload, err := l.Payload(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "a,b,c", string(payload))
	})

	t.Run("info", func(t *testing.T) {
		l, msg := claim(t, Config{InputFolder: "in", MessageType: MessageTypeInfo})
		payload, err := l.Payload(ctx, msg)
		require.NoError(t, err)
		var doc map[string]string
		require.NoError(t, json.Unmarshal(payload, &doc))
		assert.Equal(t, "order.csv", doc[ContextOriginalName])
		assert.Equal(t, "5", doc[ContextSize])
	})

	t.Run("metadata key", func(t *testing.T) {
		l, msg := claim(t, Config{InputFolder: "in", MessageType: MessageType(ContextSize)})
		payload, err := l.Payload(ctx, msg)
		require.NoError(t, err)
		assert.Equal(t, "5", string(payload))
	})
}

func TestMoveToHold(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", HoldFolder: "hold"})
	ctx := context.Background()
	enqueue(t, fs, "in", "stuck.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := l.MoveToHold(ctx, msg)
	require.NoError(t, err)
	assert.True(t, moved)

	held, err := l.Browse(ctx, StateHold)
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "stuck.dat", held[0].Name)
}

func TestChangeProcessState_MoveWithRollover(t *testing.T) {
	l, fs := newListener(t, Config{
		InputFolder: "in", InProcessFolder: "work", ProcessedFolder: "done",
		NumberOfBackups: 1,
	})
	ctx := context.Background()

	fstest.WriteFile(t, fs, "done", "job.dat", []byte("previous"))
	enqueue(t, fs, "in", "job.dat", []byte("current"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := l.ChangeProcessState(ctx, msg, StateDone)
	require.NoError(t, err)
	assert.True(t, moved)

	names := fstest.ListNames(t, fs, "done")
	assert.ElementsMatch(t, []string{"job.dat", "job.dat.1"}, names)
}

func TestMessageID_FileTimeSensitive(t *testing.T) {
	l, fs := newListener(t, Config{
		InputFolder: "in", InProcessFolder: "work",
		FileTimeSensitive: true,
	})
	ctx := context.Background()
	enqueue(t, fs, "in", "job.dat", []byte("x"))

	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Regexp(t, `^job\.dat\.\d+$`, msg.ID)
}

func TestBrowse(t *testing.T) {
	l, fs := newListener(t, Config{InputFolder: "in", InProcessFolder: "work", ProcessedFolder: "done"})
	ctx := context.Background()

	enqueue(t, fs, "in", "waiting.dat", []byte("abc"))
	fstest.WriteFile(t, fs, "done", "finished.dat", []byte("x"))

	available, err := l.Browse(ctx, StateAvailable)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, "waiting.dat", available[0].Name)
	assert.Equal(t, int64(3), available[0].Size)
	assert.False(t, available[0].ModificationTime.IsZero())

	done, err := l.Browse(ctx, StateDone)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "finished.dat", done[0].Name)

	// Browsing must not disturb the queue.
	msg, err := l.GetRawMessage(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	_, err = l.Browse(ctx, StateHold)
	assert.ErrorIs(t, err, filesystem.ErrNotSupported)
}
