package actor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
	"github.com/marmos91/unifs/pkg/filesystem/memfs"
)

// readOnlyFS strips the writable capability off a backend by interface
// narrowing, for capability-check tests.
type readOnlyFS struct {
	filesystem.FileSystem
}

func newFS(t *testing.T) *memfs.MemFileSystem {
	t.Helper()
	fs := memfs.New()
	if err := fs.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func TestNew_FailsFastOnMissingCapability(t *testing.T) {
	fs := readOnlyFS{newFS(t)}

	_, err := New(fs, Config{Action: filesystem.ActionWrite})
	require.Error(t, err)
	var cfgErr *filesystem.ConfigError
	assert.ErrorAs(t, err, &cfgErr, "missing capability must surface as a configuration error")

	_, err = New(fs, Config{Action: filesystem.ActionForward})
	assert.Error(t, err)

	// Read works without the writable capability.
	_, err = New(fs, Config{Action: filesystem.ActionRead})
	assert.NoError(t, err)
}

func TestNew_ValidatesWildcardAndFormat(t *testing.T) {
	fs := newFS(t)
	_, err := New(fs, Config{Action: filesystem.ActionList, Wildcard: "[broken"})
	assert.Error(t, err)

	_, err = New(fs, Config{Action: filesystem.ActionList, OutputFormat: "yaml"})
	assert.Error(t, err)

	_, err = New(fs, Config{Action: filesystem.ActionRead, Charset: "no-such-charset"})
	assert.Error(t, err)
}

func TestDo_WriteThenRead(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	writer, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "out.txt"})
	require.NoError(t, err)
	_, err = writer.Do(ctx, Params{Contents: []byte("round trip")})
	require.NoError(t, err)

	reader, err := New(fs, Config{Action: filesystem.ActionRead, Filename: "out.txt"})
	require.NoError(t, err)
	res, err := reader.Do(ctx, Params{})
	require.NoError(t, err)
	defer res.Stream.Close()

	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "round trip", string(data))
}

func TestDo_WriteConflictWithoutOverwriteOrBackups(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "taken.txt", []byte("old"))

	a, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "taken.txt"})
	require.NoError(t, err)
	_, err = a.Do(ctx, Params{Contents: []byte("new")})
	assert.ErrorIs(t, err, filesystem.ErrFileExists)

	var actionErr *filesystem.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, filesystem.ActionWrite, actionErr.Action)
}

func TestDo_WriteWithOverwrite(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "taken.txt", []byte("old"))

	a, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "taken.txt", Overwrite: true})
	require.NoError(t, err)
	_, err = a.Do(ctx, Params{Contents: []byte("new")})
	require.NoError(t, err)

	h, _ := fs.ToFile(ctx, "taken.txt")
	assert.Equal(t, "new", string(fstest.ReadFile(t, fs, h)))
}

func TestDo_WriteWithBackupRollover(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	a, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "gen.txt", NumberOfBackups: 2})
	require.NoError(t, err)

	for _, content := range []string{"g1", "g2", "g3"} {
		_, err = a.Do(ctx, Params{Contents: []byte(content)})
		require.NoError(t, err)
	}

	read := func(name string) string {
		h, _ := fs.ToFile(ctx, name)
		return string(fstest.ReadFile(t, fs, h))
	}
	assert.Equal(t, "g3", read("gen.txt"))
	assert.Equal(t, "g2", read("gen.txt.1"))
	assert.Equal(t, "g1", read("gen.txt.2"))
}

func TestDo_FilenameResolutionOrder(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	for _, name := range []string{"attr.txt", "param.txt", "payload.txt"} {
		fstest.WriteFile(t, fs, "", name, []byte(name))
	}

	// Attribute wins over parameter and payload.
	a, err := New(fs, Config{Action: filesystem.ActionRead, Filename: "attr.txt"})
	require.NoError(t, err)
	res, err := a.Do(ctx, Params{Filename: "param.txt", Input: []byte("payload.txt")})
	require.NoError(t, err)
	data, _ := io.ReadAll(res.Stream)
	res.Stream.Close()
	assert.Equal(t, "attr.txt", string(data))

	// Parameter wins over payload.
	a, err = New(fs, Config{Action: filesystem.ActionRead})
	require.NoError(t, err)
	res, err = a.Do(ctx, Params{Filename: "param.txt", Input: []byte("payload.txt")})
	require.NoError(t, err)
	data, _ = io.ReadAll(res.Stream)
	res.Stream.Close()
	assert.Equal(t, "param.txt", string(data))

	// Payload is the last fallback.
	res, err = a.Do(ctx, Params{Input: []byte("payload.txt")})
	require.NoError(t, err)
	data, _ = io.ReadAll(res.Stream)
	res.Stream.Close()
	assert.Equal(t, "payload.txt", string(data))
}

func TestDo_ReadMissingTarget(t *testing.T) {
	fs := newFS(t)
	a, err := New(fs, Config{Action: filesystem.ActionRead, Filename: "gone.txt"})
	require.NoError(t, err)
	_, err = a.Do(context.Background(), Params{})
	assert.ErrorIs(t, err, filesystem.ErrFileNotFound)
}

func TestDo_ReadDelete(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "consume.txt", []byte("once"))

	a, err := New(fs, Config{Action: filesystem.ActionReadDelete, Filename: "consume.txt"})
	require.NoError(t, err)
	res, err := a.Do(ctx, Params{})
	require.NoError(t, err)

	data, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "once", string(data))

	require.NoError(t, res.Stream.Close())

	h, _ := fs.ToFile(ctx, "consume.txt")
	exists, err := fs.Exists(ctx, h)
	require.NoError(t, err)
	assert.False(t, exists, "file must be deleted on close")

	// Closing again must not raise, even though the file is gone.
	assert.NoError(t, res.Stream.Close())
}

func TestDo_ReadDeletePrunesEmptyFolder(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateFolder(ctx, "inbox"))
	fstest.WriteFile(t, fs, "inbox", "only.txt", []byte("x"))

	a, err := New(fs, Config{
		Action:            filesystem.ActionReadDelete,
		Filename:          "inbox/only.txt",
		DeleteEmptyFolder: true,
	})
	require.NoError(t, err)
	res, err := a.Do(ctx, Params{})
	require.NoError(t, err)
	io.Copy(io.Discard, res.Stream)
	require.NoError(t, res.Stream.Close())

	exists, err := fs.FolderExists(ctx, "inbox")
	require.NoError(t, err)
	assert.False(t, exists, "emptied folder must be pruned")
}

func TestDo_ListWithWildcardDocument(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	for _, name := range []string{"a.txt", "b.txt", "a.log"} {
		fstest.WriteFile(t, fs, "", name, []byte("x"))
	}

	a, err := New(fs, Config{Action: filesystem.ActionList, Wildcard: "*.txt", ExcludeWildcard: "a.*"})
	require.NoError(t, err)
	res, err := a.Do(ctx, Params{})
	require.NoError(t, err)

	var doc FileList
	require.NoError(t, json.Unmarshal(res.Data, &doc))
	require.Equal(t, 1, doc.Count)
	assert.Equal(t, "b.txt", doc.Files[0].Name)
	assert.Equal(t, int64(1), doc.Files[0].Size)
}

func TestDo_MoveAppliesFolderPolicy(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "payload.txt", []byte("data"))

	// Missing destination folder without createFolder is a conflict.
	strict, err := New(fs, Config{Action: filesystem.ActionMove, Filename: "payload.txt", Destination: "archive"})
	require.NoError(t, err)
	_, err = strict.Do(ctx, Params{})
	assert.ErrorIs(t, err, filesystem.ErrFolderNotFound)

	lenient, err := New(fs, Config{
		Action: filesystem.ActionMove, Filename: "payload.txt",
		Destination: "archive", CreateFolder: true,
	})
	require.NoError(t, err)
	res, err := lenient.Do(ctx, Params{})
	require.NoError(t, err)
	assert.Contains(t, string(res.Data), "payload.txt")

	h, _ := fs.ToFileIn(ctx, "archive", "payload.txt")
	exists, err := fs.Exists(ctx, h)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDo_DeleteWildcard(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	require.NoError(t, fs.CreateFolder(ctx, "work"))
	for _, name := range []string{"a.tmp", "b.tmp", "keep.txt"} {
		fstest.WriteFile(t, fs, "work", name, []byte("x"))
	}

	a, err := New(fs, Config{Action: filesystem.ActionDelete, InputFolder: "work", Wildcard: "*.tmp"})
	require.NoError(t, err)
	res, err := a.Do(ctx, Params{})
	require.NoError(t, err)

	deleted := strings.Split(string(res.Data), "\n")
	assert.Len(t, deleted, 2)

	names := fstest.ListNames(t, fs, "work")
	assert.Equal(t, []string{"keep.txt"}, names)
}

func TestDo_AppendRotatesBySize(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "app.log", []byte("0123456789"))

	a, err := New(fs, Config{
		Action: filesystem.ActionAppend, Filename: "app.log",
		RotateSize: 5, NumberOfBackups: 2,
	})
	require.NoError(t, err)
	_, err = a.Do(ctx, Params{Contents: []byte("fresh")})
	require.NoError(t, err)

	h, _ := fs.ToFile(ctx, "app.log")
	assert.Equal(t, "fresh", string(fstest.ReadFile(t, fs, h)))
	h1, _ := fs.ToFile(ctx, "app.log.1")
	assert.Equal(t, "0123456789", string(fstest.ReadFile(t, fs, h1)))
}

func TestStreamable(t *testing.T) {
	fs := newFS(t)

	static, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "fixed.txt"})
	require.NoError(t, err)
	assert.True(t, static.Streamable())

	dynamic, err := New(fs, Config{Action: filesystem.ActionWrite})
	require.NoError(t, err)
	assert.False(t, dynamic.Streamable(), "late-bound destination must not stream")

	transformed, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "fixed.txt", Charset: "ISO-8859-1"})
	require.NoError(t, err)
	assert.False(t, transformed.Streamable(), "charset transform must not stream")
}

func TestOpenWriteStream(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	a, err := New(fs, Config{Action: filesystem.ActionWrite, Filename: "streamed.txt"})
	require.NoError(t, err)
	w, err := a.OpenWriteStream(ctx)
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	h, _ := fs.ToFile(ctx, "streamed.txt")
	assert.Equal(t, "streamed bytes", string(fstest.ReadFile(t, fs, h)))
}

func TestParseAction_Aliases(t *testing.T) {
	a, deprecated, err := filesystem.ParseAction("download")
	require.NoError(t, err)
	assert.True(t, deprecated)
	assert.Equal(t, filesystem.ActionRead, a)

	a, deprecated, err = filesystem.ParseAction("upload")
	require.NoError(t, err)
	assert.True(t, deprecated)
	assert.Equal(t, filesystem.ActionWrite, a)

	_, _, err = filesystem.ParseAction("teleport")
	assert.Error(t, err)
}

func TestDo_PerCallActionOverride(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "target.txt", []byte("x"))

	a, err := New(fs, Config{})
	require.NoError(t, err)

	// No action anywhere is a configuration error.
	_, err = a.Do(ctx, Params{})
	var cfgErr *filesystem.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	res, err := a.Do(ctx, Params{Action: filesystem.ActionInfo, Filename: "target.txt"})
	require.NoError(t, err)
	var info FileInfo
	require.NoError(t, json.Unmarshal(res.Data, &info))
	assert.Equal(t, "target.txt", info.Name)
}

func TestDo_MkdirRmdir(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	a, err := New(fs, Config{})
	require.NoError(t, err)

	_, err = a.Do(ctx, Params{Action: filesystem.ActionMkdir, InputFolder: "fresh"})
	require.NoError(t, err)
	exists, err := fs.FolderExists(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, exists)

	fstest.WriteFile(t, fs, "fresh", "blocker.txt", []byte("x"))
	_, err = a.Do(ctx, Params{Action: filesystem.ActionRmdir, InputFolder: "fresh"})
	assert.ErrorIs(t, err, filesystem.ErrFolderNotEmpty)

	forceful, err := New(fs, Config{RemoveNonEmptyFolder: true})
	require.NoError(t, err)
	_, err = forceful.Do(ctx, Params{Action: filesystem.ActionRmdir, InputFolder: "fresh"})
	require.NoError(t, err)
}

func TestDo_FolderActionsWorkWithoutWritableCapability(t *testing.T) {
	fs := readOnlyFS{newFS(t)}
	ctx := context.Background()

	a, err := New(fs, Config{})
	require.NoError(t, err)

	_, err = a.Do(ctx, Params{Action: filesystem.ActionMkdir, InputFolder: "inbox"})
	require.NoError(t, err)
	exists, err := fs.FolderExists(ctx, "inbox")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = a.Do(ctx, Params{Action: filesystem.ActionRmdir, InputFolder: "inbox"})
	require.NoError(t, err)
	exists, err = fs.FolderExists(ctx, "inbox")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDo_RenameWithBackups(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	fstest.WriteFile(t, fs, "", "src.txt", []byte("new data"))
	fstest.WriteFile(t, fs, "", "dst.txt", []byte("old data"))

	a, err := New(fs, Config{
		Action: filesystem.ActionRename, Filename: "src.txt",
		Destination: "dst.txt", NumberOfBackups: 1,
	})
	require.NoError(t, err)
	_, err = a.Do(ctx, Params{})
	require.NoError(t, err)

	h, _ := fs.ToFile(ctx, "dst.txt")
	assert.Equal(t, "new data", string(fstest.ReadFile(t, fs, h)))
	h1, _ := fs.ToFile(ctx, "dst.txt.1")
	assert.Equal(t, "old data", string(fstest.ReadFile(t, fs, h1)))

	gone, _ := fs.ToFile(ctx, "src.txt")
	exists, err := fs.Exists(ctx, gone)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestErrorReporting(t *testing.T) {
	fs := newFS(t)
	a, err := New(fs, Config{Action: filesystem.ActionDelete, Filename: "missing.bin"})
	require.NoError(t, err)

	_, err = a.Do(context.Background(), Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete")
	assert.Contains(t, err.Error(), "missing.bin")
	assert.True(t, errors.Is(err, filesystem.ErrFileNotFound))
}
