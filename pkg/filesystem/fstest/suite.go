// Package fstest provides a conformance suite for FileSystem backends.
// It tests the capability-interface contract, not implementation details,
// so the same suite runs against every backend (memory, local disk, and
// any future driver).
package fstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"testing"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// Suite verifies the basic and writable capability contracts.
//
// Usage:
//
//	func TestMemFileSystem(t *testing.T) {
//	    suite := &fstest.Suite{
//	        NewFS: func(t *testing.T) filesystem.WritableFileSystem {
//	            fs := memfs.New()
//	            if err := fs.Open(context.Background()); err != nil {
//	                t.Fatal(err)
//	            }
//	            return fs
//	        },
//	    }
//	    suite.Run(t)
//	}
type Suite struct {
	// NewFS returns a fresh, already-opened filesystem for each test.
	NewFS func(t *testing.T) filesystem.WritableFileSystem
}

// Run executes all conformance tests.
func (s *Suite) Run(t *testing.T) {
	t.Run("WriteReadRoundTrip", s.testRoundTrip)
	t.Run("ExistsLifecycle", s.testExistsLifecycle)
	t.Run("DeleteMissingFile", s.testDeleteMissing)
	t.Run("Folders", s.testFolders)
	t.Run("ListFiles", s.testListFiles)
	t.Run("ListFilesEarlyClose", s.testListEarlyClose)
	t.Run("MoveFile", s.testMove)
	t.Run("CopyFile", s.testCopy)
	t.Run("RenameFile", s.testRename)
	t.Run("AppendFile", s.testAppend)
}

// WriteFile is a helper that creates a file with the given content.
func WriteFile(t *testing.T, fs filesystem.WritableFileSystem, folder, name string, data []byte) filesystem.Handle {
	t.Helper()
	ctx := context.Background()
	h, err := fs.ToFileIn(ctx, folder, name)
	if err != nil {
		t.Fatalf("ToFileIn(%q, %q): %v", folder, name, err)
	}
	w, err := fs.CreateFile(ctx, h)
	if err != nil {
		t.Fatalf("CreateFile(%q): %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write(%q): %v", name, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%q): %v", name, err)
	}
	return h
}

// ReadFile is a helper that reads a file fully.
func ReadFile(t *testing.T, fs filesystem.FileSystem, h filesystem.Handle) []byte {
	t.Helper()
	r, err := fs.ReadFile(context.Background(), h)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return data
}

// ListNames lists the bare names in a folder, sorted.
func ListNames(t *testing.T, fs filesystem.FileSystem, folder string) []string {
	t.Helper()
	stream, err := fs.ListFiles(context.Background(), folder)
	if err != nil {
		t.Fatalf("ListFiles(%q): %v", folder, err)
	}
	handles, err := filesystem.CollectHandles(stream)
	if err != nil {
		t.Fatalf("CollectHandles: %v", err)
	}
	names := make([]string, len(handles))
	for i, h := range handles {
		names[i] = fs.Name(h)
	}
	sort.Strings(names)
	return names
}

func (s *Suite) testRoundTrip(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	want := []byte("hello, storage layer")
	h := WriteFile(t, fs, "", "roundtrip.txt", want)

	got := ReadFile(t, fs, h)
	if !bytes.Equal(got, want) {
		t.Errorf("read back %q, want %q", got, want)
	}

	size, err := fs.FileSize(ctx, h)
	if err != nil {
		t.Fatalf("FileSize: %v", err)
	}
	if size != int64(len(want)) {
		t.Errorf("FileSize = %d, want %d", size, len(want))
	}
	if name := fs.Name(h); name != "roundtrip.txt" {
		t.Errorf("Name = %q, want roundtrip.txt", name)
	}
}

func (s *Suite) testExistsLifecycle(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	h, err := fs.ToFile(ctx, "lifecycle.txt")
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	exists, err := fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("file exists before write")
	}

	WriteFile(t, fs, "", "lifecycle.txt", []byte("x"))
	exists, err = fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists after write: %v", err)
	}
	if !exists {
		t.Error("file does not exist immediately after write")
	}

	if err := fs.DeleteFile(ctx, h); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	exists, err = fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists after delete: %v", err)
	}
	if exists {
		t.Error("file still exists immediately after delete")
	}
}

func (s *Suite) testDeleteMissing(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	h, err := fs.ToFile(ctx, "never-created.txt")
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	err = fs.DeleteFile(ctx, h)
	if !errors.Is(err, filesystem.ErrFileNotFound) {
		t.Errorf("DeleteFile on missing file: got %v, want ErrFileNotFound", err)
	}
}

func (s *Suite) testFolders(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	exists, err := fs.FolderExists(ctx, "")
	if err != nil {
		t.Fatalf("FolderExists(root): %v", err)
	}
	if !exists {
		t.Fatal("root folder must always exist")
	}

	if err := fs.CreateFolder(ctx, "sub/nested"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	for _, folder := range []string{"sub", "sub/nested"} {
		exists, err := fs.FolderExists(ctx, folder)
		if err != nil {
			t.Fatalf("FolderExists(%q): %v", folder, err)
		}
		if !exists {
			t.Errorf("folder %q missing after create", folder)
		}
	}

	if err := fs.CreateFolder(ctx, "sub/nested"); !errors.Is(err, filesystem.ErrFolderExists) {
		t.Errorf("CreateFolder on existing folder: got %v, want ErrFolderExists", err)
	}

	WriteFile(t, fs, "sub/nested", "keep.txt", []byte("x"))
	if err := fs.RemoveFolder(ctx, "sub/nested", false); !errors.Is(err, filesystem.ErrFolderNotEmpty) {
		t.Errorf("non-recursive remove of non-empty folder: got %v, want ErrFolderNotEmpty", err)
	}
	if err := fs.RemoveFolder(ctx, "sub", true); err != nil {
		t.Fatalf("recursive RemoveFolder: %v", err)
	}
	exists, err = fs.FolderExists(ctx, "sub")
	if err != nil {
		t.Fatalf("FolderExists after remove: %v", err)
	}
	if exists {
		t.Error("folder still exists after recursive remove")
	}
}

func (s *Suite) testListFiles(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	if err := fs.CreateFolder(ctx, "listing"); err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	for _, name := range []string{"a.txt", "b.txt", "c.log"} {
		WriteFile(t, fs, "listing", name, []byte(name))
	}

	names := ListNames(t, fs, "listing")
	want := []string{"a.txt", "b.txt", "c.log"}
	if len(names) != len(want) {
		t.Fatalf("listed %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("listed %v, want %v", names, want)
			break
		}
	}

	if _, err := fs.ListFiles(ctx, "no-such-folder"); !errors.Is(err, filesystem.ErrFolderNotFound) {
		t.Errorf("ListFiles on missing folder: got %v, want ErrFolderNotFound", err)
	}
}

func (s *Suite) testListEarlyClose(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		WriteFile(t, fs, "", string(rune('a'+i))+".txt", []byte("x"))
	}
	stream, err := fs.ListFiles(ctx, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if _, err := stream.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	// Close after partial consumption must be clean and idempotent.
	if err := stream.Close(); err != nil {
		t.Errorf("Close after partial read: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func (s *Suite) testMove(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	h := WriteFile(t, fs, "", "moveme.txt", []byte("payload"))

	// Missing destination folder without createFolder fails.
	if _, err := fs.MoveFile(ctx, h, "dest", false, true); !errors.Is(err, filesystem.ErrFolderNotFound) {
		t.Errorf("MoveFile without createFolder: got %v, want ErrFolderNotFound", err)
	}

	moved, err := fs.MoveFile(ctx, h, "dest", true, true)
	if err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if moved == nil {
		t.Fatal("MoveFile with returnResult=true returned nil handle")
	}
	if got := ReadFile(t, fs, moved); !bytes.Equal(got, []byte("payload")) {
		t.Errorf("moved content = %q", got)
	}

	// Source is gone: moves are destructive relocations.
	exists, err := fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("source still exists after move")
	}

	// returnResult=false may legally yield a nil handle with nil error.
	h2 := WriteFile(t, fs, "", "moveme2.txt", []byte("y"))
	if _, err := fs.MoveFile(ctx, h2, "dest", false, false); err != nil {
		t.Fatalf("MoveFile returnResult=false: %v", err)
	}
}

func (s *Suite) testCopy(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	h := WriteFile(t, fs, "", "copyme.txt", []byte("payload"))
	copied, err := fs.CopyFile(ctx, h, "copies", true, true)
	if err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if copied == nil {
		t.Fatal("CopyFile with returnResult=true returned nil handle")
	}

	// Both source and copy exist afterwards.
	exists, err := fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("source missing after copy")
	}
	if got := ReadFile(t, fs, copied); !bytes.Equal(got, []byte("payload")) {
		t.Errorf("copied content = %q", got)
	}
}

func (s *Suite) testRename(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	src := WriteFile(t, fs, "", "old-name.txt", []byte("data"))
	dst, err := fs.ToFile(ctx, "new-name.txt")
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	renamed, err := fs.RenameFile(ctx, src, dst)
	if err != nil {
		t.Fatalf("RenameFile: %v", err)
	}
	if got := ReadFile(t, fs, renamed); !bytes.Equal(got, []byte("data")) {
		t.Errorf("renamed content = %q", got)
	}
	exists, err := fs.Exists(ctx, src)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("old name still exists after rename")
	}
}

func (s *Suite) testAppend(t *testing.T) {
	fs := s.NewFS(t)
	ctx := context.Background()

	h := WriteFile(t, fs, "", "appendme.txt", []byte("one"))
	w, err := fs.AppendFile(ctx, h)
	if errors.Is(err, filesystem.ErrNotSupported) {
		t.Skip("backend has no native append")
	}
	if err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	if _, err := w.Write([]byte("two")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := ReadFile(t, fs, h); !bytes.Equal(got, []byte("onetwo")) {
		t.Errorf("appended content = %q, want onetwo", got)
	}
}
