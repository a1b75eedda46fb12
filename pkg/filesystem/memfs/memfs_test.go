package memfs

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
)

// TestMemFileSystem runs the full capability conformance suite against the
// in-memory backend.
func TestMemFileSystem(t *testing.T) {
	suite := &fstest.Suite{
		NewFS: func(t *testing.T) filesystem.WritableFileSystem {
			fs := New()
			if err := fs.Open(context.Background()); err != nil {
				t.Fatalf("Open: %v", err)
			}
			return fs
		},
	}
	suite.Run(t)
}

func TestMemFileSystem_RejectsForeignHandles(t *testing.T) {
	fs := New()
	ctx := context.Background()
	if err := fs.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	_, err := fs.Exists(ctx, "just-a-string")
	if err == nil {
		t.Fatal("expected error for foreign handle")
	}
}

func TestMemFileSystem_UsedBeforeOpen(t *testing.T) {
	fs := New()
	ctx := context.Background()

	h, err := fs.ToFile(ctx, "x.txt")
	if err != nil {
		t.Fatalf("ToFile: %v", err)
	}
	if _, err := fs.Exists(ctx, h); err == nil {
		t.Error("expected error before Open")
	}
}

func TestMemFileSystem_ListOldestFirst(t *testing.T) {
	fs := New()
	ctx := context.Background()
	if err := fs.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"third.txt", "first.txt", "second.txt"} {
		h := fstest.WriteFile(t, fs, "", name, []byte("x"))
		var offset time.Duration
		switch i {
		case 0:
			offset = 2 * time.Hour
		case 1:
			offset = 0
		case 2:
			offset = time.Hour
		}
		if err := fs.SetModificationTime(h, base.Add(offset)); err != nil {
			t.Fatalf("SetModificationTime: %v", err)
		}
	}

	stream, err := fs.ListFiles(ctx, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	handles, err := filesystem.CollectHandles(stream)
	if err != nil {
		t.Fatalf("CollectHandles: %v", err)
	}
	want := []string{"first.txt", "second.txt", "third.txt"}
	for i, h := range handles {
		if fs.Name(h) != want[i] {
			t.Errorf("position %d: got %q, want %q", i, fs.Name(h), want[i])
		}
	}
}
