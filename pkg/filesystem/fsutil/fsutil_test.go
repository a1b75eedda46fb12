package fsutil

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fstest"
	"github.com/marmos91/unifs/pkg/filesystem/memfs"
)

func newFS(t *testing.T) *memfs.MemFileSystem {
	t.Helper()
	fs := memfs.New()
	if err := fs.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs
}

func exists(t *testing.T, fs filesystem.FileSystem, name string) bool {
	t.Helper()
	ctx := context.Background()
	h, err := fs.ToFile(ctx, name)
	if err != nil {
		t.Fatalf("ToFile(%q): %v", name, err)
	}
	ok, err := fs.Exists(ctx, h)
	if err != nil {
		t.Fatalf("Exists(%q): %v", name, err)
	}
	return ok
}

func TestMatchWildcard(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"*.txt", "a.txt", true},
		{"*.txt", "a.log", false},
		{"a.*", "a.txt", true},
		{"a.*", "b.txt", false},
		{"?.txt", "a.txt", true},
		{"?.txt", "ab.txt", false},
		{"", "anything", true},
	}
	for _, c := range cases {
		if got := MatchWildcard(c.pattern, c.name); got != c.want {
			t.Errorf("MatchWildcard(%q, %q) = %v, want %v", c.pattern, c.name, got, c.want)
		}
	}
}

func TestValidateWildcard(t *testing.T) {
	if err := ValidateWildcard("*.txt"); err != nil {
		t.Errorf("valid pattern rejected: %v", err)
	}
	if err := ValidateWildcard("[unclosed"); err == nil {
		t.Error("malformed pattern accepted")
	}
}

func TestFilterStream(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	for _, name := range []string{"a.txt", "b.txt", "a.log"} {
		fstest.WriteFile(t, fs, "", name, []byte("x"))
	}

	list := func(include, exclude string) []string {
		stream, err := fs.ListFiles(ctx, "")
		if err != nil {
			t.Fatalf("ListFiles: %v", err)
		}
		handles, err := filesystem.CollectHandles(FilterStream(stream, fs, include, exclude))
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

	got := list("*.txt", "")
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Errorf("include *.txt: got %v, want [a.txt b.txt]", got)
	}

	got = list("*.txt", "a.*")
	if len(got) != 1 || got[0] != "b.txt" {
		t.Errorf("include *.txt exclude a.*: got %v, want [b.txt]", got)
	}
}

func TestRollOverByNumber(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	const backups = 3

	write := func(generation string) {
		if err := RollOverByNumber(ctx, fs, "", "name", backups); err != nil {
			t.Fatalf("RollOverByNumber: %v", err)
		}
		fstest.WriteFile(t, fs, "", "name", []byte(generation))
	}

	read := func(name string) string {
		h, err := fs.ToFile(ctx, name)
		if err != nil {
			t.Fatalf("ToFile: %v", err)
		}
		return string(fstest.ReadFile(t, fs, h))
	}

	// After four successive writes: name, name.1 .. name.3 exist, no .4.
	for _, gen := range []string{"g1", "g2", "g3", "g4"} {
		write(gen)
	}
	for _, name := range []string{"name", "name.1", "name.2", "name.3"} {
		if !exists(t, fs, name) {
			t.Errorf("%s missing after four writes", name)
		}
	}
	if exists(t, fs, "name.4") {
		t.Error("name.4 exists; backups beyond N must be discarded")
	}
	if got := read("name"); got != "g4" {
		t.Errorf("live file = %q, want g4", got)
	}
	if got := read("name.3"); got != "g1" {
		t.Errorf("name.3 = %q, want g1", got)
	}

	// A fifth write shifts the chain and discards the old name.3.
	write("g5")
	if got := read("name"); got != "g5" {
		t.Errorf("live file = %q, want g5", got)
	}
	if got := read("name.1"); got != "g4" {
		t.Errorf("name.1 = %q, want g4", got)
	}
	if got := read("name.2"); got != "g3" {
		t.Errorf("name.2 = %q, want g3", got)
	}
	if got := read("name.3"); got != "g2" {
		t.Errorf("name.3 = %q, want g2", got)
	}
	if exists(t, fs, "name.4") {
		t.Error("name.4 exists after fifth write")
	}
}

func TestRollOverByNumber_NoopCases(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	// Missing live file is a no-op.
	if err := RollOverByNumber(ctx, fs, "", "ghost", 3); err != nil {
		t.Errorf("rollover of missing file: %v", err)
	}

	// backups=0 disables rollover entirely.
	fstest.WriteFile(t, fs, "", "flat", []byte("x"))
	if err := RollOverByNumber(ctx, fs, "", "flat", 0); err != nil {
		t.Errorf("rollover with zero backups: %v", err)
	}
	if exists(t, fs, "flat.1") {
		t.Error("flat.1 created with backups=0")
	}
}

func TestRollOverBySize(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()

	fstest.WriteFile(t, fs, "", "log", []byte("0123456789"))

	// Under threshold: untouched.
	if err := RollOverBySize(ctx, fs, "", "log", 100, 3); err != nil {
		t.Fatalf("RollOverBySize: %v", err)
	}
	if exists(t, fs, "log.1") {
		t.Error("rollover triggered under the size threshold")
	}

	// Over threshold: rotated.
	if err := RollOverBySize(ctx, fs, "", "log", 5, 3); err != nil {
		t.Fatalf("RollOverBySize: %v", err)
	}
	if !exists(t, fs, "log.1") {
		t.Error("rollover did not trigger over the size threshold")
	}
	if exists(t, fs, "log") {
		t.Error("live file still present after size rollover")
	}
}

func TestRollOverByDay(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	h := fstest.WriteFile(t, fs, "", "daily.log", []byte("yesterday"))
	if err := fs.SetModificationTime(h, now.AddDate(0, 0, -1)); err != nil {
		t.Fatalf("SetModificationTime: %v", err)
	}

	// Seed an old rotated file beyond the keep window.
	fstest.WriteFile(t, fs, "", "daily.log.2025-05-01", []byte("ancient"))

	if err := RollOverByDay(ctx, fs, "", "daily.log", 7, now); err != nil {
		t.Fatalf("RollOverByDay: %v", err)
	}

	if exists(t, fs, "daily.log") {
		t.Error("live file still present after day rollover")
	}
	if !exists(t, fs, "daily.log.2025-06-09") {
		t.Error("date-suffixed file missing after day rollover")
	}
	if exists(t, fs, "daily.log.2025-05-01") {
		t.Error("rotated file older than keep window was not swept")
	}
}

func TestRollOverByDay_FutureModificationUntouched(t *testing.T) {
	fs := newFS(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	h := fstest.WriteFile(t, fs, "", "skewed.log", []byte("future"))
	if err := fs.SetModificationTime(h, now.AddDate(0, 0, 2)); err != nil {
		t.Fatalf("SetModificationTime: %v", err)
	}

	if err := RollOverByDay(ctx, fs, "", "skewed.log", 7, now); err != nil {
		t.Fatalf("RollOverByDay: %v", err)
	}
	if !exists(t, fs, "skewed.log") {
		t.Error("file with future modification time was rotated")
	}
}
