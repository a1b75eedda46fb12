// Package local provides a FileSystem backend over a directory tree on
// local disk.
//
// All names are interpreted relative to a configured root; the backend
// never reaches outside it. Folders map to directories, listing order is
// oldest-first by modification time, and renames are atomic where the
// underlying filesystem makes them so.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// LocalFileSystem stores files under a single root directory.
//
// Thread Safety:
// Operations delegate to the OS and are safe for concurrent use; callers
// coordinating writes to the same file need their own synchronization.
type LocalFileSystem struct {
	root string
}

var (
	_ filesystem.FileSystem         = (*LocalFileSystem)(nil)
	_ filesystem.WritableFileSystem = (*LocalFileSystem)(nil)
)

// handle identifies a file by slash-separated folder and bare name,
// relative to the root.
type handle struct {
	folder string
	name   string
}

// New creates a local backend rooted at the given directory. The
// directory is created on Open.
func New(root string) (*LocalFileSystem, error) {
	if root == "" {
		return nil, filesystem.NewConfigError("local backend requires a root directory")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, filesystem.NewConfigError("invalid root %q: %v", root, err)
	}
	return &LocalFileSystem{root: abs}, nil
}

// Open creates the root directory when missing.
func (l *LocalFileSystem) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.root, 0o755); err != nil {
		return filesystem.WrapStorage("open root", err)
	}
	return nil
}

// Close is a no-op: the backend holds no connections.
func (l *LocalFileSystem) Close(ctx context.Context) error {
	return nil
}

func (l *LocalFileSystem) ToFile(ctx context.Context, name string) (filesystem.Handle, error) {
	folder, base := splitName(name)
	return handle{folder: folder, name: base}, nil
}

func (l *LocalFileSystem) ToFileIn(ctx context.Context, folder, name string) (filesystem.Handle, error) {
	if strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("name %q contains a folder separator: %w", name, filesystem.ErrInvalidHandle)
	}
	return handle{folder: cleanFolder(folder), name: name}, nil
}

func (l *LocalFileSystem) Exists(ctx context.Context, h filesystem.Handle) (bool, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(l.path(fh))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, filesystem.WrapStorage("stat", err)
	}
	return info.Mode().IsRegular(), nil
}

func (l *LocalFileSystem) ListFiles(ctx context.Context, folder string) (filesystem.DirectoryStream, error) {
	cleaned := cleanFolder(folder)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.folderPath(cleaned))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}
	if err != nil {
		return nil, filesystem.WrapStorage("list", err)
	}

	type entry struct {
		name  string
		mtime time.Time
	}
	files := make([]entry, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// The file vanished between ReadDir and Info.
			continue
		}
		files = append(files, entry{name: e.Name(), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mtime.Equal(files[j].mtime) {
			return files[i].mtime.Before(files[j].mtime)
		}
		return files[i].name < files[j].name
	})

	handles := make([]filesystem.Handle, len(files))
	for i, f := range files {
		handles[i] = handle{folder: cleaned, name: f.name}
	}
	return filesystem.NewSliceStream(handles), nil
}

func (l *LocalFileSystem) ReadFile(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.path(fh))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return nil, filesystem.WrapStorage("read", err)
	}
	return f, nil
}

func (l *LocalFileSystem) DeleteFile(ctx context.Context, h filesystem.Handle) error {
	fh, err := l.handleOf(h)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = os.Remove(l.path(fh))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return filesystem.WrapStorage("delete", err)
	}
	return nil
}

func (l *LocalFileSystem) Name(h filesystem.Handle) string {
	fh, err := l.handleOf(h)
	if err != nil {
		return ""
	}
	return fh.name
}

// CanonicalName returns the absolute path of the file on disk.
func (l *LocalFileSystem) CanonicalName(h filesystem.Handle) (string, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return "", err
	}
	return l.path(fh), nil
}

func (l *LocalFileSystem) ModificationTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	info, err := l.statFile(ctx, h)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

func (l *LocalFileSystem) FileSize(ctx context.Context, h filesystem.Handle) (int64, error) {
	info, err := l.statFile(ctx, h)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *LocalFileSystem) AdditionalProperties(ctx context.Context, h filesystem.Handle) (map[string]any, error) {
	info, err := l.statFile(ctx, h)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"mode": info.Mode().String(),
	}, nil
}

func (l *LocalFileSystem) FolderExists(ctx context.Context, folder string) (bool, error) {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(l.folderPath(cleaned))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, filesystem.WrapStorage("stat folder", err)
	}
	return info.IsDir(), nil
}

func (l *LocalFileSystem) CreateFolder(ctx context.Context, folder string) error {
	cleaned := cleanFolder(folder)
	if err := ctx.Err(); err != nil {
		return err
	}
	target := l.folderPath(cleaned)
	if info, err := os.Stat(target); err == nil {
		if info.IsDir() {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
		}
		return fmt.Errorf("path %q is a file: %w", folder, filesystem.ErrNotAFolder)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return filesystem.WrapStorage("create folder", err)
	}
	return nil
}

func (l *LocalFileSystem) RemoveFolder(ctx context.Context, folder string, recursive bool) error {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return fmt.Errorf("cannot remove the root folder: %w", filesystem.ErrNotSupported)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	target := l.folderPath(cleaned)
	info, err := os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}
	if err != nil {
		return filesystem.WrapStorage("stat folder", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path %q is a file: %w", folder, filesystem.ErrNotAFolder)
	}

	if recursive {
		if err := os.RemoveAll(target); err != nil {
			return filesystem.WrapStorage("remove folder", err)
		}
		return nil
	}
	err = os.Remove(target)
	if err != nil && strings.Contains(err.Error(), "not empty") {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
	}
	if err != nil {
		// Directory-not-empty surfaces as a generic syscall error on some
		// platforms; treat any failure of a plain Remove on an existing
		// directory as the non-empty case after a recheck.
		entries, readErr := os.ReadDir(target)
		if readErr == nil && len(entries) > 0 {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
		}
		return filesystem.WrapStorage("remove folder", err)
	}
	return nil
}

// ============================================================================
// Path resolution
// ============================================================================

func (l *LocalFileSystem) handleOf(h filesystem.Handle) (handle, error) {
	fh, ok := h.(handle)
	if !ok {
		return handle{}, fmt.Errorf("handle %T does not belong to this backend: %w", h, filesystem.ErrInvalidHandle)
	}
	return fh, nil
}

func (l *LocalFileSystem) path(h handle) string {
	return filepath.Join(l.folderPath(h.folder), h.name)
}

func (l *LocalFileSystem) folderPath(folder string) string {
	if folder == "" {
		return l.root
	}
	return filepath.Join(l.root, filepath.FromSlash(folder))
}

func (l *LocalFileSystem) statFile(ctx context.Context, h filesystem.Handle) (fs.FileInfo, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(l.path(fh))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return nil, filesystem.WrapStorage("stat", err)
	}
	return info, nil
}

// cleanFolder normalizes a folder path to slash form relative to the
// root. Rooted cleaning clamps ".." segments, so a folder can never
// escape the root.
func cleanFolder(folder string) string {
	cleaned := strings.Trim(path.Clean("/"+strings.ReplaceAll(folder, "\\", "/")), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func splitName(name string) (folder, base string) {
	cleaned := strings.Trim(path.Clean("/"+strings.ReplaceAll(name, "\\", "/")), "/")
	idx := strings.LastIndex(cleaned, "/")
	if idx < 0 {
		return "", cleaned
	}
	return cleaned[:idx], cleaned[idx+1:]
}
