// Package memfs provides an in-memory FileSystem backend.
//
// It is the reference implementation of the capability interfaces: fast,
// volatile, and full-featured for the basic and writable capabilities. It
// backs the conformance suite and the engine/listener tests, and serves as
// ephemeral storage for small deployments.
package memfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// MemFileSystem stores files and folders in maps guarded by an RWMutex.
//
// Characteristics:
//   - Case-sensitive names
//   - Oldest-first listing order (modification time, then name)
//   - Copy-on-read and copy-on-write to keep caller buffers race-free
//
// Thread Safety:
// All operations are protected by the mutex; multiple concurrent readers
// are allowed, writes are exclusive.
type MemFileSystem struct {
	mu      sync.RWMutex
	opened  bool
	folders map[string]bool
	files   map[string]*memFile

	// Now supplies the clock for file modification times. Tests override
	// it to control stability windows and day rollover.
	Now func() time.Time
}

var (
	_ filesystem.FileSystem         = (*MemFileSystem)(nil)
	_ filesystem.WritableFileSystem = (*MemFileSystem)(nil)
)

type memFile struct {
	data  []byte
	mtime time.Time
}

// handle identifies a file by folder and bare name. Handles from other
// backends fail the type assertion and are rejected.
type handle struct {
	folder string
	name   string
}

// New creates an empty in-memory filesystem. The root folder "" exists
// from the start.
func New() *MemFileSystem {
	return &MemFileSystem{
		folders: map[string]bool{"": true},
		files:   make(map[string]*memFile),
		Now:     time.Now,
	}
}

// Open marks the filesystem usable. No connections are involved.
func (m *MemFileSystem) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = true
	return nil
}

// Close marks the filesystem unusable. Contents are retained so a
// reopened instance sees the same data.
func (m *MemFileSystem) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = false
	return nil
}

func (m *MemFileSystem) checkOpen() error {
	if !m.opened {
		return filesystem.ErrClosed
	}
	return nil
}

func (m *MemFileSystem) ToFile(ctx context.Context, name string) (filesystem.Handle, error) {
	folder, base := splitName(name)
	return handle{folder: folder, name: base}, nil
}

func (m *MemFileSystem) ToFileIn(ctx context.Context, folder, name string) (filesystem.Handle, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("name %q contains a folder separator: %w", name, filesystem.ErrInvalidHandle)
	}
	return handle{folder: cleanFolder(folder), name: name}, nil
}

func (m *MemFileSystem) Exists(ctx context.Context, h filesystem.Handle) (bool, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	_, ok := m.files[fileKey(fh)]
	return ok, nil
}

func (m *MemFileSystem) ListFiles(ctx context.Context, folder string) (filesystem.DirectoryStream, error) {
	folder = cleanFolder(folder)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if !m.folders[folder] {
		return nil, fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}

	type entry struct {
		h     handle
		mtime time.Time
	}
	var entries []entry
	for key, f := range m.files {
		fh := keyToHandle(key)
		if fh.folder == folder {
			entries = append(entries, entry{h: fh, mtime: f.mtime})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].mtime.Equal(entries[j].mtime) {
			return entries[i].mtime.Before(entries[j].mtime)
		}
		return entries[i].h.name < entries[j].h.name
	})

	handles := make([]filesystem.Handle, len(entries))
	for i, e := range entries {
		handles[i] = e.h
	}
	return filesystem.NewSliceStream(handles), nil
}

func (m *MemFileSystem) ReadFile(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	f, ok := m.files[fileKey(fh)]
	if !ok {
		return nil, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	// Reader over a copy so later writes do not race with the caller.
	data := make([]byte, len(f.data))
	copy(data, f.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemFileSystem) DeleteFile(ctx context.Context, h filesystem.Handle) error {
	fh, err := m.handleOf(h)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	key := fileKey(fh)
	if _, ok := m.files[key]; !ok {
		return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	delete(m.files, key)
	return nil
}

func (m *MemFileSystem) Name(h filesystem.Handle) string {
	fh, err := m.handleOf(h)
	if err != nil {
		return ""
	}
	return fh.name
}

func (m *MemFileSystem) CanonicalName(h filesystem.Handle) (string, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return "", err
	}
	return fileKey(fh), nil
}

func (m *MemFileSystem) ModificationTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileKey(fh)]
	if !ok {
		return time.Time{}, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	return f.mtime, nil
}

func (m *MemFileSystem) FileSize(ctx context.Context, h filesystem.Handle) (int64, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileKey(fh)]
	if !ok {
		return 0, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	return int64(len(f.data)), nil
}

func (m *MemFileSystem) AdditionalProperties(ctx context.Context, h filesystem.Handle) (map[string]any, error) {
	return nil, nil
}

func (m *MemFileSystem) FolderExists(ctx context.Context, folder string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	return m.folders[cleanFolder(folder)], nil
}

func (m *MemFileSystem) CreateFolder(ctx context.Context, folder string) error {
	folder = cleanFolder(folder)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if m.folders[folder] {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
	}
	// Create missing parents as well.
	for f := folder; f != ""; f = parentFolder(f) {
		m.folders[f] = true
	}
	return nil
}

func (m *MemFileSystem) RemoveFolder(ctx context.Context, folder string, recursive bool) error {
	folder = cleanFolder(folder)
	if folder == "" {
		return fmt.Errorf("cannot remove the root folder: %w", filesystem.ErrNotSupported)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if !m.folders[folder] {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}

	prefix := folder + "/"
	empty := true
	for key := range m.files {
		if keyToHandle(key).folder == folder || strings.HasPrefix(key, prefix) {
			empty = false
			break
		}
	}
	for f := range m.folders {
		if strings.HasPrefix(f, prefix) {
			empty = false
			break
		}
	}

	if !empty && !recursive {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
	}
	for key := range m.files {
		if keyToHandle(key).folder == folder || strings.HasPrefix(key, prefix) {
			delete(m.files, key)
		}
	}
	for f := range m.folders {
		if f == folder || strings.HasPrefix(f, prefix) {
			delete(m.folders, f)
		}
	}
	return nil
}

// SetModificationTime overrides a file's modification time. Test hook for
// stability-window and rollover behavior.
func (m *MemFileSystem) SetModificationTime(h filesystem.Handle, t time.Time) error {
	fh, err := m.handleOf(h)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileKey(fh)]
	if !ok {
		return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
	}
	f.mtime = t
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

func (m *MemFileSystem) handleOf(h filesystem.Handle) (handle, error) {
	fh, ok := h.(handle)
	if !ok {
		return handle{}, fmt.Errorf("handle %T does not belong to memfs: %w", h, filesystem.ErrInvalidHandle)
	}
	return fh, nil
}

func cleanFolder(folder string) string {
	folder = strings.Trim(path.Clean("/"+folder), "/")
	if folder == "." {
		return ""
	}
	return folder
}

func parentFolder(folder string) string {
	idx := strings.LastIndex(folder, "/")
	if idx < 0 {
		return ""
	}
	return folder[:idx]
}

func splitName(name string) (folder, base string) {
	name = strings.Trim(path.Clean("/"+name), "/")
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func fileKey(h handle) string {
	if h.folder == "" {
		return h.name
	}
	return h.folder + "/" + h.name
}

func keyToHandle(key string) handle {
	folder, name := splitName(key)
	return handle{folder: folder, name: name}
}
