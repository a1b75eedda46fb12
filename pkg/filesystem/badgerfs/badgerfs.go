// Package badgerfs provides a FileSystem backend embedded in a BadgerDB
// key-value store.
//
// Files live entirely inside the database: one metadata record and one
// content record per file, plus a marker record per folder. The backend
// suits single-process deployments that want durable queue folders
// without an external server.
//
// Key layout:
//
//	d:<folder>         folder marker
//	m:<folder>/<name>  file metadata (JSON)
//	b:<folder>/<name>  file contents (raw bytes)
package badgerfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// Config controls how the database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole store in memory. Used by tests and
	// ephemeral deployments.
	InMemory bool
}

// BadgerFileSystem stores files in a BadgerDB instance.
//
// Thread Safety:
// Badger transactions provide isolation; the struct itself only guards
// the open/close lifecycle.
type BadgerFileSystem struct {
	cfg Config

	mu sync.Mutex
	db *badger.DB

	// now supplies modification times; replaceable in tests.
	now func() time.Time
}

var (
	_ filesystem.FileSystem         = (*BadgerFileSystem)(nil)
	_ filesystem.WritableFileSystem = (*BadgerFileSystem)(nil)
)

// fileMeta is the JSON metadata record of one file.
type fileMeta struct {
	MTime time.Time `json:"mtime"`
	Size  int64     `json:"size"`
}

type handle struct {
	folder string
	name   string
}

// New creates a badger-backed filesystem. The database opens on Open.
func New(cfg Config) (*BadgerFileSystem, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, filesystem.NewConfigError("badger backend requires a database path")
	}
	return &BadgerFileSystem{cfg: cfg, now: time.Now}, nil
}

// Open opens the database and ensures the root folder marker exists.
func (b *BadgerFileSystem) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return nil
	}

	var opts badger.Options
	if b.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(b.cfg.Path)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return filesystem.WrapStorage("open database", err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(folderKey(""), nil)
	})
	if err != nil {
		db.Close()
		return filesystem.WrapStorage("initialize database", err)
	}
	b.db = db
	return nil
}

// Close closes the database. Contents persist on disk for file-backed
// instances.
func (b *BadgerFileSystem) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	if err != nil {
		return filesystem.WrapStorage("close database", err)
	}
	return nil
}

func (b *BadgerFileSystem) database() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil, filesystem.ErrClosed
	}
	return b.db, nil
}

func (b *BadgerFileSystem) ToFile(ctx context.Context, name string) (filesystem.Handle, error) {
	folder, base := splitName(name)
	return handle{folder: folder, name: base}, nil
}

func (b *BadgerFileSystem) ToFileIn(ctx context.Context, folder, name string) (filesystem.Handle, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("name %q contains a folder separator: %w", name, filesystem.ErrInvalidHandle)
	}
	return handle{folder: cleanFolder(folder), name: name}, nil
}

func (b *BadgerFileSystem) Exists(ctx context.Context, h filesystem.Handle) (bool, error) {
	fh, err := handleOf(h)
	if err != nil {
		return false, err
	}
	db, err := b.database()
	if err != nil {
		return false, err
	}
	exists := false
	err = db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(metaKey(fh))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	if err != nil {
		return false, filesystem.WrapStorage("exists", err)
	}
	return exists, nil
}

func (b *BadgerFileSystem) ListFiles(ctx context.Context, folder string) (filesystem.DirectoryStream, error) {
	cleaned := cleanFolder(folder)
	db, err := b.database()
	if err != nil {
		return nil, err
	}

	type entry struct {
		name  string
		mtime time.Time
	}
	var files []entry
	err = db.View(func(txn *badger.Txn) error {
		if !folderExistsTxn(txn, cleaned) {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
		}

		prefix := metaPrefix(cleaned)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			if strings.Contains(name, "/") {
				continue // deeper folder
			}
			var meta fileMeta
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &meta)
			}); err != nil {
				return err
			}
			files = append(files, entry{name: name, mtime: meta.MTime})
		}
		return nil
	})
	if errors.Is(err, filesystem.ErrFolderNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, filesystem.WrapStorage("list", err)
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

func (b *BadgerFileSystem) DeleteFile(ctx context.Context, h filesystem.Handle) error {
	fh, err := handleOf(h)
	if err != nil {
		return err
	}
	db, err := b.database()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(metaKey(fh)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(metaKey(fh)); err != nil {
			return err
		}
		return txn.Delete(dataKey(fh))
	})
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return err
	}
	if err != nil {
		return filesystem.WrapStorage("delete", err)
	}
	return nil
}

func (b *BadgerFileSystem) Name(h filesystem.Handle) string {
	fh, err := handleOf(h)
	if err != nil {
		return ""
	}
	return fh.name
}

// CanonicalName returns the database key of the content record.
func (b *BadgerFileSystem) CanonicalName(h filesystem.Handle) (string, error) {
	fh, err := handleOf(h)
	if err != nil {
		return "", err
	}
	return fileKey(fh), nil
}

func (b *BadgerFileSystem) ModificationTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	meta, err := b.readMeta(h)
	if err != nil {
		return time.Time{}, err
	}
	return meta.MTime, nil
}

func (b *BadgerFileSystem) FileSize(ctx context.Context, h filesystem.Handle) (int64, error) {
	meta, err := b.readMeta(h)
	if err != nil {
		return 0, err
	}
	return meta.Size, nil
}

func (b *BadgerFileSystem) AdditionalProperties(ctx context.Context, h filesystem.Handle) (map[string]any, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key": fileKey(fh),
	}, nil
}

func (b *BadgerFileSystem) FolderExists(ctx context.Context, folder string) (bool, error) {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return true, nil
	}
	db, err := b.database()
	if err != nil {
		return false, err
	}
	exists := false
	err = db.View(func(txn *badger.Txn) error {
		exists = folderExistsTxn(txn, cleaned)
		return nil
	})
	if err != nil {
		return false, filesystem.WrapStorage("folder exists", err)
	}
	return exists, nil
}

func (b *BadgerFileSystem) CreateFolder(ctx context.Context, folder string) error {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
	}
	db, err := b.database()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		if folderExistsTxn(txn, cleaned) {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
		}
		// Create missing parents alongside, the store is hierarchical.
		for f := cleaned; f != ""; f = parentFolder(f) {
			if err := txn.Set(folderKey(f), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, filesystem.ErrFolderExists) {
		return err
	}
	if err != nil {
		return filesystem.WrapStorage("create folder", err)
	}
	return nil
}

func (b *BadgerFileSystem) RemoveFolder(ctx context.Context, folder string, recursive bool) error {
	cleaned := cleanFolder(folder)
	if cleaned == "" {
		return fmt.Errorf("cannot remove the root folder: %w", filesystem.ErrNotSupported)
	}
	db, err := b.database()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		if !folderExistsTxn(txn, cleaned) {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
		}

		var doomed [][]byte
		empty := true
		for _, prefix := range [][]byte{metaPrefix(cleaned), dataPrefix(cleaned), childFolderPrefix(cleaned)} {
			it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
			for it.Rewind(); it.Valid(); it.Next() {
				empty = false
				doomed = append(doomed, it.Item().KeyCopy(nil))
			}
			it.Close()
		}
		if !empty && !recursive {
			return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
		}
		for _, key := range doomed {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(folderKey(cleaned))
	})
	if errors.Is(err, filesystem.ErrFolderNotFound) || errors.Is(err, filesystem.ErrFolderNotEmpty) {
		return err
	}
	if err != nil {
		return filesystem.WrapStorage("remove folder", err)
	}
	return nil
}

func (b *BadgerFileSystem) readMeta(h filesystem.Handle) (fileMeta, error) {
	fh, err := handleOf(h)
	if err != nil {
		return fileMeta{}, err
	}
	db, err := b.database()
	if err != nil {
		return fileMeta{}, err
	}
	var meta fileMeta
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(fh))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return fileMeta{}, err
	}
	if err != nil {
		return fileMeta{}, filesystem.WrapStorage("read metadata", err)
	}
	return meta, nil
}

// ============================================================================
// Keys
// ============================================================================

func handleOf(h filesystem.Handle) (handle, error) {
	fh, ok := h.(handle)
	if !ok {
		return handle{}, fmt.Errorf("handle %T does not belong to this backend: %w", h, filesystem.ErrInvalidHandle)
	}
	return fh, nil
}

func fileKey(h handle) string {
	if h.folder == "" {
		return h.name
	}
	return h.folder + "/" + h.name
}

func folderKey(folder string) []byte {
	return []byte("d:" + folder)
}

func metaKey(h handle) []byte {
	return []byte("m:" + fileKey(h))
}

func dataKey(h handle) []byte {
	return []byte("b:" + fileKey(h))
}

func metaPrefix(folder string) []byte {
	if folder == "" {
		return []byte("m:")
	}
	return []byte("m:" + folder + "/")
}

func dataPrefix(folder string) []byte {
	if folder == "" {
		return []byte("b:")
	}
	return []byte("b:" + folder + "/")
}

func childFolderPrefix(folder string) []byte {
	return []byte("d:" + folder + "/")
}

func folderExistsTxn(txn *badger.Txn, folder string) bool {
	_, err := txn.Get(folderKey(folder))
	return err == nil
}

func cleanFolder(folder string) string {
	cleaned := strings.Trim(path.Clean("/"+folder), "/")
	if cleaned == "." {
		return ""
	}
	return cleaned
}

func parentFolder(folder string) string {
	idx := strings.LastIndex(folder, "/")
	if idx < 0 {
		return ""
	}
	return folder[:idx]
}

func splitName(name string) (folder, base string) {
	cleaned := strings.Trim(path.Clean("/"+name), "/")
	idx := strings.LastIndex(cleaned, "/")
	if idx < 0 {
		return "", cleaned
	}
	return cleaned[:idx], cleaned[idx+1:]
}
