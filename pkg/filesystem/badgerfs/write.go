package badgerfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/unifs/pkg/filesystem"
)

func (b *BadgerFileSystem) ReadFile(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	db, err := b.database()
	if err != nil {
		return nil, err
	}
	var data []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(fh))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, filesystem.WrapStorage("read", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *BadgerFileSystem) CreateFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	return b.openWriter(ctx, h, false)
}

func (b *BadgerFileSystem) AppendFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	return b.openWriter(ctx, h, true)
}

func (b *BadgerFileSystem) openWriter(ctx context.Context, h filesystem.Handle, appendMode bool) (io.WriteCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	exists, err := b.FolderExists(ctx, fh.folder)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("folder %q: %w", fh.folder, filesystem.ErrFolderNotFound)
	}
	return &badgerWriter{fs: b, target: fh, append: appendMode}, nil
}

// badgerWriter buffers writes and commits the record in one transaction
// on Close, so a reader never observes a half-written file.
type badgerWriter struct {
	fs     *BadgerFileSystem
	target handle
	append bool
	buf    bytes.Buffer
	closed bool
}

func (w *badgerWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, filesystem.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *badgerWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	db, err := w.fs.database()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		data := w.buf.Bytes()
		if w.append {
			item, err := txn.Get(dataKey(w.target))
			if err == nil {
				existing, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				data = append(existing, data...)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return setFileTxn(txn, w.target, data, w.fs.now())
	})
	if err != nil {
		return filesystem.WrapStorage("commit write", err)
	}
	return nil
}

func (b *BadgerFileSystem) RenameFile(ctx context.Context, source, destination filesystem.Handle) (filesystem.Handle, error) {
	src, err := handleOf(source)
	if err != nil {
		return nil, err
	}
	dst, err := handleOf(destination)
	if err != nil {
		return nil, err
	}
	db, err := b.database()
	if err != nil {
		return nil, err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return relocateTxn(txn, src, dst, true)
	})
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, filesystem.WrapStorage("rename", err)
	}
	return dst, nil
}

func (b *BadgerFileSystem) MoveFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	return b.relocate(ctx, h, destinationFolder, createFolder, returnResult, true)
}

func (b *BadgerFileSystem) CopyFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	return b.relocate(ctx, h, destinationFolder, createFolder, returnResult, false)
}

func (b *BadgerFileSystem) relocate(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult, remove bool) (filesystem.Handle, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	folder := cleanFolder(destinationFolder)
	db, err := b.database()
	if err != nil {
		return nil, err
	}

	dst := handle{folder: folder, name: fh.name}
	err = db.Update(func(txn *badger.Txn) error {
		if folder != "" && !folderExistsTxn(txn, folder) {
			if !createFolder {
				return fmt.Errorf("folder %q: %w", destinationFolder, filesystem.ErrFolderNotFound)
			}
			for f := folder; f != ""; f = parentFolder(f) {
				if err := txn.Set(folderKey(f), nil); err != nil {
					return err
				}
			}
		}
		return relocateTxn(txn, fh, dst, remove)
	})
	if errors.Is(err, filesystem.ErrFileNotFound) || errors.Is(err, filesystem.ErrFolderNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, filesystem.WrapStorage("relocate", err)
	}
	if !returnResult {
		return nil, nil
	}
	return dst, nil
}

// relocateTxn copies the metadata and content records of src to dst
// inside one transaction, deleting the source records when remove is set.
func relocateTxn(txn *badger.Txn, src, dst handle, remove bool) error {
	metaItem, err := txn.Get(metaKey(src))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("file %q: %w", src.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return err
	}
	meta, err := metaItem.ValueCopy(nil)
	if err != nil {
		return err
	}
	var data []byte
	if dataItem, err := txn.Get(dataKey(src)); err == nil {
		if data, err = dataItem.ValueCopy(nil); err != nil {
			return err
		}
	} else if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	if err := txn.Set(metaKey(dst), meta); err != nil {
		return err
	}
	if err := txn.Set(dataKey(dst), data); err != nil {
		return err
	}
	if !remove {
		return nil
	}
	if err := txn.Delete(metaKey(src)); err != nil {
		return err
	}
	return txn.Delete(dataKey(src))
}

// setFileTxn writes both records of a file.
func setFileTxn(txn *badger.Txn, h handle, data []byte, mtime time.Time) error {
	meta, err := json.Marshal(fileMeta{MTime: mtime, Size: int64(len(data))})
	if err != nil {
		return err
	}
	if err := txn.Set(metaKey(h), meta); err != nil {
		return err
	}
	return txn.Set(dataKey(h), data)
}
