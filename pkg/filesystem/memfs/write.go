package memfs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// This file implements the writable capability.

// memWriter buffers writes and commits them into the store on Close.
type memWriter struct {
	fs     *MemFileSystem
	target handle
	buf    bytes.Buffer
	append bool
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write after close: %w", filesystem.ErrClosed)
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	if err := w.fs.checkOpen(); err != nil {
		return err
	}

	key := fileKey(w.target)
	if w.append {
		if existing, ok := w.fs.files[key]; ok {
			data := make([]byte, 0, len(existing.data)+w.buf.Len())
			data = append(data, existing.data...)
			data = append(data, w.buf.Bytes()...)
			w.fs.files[key] = &memFile{data: data, mtime: w.fs.Now()}
			return nil
		}
	}
	data := make([]byte, w.buf.Len())
	copy(data, w.buf.Bytes())
	w.fs.files[key] = &memFile{data: data, mtime: w.fs.Now()}
	return nil
}

func (m *MemFileSystem) CreateFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := m.requireFolder(fh.folder); err != nil {
		return nil, err
	}
	return &memWriter{fs: m, target: fh}, nil
}

func (m *MemFileSystem) AppendFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := m.requireFolder(fh.folder); err != nil {
		return nil, err
	}
	return &memWriter{fs: m, target: fh, append: true}, nil
}

func (m *MemFileSystem) RenameFile(ctx context.Context, source, destination filesystem.Handle) (filesystem.Handle, error) {
	src, err := m.handleOf(source)
	if err != nil {
		return nil, err
	}
	dst, err := m.handleOf(destination)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	f, ok := m.files[fileKey(src)]
	if !ok {
		return nil, fmt.Errorf("file %q: %w", src.name, filesystem.ErrFileNotFound)
	}
	delete(m.files, fileKey(src))
	m.files[fileKey(dst)] = f
	return dst, nil
}

func (m *MemFileSystem) MoveFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return nil, err
	}
	dst, err := m.relocate(fh, destinationFolder, createFolder, true)
	if err != nil {
		return nil, err
	}
	if !returnResult {
		return nil, nil
	}
	return dst, nil
}

func (m *MemFileSystem) CopyFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	fh, err := m.handleOf(h)
	if err != nil {
		return nil, err
	}
	dst, err := m.relocate(fh, destinationFolder, createFolder, false)
	if err != nil {
		return nil, err
	}
	if !returnResult {
		return nil, nil
	}
	return dst, nil
}

// relocate moves or copies a file into another folder, keeping its name.
func (m *MemFileSystem) relocate(src handle, destinationFolder string, createFolder, remove bool) (handle, error) {
	destinationFolder = cleanFolder(destinationFolder)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return handle{}, err
	}
	if !m.folders[destinationFolder] {
		if !createFolder {
			return handle{}, fmt.Errorf("folder %q: %w", destinationFolder, filesystem.ErrFolderNotFound)
		}
		for f := destinationFolder; f != ""; f = parentFolder(f) {
			m.folders[f] = true
		}
	}

	f, ok := m.files[fileKey(src)]
	if !ok {
		return handle{}, fmt.Errorf("file %q: %w", src.name, filesystem.ErrFileNotFound)
	}
	dst := handle{folder: destinationFolder, name: src.name}
	if remove {
		delete(m.files, fileKey(src))
		m.files[fileKey(dst)] = f
	} else {
		data := make([]byte, len(f.data))
		copy(data, f.data)
		m.files[fileKey(dst)] = &memFile{data: data, mtime: m.Now()}
	}
	return dst, nil
}

func (m *MemFileSystem) requireFolder(folder string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if !m.folders[folder] {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}
	return nil
}
