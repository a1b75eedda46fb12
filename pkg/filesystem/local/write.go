package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/marmos91/unifs/pkg/filesystem"
)

func (l *LocalFileSystem) CreateFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := l.requireFolder(ctx, fh.folder); err != nil {
		return nil, err
	}
	f, err := os.Create(l.path(fh))
	if err != nil {
		return nil, filesystem.WrapStorage("create", err)
	}
	return f, nil
}

func (l *LocalFileSystem) AppendFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	if err := l.requireFolder(ctx, fh.folder); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(l.path(fh), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, filesystem.WrapStorage("append", err)
	}
	return f, nil
}

func (l *LocalFileSystem) RenameFile(ctx context.Context, source, destination filesystem.Handle) (filesystem.Handle, error) {
	src, err := l.handleOf(source)
	if err != nil {
		return nil, err
	}
	dst, err := l.handleOf(destination)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(l.path(src), l.path(dst)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file %q: %w", src.name, filesystem.ErrFileNotFound)
		}
		return nil, filesystem.WrapStorage("rename", err)
	}
	return dst, nil
}

func (l *LocalFileSystem) MoveFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	dst, err := l.relocate(ctx, fh, destinationFolder, createFolder, func(srcPath, dstPath string) error {
		return os.Rename(srcPath, dstPath)
	})
	if err != nil || !returnResult {
		return nil, err
	}
	return dst, nil
}

func (l *LocalFileSystem) CopyFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	fh, err := l.handleOf(h)
	if err != nil {
		return nil, err
	}
	dst, err := l.relocate(ctx, fh, destinationFolder, createFolder, copyContents)
	if err != nil || !returnResult {
		return nil, err
	}
	return dst, nil
}

// relocate places the file into the destination folder via the given
// transfer, applying the folder-creation policy first.
func (l *LocalFileSystem) relocate(ctx context.Context, fh handle, destinationFolder string, createFolder bool, transfer func(srcPath, dstPath string) error) (handle, error) {
	folder := cleanFolder(destinationFolder)
	if err := ctx.Err(); err != nil {
		return handle{}, err
	}

	exists, err := l.FolderExists(ctx, folder)
	if err != nil {
		return handle{}, err
	}
	if !exists {
		if !createFolder {
			return handle{}, fmt.Errorf("folder %q: %w", destinationFolder, filesystem.ErrFolderNotFound)
		}
		if err := os.MkdirAll(l.folderPath(folder), 0o755); err != nil {
			return handle{}, filesystem.WrapStorage("create folder", err)
		}
	}

	dst := handle{folder: folder, name: fh.name}
	if err := transfer(l.path(fh), l.path(dst)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return handle{}, fmt.Errorf("file %q: %w", fh.name, filesystem.ErrFileNotFound)
		}
		return handle{}, filesystem.WrapStorage("relocate", err)
	}
	return dst, nil
}

func copyContents(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	return dst.Close()
}

func (l *LocalFileSystem) requireFolder(ctx context.Context, folder string) error {
	exists, err := l.FolderExists(ctx, folder)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}
	return nil
}
