package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/unifs/pkg/filesystem"
)

func (s *S3FileSystem) CreateFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	return s.openWriter(ctx, h, false)
}

// AppendFile is read-modify-write: S3 objects are immutable, so the
// existing contents are fetched and re-uploaded with the appended bytes.
// Concurrent appenders can lose updates; single-writer use only.
func (s *S3FileSystem) AppendFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	return s.openWriter(ctx, h, true)
}

func (s *S3FileSystem) openWriter(ctx context.Context, h filesystem.Handle, appendMode bool) (io.WriteCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	exists, err := s.FolderExists(ctx, fh.folder)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("folder %q: %w", fh.folder, filesystem.ErrFolderNotFound)
	}

	w := &s3Writer{ctx: ctx, fs: s, target: fh}
	if appendMode {
		r, err := s.ReadFile(ctx, h)
		if err == nil {
			existing, readErr := io.ReadAll(r)
			r.Close()
			if readErr != nil {
				return nil, filesystem.WrapStorage("read existing object", readErr)
			}
			w.buf.Write(existing)
		} else if !errors.Is(err, filesystem.ErrFileNotFound) {
			return nil, err
		}
	}
	return w, nil
}

// s3Writer buffers locally and uploads the object once on Close.
type s3Writer struct {
	ctx    context.Context
	fs     *S3FileSystem
	target handle
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, filesystem.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.fs.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.fs.cfg.Bucket),
		Key:    aws.String(w.fs.objectKey(w.target)),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return filesystem.WrapStorage("put object", err)
	}
	return nil
}

func (s *S3FileSystem) RenameFile(ctx context.Context, source, destination filesystem.Handle) (filesystem.Handle, error) {
	src, err := handleOf(source)
	if err != nil {
		return nil, err
	}
	dst, err := handleOf(destination)
	if err != nil {
		return nil, err
	}
	if err := s.copyObject(ctx, src, dst); err != nil {
		return nil, err
	}
	if err := s.deleteObject(ctx, src); err != nil {
		return nil, err
	}
	return dst, nil
}

func (s *S3FileSystem) MoveFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	return s.relocate(ctx, h, destinationFolder, createFolder, returnResult, true)
}

func (s *S3FileSystem) CopyFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	return s.relocate(ctx, h, destinationFolder, createFolder, returnResult, false)
}

func (s *S3FileSystem) relocate(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult, remove bool) (filesystem.Handle, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	folder := cleanFolder(destinationFolder)
	exists, err := s.FolderExists(ctx, folder)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !createFolder {
			return nil, fmt.Errorf("folder %q: %w", destinationFolder, filesystem.ErrFolderNotFound)
		}
		if err := s.CreateFolder(ctx, folder); err != nil {
			return nil, err
		}
	}

	dst := handle{folder: folder, name: fh.name}
	if err := s.copyObject(ctx, fh, dst); err != nil {
		return nil, err
	}
	if remove {
		if err := s.deleteObject(ctx, fh); err != nil {
			return nil, err
		}
	}
	if !returnResult {
		return nil, nil
	}
	return dst, nil
}

func (s *S3FileSystem) copyObject(ctx context.Context, src, dst handle) error {
	// CopySource is "<bucket>/<key>" with each path segment escaped.
	source := (&url.URL{Path: s.cfg.Bucket + "/" + s.objectKey(src)}).EscapedPath()
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.cfg.Bucket),
		Key:        aws.String(s.objectKey(dst)),
		CopySource: aws.String(source),
	})
	if isNotFound(err) {
		return fmt.Errorf("file %q: %w", src.name, filesystem.ErrFileNotFound)
	}
	if err != nil {
		return filesystem.WrapStorage("copy object", err)
	}
	return nil
}

func (s *S3FileSystem) deleteObject(ctx context.Context, fh handle) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(fh)),
	})
	if err != nil {
		return filesystem.WrapStorage("delete object", err)
	}
	return nil
}
