package imapfs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/emersion/go-imap/v2"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// CreateFile buffers the message locally and appends it to the mailbox
// when the writer is closed. The server assigns the UID, so the handle
// passed in does not name the stored message; callers list or re-resolve
// to find it.
func (f *IMAPFileSystem) CreateFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	return &messageWriter{ctx: ctx, fs: f, mailbox: fh.mailbox}, nil
}

// AppendFile is unsupported: messages are immutable once stored.
func (f *IMAPFileSystem) AppendFile(ctx context.Context, h filesystem.Handle) (io.WriteCloser, error) {
	return nil, fmt.Errorf("imap messages cannot be appended to: %w", filesystem.ErrNotSupported)
}

// RenameFile is unsupported: message names are server-assigned UIDs.
func (f *IMAPFileSystem) RenameFile(ctx context.Context, source, destination filesystem.Handle) (filesystem.Handle, error) {
	return nil, fmt.Errorf("imap messages cannot be renamed: %w", filesystem.ErrNotSupported)
}

type messageWriter struct {
	ctx     context.Context
	fs      *IMAPFileSystem
	mailbox string
	buf     bytes.Buffer
	closed  bool
}

func (w *messageWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, filesystem.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *messageWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.fs.appendMessage(w.ctx, w.mailbox, w.buf.Bytes())
}

func (f *IMAPFileSystem) appendMessage(ctx context.Context, mailbox string, raw []byte) error {
	return f.withConn(ctx, func(c client) error {
		cmd := c.Append(mailbox, int64(len(raw)), nil)
		if _, err := cmd.Write(raw); err != nil {
			cmd.Close()
			return filesystem.WrapStorage("append", err)
		}
		if err := cmd.Close(); err != nil {
			return filesystem.WrapStorage("append", err)
		}
		if _, err := cmd.Wait(); err != nil {
			return filesystem.WrapStorage("append", err)
		}
		return nil
	})
}

// MoveFile copies the message to the destination mailbox and expunges the
// original. The moved message gets a fresh UID in the destination.
func (f *IMAPFileSystem) MoveFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	dest, err := f.relocate(ctx, h, destinationFolder, createFolder)
	if err != nil {
		return nil, err
	}
	if err := f.DeleteFile(ctx, h); err != nil {
		return nil, err
	}
	if !returnResult {
		return nil, nil
	}
	return dest, nil
}

// CopyFile copies the message to the destination mailbox.
func (f *IMAPFileSystem) CopyFile(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder, returnResult bool) (filesystem.Handle, error) {
	dest, err := f.relocate(ctx, h, destinationFolder, createFolder)
	if err != nil {
		return nil, err
	}
	if !returnResult {
		return nil, nil
	}
	return dest, nil
}

func (f *IMAPFileSystem) relocate(ctx context.Context, h filesystem.Handle, destinationFolder string, createFolder bool) (filesystem.Handle, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	exists, err := f.FolderExists(ctx, destinationFolder)
	if err != nil {
		return nil, err
	}
	if !exists {
		if !createFolder {
			return nil, fmt.Errorf("folder %q: %w", destinationFolder, filesystem.ErrFolderNotFound)
		}
		if err := f.CreateFolder(ctx, destinationFolder); err != nil {
			return nil, err
		}
	}

	destMailbox := mailboxOf(destinationFolder)
	var destUID imap.UID
	err = f.withConn(ctx, func(c client) error {
		if _, err := c.Select(fh.mailbox, nil).Wait(); err != nil {
			return filesystem.WrapStorage("select "+fh.mailbox, err)
		}
		bufs, err := c.Fetch(imap.UIDSetNum(fh.uid), &imap.FetchOptions{UID: true}).Collect()
		if err != nil {
			return filesystem.WrapStorage("fetch", err)
		}
		if len(bufs) == 0 {
			return fmt.Errorf("message %q: %w", messageName(fh.uid), filesystem.ErrFileNotFound)
		}
		data, err := c.Copy(imap.UIDSetNum(fh.uid), destMailbox).Wait()
		if err != nil {
			return filesystem.WrapStorage("copy to "+destMailbox, err)
		}
		if data != nil {
			if ranges, ok := destUIDs(data); ok {
				destUID = ranges
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return handle{mailbox: destMailbox, uid: destUID}, nil
}

// destUIDs extracts the first destination UID from a COPYUID response.
// Servers without UIDPLUS omit it, in which case the returned handle has
// UID zero and must be re-resolved by listing.
func destUIDs(data *imap.CopyData) (imap.UID, bool) {
	for _, r := range data.DestUIDs {
		if r.Start != 0 {
			return r.Start, true
		}
	}
	return 0, false
}
