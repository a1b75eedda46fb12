// Package imapfs provides a mail-capable FileSystem backend over IMAP.
//
// Folders map to mailboxes and files to messages, named "<uid>.eml".
// Messages are immutable: writing appends a new message, append-in-place
// is unsupported, and relocation is IMAP COPY plus expunge. Sessions come
// from a connection pool; a broken session is invalidated, never reused.
package imapfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/pool"
)

// Forwarder sends a raw RFC 822 message to an address. The backend has
// no outbound transport of its own; deployments plug in SMTP here.
type Forwarder func(ctx context.Context, raw []byte, address string) error

// Config describes the IMAP account binding.
type Config struct {
	// Host is the IMAP server hostname. Required.
	Host string

	// Port is the server port. Zero selects 993 with TLS, 143 without.
	Port int

	// Username and Password authenticate the session.
	Username string
	Password string

	// TLS selects an IMAPS connection.
	TLS bool

	// DialTimeout bounds connection establishment. Zero means 5s.
	DialTimeout time.Duration

	// PoolMode selects "shared" (one session, recreated on failure) or
	// "pooled" (up to PoolSize sessions borrowed exclusively).
	PoolMode string

	// PoolSize is the maximum number of pooled sessions. Zero means 4.
	PoolSize int

	// Forward delivers forwarded messages. Nil disables forwarding.
	Forward Forwarder
}

// IMAPFileSystem exposes an IMAP account through the capability
// interfaces, up to the mail capability.
type IMAPFileSystem struct {
	cfg  Config
	pool *pool.Pool[client]

	// dialFn is replaceable in tests.
	dialFn func(Config) (client, error)
}

var (
	_ filesystem.FileSystem           = (*IMAPFileSystem)(nil)
	_ filesystem.WritableFileSystem   = (*IMAPFileSystem)(nil)
	_ filesystem.AttachmentFileSystem = (*IMAPFileSystem)(nil)
	_ filesystem.MailFileSystem       = (*IMAPFileSystem)(nil)
)

// handle identifies a message by mailbox and UID.
type handle struct {
	mailbox string
	uid     imap.UID
}

// New creates an IMAP backend. Sessions are established on Open.
func New(cfg Config) (*IMAPFileSystem, error) {
	if cfg.Host == "" {
		return nil, filesystem.NewConfigError("imap backend requires a host")
	}
	if cfg.Username == "" {
		return nil, filesystem.NewConfigError("imap backend requires a username")
	}
	switch cfg.PoolMode {
	case "", "shared", "pooled":
	default:
		return nil, filesystem.NewConfigError("unknown pool mode %q", cfg.PoolMode)
	}
	return &IMAPFileSystem{cfg: cfg, dialFn: dial}, nil
}

// Open builds the session pool and, in shared mode, connects eagerly so
// configuration problems surface here rather than on first use.
func (f *IMAPFileSystem) Open(ctx context.Context) error {
	mode := pool.Shared
	size := 0
	if f.cfg.PoolMode == "pooled" {
		mode = pool.Pooled
		size = f.cfg.PoolSize
		if size == 0 {
			size = 4
		}
	}
	p, err := pool.New(pool.Config[client]{
		Mode:    mode,
		MaxSize: size,
		Factory: func(ctx context.Context) (client, error) {
			return f.dialFn(f.cfg)
		},
		Closer: func(c client) error {
			c.Logout().Wait()
			return c.Close()
		},
	})
	if err != nil {
		return err
	}
	f.pool = p
	return p.Open(ctx)
}

// Close drains the session pool.
func (f *IMAPFileSystem) Close(ctx context.Context) error {
	if f.pool == nil {
		return nil
	}
	return f.pool.Close()
}

// withConn runs fn with a borrowed session. Network-level failures
// invalidate the session so the pool replaces it.
func (f *IMAPFileSystem) withConn(ctx context.Context, fn func(c client) error) error {
	if f.pool == nil {
		return filesystem.ErrClosed
	}
	return f.pool.WithConnection(ctx, func(c client) (bool, error) {
		err := fn(c)
		return isConnectionError(err), err
	})
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, filesystem.ErrConnection) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// ============================================================================
// Name resolution
// ============================================================================

// messageName is the file name of a message.
func messageName(uid imap.UID) string {
	return fmt.Sprintf("%d.eml", uid)
}

// parseMessageName extracts the UID from a "<uid>.eml" name. Unknown
// shapes yield UID zero, which no message carries.
func parseMessageName(name string) imap.UID {
	base := strings.TrimSuffix(name, ".eml")
	n, err := strconv.ParseUint(base, 10, 32)
	if err != nil {
		return 0
	}
	return imap.UID(n)
}

func mailboxOf(folder string) string {
	if folder == "" {
		return "INBOX"
	}
	return folder
}

func (f *IMAPFileSystem) ToFile(ctx context.Context, name string) (filesystem.Handle, error) {
	idx := strings.LastIndex(name, "/")
	folder, base := "", name
	if idx >= 0 {
		folder, base = name[:idx], name[idx+1:]
	}
	return handle{mailbox: mailboxOf(folder), uid: parseMessageName(base)}, nil
}

func (f *IMAPFileSystem) ToFileIn(ctx context.Context, folder, name string) (filesystem.Handle, error) {
	if strings.Contains(name, "/") {
		return nil, fmt.Errorf("name %q contains a folder separator: %w", name, filesystem.ErrInvalidHandle)
	}
	return handle{mailbox: mailboxOf(folder), uid: parseMessageName(name)}, nil
}

func handleOf(h filesystem.Handle) (handle, error) {
	fh, ok := h.(handle)
	if !ok {
		return handle{}, fmt.Errorf("handle %T does not belong to this backend: %w", h, filesystem.ErrInvalidHandle)
	}
	return fh, nil
}

func (f *IMAPFileSystem) Name(h filesystem.Handle) string {
	fh, err := handleOf(h)
	if err != nil {
		return ""
	}
	return messageName(fh.uid)
}

// CanonicalName returns an imap URL naming the message.
func (f *IMAPFileSystem) CanonicalName(h filesystem.Handle) (string, error) {
	fh, err := handleOf(h)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("imap://%s@%s/%s;UID=%d", f.cfg.Username, f.cfg.Host, fh.mailbox, fh.uid), nil
}

// ============================================================================
// Message lookup
// ============================================================================

func (f *IMAPFileSystem) Exists(ctx context.Context, h filesystem.Handle) (bool, error) {
	fh, err := handleOf(h)
	if err != nil {
		return false, err
	}
	if fh.uid == 0 {
		return false, nil
	}
	exists := false
	err = f.withConn(ctx, func(c client) error {
		if _, err := c.Select(fh.mailbox, nil).Wait(); err != nil {
			return filesystem.WrapStorage("select "+fh.mailbox, err)
		}
		bufs, err := c.Fetch(imap.UIDSetNum(fh.uid), &imap.FetchOptions{UID: true}).Collect()
		if err != nil {
			return filesystem.WrapStorage("fetch", err)
		}
		exists = len(bufs) > 0
		return nil
	})
	return exists, err
}

// fetchMessage retrieves one message with the given options, failing
// with ErrFileNotFound when the UID is gone.
func (f *IMAPFileSystem) fetchMessage(ctx context.Context, fh handle, opts *imap.FetchOptions) (*fetchedMessage, error) {
	if fh.uid == 0 {
		return nil, fmt.Errorf("message %q: %w", messageName(fh.uid), filesystem.ErrFileNotFound)
	}
	var msg *fetchedMessage
	err := f.withConn(ctx, func(c client) error {
		if _, err := c.Select(fh.mailbox, nil).Wait(); err != nil {
			return filesystem.WrapStorage("select "+fh.mailbox, err)
		}
		bufs, err := c.Fetch(imap.UIDSetNum(fh.uid), opts).Collect()
		if err != nil {
			return filesystem.WrapStorage("fetch", err)
		}
		if len(bufs) == 0 {
			return fmt.Errorf("message %q: %w", messageName(fh.uid), filesystem.ErrFileNotFound)
		}
		buf := bufs[0]
		msg = &fetchedMessage{
			uid:          buf.UID,
			internalDate: buf.InternalDate,
			size:         buf.RFC822Size,
			envelope:     buf.Envelope,
			body:         buf.FindBodySection(&imap.FetchItemBodySection{}),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// fetchedMessage is the slice of message state one fetch produced.
type fetchedMessage struct {
	uid          imap.UID
	internalDate time.Time
	size         int64
	envelope     *imap.Envelope
	body         []byte
}

var metadataFetch = &imap.FetchOptions{UID: true, InternalDate: true, RFC822Size: true, Envelope: true}
var bodyFetch = &imap.FetchOptions{UID: true, BodySection: []*imap.FetchItemBodySection{{}}}

func (f *IMAPFileSystem) ListFiles(ctx context.Context, folder string) (filesystem.DirectoryStream, error) {
	mailbox := mailboxOf(folder)
	exists, err := f.FolderExists(ctx, folder)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}

	type entry struct {
		uid  imap.UID
		date time.Time
	}
	var entries []entry
	err = f.withConn(ctx, func(c client) error {
		if _, err := c.Select(mailbox, nil).Wait(); err != nil {
			return filesystem.WrapStorage("select "+mailbox, err)
		}
		data, err := c.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
		if err != nil {
			return filesystem.WrapStorage("search", err)
		}
		uids := data.AllUIDs()
		if len(uids) == 0 {
			return nil
		}
		bufs, err := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{UID: true, InternalDate: true}).Collect()
		if err != nil {
			return filesystem.WrapStorage("fetch", err)
		}
		for _, buf := range bufs {
			entries = append(entries, entry{uid: buf.UID, date: buf.InternalDate})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].date.Equal(entries[j].date) {
			return entries[i].date.Before(entries[j].date)
		}
		return entries[i].uid < entries[j].uid
	})
	handles := make([]filesystem.Handle, len(entries))
	for i, e := range entries {
		handles[i] = handle{mailbox: mailbox, uid: e.uid}
	}
	return filesystem.NewSliceStream(handles), nil
}

func (f *IMAPFileSystem) ModificationTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	fh, err := handleOf(h)
	if err != nil {
		return time.Time{}, err
	}
	msg, err := f.fetchMessage(ctx, fh, metadataFetch)
	if err != nil {
		return time.Time{}, err
	}
	return msg.internalDate, nil
}

func (f *IMAPFileSystem) FileSize(ctx context.Context, h filesystem.Handle) (int64, error) {
	fh, err := handleOf(h)
	if err != nil {
		return 0, err
	}
	msg, err := f.fetchMessage(ctx, fh, metadataFetch)
	if err != nil {
		return 0, err
	}
	return msg.size, nil
}

// AdditionalProperties exposes the message id, which listeners use as a
// stable identity across moves.
func (f *IMAPFileSystem) AdditionalProperties(ctx context.Context, h filesystem.Handle) (map[string]any, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	msg, err := f.fetchMessage(ctx, fh, metadataFetch)
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"uid":     uint32(msg.uid),
		"mailbox": fh.mailbox,
	}
	if msg.envelope != nil && msg.envelope.MessageID != "" {
		props["messageId"] = msg.envelope.MessageID
	}
	return props, nil
}

// ============================================================================
// Folders
// ============================================================================

func (f *IMAPFileSystem) FolderExists(ctx context.Context, folder string) (bool, error) {
	if folder == "" {
		return true, nil
	}
	mailbox := mailboxOf(folder)
	exists := false
	err := f.withConn(ctx, func(c client) error {
		boxes, err := c.List("", mailbox, nil).Collect()
		if err != nil {
			return filesystem.WrapStorage("list mailboxes", err)
		}
		for _, box := range boxes {
			if box.Mailbox == mailbox {
				exists = true
				return nil
			}
		}
		return nil
	})
	return exists, err
}

func (f *IMAPFileSystem) CreateFolder(ctx context.Context, folder string) error {
	exists, err := f.FolderExists(ctx, folder)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderExists)
	}
	return f.withConn(ctx, func(c client) error {
		if err := c.Create(mailboxOf(folder), nil).Wait(); err != nil {
			return filesystem.WrapStorage("create mailbox", err)
		}
		return nil
	})
}

func (f *IMAPFileSystem) RemoveFolder(ctx context.Context, folder string, recursive bool) error {
	if folder == "" {
		return fmt.Errorf("cannot remove the root mailbox: %w", filesystem.ErrNotSupported)
	}
	exists, err := f.FolderExists(ctx, folder)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotFound)
	}
	mailbox := mailboxOf(folder)
	return f.withConn(ctx, func(c client) error {
		if !recursive {
			data, err := c.Select(mailbox, nil).Wait()
			if err != nil {
				return filesystem.WrapStorage("select "+mailbox, err)
			}
			if data.NumMessages > 0 {
				return fmt.Errorf("folder %q: %w", folder, filesystem.ErrFolderNotEmpty)
			}
		}
		if err := c.Delete(mailbox).Wait(); err != nil {
			return filesystem.WrapStorage("delete mailbox", err)
		}
		return nil
	})
}

// ============================================================================
// Reading and deleting
// ============================================================================

func (f *IMAPFileSystem) ReadFile(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	return f.MimeContent(ctx, h)
}

func (f *IMAPFileSystem) DeleteFile(ctx context.Context, h filesystem.Handle) error {
	fh, err := handleOf(h)
	if err != nil {
		return err
	}
	exists, err := f.Exists(ctx, h)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("message %q: %w", messageName(fh.uid), filesystem.ErrFileNotFound)
	}
	return f.withConn(ctx, func(c client) error {
		if _, err := c.Select(fh.mailbox, nil).Wait(); err != nil {
			return filesystem.WrapStorage("select "+fh.mailbox, err)
		}
		uidSet := imap.UIDSetNum(fh.uid)
		flags := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Flags: []imap.Flag{imap.FlagDeleted}, Silent: true}
		if err := c.Store(uidSet, flags, nil).Close(); err != nil {
			return filesystem.WrapStorage("flag deleted", err)
		}
		if err := c.UIDExpunge(uidSet).Close(); err != nil {
			return filesystem.WrapStorage("expunge", err)
		}
		return nil
	})
}
