package filesystem

import (
	"context"
	"io"
	"time"
)

// ============================================================================
// FileSystem Interface
// ============================================================================

// Handle is an opaque, backend-specific reference to a file or message.
//
// A Handle is produced by ToFile/ToFileIn or returned by ListFiles, MoveFile,
// CopyFile and RenameFile, and is only meaningful to the FileSystem instance
// that produced it. The core never inspects a Handle; it only passes it back
// into capability-interface calls. Backends type-assert their own handle type
// and reject foreign handles with ErrInvalidHandle.
//
// A Handle becomes stale once the underlying item is deleted or moved.
// Callers must re-resolve after any operation that may change identity.
//
// Handles are not shared across goroutines by contract: create one per
// logical operation.
type Handle any

// FileSystem is the basic capability every backend must provide.
//
// This interface abstracts heterogeneous storage backends (local disk,
// object stores, mailbox stores, embedded key-value stores) behind one
// contract. Optional capabilities are expressed as extension interfaces
// (WritableFileSystem, AttachmentFileSystem, MailFileSystem) which a
// backend may or may not implement. Callers resolve extensions once at
// configuration time via type assertion and treat a missing capability as
// a configuration error, never as a call-time failure.
//
// Lifecycle:
// A FileSystem is bound to one backend instance and has an explicit
// open/close lifecycle. Open must be called before first use; Close
// releases any pooled or shared connections. A FileSystem is not safe for
// use before Open or after Close.
//
// Folders:
// A folder is named by a string path; "" names the root and is always a
// valid folder. Mailbox backends may encode an extra mailbox segment ahead
// of the folder path using the backend's separator.
//
// Error Conventions:
// All operations return a single unified storage error vocabulary: the
// sentinel errors in this package, wrapped with context via fmt.Errorf and
// %w. Not-found conditions are always explicit (ErrFileNotFound,
// ErrFolderNotFound), never silently treated as success.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Individual Handles are not thread-safe by contract.
type FileSystem interface {
	// Open prepares the backend for use, establishing shared connections
	// or connection pools where the backend needs them. Calling any other
	// method before Open is undefined.
	Open(ctx context.Context) error

	// Close releases all resources held by the filesystem, draining and
	// closing pooled connections. The filesystem must not be used after
	// Close.
	Close(ctx context.Context) error

	// ToFile resolves a name (relative to the filesystem root) to a Handle.
	// The file need not exist; Exists distinguishes.
	ToFile(ctx context.Context, name string) (Handle, error)

	// ToFileIn resolves a name within the given folder to a Handle.
	ToFileIn(ctx context.Context, folder, name string) (Handle, error)

	// Exists reports whether the file behind the handle currently exists.
	Exists(ctx context.Context, h Handle) (bool, error)

	// ListFiles returns a lazy stream over the files in a folder.
	//
	// The stream supports early termination and must be closed to release
	// backend resources deterministically. Folders are not included.
	// Returns ErrFolderNotFound (wrapped) when the folder does not exist.
	ListFiles(ctx context.Context, folder string) (DirectoryStream, error)

	// ReadFile returns a reader over the raw bytes of the file.
	// The caller must close the reader.
	ReadFile(ctx context.Context, h Handle) (io.ReadCloser, error)

	// DeleteFile removes the file. Deleting a file that does not exist
	// returns ErrFileNotFound (wrapped); idempotent cleanup is a caller
	// policy, not a backend default.
	DeleteFile(ctx context.Context, h Handle) error

	// Name returns the bare name of the file (no folder component).
	Name(h Handle) string

	// CanonicalName returns the backend's full, unambiguous name for the
	// file (absolute path, object key, protocol URL).
	CanonicalName(h Handle) (string, error)

	// ModificationTime returns the last-modified time of the file.
	ModificationTime(ctx context.Context, h Handle) (time.Time, error)

	// FileSize returns the size of the file in bytes.
	FileSize(ctx context.Context, h Handle) (int64, error)

	// AdditionalProperties returns backend-specific metadata for the file.
	// The result may be nil when the backend has nothing to report.
	AdditionalProperties(ctx context.Context, h Handle) (map[string]any, error)

	// FolderExists reports whether the folder exists. "" (root) always
	// exists.
	FolderExists(ctx context.Context, folder string) (bool, error)

	// CreateFolder creates the folder, including missing parents where the
	// backend is hierarchical. Creating an existing folder returns
	// ErrFolderExists (wrapped).
	CreateFolder(ctx context.Context, folder string) error

	// RemoveFolder removes the folder. A non-empty folder is only removed
	// when recursive is true; otherwise ErrFolderNotEmpty is returned.
	RemoveFolder(ctx context.Context, folder string, recursive bool) error
}

// ============================================================================
// WritableFileSystem Interface
// ============================================================================

// WritableFileSystem extends FileSystem with write and relocation
// operations. Backends without native write support (read-only mirrors)
// simply do not implement it.
type WritableFileSystem interface {
	FileSystem

	// CreateFile opens a truncating write sink for the file. An existing
	// file is replaced; the parent folder must exist. The write is
	// committed by closing the sink.
	CreateFile(ctx context.Context, h Handle) (io.WriteCloser, error)

	// AppendFile opens a write sink positioned at the end of the file,
	// creating it when absent. Backends without native append return
	// ErrNotSupported.
	AppendFile(ctx context.Context, h Handle) (io.WriteCloser, error)

	// RenameFile renames source to destination within the filesystem and
	// returns the handle of the renamed file. It does not check whether
	// source exists or destination is free; callers check first and apply
	// their overwrite policy.
	RenameFile(ctx context.Context, source, destination Handle) (Handle, error)

	// MoveFile relocates the file into destinationFolder. When
	// createFolder is true a missing destination folder is created first.
	//
	// When returnResult is false the backend may skip resolving the
	// post-move handle for performance and return a nil Handle with a nil
	// error. Callers that need the new handle must pass true or re-resolve
	// via ToFileIn.
	MoveFile(ctx context.Context, h Handle, destinationFolder string, createFolder, returnResult bool) (Handle, error)

	// CopyFile copies the file into destinationFolder. Same folder and
	// nullable-result contract as MoveFile.
	CopyFile(ctx context.Context, h Handle, destinationFolder string, createFolder, returnResult bool) (Handle, error)
}

// ============================================================================
// AttachmentFileSystem Interface
// ============================================================================

// Attachment is a sub-object contained within a file, such as a MIME part
// of a mail message. Content is opened lazily.
type Attachment interface {
	// Name returns the attachment's own name (part name or content id).
	Name() string

	// FileName returns the declared filename of the attachment, which may
	// be empty for inline parts.
	FileName() string

	// ContentType returns the MIME content type.
	ContentType() string

	// Size returns the attachment size in bytes, or -1 when the backend
	// cannot determine it without reading.
	Size() int64

	// Content opens a reader over the attachment bytes. The caller must
	// close it.
	Content(ctx context.Context) (io.ReadCloser, error)

	// AdditionalProperties returns backend metadata for the attachment,
	// possibly nil.
	AdditionalProperties() map[string]any
}

// AttachmentStream is a lazy, finite sequence of attachments.
// Next returns io.EOF after the last attachment.
type AttachmentStream interface {
	Next() (Attachment, error)
	Close() error
}

// AttachmentFileSystem extends FileSystem for backends whose files carry
// sub-objects (mail messages with MIME parts).
type AttachmentFileSystem interface {
	FileSystem

	// ListAttachments returns a lazy stream over the attachments of the
	// file. Files without attachments yield an empty stream, not an error.
	ListAttachments(ctx context.Context, h Handle) (AttachmentStream, error)
}

// ============================================================================
// MailFileSystem Interface
// ============================================================================

// AddressField names a recipient or originator field of a mail message.
type AddressField string

const (
	FieldTo         AddressField = "to"
	FieldCc         AddressField = "cc"
	FieldBcc        AddressField = "bcc"
	FieldReplyTo    AddressField = "reply-to"
	FieldFrom       AddressField = "from"
	FieldSender     AddressField = "sender"
	FieldReturnPath AddressField = "return-path"
)

// DefaultReplyAddressFields is the default resolution order for
// BestReplyAddress.
var DefaultReplyAddressFields = []AddressField{
	FieldReplyTo, FieldFrom, FieldSender, FieldReturnPath,
}

// MailFileSystem extends AttachmentFileSystem for mailbox backends whose
// files are messages.
type MailFileSystem interface {
	AttachmentFileSystem

	// Subject returns the message subject.
	Subject(ctx context.Context, h Handle) (string, error)

	// MimeContent returns the raw RFC 822 content of the message.
	MimeContent(ctx context.Context, h Handle) (io.ReadCloser, error)

	// Forward forwards the message to the given address. Backends without
	// an outbound transport return ErrNotSupported.
	Forward(ctx context.Context, h Handle, address string) error

	// Addresses returns the addresses in the given field. An absent field
	// yields an empty slice, not an error.
	Addresses(ctx context.Context, h Handle, field AddressField) ([]string, error)

	// SentTime returns the time the message was sent.
	SentTime(ctx context.Context, h Handle) (time.Time, error)

	// ReceivedTime returns the time the message was received.
	ReceivedTime(ctx context.Context, h Handle) (time.Time, error)
}

// BestReplyAddress resolves the address a reply should go to: the first
// non-empty entry walking the given fields in order. When fields is empty,
// DefaultReplyAddressFields is used. Returns "" when no field yields an
// address.
func BestReplyAddress(ctx context.Context, fs MailFileSystem, h Handle, fields []AddressField) (string, error) {
	if len(fields) == 0 {
		fields = DefaultReplyAddressFields
	}
	for _, field := range fields {
		addrs, err := fs.Addresses(ctx, h, field)
		if err != nil {
			return "", err
		}
		for _, a := range addrs {
			if a != "" {
				return a, nil
			}
		}
	}
	return "", nil
}
