// Package listener turns a folder-capable backend into a polled work
// queue. Files arriving in an input folder are claimed by moving them
// into an in-process folder, then routed by process state to a done,
// error or hold folder. No backend-native queue protocol is involved:
// the move is the only atomicity boundary.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/unifs/internal/logger"
	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fsutil"
)

// ProcessState is the lifecycle state of a queued file. Every state maps
// to one configured folder; a state without a folder is unsupported for
// that listener.
type ProcessState int

const (
	StateAvailable ProcessState = iota
	StateInProcess
	StateDone
	StateError
	StateHold
)

func (s ProcessState) String() string {
	switch s {
	case StateAvailable:
		return "AVAILABLE"
	case StateInProcess:
		return "INPROCESS"
	case StateDone:
		return "DONE"
	case StateError:
		return "ERROR"
	case StateHold:
		return "HOLD"
	default:
		return "UNKNOWN"
	}
}

// MessageType selects what downstream consumers treat as the message
// payload. Any other non-empty value names a context or backend metadata
// key whose value becomes the payload.
type MessageType string

const (
	MessageTypeName     MessageType = "name"
	MessageTypePath     MessageType = "path"
	MessageTypeContents MessageType = "contents"
	MessageTypeInfo     MessageType = "info"
)

// Config carries the folder layout and claiming policy of one listener.
type Config struct {
	// InputFolder is the AVAILABLE folder the listener polls. Required.
	InputFolder string

	// InProcessFolder, when set, makes claiming an atomic move. Without
	// it the claim is a read-then-later-move and only safe under a
	// single consumer.
	InProcessFolder string

	// ProcessedFolder receives files transitioned to DONE.
	ProcessedFolder string

	// ErrorFolder receives files transitioned to ERROR.
	ErrorFolder string

	// HoldFolder receives files parked in HOLD.
	HoldFolder string

	// LogFolder, when set, receives a durable audit copy of every file
	// at claim time.
	LogFolder string

	// CreateFolders auto-creates all configured folders on Open.
	CreateFolders bool

	// Delete removes the file on DONE instead of moving it, and on
	// ERROR when no error folder is configured.
	Delete bool

	// Overwrite and NumberOfBackups control the destination policy of
	// state-transition moves, with the same meaning as for actions.
	Overwrite       bool
	NumberOfBackups int

	// FileTimeSensitive appends the modification timestamp to the
	// message id, so same-named resubmissions stay distinguishable.
	FileTimeSensitive bool

	// MinStableTime is how long a file must sit unmodified before it is
	// eligible for claiming, to avoid reading mid-write. Zero means the
	// default of one second.
	MinStableTime time.Duration

	// MessageType selects the payload interpretation recorded on each
	// message: name, path, contents or info.
	MessageType MessageType

	// MessageIDKey names the backend property used as the message id,
	// for backends that declare one (a mail message id for instance).
	// Empty falls back to the original filename.
	MessageIDKey string
}

// Context keys present on every raw message.
const (
	ContextOriginalName = "originalName"
	ContextPath         = "path"
	ContextSize         = "size"
	ContextModTime      = "modificationTime"
)

// RawMessage is one claimed file. The handle points at the file's
// current location (the in-process folder when one is configured).
type RawMessage struct {
	Handle        filesystem.Handle
	ID            string
	CorrelationID string

	// OriginalName is the bare filename before the claim-move.
	OriginalName string

	// Context carries free-form metadata about the file at claim time.
	Context map[string]string
}

// Listener polls one input folder of a writable backend.
type Listener struct {
	fs  filesystem.FileSystem
	wfs filesystem.WritableFileSystem
	cfg Config
	log *logger.Logger

	// claimMu serializes claims: without an in-process folder a listing
	// is not authoritative, so two concurrent claims could hand out the
	// same file.
	claimMu sync.Mutex

	// now is replaceable for tests.
	now func() time.Time
}

// inProcessSuffixRetries bounds how many suffix variants a claim tries
// before falling back to the unsuffixed name.
const inProcessSuffixRetries = 5

// New builds a listener over fs. The backend must be writable and the
// input folder must be configured.
func New(fs filesystem.FileSystem, cfg Config) (*Listener, error) {
	wfs, ok := fs.(filesystem.WritableFileSystem)
	if !ok {
		return nil, filesystem.NewConfigError("listener requires a writable backend, %T is read-only", fs)
	}
	if cfg.InputFolder == "" {
		return nil, filesystem.NewConfigError("listener requires an input folder")
	}
	if cfg.MinStableTime == 0 {
		cfg.MinStableTime = time.Second
	}
	return &Listener{
		fs:  fs,
		wfs: wfs,
		cfg: cfg,
		log: logger.Scope("listener"),
		now: time.Now,
	}, nil
}

// Open verifies the folder layout, creating missing folders when the
// policy allows it.
func (l *Listener) Open(ctx context.Context) error {
	folders := []string{
		l.cfg.InputFolder,
		l.cfg.InProcessFolder,
		l.cfg.ProcessedFolder,
		l.cfg.ErrorFolder,
		l.cfg.HoldFolder,
		l.cfg.LogFolder,
	}
	for _, folder := range folders {
		if folder == "" {
			continue
		}
		exists, err := l.fs.FolderExists(ctx, folder)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if !l.cfg.CreateFolders {
			return fmt.Errorf("listener folder %q: %w", folder, filesystem.ErrFolderNotFound)
		}
		if err := l.wfs.CreateFolder(ctx, folder); err != nil && !errors.Is(err, filesystem.ErrFolderExists) {
			return err
		}
	}
	return nil
}

// GetRawMessage claims the next eligible file from the input folder, or
// returns nil when nothing is ready. A failed claim leaves the file
// available for the next poll.
func (l *Listener) GetRawMessage(ctx context.Context) (*RawMessage, error) {
	l.claimMu.Lock()
	defer l.claimMu.Unlock()

	h, err := l.nextStable(ctx)
	if err != nil || h == nil {
		return nil, err
	}

	originalName := l.fs.Name(h)

	if l.cfg.LogFolder != "" {
		if _, err := l.wfs.CopyFile(ctx, h, l.cfg.LogFolder, false, false); err != nil {
			return nil, fmt.Errorf("audit copy of %q: %w", originalName, err)
		}
	}

	msg := &RawMessage{
		Handle:        h,
		CorrelationID: uuid.NewString(),
		OriginalName:  originalName,
		Context:       map[string]string{ContextOriginalName: originalName},
	}
	l.fillContext(ctx, msg)

	if l.cfg.InProcessFolder != "" {
		claimed, err := l.claimMove(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("claim of %q: %w", originalName, err)
		}
		msg.Handle = claimed
	}

	msg.ID = l.messageID(ctx, msg)
	return msg, nil
}

// nextStable returns the oldest input file outside the stability window,
// or nil when the folder holds no eligible file.
func (l *Listener) nextStable(ctx context.Context) (filesystem.Handle, error) {
	stream, err := l.fs.ListFiles(ctx, l.cfg.InputFolder)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	cutoff := l.now().Add(-l.cfg.MinStableTime)
	for {
		h, err := stream.Next()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		mtime, err := l.fs.ModificationTime(ctx, h)
		if err != nil {
			return nil, err
		}
		if mtime.After(cutoff) {
			// Possibly still being written; leave it for a later poll.
			continue
		}
		return h, nil
	}
}

// claimMove relocates a file into the in-process folder. A name already
// taken there gets a modification-time suffix; after a bounded number of
// variants the claim falls back to the unsuffixed name with a warning,
// accepting the collision rather than failing the poll.
func (l *Listener) claimMove(ctx context.Context, h filesystem.Handle) (filesystem.Handle, error) {
	name := l.fs.Name(h)

	taken, err := l.nameTaken(ctx, l.cfg.InProcessFolder, name)
	if err != nil {
		return nil, err
	}
	if taken {
		mtime, err := l.fs.ModificationTime(ctx, h)
		if err != nil {
			return nil, err
		}
		renamed := false
		for attempt := 0; attempt < inProcessSuffixRetries; attempt++ {
			candidate := suffixedName(name, mtime, attempt)
			occupied, err := l.nameTaken(ctx, l.cfg.InProcessFolder, candidate)
			if err != nil {
				return nil, err
			}
			if occupied {
				continue
			}
			target, err := l.fs.ToFileIn(ctx, l.cfg.InputFolder, candidate)
			if err != nil {
				return nil, err
			}
			h, err = l.wfs.RenameFile(ctx, h, target)
			if err != nil {
				return nil, err
			}
			renamed = true
			break
		}
		if !renamed {
			l.log.Warn("no free in-process name for %q after %d attempts, falling back to the unsuffixed name", name, inProcessSuffixRetries)
			if err := l.clearDestination(ctx, l.cfg.InProcessFolder, name); err != nil {
				return nil, err
			}
		}
	}

	moved, err := l.wfs.MoveFile(ctx, h, l.cfg.InProcessFolder, l.cfg.CreateFolders, true)
	if err != nil {
		return nil, err
	}
	if moved == nil {
		return l.fs.ToFileIn(ctx, l.cfg.InProcessFolder, l.fs.Name(h))
	}
	return moved, nil
}

// ChangeProcessState routes a claimed message to its final folder. The
// boolean reports whether the file was actually relocated: false with a
// nil error means the source was already gone or the state has no
// configured destination.
func (l *Listener) ChangeProcessState(ctx context.Context, msg *RawMessage, state ProcessState) (bool, error) {
	if msg == nil || msg.Handle == nil {
		return false, filesystem.NewConfigError("nil message")
	}

	exists, err := l.fs.Exists(ctx, msg.Handle)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}

	switch state {
	case StateDone:
		if l.cfg.Delete {
			return l.deleteFinal(ctx, msg)
		}
		if l.cfg.ProcessedFolder == "" {
			return false, nil
		}
		return l.moveFinal(ctx, msg, l.cfg.ProcessedFolder)
	case StateError:
		if l.cfg.ErrorFolder == "" {
			if l.cfg.Delete {
				return l.deleteFinal(ctx, msg)
			}
			return false, nil
		}
		return l.moveFinal(ctx, msg, l.cfg.ErrorFolder)
	case StateHold:
		if l.cfg.HoldFolder == "" {
			return false, nil
		}
		return l.moveFinal(ctx, msg, l.cfg.HoldFolder)
	case StateInProcess:
		if l.cfg.InProcessFolder == "" {
			return false, nil
		}
		claimed, err := l.claimMove(ctx, msg.Handle)
		if err != nil {
			return false, err
		}
		msg.Handle = claimed
		return true, nil
	default:
		return false, filesystem.NewConfigError("cannot transition to state %s", state)
	}
}

// MoveToHold parks the message in the hold folder for manual
// intervention.
func (l *Listener) MoveToHold(ctx context.Context, msg *RawMessage) (bool, error) {
	return l.ChangeProcessState(ctx, msg, StateHold)
}

func (l *Listener) deleteFinal(ctx context.Context, msg *RawMessage) (bool, error) {
	err := l.wfs.DeleteFile(ctx, msg.Handle)
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// moveFinal is a move-with-rollover: an occupied destination name is
// cleared per the overwrite/backup policy before the move.
func (l *Listener) moveFinal(ctx context.Context, msg *RawMessage, folder string) (bool, error) {
	if err := l.clearDestination(ctx, folder, l.fs.Name(msg.Handle)); err != nil {
		return false, err
	}
	moved, err := l.wfs.MoveFile(ctx, msg.Handle, folder, l.cfg.CreateFolders, true)
	if errors.Is(err, filesystem.ErrFileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if moved != nil {
		msg.Handle = moved
	}
	return true, nil
}

// clearDestination applies the overwrite/backup policy to an occupied
// destination name.
func (l *Listener) clearDestination(ctx context.Context, folder, name string) error {
	taken, err := l.nameTaken(ctx, folder, name)
	if err != nil {
		return err
	}
	if !taken {
		return nil
	}
	if l.cfg.Overwrite {
		h, err := l.fs.ToFileIn(ctx, folder, name)
		if err != nil {
			return err
		}
		if err := l.wfs.DeleteFile(ctx, h); err != nil && !errors.Is(err, filesystem.ErrFileNotFound) {
			return err
		}
		return nil
	}
	if l.cfg.NumberOfBackups > 0 {
		return fsutil.RollOverByNumber(ctx, l.wfs, folder, name, l.cfg.NumberOfBackups)
	}
	return fmt.Errorf("destination %s/%s: %w", folder, name, filesystem.ErrFileExists)
}

func (l *Listener) nameTaken(ctx context.Context, folder, name string) (bool, error) {
	h, err := l.fs.ToFileIn(ctx, folder, name)
	if err != nil {
		return false, err
	}
	return l.fs.Exists(ctx, h)
}

// ReadMessage opens the claimed file's contents. The caller owns the
// returned stream.
func (l *Listener) ReadMessage(ctx context.Context, msg *RawMessage) (io.ReadCloser, error) {
	if msg == nil || msg.Handle == nil {
		return nil, filesystem.NewConfigError("nil message")
	}
	return l.fs.ReadFile(ctx, msg.Handle)
}

// Payload renders the message body per the configured message type: the
// original name, the canonical path, the raw contents, an info document,
// or the value of a context/metadata key.
func (l *Listener) Payload(ctx context.Context, msg *RawMessage) ([]byte, error) {
	if msg == nil || msg.Handle == nil {
		return nil, filesystem.NewConfigError("nil message")
	}
	switch l.cfg.MessageType {
	case "", MessageTypeName:
		return []byte(msg.OriginalName), nil
	case MessageTypePath:
		return []byte(msg.Context[ContextPath]), nil
	case MessageTypeContents:
		rc, err := l.fs.ReadFile(ctx, msg.Handle)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	case MessageTypeInfo:
		return json.MarshalIndent(msg.Context, "", "  ")
	default:
		return []byte(msg.Context[string(l.cfg.MessageType)]), nil
	}
}

// messageID derives the message identity: a backend-declared id property
// when configured, else the original pre-move filename, else the current
// filename. FileTimeSensitive appends the modification timestamp so
// resubmissions of the same name stay distinct.
func (l *Listener) messageID(ctx context.Context, msg *RawMessage) string {
	id := ""
	if l.cfg.MessageIDKey != "" {
		if props, err := l.fs.AdditionalProperties(ctx, msg.Handle); err == nil {
			if v, ok := props[l.cfg.MessageIDKey]; ok {
				id = fmt.Sprint(v)
			}
		}
	}
	if id == "" {
		id = msg.OriginalName
	}
	if id == "" {
		id = l.fs.Name(msg.Handle)
	}
	if l.cfg.FileTimeSensitive {
		if mtime, err := l.fs.ModificationTime(ctx, msg.Handle); err == nil {
			id = id + "." + strconv.FormatInt(mtime.UnixMilli(), 10)
		}
	}
	return id
}

// fillContext records the file metadata a consumer may need after the
// file has moved on.
func (l *Listener) fillContext(ctx context.Context, msg *RawMessage) {
	if canonical, err := l.fs.CanonicalName(msg.Handle); err == nil {
		msg.Context[ContextPath] = canonical
	}
	if size, err := l.fs.FileSize(ctx, msg.Handle); err == nil {
		msg.Context[ContextSize] = strconv.FormatInt(size, 10)
	}
	if mtime, err := l.fs.ModificationTime(ctx, msg.Handle); err == nil {
		msg.Context[ContextModTime] = mtime.UTC().Format(time.RFC3339)
	}
	if props, err := l.fs.AdditionalProperties(ctx, msg.Handle); err == nil {
		for k, v := range props {
			if _, reserved := msg.Context[k]; !reserved {
				msg.Context[k] = fmt.Sprint(v)
			}
		}
	}
}

// suffixedName derives an in-process name variant from the modification
// time; later attempts append a counter.
func suffixedName(name string, mtime time.Time, attempt int) string {
	suffix := mtime.Format("20060102150405")
	if attempt > 0 {
		suffix += "-" + strconv.Itoa(attempt)
	}
	return name + "." + suffix
}
