// Package actor implements the action-dispatch engine of the storage
// layer.
//
// An Actor binds one FileSystem to one configured action (or to per-call
// action selection) and translates each request into the correct sequence
// of capability-interface calls, applying overwrite, backup-rollover,
// folder-creation and wildcard policy uniformly across backends.
//
// Capability support is resolved once, at construction: requesting an
// action the bound backend cannot serve is a configuration error raised by
// New, never a runtime type failure inside Do.
package actor

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fsutil"
)

// OutputFormat selects the rendering of info/list result documents.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatXML  OutputFormat = "xml"
)

// Config carries the static attributes of an Actor. Fields left zero fall
// back to per-call parameters, then to the input payload, following the
// resolution order attribute > parameter > payload.
type Config struct {
	// Action is the statically configured action. Empty means the action
	// is chosen per call via Params.Action.
	Action filesystem.Action

	// Filename is the static target file. Used by read, info, delete,
	// write, append, create, rename, move, copy and forward.
	Filename string

	// Destination is the static destination for move, copy, rename and
	// forward.
	Destination string

	// InputFolder is the static folder for list, mkdir and rmdir, and the
	// source folder for wildcard-driven operations.
	InputFolder string

	// Overwrite deletes an existing destination before create, write,
	// rename, move and copy.
	Overwrite bool

	// NumberOfBackups, when positive and Overwrite is false, rotates an
	// existing destination through a numeric backup chain instead of
	// failing.
	NumberOfBackups int

	// RotateDays triggers day-based rollover before append.
	RotateDays int

	// RotateSize triggers size-based rollover before append, in bytes.
	RotateSize int64

	// Wildcard and ExcludeWildcard filter list results and select the
	// files of destructive actions invoked without an explicit filename.
	// Both are ANDed: a name must match Wildcard and not match
	// ExcludeWildcard.
	Wildcard        string
	ExcludeWildcard string

	// CreateFolder auto-creates missing destination and parent folders.
	CreateFolder bool

	// RemoveNonEmptyFolder allows rmdir to remove a folder that still has
	// contents.
	RemoveNonEmptyFolder bool

	// DeleteEmptyFolder prunes the containing folder after delete or
	// readDelete when it became empty.
	DeleteEmptyFolder bool

	// Charset names the character set of file contents for read actions.
	// Empty or utf-8 passes bytes through untouched.
	Charset string

	// OutputFormat renders info/list documents as json (default) or xml.
	OutputFormat OutputFormat
}

// Actor executes actions against one bound filesystem.
type Actor struct {
	fs  filesystem.FileSystem
	wfs filesystem.WritableFileSystem   // nil when the capability is absent
	afs filesystem.AttachmentFileSystem // nil when the capability is absent
	mfs filesystem.MailFileSystem       // nil when the capability is absent

	cfg Config
	enc encoding.Encoding // nil for utf-8 passthrough
}

// New builds an Actor, resolving optional capabilities by type assertion
// and failing fast on any configuration problem: an action the backend
// cannot serve, a malformed wildcard, an unknown charset or output format.
func New(fs filesystem.FileSystem, cfg Config) (*Actor, error) {
	a := &Actor{fs: fs, cfg: cfg}
	a.wfs, _ = fs.(filesystem.WritableFileSystem)
	a.afs, _ = fs.(filesystem.AttachmentFileSystem)
	a.mfs, _ = fs.(filesystem.MailFileSystem)

	if cfg.Action != "" {
		if err := a.checkCapability(cfg.Action); err != nil {
			return nil, err
		}
	}
	if err := fsutil.ValidateWildcard(cfg.Wildcard); err != nil {
		return nil, filesystem.NewConfigError("%v", err)
	}
	if err := fsutil.ValidateWildcard(cfg.ExcludeWildcard); err != nil {
		return nil, filesystem.NewConfigError("%v", err)
	}
	switch cfg.OutputFormat {
	case "", FormatJSON, FormatXML:
	default:
		return nil, filesystem.NewConfigError("unknown output format %q", cfg.OutputFormat)
	}
	if cfg.NumberOfBackups < 0 {
		return nil, filesystem.NewConfigError("number of backups must be >= 0, got %d", cfg.NumberOfBackups)
	}

	if cs := strings.ToLower(cfg.Charset); cs != "" && cs != "utf-8" && cs != "utf8" {
		enc, err := ianaindex.IANA.Encoding(cfg.Charset)
		if err != nil || enc == nil {
			return nil, filesystem.NewConfigError("unknown charset %q", cfg.Charset)
		}
		a.enc = enc
	}
	return a, nil
}

// checkCapability verifies the bound backend can serve the action.
func (a *Actor) checkCapability(action filesystem.Action) error {
	if action.RequiresWritable() && a.wfs == nil {
		return filesystem.NewConfigError("action [%s] requires a writable backend, %T is read-only", action, a.fs)
	}
	if action.RequiresAttachments() && a.afs == nil {
		return filesystem.NewConfigError("action [%s] requires an attachment-bearing backend, %T has no attachments", action, a.fs)
	}
	if action.RequiresMail() && a.mfs == nil {
		return filesystem.NewConfigError("action [%s] requires a mail backend, %T carries no mail", action, a.fs)
	}
	return nil
}

// ============================================================================
// Parameter resolution
// ============================================================================

// Params carries the call-scoped inputs of one action invocation.
type Params struct {
	// Action overrides the configured action for this call. Must be set
	// when the Actor was built without a static action.
	Action filesystem.Action

	// Filename, Destination and InputFolder override their static
	// counterparts for this call.
	Filename    string
	Destination string
	InputFolder string

	// Contents carries the bytes for write/append. Nil falls back to
	// Input.
	Contents []byte

	// Input is the input payload. It is the fallback for both the target
	// filename and the contents.
	Input []byte
}

func (a *Actor) resolveAction(p Params) (filesystem.Action, error) {
	action := a.cfg.Action
	if p.Action != "" {
		action = p.Action
	}
	if action == "" {
		return "", filesystem.NewConfigError("no action configured and none supplied")
	}
	// Per-call actions still go through the capability check resolved at
	// construction.
	if err := a.checkCapability(action); err != nil {
		return "", err
	}
	return action, nil
}

// resolveFilename resolves the target file: attribute, then parameter,
// then the input payload.
func (a *Actor) resolveFilename(p Params) string {
	if a.cfg.Filename != "" {
		return a.cfg.Filename
	}
	if p.Filename != "" {
		return p.Filename
	}
	return strings.TrimSpace(string(p.Input))
}

func (a *Actor) resolveDestination(p Params) string {
	if a.cfg.Destination != "" {
		return a.cfg.Destination
	}
	return p.Destination
}

func (a *Actor) resolveFolder(p Params) string {
	if a.cfg.InputFolder != "" {
		return a.cfg.InputFolder
	}
	return p.InputFolder
}

func (a *Actor) resolveContents(p Params) []byte {
	if p.Contents != nil {
		return p.Contents
	}
	return p.Input
}

// splitTarget separates a resolved filename into folder and bare name.
func splitTarget(name string) (folder, base string) {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return "", name
	}
	return name[:idx], name[idx+1:]
}

func actionErr(action filesystem.Action, target string, err error) error {
	return &filesystem.ActionError{Action: action, Target: target, Err: err}
}

func actionErrf(action filesystem.Action, target, format string, args ...any) error {
	return &filesystem.ActionError{Action: action, Target: target, Err: fmt.Errorf(format, args...)}
}
