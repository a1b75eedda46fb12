package actor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/transform"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fsutil"
)

// Result carries the outcome of one action.
//
// read and readDelete set Stream; the caller owns it and must close it.
// info, list and listAttachments set Data to the rendered result document.
// Mutating actions set Data to the canonical name of the affected file, or
// to a newline-joined list of names for wildcard-driven invocations.
type Result struct {
	Stream io.ReadCloser
	Data   []byte
}

// Do executes one action. Failures abort the single requested operation
// and report the action name, target and cause via ActionError; the actor
// itself stays usable.
func (a *Actor) Do(ctx context.Context, p Params) (*Result, error) {
	action, err := a.resolveAction(p)
	if err != nil {
		return nil, err
	}

	switch action {
	case filesystem.ActionCreate:
		return a.doCreate(ctx, p, action)
	case filesystem.ActionWrite:
		return a.doWrite(ctx, p, action)
	case filesystem.ActionAppend:
		return a.doAppend(ctx, p, action)
	case filesystem.ActionRead:
		return a.doRead(ctx, p, action)
	case filesystem.ActionReadDelete:
		return a.doReadDelete(ctx, p, action)
	case filesystem.ActionInfo:
		return a.doInfo(ctx, p, action)
	case filesystem.ActionList:
		return a.doList(ctx, p, action)
	case filesystem.ActionDelete:
		return a.doDelete(ctx, p, action)
	case filesystem.ActionMove:
		return a.doRelocate(ctx, p, action, true)
	case filesystem.ActionCopy:
		return a.doRelocate(ctx, p, action, false)
	case filesystem.ActionMkdir:
		return a.doMkdir(ctx, p, action)
	case filesystem.ActionRmdir:
		return a.doRmdir(ctx, p, action)
	case filesystem.ActionRename:
		return a.doRename(ctx, p, action)
	case filesystem.ActionForward:
		return a.doForward(ctx, p, action)
	case filesystem.ActionListAttachments:
		return a.doListAttachments(ctx, p, action)
	}
	return nil, filesystem.NewConfigError("unknown action %q", action)
}

// ============================================================================
// Destination policy
// ============================================================================

// prepareDestination clears the way for creating or renaming onto a
// target: an existing target is deleted when overwrite is enabled, rotated
// into the numeric backup chain when backups are configured, and a
// conflict error otherwise. No silent overwrite ever happens.
func (a *Actor) prepareDestination(ctx context.Context, action filesystem.Action, name string, h filesystem.Handle) error {
	exists, err := a.fs.Exists(ctx, h)
	if err != nil {
		return actionErr(action, name, err)
	}
	if !exists {
		return nil
	}
	if a.cfg.Overwrite {
		if err := a.wfs.DeleteFile(ctx, h); err != nil {
			return actionErr(action, name, err)
		}
		return nil
	}
	if a.cfg.NumberOfBackups > 0 {
		folder, base := splitTarget(name)
		if err := fsutil.RollOverByNumber(ctx, a.wfs, folder, base, a.cfg.NumberOfBackups); err != nil {
			return actionErr(action, name, err)
		}
		return nil
	}
	return actionErr(action, name, fmt.Errorf("destination exists and overwrite is disabled: %w", filesystem.ErrFileExists))
}

// prepareDestinationFolder applies the folder policy for move/copy: a
// missing destination folder is auto-created when enabled, a non-folder
// object at the path is always a hard error.
func (a *Actor) prepareDestinationFolder(ctx context.Context, action filesystem.Action, folder string) error {
	exists, err := a.fs.FolderExists(ctx, folder)
	if err != nil {
		return actionErr(action, folder, err)
	}
	if exists {
		return nil
	}
	if h, err := a.fs.ToFile(ctx, folder); err == nil {
		if fileThere, err := a.fs.Exists(ctx, h); err == nil && fileThere {
			return actionErr(action, folder, fmt.Errorf("destination %q is a file: %w", folder, filesystem.ErrNotAFolder))
		}
	}
	if !a.cfg.CreateFolder {
		return actionErr(action, folder, fmt.Errorf("destination folder %q: %w", folder, filesystem.ErrFolderNotFound))
	}
	if err := a.wfs.CreateFolder(ctx, folder); err != nil && !errors.Is(err, filesystem.ErrFolderExists) {
		return actionErr(action, folder, err)
	}
	return nil
}

// ensureParentFolder auto-creates the parent folder of a target filename
// for create/write when the policy allows it.
func (a *Actor) ensureParentFolder(ctx context.Context, action filesystem.Action, name string) error {
	if !a.cfg.CreateFolder {
		return nil
	}
	folder, _ := splitTarget(name)
	if folder == "" {
		return nil
	}
	exists, err := a.fs.FolderExists(ctx, folder)
	if err != nil {
		return actionErr(action, name, err)
	}
	if exists {
		return nil
	}
	if err := a.wfs.CreateFolder(ctx, folder); err != nil && !errors.Is(err, filesystem.ErrFolderExists) {
		return actionErr(action, name, err)
	}
	return nil
}

// ============================================================================
// Write-family actions
// ============================================================================

func (a *Actor) doCreate(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	name := a.resolveFilename(p)
	if name == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a filename", action)
	}
	if err := a.ensureParentFolder(ctx, action, name); err != nil {
		return nil, err
	}
	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if err := a.prepareDestination(ctx, action, name, h); err != nil {
		return nil, err
	}
	w, err := a.wfs.CreateFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if err := w.Close(); err != nil {
		return nil, actionErr(action, name, err)
	}
	return a.nameResult(h)
}

func (a *Actor) doWrite(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	name := a.resolveFilename(p)
	if name == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a filename", action)
	}
	if err := a.ensureParentFolder(ctx, action, name); err != nil {
		return nil, err
	}
	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if err := a.prepareDestination(ctx, action, name, h); err != nil {
		return nil, err
	}
	w, err := a.wfs.CreateFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if _, err := w.Write(a.resolveContents(p)); err != nil {
		w.Close()
		return nil, actionErr(action, name, err)
	}
	if err := w.Close(); err != nil {
		return nil, actionErr(action, name, err)
	}
	return a.nameResult(h)
}

func (a *Actor) doAppend(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	name := a.resolveFilename(p)
	if name == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a filename", action)
	}
	folder, base := splitTarget(name)
	if a.cfg.RotateDays > 0 {
		if err := fsutil.RollOverByDay(ctx, a.wfs, folder, base, a.cfg.RotateDays, time.Now()); err != nil {
			return nil, actionErr(action, name, err)
		}
	}
	if a.cfg.RotateSize > 0 {
		if err := fsutil.RollOverBySize(ctx, a.wfs, folder, base, a.cfg.RotateSize, a.cfg.NumberOfBackups); err != nil {
			return nil, actionErr(action, name, err)
		}
	}
	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	w, err := a.wfs.AppendFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if _, err := w.Write(a.resolveContents(p)); err != nil {
		w.Close()
		return nil, actionErr(action, name, err)
	}
	if err := w.Close(); err != nil {
		return nil, actionErr(action, name, err)
	}
	return a.nameResult(h)
}

// ============================================================================
// Read-family actions
// ============================================================================

func (a *Actor) doRead(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	r, err := a.fs.ReadFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	return &Result{Stream: a.wrapReader(r)}, nil
}

func (a *Actor) doReadDelete(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	r, err := a.fs.ReadFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	folder, _ := splitTarget(name)
	return &Result{Stream: &deleteOnClose{
		inner:  a.wrapReader(r),
		actor:  a,
		handle: h,
		folder: folder,
	}}, nil
}

// deleteOnClose deletes the underlying file when the stream is closed.
// The delete happens exactly once and treats "already gone" as success, so
// a double close or a concurrent cleanup never raises.
type deleteOnClose struct {
	inner  io.ReadCloser
	actor  *Actor
	handle filesystem.Handle
	folder string

	once     sync.Once
	closeErr error
}

func (d *deleteOnClose) Read(p []byte) (int, error) {
	return d.inner.Read(p)
}

func (d *deleteOnClose) Close() error {
	d.once.Do(func() {
		readErr := d.inner.Close()

		// Detached from the caller's context: cleanup must run even when
		// the surrounding operation was cancelled after a full read.
		ctx := context.Background()
		if err := d.actor.wfs.DeleteFile(ctx, d.handle); err != nil && !errors.Is(err, filesystem.ErrFileNotFound) {
			d.closeErr = err
			return
		}
		if err := d.actor.pruneEmptyFolder(ctx, d.folder); err != nil {
			d.closeErr = err
			return
		}
		d.closeErr = readErr
	})
	return d.closeErr
}

// pruneEmptyFolder removes the folder when the policy asks for it and the
// folder became empty. Races with concurrent writers are tolerated.
func (a *Actor) pruneEmptyFolder(ctx context.Context, folder string) error {
	if !a.cfg.DeleteEmptyFolder || folder == "" {
		return nil
	}
	stream, err := a.fs.ListFiles(ctx, folder)
	if err != nil {
		if errors.Is(err, filesystem.ErrFolderNotFound) {
			return nil
		}
		return err
	}
	_, err = stream.Next()
	stream.Close()
	if err == nil {
		return nil // not empty
	}
	if err != io.EOF {
		return err
	}
	err = a.wfs.RemoveFolder(ctx, folder, false)
	if err != nil && !errors.Is(err, filesystem.ErrFolderNotEmpty) && !errors.Is(err, filesystem.ErrFolderNotFound) {
		return err
	}
	return nil
}

// wrapReader applies the configured charset decoding. The raw reader is
// returned untouched for utf-8.
func (a *Actor) wrapReader(r io.ReadCloser) io.ReadCloser {
	if a.enc == nil {
		return r
	}
	return &decodedReader{Reader: transform.NewReader(r, a.enc.NewDecoder()), closer: r}
}

type decodedReader struct {
	io.Reader
	closer io.Closer
}

func (d *decodedReader) Close() error {
	return d.closer.Close()
}

// resolveExistingTarget resolves the filename and fails with a not-found
// error when the target is absent, as every read/info/delete-family action
// requires.
func (a *Actor) resolveExistingTarget(ctx context.Context, p Params, action filesystem.Action) (filesystem.Handle, string, error) {
	name := a.resolveFilename(p)
	if name == "" {
		return nil, "", filesystem.NewConfigError("action [%s] requires a filename", action)
	}
	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, name, actionErr(action, name, err)
	}
	exists, err := a.fs.Exists(ctx, h)
	if err != nil {
		return nil, name, actionErr(action, name, err)
	}
	if !exists {
		return nil, name, actionErr(action, name, fmt.Errorf("%q: %w", name, filesystem.ErrFileNotFound))
	}
	return h, name, nil
}

// ============================================================================
// Folder actions
// ============================================================================

func (a *Actor) doMkdir(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	folder := a.resolveFolder(p)
	if folder == "" {
		return nil, filesystem.NewConfigError("action [%s] requires an input folder", action)
	}
	if err := a.fs.CreateFolder(ctx, folder); err != nil {
		return nil, actionErr(action, folder, err)
	}
	return &Result{Data: []byte(folder)}, nil
}

func (a *Actor) doRmdir(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	folder := a.resolveFolder(p)
	if folder == "" {
		return nil, filesystem.NewConfigError("action [%s] requires an input folder", action)
	}
	if err := a.fs.RemoveFolder(ctx, folder, a.cfg.RemoveNonEmptyFolder); err != nil {
		return nil, actionErr(action, folder, err)
	}
	return &Result{Data: []byte(folder)}, nil
}

// ============================================================================
// Relocation and deletion
// ============================================================================

// doRelocate serves both move and copy; move removes the source.
func (a *Actor) doRelocate(ctx context.Context, p Params, action filesystem.Action, move bool) (*Result, error) {
	destination := a.resolveDestination(p)
	if destination == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a destination", action)
	}
	if err := a.prepareDestinationFolder(ctx, action, destination); err != nil {
		return nil, err
	}

	name := a.explicitFilename(p)
	if name == "" && a.cfg.Wildcard != "" {
		return a.relocateWildcard(ctx, p, action, destination, move)
	}
	if name == "" {
		name = a.resolveFilename(p)
	}
	if name == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a filename or a wildcard", action)
	}

	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	exists, err := a.fs.Exists(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	if !exists {
		return nil, actionErr(action, name, fmt.Errorf("%q: %w", name, filesystem.ErrFileNotFound))
	}

	moved, err := a.relocateOne(ctx, action, h, destination, move)
	if err != nil {
		return nil, err
	}
	if move {
		folder, _ := splitTarget(name)
		if err := a.pruneEmptyFolder(ctx, folder); err != nil {
			return nil, actionErr(action, name, err)
		}
	}
	if moved == nil {
		// The backend skipped resolving the post-move handle; report the
		// intended destination instead.
		return &Result{Data: []byte(destination + "/" + a.fs.Name(h))}, nil
	}
	return a.nameResult(moved)
}

// relocateOne applies the overwrite/backup policy at the destination and
// performs the move or copy of a single file.
func (a *Actor) relocateOne(ctx context.Context, action filesystem.Action, h filesystem.Handle, destination string, move bool) (filesystem.Handle, error) {
	base := a.fs.Name(h)
	destHandle, err := a.fs.ToFileIn(ctx, destination, base)
	if err != nil {
		return nil, actionErr(action, base, err)
	}
	destName := destination + "/" + base
	if destination == "" {
		destName = base
	}
	if err := a.prepareDestination(ctx, action, destName, destHandle); err != nil {
		return nil, err
	}

	if move {
		moved, err := a.wfs.MoveFile(ctx, h, destination, a.cfg.CreateFolder, true)
		if err != nil {
			return nil, actionErr(action, base, err)
		}
		return moved, nil
	}
	copied, err := a.wfs.CopyFile(ctx, h, destination, a.cfg.CreateFolder, true)
	if err != nil {
		return nil, actionErr(action, base, err)
	}
	return copied, nil
}

// relocateWildcard moves or copies every file of the input folder passing
// the wildcard filter.
func (a *Actor) relocateWildcard(ctx context.Context, p Params, action filesystem.Action, destination string, move bool) (*Result, error) {
	folder := a.resolveFolder(p)
	stream, err := a.fs.ListFiles(ctx, folder)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}
	filtered := fsutil.FilterStream(stream, a.fs, a.cfg.Wildcard, a.cfg.ExcludeWildcard)
	handles, err := filesystem.CollectHandles(filtered)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}

	var names []string
	for _, h := range handles {
		if _, err := a.relocateOne(ctx, action, h, destination, move); err != nil {
			return nil, err
		}
		names = append(names, a.fs.Name(h))
	}
	if move {
		if err := a.pruneEmptyFolder(ctx, folder); err != nil {
			return nil, actionErr(action, folder, err)
		}
	}
	return &Result{Data: []byte(strings.Join(names, "\n"))}, nil
}

func (a *Actor) doDelete(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	name := a.explicitFilename(p)
	if name == "" && a.cfg.Wildcard != "" {
		return a.deleteWildcard(ctx, p, action)
	}

	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	if err := a.wfs.DeleteFile(ctx, h); err != nil {
		return nil, actionErr(action, name, err)
	}
	folder, _ := splitTarget(name)
	if err := a.pruneEmptyFolder(ctx, folder); err != nil {
		return nil, actionErr(action, name, err)
	}
	return &Result{Data: []byte(name)}, nil
}

func (a *Actor) deleteWildcard(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	folder := a.resolveFolder(p)
	stream, err := a.fs.ListFiles(ctx, folder)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}
	filtered := fsutil.FilterStream(stream, a.fs, a.cfg.Wildcard, a.cfg.ExcludeWildcard)
	handles, err := filesystem.CollectHandles(filtered)
	if err != nil {
		return nil, actionErr(action, folder, err)
	}

	var names []string
	for _, h := range handles {
		if err := a.wfs.DeleteFile(ctx, h); err != nil {
			return nil, actionErr(action, a.fs.Name(h), err)
		}
		names = append(names, a.fs.Name(h))
	}
	if err := a.pruneEmptyFolder(ctx, folder); err != nil {
		return nil, actionErr(action, folder, err)
	}
	return &Result{Data: []byte(strings.Join(names, "\n"))}, nil
}

// doRename renames within the filesystem; the destination is a full file
// name, not a folder.
func (a *Actor) doRename(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	destination := a.resolveDestination(p)
	if destination == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a destination", action)
	}
	src, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	dst, err := a.fs.ToFile(ctx, destination)
	if err != nil {
		return nil, actionErr(action, destination, err)
	}
	if err := a.prepareDestination(ctx, action, destination, dst); err != nil {
		return nil, err
	}
	renamed, err := a.wfs.RenameFile(ctx, src, dst)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	return a.nameResult(renamed)
}

func (a *Actor) doForward(ctx context.Context, p Params, action filesystem.Action) (*Result, error) {
	address := a.resolveDestination(p)
	if address == "" {
		return nil, filesystem.NewConfigError("action [%s] requires a destination address", action)
	}
	h, name, err := a.resolveExistingTarget(ctx, p, action)
	if err != nil {
		return nil, err
	}
	if err := a.mfs.Forward(ctx, h, address); err != nil {
		return nil, actionErr(action, name, err)
	}
	return &Result{Data: []byte(name)}, nil
}

// explicitFilename returns the filename only when given explicitly via
// attribute or parameter, never from the input payload. Wildcard-driven
// destructive actions key off this distinction.
func (a *Actor) explicitFilename(p Params) string {
	if a.cfg.Filename != "" {
		return a.cfg.Filename
	}
	return p.Filename
}

func (a *Actor) nameResult(h filesystem.Handle) (*Result, error) {
	canonical, err := a.fs.CanonicalName(h)
	if err != nil {
		return &Result{Data: []byte(a.fs.Name(h))}, nil
	}
	return &Result{Data: []byte(canonical)}, nil
}
