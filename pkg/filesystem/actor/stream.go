package actor

import (
	"context"
	"io"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
	"github.com/marmos91/unifs/pkg/filesystem/fsutil"
)

// Streamable reports whether the caller may fill the destination directly
// via OpenWriteStream instead of buffering through Do.
//
// Streaming is offered only when the destination is unambiguously
// resolvable from static configuration (no late-bound filename parameter)
// and no transform complicates the byte path: the configured action is
// write or append, a static filename is set, and no charset decoding is
// configured.
func (a *Actor) Streamable() bool {
	if a.cfg.Action != filesystem.ActionWrite && a.cfg.Action != filesystem.ActionAppend {
		return false
	}
	return a.cfg.Filename != "" && a.enc == nil
}

// OpenWriteStream opens the destination for direct streaming writes. The
// overwrite/backup and rotation policy runs before the sink is opened, so
// the caller's bytes land on a prepared destination. The write commits
// when the caller closes the sink.
func (a *Actor) OpenWriteStream(ctx context.Context) (io.WriteCloser, error) {
	if !a.Streamable() {
		return nil, filesystem.NewConfigError("streaming requires a statically configured write or append target without transforms")
	}

	name := a.cfg.Filename
	action := a.cfg.Action
	h, err := a.fs.ToFile(ctx, name)
	if err != nil {
		return nil, actionErr(action, name, err)
	}

	if action == filesystem.ActionWrite {
		if err := a.ensureParentFolder(ctx, action, name); err != nil {
			return nil, err
		}
		if err := a.prepareDestination(ctx, action, name, h); err != nil {
			return nil, err
		}
		w, err := a.wfs.CreateFile(ctx, h)
		if err != nil {
			return nil, actionErr(action, name, err)
		}
		return w, nil
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
	w, err := a.wfs.AppendFile(ctx, h)
	if err != nil {
		return nil, actionErr(action, name, err)
	}
	return w, nil
}
