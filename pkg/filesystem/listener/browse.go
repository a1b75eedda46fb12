package listener

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// MessageInfo describes one file in a process-state folder.
type MessageInfo struct {
	ID               string
	Name             string
	Size             int64
	ModificationTime time.Time
}

// Browse enumerates the folder backing a process state without touching
// listener state. A state without a configured folder is not browsable.
func (l *Listener) Browse(ctx context.Context, state ProcessState) ([]MessageInfo, error) {
	folder, err := l.stateFolder(state)
	if err != nil {
		return nil, err
	}

	stream, err := l.fs.ListFiles(ctx, folder)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var infos []MessageInfo
	for {
		h, err := stream.Next()
		if err == io.EOF {
			return infos, nil
		}
		if err != nil {
			return nil, err
		}
		info := MessageInfo{Name: l.fs.Name(h)}
		info.ID = l.messageID(ctx, &RawMessage{Handle: h, OriginalName: info.Name})
		if size, err := l.fs.FileSize(ctx, h); err == nil {
			info.Size = size
		}
		if mtime, err := l.fs.ModificationTime(ctx, h); err == nil {
			info.ModificationTime = mtime
		}
		infos = append(infos, info)
	}
}

func (l *Listener) stateFolder(state ProcessState) (string, error) {
	var folder string
	switch state {
	case StateAvailable:
		folder = l.cfg.InputFolder
	case StateInProcess:
		folder = l.cfg.InProcessFolder
	case StateDone:
		folder = l.cfg.ProcessedFolder
	case StateError:
		folder = l.cfg.ErrorFolder
	case StateHold:
		folder = l.cfg.HoldFolder
	default:
		return "", filesystem.NewConfigError("unknown state %v", state)
	}
	if folder == "" {
		return "", fmt.Errorf("state %s has no configured folder: %w", state, filesystem.ErrNotSupported)
	}
	return folder, nil
}
