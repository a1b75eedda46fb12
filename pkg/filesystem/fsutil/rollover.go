package fsutil

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// rolloverTmpSuffix marks the live file while the backup chain shifts.
const rolloverTmpSuffix = ".tmp"

// daySuffixLayout is the date suffix appended by day-based rollover.
const daySuffixLayout = "2006-01-02"

// RollOverByNumber retires an existing file into a numeric backup chain
// name.1 … name.N before the caller writes a replacement.
//
// Sequence: the live file is first renamed to a temporary name, the oldest
// backup name.N is deleted if present, each remaining backup shifts one
// slot in descending index order so no shift clobbers an unshifted file,
// and finally the temporary file becomes name.1.
//
// backups <= 0 disables rollover and is a no-op; a missing live file is a
// no-op as well.
func RollOverByNumber(ctx context.Context, fs filesystem.WritableFileSystem, folder, name string, backups int) error {
	if backups <= 0 {
		return nil
	}

	src, err := fs.ToFileIn(ctx, folder, name)
	if err != nil {
		return err
	}
	exists, err := fs.Exists(ctx, src)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	tmpName := name + rolloverTmpSuffix
	tmp, err := fs.ToFileIn(ctx, folder, tmpName)
	if err != nil {
		return err
	}
	tmp, err = fs.RenameFile(ctx, src, tmp)
	if err != nil {
		return fmt.Errorf("rollover: rename %s to %s: %w", name, tmpName, err)
	}

	// Discard the oldest backup, then shift the chain down, highest index
	// first.
	oldest, err := fs.ToFileIn(ctx, folder, backupName(name, backups))
	if err != nil {
		return err
	}
	if ok, err := fs.Exists(ctx, oldest); err != nil {
		return err
	} else if ok {
		if err := fs.DeleteFile(ctx, oldest); err != nil {
			return fmt.Errorf("rollover: delete %s: %w", backupName(name, backups), err)
		}
	}

	for i := backups - 1; i >= 1; i-- {
		from, err := fs.ToFileIn(ctx, folder, backupName(name, i))
		if err != nil {
			return err
		}
		ok, err := fs.Exists(ctx, from)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		to, err := fs.ToFileIn(ctx, folder, backupName(name, i+1))
		if err != nil {
			return err
		}
		if _, err := fs.RenameFile(ctx, from, to); err != nil {
			return fmt.Errorf("rollover: shift %s to %s: %w", backupName(name, i), backupName(name, i+1), err)
		}
	}

	first, err := fs.ToFileIn(ctx, folder, backupName(name, 1))
	if err != nil {
		return err
	}
	if _, err := fs.RenameFile(ctx, tmp, first); err != nil {
		return fmt.Errorf("rollover: rename %s to %s: %w", tmpName, backupName(name, 1), err)
	}
	return nil
}

// RollOverBySize triggers numeric rollover only when the live file's size
// exceeds the threshold. A missing file or a non-positive threshold is a
// no-op.
func RollOverBySize(ctx context.Context, fs filesystem.WritableFileSystem, folder, name string, threshold int64, backups int) error {
	if threshold <= 0 || backups <= 0 {
		return nil
	}
	h, err := fs.ToFileIn(ctx, folder, name)
	if err != nil {
		return err
	}
	exists, err := fs.Exists(ctx, h)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	size, err := fs.FileSize(ctx, h)
	if err != nil {
		return err
	}
	if size <= threshold {
		return nil
	}
	return RollOverByNumber(ctx, fs, folder, name, backups)
}

// RollOverByDay retires the live file with a date suffix when its
// last-modified day is before today, then sweeps the folder deleting
// same-prefixed, date-suffixed files older than keepDays.
//
// Files modified "in the future" relative to now are left untouched: a
// skewed clock must never rotate a file that is still being written.
func RollOverByDay(ctx context.Context, fs filesystem.WritableFileSystem, folder, name string, keepDays int, now time.Time) error {
	h, err := fs.ToFileIn(ctx, folder, name)
	if err != nil {
		return err
	}
	exists, err := fs.Exists(ctx, h)
	if err != nil {
		return err
	}

	today := truncateToDay(now)
	if exists {
		mtime, err := fs.ModificationTime(ctx, h)
		if err != nil {
			return err
		}
		if truncateToDay(mtime).Before(today) {
			suffixed := name + "." + truncateToDay(mtime).Format(daySuffixLayout)
			dst, err := fs.ToFileIn(ctx, folder, suffixed)
			if err != nil {
				return err
			}
			if ok, err := fs.Exists(ctx, dst); err != nil {
				return err
			} else if ok {
				if err := fs.DeleteFile(ctx, dst); err != nil {
					return fmt.Errorf("rollover: delete %s: %w", suffixed, err)
				}
			}
			if _, err := fs.RenameFile(ctx, h, dst); err != nil {
				return fmt.Errorf("rollover: rename %s to %s: %w", name, suffixed, err)
			}
		}
	}

	if keepDays <= 0 {
		return nil
	}
	return sweepDaySuffixed(ctx, fs, folder, name, keepDays, today)
}

// sweepDaySuffixed deletes rotated files whose date suffix is older than
// keepDays.
func sweepDaySuffixed(ctx context.Context, fs filesystem.WritableFileSystem, folder, name string, keepDays int, today time.Time) error {
	cutoff := today.AddDate(0, 0, -keepDays)
	prefix := name + "."

	stream, err := fs.ListFiles(ctx, folder)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		h, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		fileName := fs.Name(h)
		if !strings.HasPrefix(fileName, prefix) {
			continue
		}
		day, err := time.Parse(daySuffixLayout, strings.TrimPrefix(fileName, prefix))
		if err != nil {
			// Not a rotated file: numeric backup or unrelated suffix.
			continue
		}
		if day.Before(cutoff) {
			if err := fs.DeleteFile(ctx, h); err != nil {
				return fmt.Errorf("rollover: sweep %s: %w", fileName, err)
			}
		}
	}
}

func backupName(name string, index int) string {
	return fmt.Sprintf("%s.%d", name, index)
}

func truncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
