// Package fsutil provides the shared rollover and filtering algorithms of
// the storage layer as free functions over the capability interfaces. No
// backend knowledge lives here: everything goes through
// filesystem.FileSystem and filesystem.WritableFileSystem.
package fsutil

import (
	"fmt"
	"path"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// ValidateWildcard checks a glob pattern for syntax errors so that bad
// patterns surface at configuration time, not during a listing.
func ValidateWildcard(pattern string) error {
	if pattern == "" {
		return nil
	}
	if _, err := path.Match(pattern, "probe"); err != nil {
		return fmt.Errorf("invalid wildcard %q: %w", pattern, err)
	}
	return nil
}

// MatchWildcard matches a shell-style glob (*, ?) against a bare file
// name. Patterns never span folder separators; callers pass names, not
// paths. Case sensitivity follows the backend that produced the name.
func MatchWildcard(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, name)
	if err != nil {
		// Rejected earlier by ValidateWildcard; treat as no match.
		return false
	}
	return ok
}

// Accept applies the combined include/exclude filter: the name must match
// the include pattern AND not match the exclude pattern. Empty include
// accepts everything; empty exclude excludes nothing.
func Accept(name, include, exclude string) bool {
	if !MatchWildcard(include, name) {
		return false
	}
	if exclude != "" && MatchWildcard(exclude, name) {
		return false
	}
	return true
}

// filteredStream lazily applies Accept to an underlying stream.
type filteredStream struct {
	inner   filesystem.DirectoryStream
	fs      filesystem.FileSystem
	include string
	exclude string
}

// FilterStream wraps a DirectoryStream so that only handles whose bare
// name passes the include/exclude filter are yielded. The wrapper stays
// lazy: filtering happens per Next call, and Close closes the underlying
// stream.
func FilterStream(stream filesystem.DirectoryStream, fs filesystem.FileSystem, include, exclude string) filesystem.DirectoryStream {
	if include == "" && exclude == "" {
		return stream
	}
	return &filteredStream{inner: stream, fs: fs, include: include, exclude: exclude}
}

func (s *filteredStream) Next() (filesystem.Handle, error) {
	for {
		h, err := s.inner.Next()
		if err != nil {
			return nil, err
		}
		if Accept(s.fs.Name(h), s.include, s.exclude) {
			return h, nil
		}
	}
}

func (s *filteredStream) Close() error {
	return s.inner.Close()
}
