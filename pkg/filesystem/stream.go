package filesystem

import "io"

// DirectoryStream is a lazy sequence of file handles produced by
// ListFiles.
//
// Next returns io.EOF after the last handle. The stream must be closed
// whether or not it was fully consumed; Close releases backend resources
// (open directories, paginated requests, protocol cursors) and is
// idempotent.
type DirectoryStream interface {
	Next() (Handle, error)
	Close() error
}

// ============================================================================
// Stream helpers
// ============================================================================

// sliceStream serves a DirectoryStream from a materialized slice. Backends
// whose native listing is not incremental (bounded folders, in-memory
// stores) use it; truly lazy backends implement DirectoryStream directly.
type sliceStream struct {
	handles []Handle
	pos     int
}

// NewSliceStream wraps an already-materialized list of handles as a
// DirectoryStream.
func NewSliceStream(handles []Handle) DirectoryStream {
	return &sliceStream{handles: handles}
}

func (s *sliceStream) Next() (Handle, error) {
	if s.pos >= len(s.handles) {
		return nil, io.EOF
	}
	h := s.handles[s.pos]
	s.pos++
	return h, nil
}

func (s *sliceStream) Close() error {
	s.handles = nil
	s.pos = 0
	return nil
}

// CollectHandles drains a DirectoryStream into a slice and closes it.
// Intended for tests and small folders; production paths iterate the
// stream directly to keep listings lazy.
func CollectHandles(stream DirectoryStream) ([]Handle, error) {
	defer stream.Close()

	var handles []Handle
	for {
		h, err := stream.Next()
		if err == io.EOF {
			return handles, nil
		}
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
}

// emptyAttachmentStream is the zero-attachment stream.
type emptyAttachmentStream struct{}

// NoAttachments returns an empty AttachmentStream, for files that carry no
// sub-objects.
func NoAttachments() AttachmentStream {
	return emptyAttachmentStream{}
}

func (emptyAttachmentStream) Next() (Attachment, error) { return nil, io.EOF }
func (emptyAttachmentStream) Close() error              { return nil }
