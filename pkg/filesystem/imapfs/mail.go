package imapfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	gomail "github.com/emersion/go-message/mail"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// ============================================================================
// Mail capability
// ============================================================================

func (f *IMAPFileSystem) Subject(ctx context.Context, h filesystem.Handle) (string, error) {
	env, err := f.envelope(ctx, h)
	if err != nil {
		return "", err
	}
	return env.Subject, nil
}

// MimeContent returns the raw RFC 822 bytes of the message.
func (f *IMAPFileSystem) MimeContent(ctx context.Context, h filesystem.Handle) (io.ReadCloser, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	msg, err := f.fetchMessage(ctx, fh, bodyFetch)
	if err != nil {
		return nil, err
	}
	if msg.body == nil {
		return nil, fmt.Errorf("message %q has no body: %w", messageName(fh.uid), filesystem.ErrStorage)
	}
	return io.NopCloser(bytes.NewReader(msg.body)), nil
}

// Forward hands the raw message to the configured Forwarder. Without one
// the backend has no outbound path.
func (f *IMAPFileSystem) Forward(ctx context.Context, h filesystem.Handle, address string) error {
	if f.cfg.Forward == nil {
		return fmt.Errorf("no forwarder configured: %w", filesystem.ErrNotSupported)
	}
	rc, err := f.MimeContent(ctx, h)
	if err != nil {
		return err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return filesystem.WrapStorage("read message", err)
	}
	return f.cfg.Forward(ctx, raw, address)
}

// Addresses returns the addresses of an envelope field. Fields the
// envelope does not carry (return-path) yield an empty slice.
func (f *IMAPFileSystem) Addresses(ctx context.Context, h filesystem.Handle, field filesystem.AddressField) ([]string, error) {
	env, err := f.envelope(ctx, h)
	if err != nil {
		return nil, err
	}
	var list []imap.Address
	switch field {
	case filesystem.FieldTo:
		list = env.To
	case filesystem.FieldCc:
		list = env.Cc
	case filesystem.FieldBcc:
		list = env.Bcc
	case filesystem.FieldReplyTo:
		list = env.ReplyTo
	case filesystem.FieldFrom:
		list = env.From
	case filesystem.FieldSender:
		list = env.Sender
	default:
		return nil, nil
	}
	addrs := make([]string, 0, len(list))
	for _, a := range list {
		addrs = append(addrs, a.Addr())
	}
	return addrs, nil
}

func (f *IMAPFileSystem) SentTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	env, err := f.envelope(ctx, h)
	if err != nil {
		return time.Time{}, err
	}
	return env.Date, nil
}

func (f *IMAPFileSystem) ReceivedTime(ctx context.Context, h filesystem.Handle) (time.Time, error) {
	return f.ModificationTime(ctx, h)
}

func (f *IMAPFileSystem) envelope(ctx context.Context, h filesystem.Handle) (*imap.Envelope, error) {
	fh, err := handleOf(h)
	if err != nil {
		return nil, err
	}
	msg, err := f.fetchMessage(ctx, fh, metadataFetch)
	if err != nil {
		return nil, err
	}
	if msg.envelope == nil {
		return nil, fmt.Errorf("message %q has no envelope: %w", messageName(fh.uid), filesystem.ErrStorage)
	}
	return msg.envelope, nil
}

// ============================================================================
// Attachments
// ============================================================================

// ListAttachments parses the MIME structure of the message and streams its
// attachment parts. Inline parts are not included.
func (f *IMAPFileSystem) ListAttachments(ctx context.Context, h filesystem.Handle) (filesystem.AttachmentStream, error) {
	rc, err := f.MimeContent(ctx, h)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, filesystem.WrapStorage("read message", err)
	}
	parts, err := parseAttachments(raw)
	if err != nil {
		return nil, err
	}
	return &attachmentStream{parts: parts}, nil
}

func parseAttachments(raw []byte) ([]*attachment, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, filesystem.WrapStorage("parse message", err)
	}
	var parts []*attachment
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, filesystem.WrapStorage("parse message part", err)
		}
		ah, ok := part.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, filesystem.WrapStorage("read attachment", err)
		}
		filename, _ := ah.Filename()
		contentType, params, _ := ah.ContentType()
		name := filename
		if name == "" {
			name = params["name"]
		}
		parts = append(parts, &attachment{
			name:        name,
			filename:    filename,
			contentType: contentType,
			data:        data,
		})
	}
	return parts, nil
}

type attachment struct {
	name        string
	filename    string
	contentType string
	data        []byte
}

func (a *attachment) Name() string        { return a.name }
func (a *attachment) FileName() string    { return a.filename }
func (a *attachment) ContentType() string { return a.contentType }
func (a *attachment) Size() int64         { return int64(len(a.data)) }

func (a *attachment) Content(ctx context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(a.data)), nil
}

func (a *attachment) AdditionalProperties() map[string]any { return nil }

type attachmentStream struct {
	parts []*attachment
	pos   int
}

func (s *attachmentStream) Next() (filesystem.Attachment, error) {
	if s.pos >= len(s.parts) {
		return nil, io.EOF
	}
	a := s.parts[s.pos]
	s.pos++
	return a, nil
}

func (s *attachmentStream) Close() error { return nil }
