package imapfs

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/marmos91/unifs/pkg/filesystem"
)

// client is the subset of the IMAP protocol the backend uses, expressed
// through small waiter interfaces so tests can fake the server without a
// network.
type client interface {
	Logout() cmdWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	List(ref, pattern string, options *imap.ListOptions) listWaiter
	Create(mailbox string, options *imap.CreateOptions) cmdWaiter
	Delete(mailbox string) cmdWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) closeWaiter
	UIDExpunge(uids imap.UIDSet) closeWaiter
	Append(mailbox string, size int64, options *imap.AppendOptions) appendWaiter
	Copy(numSet imap.NumSet, mailbox string) copyWaiter
}

type cmdWaiter interface{ Wait() error }
type closeWaiter interface{ Close() error }

type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}

type listWaiter interface {
	Collect() ([]*imap.ListData, error)
}

type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}

type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
}

type appendWaiter interface {
	io.Writer
	Close() error
	Wait() (*imap.AppendData, error)
}

type copyWaiter interface {
	Wait() (*imap.CopyData, error)
}

// clientWrapper adapts *imapclient.Client to the client interface.
type clientWrapper struct{ *imapclient.Client }

func (w *clientWrapper) Logout() cmdWaiter { return w.Client.Logout() }
func (w *clientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *clientWrapper) List(ref, pattern string, options *imap.ListOptions) listWaiter {
	return w.Client.List(ref, pattern, options)
}
func (w *clientWrapper) Create(mailbox string, options *imap.CreateOptions) cmdWaiter {
	return w.Client.Create(mailbox, options)
}
func (w *clientWrapper) Delete(mailbox string) cmdWaiter {
	return w.Client.Delete(mailbox)
}
func (w *clientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *clientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *clientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) closeWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *clientWrapper) UIDExpunge(uids imap.UIDSet) closeWaiter {
	return w.Client.UIDExpunge(uids)
}
func (w *clientWrapper) Append(mailbox string, size int64, options *imap.AppendOptions) appendWaiter {
	return w.Client.Append(mailbox, size, options)
}
func (w *clientWrapper) Copy(numSet imap.NumSet, mailbox string) copyWaiter {
	return w.Client.Copy(numSet, mailbox)
}

// dial connects and authenticates one session.
func dial(cfg Config) (client, error) {
	port := cfg.Port
	if port == 0 {
		if cfg.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: timeout}}

	var (
		c   *imapclient.Client
		err error
	)
	if cfg.TLS {
		c, err = imapclient.DialTLS(addr, opts)
	} else {
		c, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %v: %w", addr, err, filesystem.ErrConnection)
	}
	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		c.Close()
		return nil, filesystem.WrapStorage("login", err)
	}
	return &clientWrapper{Client: c}, nil
}
