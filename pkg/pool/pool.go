// Package pool manages native backend connections for session-oriented
// filesystems.
//
// Two modes exist. In shared mode one connection is created when the pool
// opens and handed to every caller; Invalidate closes it and the next
// Acquire creates a fresh one. In pooled mode a bounded set of connections
// is maintained; each caller borrows one for the duration of a single
// logical operation and returns it afterwards.
//
// Ownership contract: a Connector obtained from Acquire must be given back
// exactly once on the path that obtained it, either via Release (healthy
// connection) or Invalidate (poisoned session). WithConnection wraps the
// acquire/use/release cycle for callers that do not need the finer control.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Mode selects the pool's connection strategy.
type Mode int

const (
	// Shared hands the same connection to all callers and recreates it
	// wholesale on Invalidate. The connection itself must tolerate
	// concurrent use.
	Shared Mode = iota

	// Pooled maintains up to MaxSize connections, each borrowed
	// exclusively for one logical operation.
	Pooled
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// Config carries the pool construction parameters. Factory creates a
// native connection; Closer tears one down. Closer may be nil when the
// connection type needs no teardown.
type Config[C any] struct {
	Mode    Mode
	MaxSize int
	Factory func(ctx context.Context) (C, error)
	Closer  func(conn C) error
}

// Connector pairs a borrowed native connection with a back-reference to
// its owning pool. The back-reference is nil in shared mode, where the
// connector does not confer exclusive ownership.
type Connector[C any] struct {
	conn   C
	pool   *Pool[C]
	active bool

	// gen identifies which incarnation of the shared connection this
	// connector was handed. Unused in pooled mode.
	gen uint64
}

// Conn returns the native connection. Only valid between Acquire and the
// matching Release/Invalidate.
func (c *Connector[C]) Conn() C {
	return c.conn
}

// Pool owns the native connections of one FileSystem instance. All
// mutation (borrow, return, invalidate, drain) is synchronized internally;
// callers never share a borrowed connector across goroutines.
type Pool[C any] struct {
	cfg Config[C]

	mu     sync.Mutex
	closed bool

	// shared mode: sharedGen counts incarnations of the shared
	// connection so a stale connector cannot invalidate a replacement
	// created after it was handed out.
	shared    C
	hasShared bool
	sharedGen uint64

	// pooled mode: idle holds returned connections, slots bounds the
	// number in existence. Every live connection owns one slot token.
	idle  chan C
	slots chan struct{}
	done  chan struct{}
}

// New builds a pool. For Pooled mode MaxSize must be positive.
func New[C any](cfg Config[C]) (*Pool[C], error) {
	if cfg.Factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if cfg.Mode == Pooled && cfg.MaxSize < 1 {
		return nil, fmt.Errorf("pool: max size must be positive, got %d", cfg.MaxSize)
	}
	p := &Pool[C]{cfg: cfg}
	if cfg.Mode == Pooled {
		p.idle = make(chan C, cfg.MaxSize)
		p.slots = make(chan struct{}, cfg.MaxSize)
		p.done = make(chan struct{})
	}
	return p, nil
}

// Open establishes the shared connection in shared mode. In pooled mode
// connections are created lazily and Open is a no-op.
func (p *Pool[C]) Open(ctx context.Context) error {
	if p.cfg.Mode != Shared {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.hasShared {
		return nil
	}
	conn, err := p.cfg.Factory(ctx)
	if err != nil {
		return fmt.Errorf("create shared connection: %w", err)
	}
	p.shared = conn
	p.hasShared = true
	p.sharedGen++
	return nil
}

// Acquire borrows a connection.
//
// In shared mode it returns the shared connection, recreating it when a
// previous Invalidate discarded it. In pooled mode it prefers an idle
// connection, creates a new one while capacity allows, and otherwise
// blocks until a connection is released or ctx is cancelled.
//
// A factory failure is fatal for this call only; the pool stays healthy.
func (p *Pool[C]) Acquire(ctx context.Context) (*Connector[C], error) {
	if p.cfg.Mode == Shared {
		return p.acquireShared(ctx)
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	// Fast path: an idle connection is waiting.
	select {
	case conn := <-p.idle:
		return &Connector[C]{conn: conn, pool: p, active: true}, nil
	default:
	}

	select {
	case conn := <-p.idle:
		return &Connector[C]{conn: conn, pool: p, active: true}, nil
	case p.slots <- struct{}{}:
		conn, err := p.cfg.Factory(ctx)
		if err != nil {
			<-p.slots
			return nil, fmt.Errorf("create connection: %w", err)
		}
		return &Connector[C]{conn: conn, pool: p, active: true}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

func (p *Pool[C]) acquireShared(ctx context.Context) (*Connector[C], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if !p.hasShared {
		conn, err := p.cfg.Factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("create shared connection: %w", err)
		}
		p.shared = conn
		p.hasShared = true
		p.sharedGen++
	}
	// No pool back-reference: the shared connector is not exclusively
	// owned and Release is a no-op on it.
	return &Connector[C]{conn: p.shared, active: true, gen: p.sharedGen}, nil
}

// Release returns a borrowed connection to the pool. Calling Release on a
// shared-mode or already-released connector is a no-op, which keeps the
// scoped release pattern safe on every code path.
func (p *Pool[C]) Release(c *Connector[C]) {
	if c == nil || !c.active || c.pool == nil {
		return
	}
	c.active = false

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroy(c.conn)
		return
	}
	// idle has capacity MaxSize and every live connection owns a slot, so
	// this send never blocks.
	p.idle <- c.conn
}

// Invalidate discards a connection believed to be broken instead of
// returning it. In pooled mode the slot is freed so a later Acquire can
// create a replacement. In shared mode the shared connection is closed and
// the next Acquire recreates it; a connector from an earlier incarnation
// is ignored so it cannot tear down a healthy replacement.
func (p *Pool[C]) Invalidate(c *Connector[C]) {
	if c == nil || !c.active {
		return
	}
	c.active = false

	if p.cfg.Mode == Shared {
		p.mu.Lock()
		if p.hasShared && c.gen == p.sharedGen {
			p.destroy(p.shared)
			var zero C
			p.shared = zero
			p.hasShared = false
		}
		p.mu.Unlock()
		return
	}

	p.destroy(c.conn)
	<-p.slots
}

// Close drains and closes all idle connections and forbids further
// borrowing. Connections still out on loan are closed when released.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.cfg.Mode == Shared {
		var firstErr error
		if p.hasShared {
			firstErr = p.destroy(p.shared)
			var zero C
			p.shared = zero
			p.hasShared = false
		}
		p.mu.Unlock()
		return firstErr
	}
	p.mu.Unlock()

	close(p.done)
	var firstErr error
	for {
		select {
		case conn := <-p.idle:
			if err := p.destroy(conn); err != nil && firstErr == nil {
				firstErr = err
			}
			<-p.slots
		default:
			return firstErr
		}
	}
}

// WithConnection runs fn with a borrowed connection, guaranteeing the
// connector is given back on every path. When fn reports a connection-level
// failure via the returned invalidate flag, the connection is discarded
// instead of returned.
func (p *Pool[C]) WithConnection(ctx context.Context, fn func(conn C) (invalidate bool, err error)) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	invalidate, err := fn(c.Conn())
	if invalidate {
		p.Invalidate(c)
	} else {
		p.Release(c)
	}
	return err
}

func (p *Pool[C]) destroy(conn C) error {
	if p.cfg.Closer == nil {
		return nil
	}
	return p.cfg.Closer(conn)
}
