package ghes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool errors. Acquire timeouts are distinct from a closed pool so callers
// can tell backpressure from shutdown.
var (
	ErrAcquireTimeout = errors.New("timed out waiting for a client")
	ErrPoolClosed     = errors.New("client pool is closed")
)

// Pool is a fixed-capacity pool of pre-constructed clients. The remote
// source enforces per-connection rate limits, so the pool caps concurrent
// outstanding requests to exactly its size: an exhausted pool blocks
// Acquire, giving natural backpressure with no extra semaphore.
type Pool struct {
	clients chan Client
	all     []Client
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPool constructs size clients via factory. If any construction fails,
// already-built clients are closed and the error is returned.
func NewPool(size int, factory func(i int) (Client, error), logger *slog.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		clients: make(chan Client, size),
		all:     make([]Client, 0, size),
		logger:  logger,
		closed:  make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		c, err := factory(i)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("construct pool client %d: %w", i, err)
		}
		p.all = append(p.all, c)
		p.clients <- c
	}

	logger.Info("client pool ready", "size", size)
	return p, nil
}

// Acquire blocks until a client is available, the timeout elapses, the
// context is cancelled, or the pool closes. It never waits forever.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (Client, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-p.clients:
		// Both a buffered client and the closed signal can be ready at
		// once; the shutdown contract wins.
		select {
		case <-p.closed:
			return nil, ErrPoolClosed
		default:
		}
		return c, nil
	case <-timer.C:
		return nil, fmt.Errorf("after %s: %w", timeout, ErrAcquireTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, ErrPoolClosed
	}
}

// Release returns a client to the pool. Must be called on every exit path
// after a successful Acquire; WithClient enforces that discipline.
func (p *Pool) Release(c Client) {
	select {
	case <-p.closed:
		// Shutdown already closed every client.
	default:
		p.clients <- c
	}
}

// WithClient runs fn with an acquired client and releases it on every
// exit path, including fn failure.
func (p *Pool) WithClient(ctx context.Context, timeout time.Duration, fn func(c Client) error) error {
	c, err := p.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer p.Release(c)
	return fn(c)
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.clients)
}

// Close shuts down every underlying client. Idempotent.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		// Drain the buffer so no already-closed client stays acquirable.
	drain:
		for {
			select {
			case <-p.clients:
			default:
				break drain
			}
		}
		for _, c := range p.all {
			if err := c.Close(); err != nil {
				p.logger.Warn("closing pool client", "error", err.Error())
			}
		}
		p.logger.Info("client pool closed", "size", len(p.all))
	})
}
