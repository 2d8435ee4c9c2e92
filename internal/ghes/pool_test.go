package ghes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClient counts Close calls; Search is unused in pool tests.
type fakeClient struct {
	id     int
	closed atomic.Int32
}

func (f *fakeClient) Search(ctx context.Context, query string, from, to time.Time) ([]byte, error) {
	return []byte("{}"), nil
}

func (f *fakeClient) Close() error {
	f.closed.Add(1)
	return nil
}

func newTestPool(t *testing.T, size int) (*Pool, []*fakeClient) {
	t.Helper()
	fakes := make([]*fakeClient, 0, size)
	p, err := NewPool(size, func(i int) (Client, error) {
		f := &fakeClient{id: i}
		fakes = append(fakes, f)
		return f, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	t.Cleanup(p.Close)
	return p, fakes
}

func TestPool_AcquireTimeout(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	first, err := p.Acquire(ctx, time.Second)
	if err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}

	// Second acquire without a release must fail with the timeout error.
	_, err = p.Acquire(ctx, 50*time.Millisecond)
	if !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("second Acquire() error = %v, want ErrAcquireTimeout", err)
	}

	// Releasing then re-acquiring returns the same underlying instance.
	p.Release(first)
	again, err := p.Acquire(ctx, time.Second)
	if err != nil {
		t.Fatalf("re-Acquire() error: %v", err)
	}
	if again != first {
		t.Error("re-acquired client is not the released instance")
	}
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	p, _ := newTestPool(t, 1)

	c, _ := p.Acquire(context.Background(), time.Second)
	defer p.Release(c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Acquire(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() with cancelled context = %v, want context.Canceled", err)
	}
}

func TestPool_CloseIsIdempotent(t *testing.T) {
	p, fakes := newTestPool(t, 3)

	p.Close()
	p.Close()

	for _, f := range fakes {
		if got := f.closed.Load(); got != 1 {
			t.Errorf("client %d closed %d times, want 1", f.id, got)
		}
	}

	if _, err := p.Acquire(context.Background(), time.Second); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close() = %v, want ErrPoolClosed", err)
	}
}

func TestPool_AcquireAfterCloseNeverYieldsClient(t *testing.T) {
	p, _ := newTestPool(t, 2)
	p.Close()

	// A leftover buffered client must never beat the closed signal.
	for i := 0; i < 50; i++ {
		c, err := p.Acquire(context.Background(), time.Second)
		if c != nil || !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("Acquire() after Close() = %v, %v, want nil, ErrPoolClosed", c, err)
		}
	}
}

func TestPool_WithClientReleasesOnError(t *testing.T) {
	p, _ := newTestPool(t, 1)
	ctx := context.Background()

	wantErr := errors.New("remote exploded")
	err := p.WithClient(ctx, time.Second, func(c Client) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithClient() error = %v, want wrapped fn error", err)
	}

	// The slot must be free again despite the failure.
	c, err := p.Acquire(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() after failed WithClient: %v", err)
	}
	p.Release(c)
}

func TestPool_FactoryFailureClosesBuiltClients(t *testing.T) {
	var built []*fakeClient
	_, err := NewPool(3, func(i int) (Client, error) {
		if i == 2 {
			return nil, errors.New("construction failed")
		}
		f := &fakeClient{id: i}
		built = append(built, f)
		return f, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("NewPool() should propagate factory failure")
	}
	for _, f := range built {
		if f.closed.Load() != 1 {
			t.Errorf("client %d not closed after factory failure", f.id)
		}
	}
}
