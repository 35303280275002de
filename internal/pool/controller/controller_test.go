package controller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/webitel/connpool/internal/pool/entry"
)

type stubConn struct {
	closed atomic.Bool
}

func (c *stubConn) Close() error { c.closed.Store(true); return nil }

type stubFactory struct {
	fail    atomic.Bool
	created atomic.Int32
	last    atomic.Pointer[stubConn]
}

func (f *stubFactory) Connect(ctx context.Context) (entry.RawConn, error) {
	if f.fail.Load() {
		return nil, errors.New("dial refused")
	}
	c := &stubConn{}
	f.last.Store(c)
	f.created.Add(1)
	return c, nil
}

func (f *stubFactory) DSN() string { return "stub://test" }

type alwaysAliveProber struct{}

func (alwaysAliveProber) ShouldBypass(nowMs, lastAccessedMs int64) bool { return true }
func (alwaysAliveProber) IsAlive(context.Context, string, entry.RawConn) bool { return true }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func newTestController(t *testing.T, factory *stubFactory, opts Options) *Controller {
	t.Helper()
	c, err := New(factory, alwaysAliveProber{}, nil, nil, nil, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestAcquireCreatesAndReleaseReturnsEntryToPool(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         2,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
	})

	p, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := c.Stats().Active; got != 1 {
		t.Fatalf("expected 1 active connection, got %d", got)
	}

	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := c.Stats().Idle; got != 1 {
		t.Fatalf("expected 1 idle connection after release, got %d", got)
	}
	if got := c.Stats().Active; got != 0 {
		t.Fatalf("expected 0 active connections after release, got %d", got)
	}
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
	})

	held, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Close(context.Background())

	_, err = c.AcquireTimeout(context.Background(), 80*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestConnectionFailureReturnedWhenPoolEmpty(t *testing.T) {
	factory := &stubFactory{}
	factory.fail.Store(true)
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       300 * time.Millisecond,
		CreationBackoffCap:      10 * time.Millisecond,
	})

	_, err := c.AcquireTimeout(context.Background(), 200*time.Millisecond)
	if !errors.Is(err, ErrConnectionFailure) {
		t.Fatalf("expected ErrConnectionFailure, got %v", err)
	}
}

func TestEvictConnectionTearsDownOnRelease(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
	})

	p, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	c.EvictConnection(p) // entry is in use, so this only marks it
	conn := factory.last.Load()
	if conn.closed.Load() {
		t.Fatal("connection must not be closed while still held by the caller")
	}

	p.Close(context.Background())
	waitUntil(t, time.Second, func() bool { return conn.closed.Load() })
}

func TestSuspendBlocksAcquireUntilResume(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
		AllowPoolSuspension:     true,
	})

	if err := c.SuspendPool(); err != nil {
		t.Fatalf("SuspendPool: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := c.AcquireTimeout(context.Background(), time.Second)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-result:
		t.Fatalf("Acquire returned early with suspended pool: %v", err)
	default:
	}

	if err := c.ResumePool(); err != nil {
		t.Fatalf("ResumePool: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Acquire after resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after ResumePool")
	}
}

func TestCloseUnblocksASuspendedWaiterWithPoolClosed(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
		AllowPoolSuspension:     true,
	})

	if err := c.SuspendPool(); err != nil {
		t.Fatalf("SuspendPool: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := c.AcquireTimeout(context.Background(), time.Second)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("expected a suspended waiter to see ErrPoolClosed after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Close")
	}
}

func TestSoftEvictReplacesIdleEntryOnNextAcquire(t *testing.T) {
	factory := &stubFactory{}
	c := newTestController(t, factory, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
	})

	p, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	original := factory.last.Load()
	p.Close(context.Background())

	c.SoftEvictConnections()

	p2, err := c.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	defer p2.Close(context.Background())

	waitUntil(t, time.Second, func() bool { return original.closed.Load() })
	if factory.created.Load() < 2 {
		t.Fatal("expected the soft-evicted entry to be replaced by a freshly created one")
	}
}

func TestClosePoolIsIdempotentAndUnblocksWaiters(t *testing.T) {
	factory := &stubFactory{}
	c, err := New(factory, alwaysAliveProber{}, nil, nil, nil, Options{
		MaximumPoolSize:         1,
		MinimumIdleExplicitZero: true,
		ConnectionTimeout:       2 * time.Second,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Start()

	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got: %v", err)
	}

	if _, err := c.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after Close, got %v", err)
	}
}
