// Package controller implements the PoolController: the public surface
// that wires the ConcurrentBag, ConnectionFactory, aliveness Prober,
// MetricsSink and HouseKeeper together into the borrow/return engine
// described in spec §4.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/webitel/connpool/internal/pool/bag"
	"github.com/webitel/connpool/internal/pool/clock"
	"github.com/webitel/connpool/internal/pool/driver"
	"github.com/webitel/connpool/internal/pool/entry"
	"github.com/webitel/connpool/internal/pool/housekeeper"
	"github.com/webitel/connpool/internal/pool/metrics"
	"github.com/webitel/connpool/internal/pool/proxy"
)

type lifecycleState int32

const (
	stateNormal lifecycleState = iota
	stateSuspended
	stateShutdown
)

// Controller is the PoolController / HikariPool analogue: the only type
// application code talks to directly.
type Controller struct {
	opts Options

	bag              *bag.Bag
	factory          driver.ConnectionFactory
	classifier       driver.FatalClassifier
	synchronousReset bool
	prober           proberIface
	sink       metrics.Sink
	logger     *slog.Logger
	clk        clock.Clock
	hk         *housekeeper.HouseKeeper

	state     atomic.Int32
	resumeMu  sync.Mutex // guards closing/replacing *resumeCh against a racing ResumePool/Close
	resumeCh  atomic.Pointer[chan struct{}]
	closeOnce sync.Once

	createRequests chan struct{}
	closeRequests  chan *entry.Entry
	workersWG      sync.WaitGroup

	failureMu   sync.RWMutex
	lastFailure error

	consecutiveCreateFailures atomic.Int32
}

// New builds a Controller from factory and opts. It does not start any
// goroutines; call Start to begin housekeeping, warm-up and the
// create/close executors.
func New(factory driver.ConnectionFactory, prb proberIface, sink metrics.Sink, logger *slog.Logger, clk clock.Clock, opts Options) (*Controller, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	if clk == nil {
		clk = clock.Default
	}

	c := &Controller{
		opts:             opts,
		bag:              bag.New(),
		factory:          factory,
		classifier:       driver.FatalClassifier{},
		synchronousReset: driver.IsSynchronousDriver(factory.DSN()),
		prober:           prb,
		sink:             sink,
		logger:           logger,
		clk:              clk,
		createRequests:   make(chan struct{}, opts.MaximumPoolSize),
		closeRequests:    make(chan *entry.Entry, opts.MaximumPoolSize*4),
	}

	ch := make(chan struct{})
	c.resumeCh.Store(&ch)

	c.hk = housekeeper.New(c, housekeeper.WithPeriod(opts.HousekeepingPeriod))

	return c, nil
}

// proberIface is the narrow view of *prober.Prober the controller needs.
// Taking an interface keeps this package free of a prober import and lets
// tests pass a stub (see alwaysAliveProber in controller_test.go).
type proberIface interface {
	ShouldBypass(nowMs, lastAccessedMs int64) bool
	IsAlive(ctx context.Context, driverID string, conn entry.RawConn) bool
}

// Start launches the create/close executors and the housekeeper, then
// requests enough connections to reach minimumIdle. It does not block
// waiting for warm-up to complete.
func (c *Controller) Start() {
	c.workersWG.Add(2)
	go c.createWorker()
	go c.closeWorker()

	c.hk.Start()

	for i := 0; i < c.opts.MinimumIdle; i++ {
		c.requestCreate()
	}
}

// Acquire borrows a connection, honoring ctx's deadline and the
// configured ConnectionTimeout, whichever is sooner.
func (c *Controller) Acquire(ctx context.Context) (*proxy.Proxy, error) {
	return c.acquire(ctx, c.opts.ConnectionTimeout)
}

// AcquireTimeout borrows a connection with an explicit timeout overriding
// the configured ConnectionTimeout (still bounded by ctx's own deadline).
func (c *Controller) AcquireTimeout(ctx context.Context, timeout time.Duration) (*proxy.Proxy, error) {
	return c.acquire(ctx, timeout)
}

func (c *Controller) acquire(ctx context.Context, timeout time.Duration) (*proxy.Proxy, error) {
	start := c.clk.Now()
	deadline := start.Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	for {
		switch lifecycleState(c.state.Load()) {
		case stateShutdown:
			return nil, ErrPoolClosed
		case stateSuspended:
			if err := c.waitForResume(ctx, deadline); err != nil {
				return nil, err
			}
			continue
		}

		if time.Until(deadline) <= 0 {
			return nil, c.timeoutErr()
		}

		c.requestCreate()

		e := c.bag.Borrow(ctx, deadline)
		if e == nil {
			// Close tears down the bag's rendezvous, which also returns nil.
			if lifecycleState(c.state.Load()) == stateShutdown {
				return nil, ErrPoolClosed
			}
			return nil, c.timeoutErr()
		}

		now := c.clk.NowMs()
		if e.EvictRequested() || e.ExceedsLifetime(now) || !c.isAlive(ctx, e, now) {
			c.closeAndRemove(e)
			continue
		}

		e.MarkBorrowed(now)
		if c.opts.LeakDetectionThreshold > 0 {
			id := e.ID
			e.StartLeakTimer(c.opts.LeakDetectionThreshold, func() {
				c.logger.Warn("CONNECTION_LEAK_SUSPECTED",
					slog.String("entry_id", id.String()),
					slog.Duration("threshold", c.opts.LeakDetectionThreshold))
			})
		}

		c.sink.RecordAcquire(c.clk.Now().Sub(start))
		c.publishSnapshot()
		return proxy.New(e, c, c.classifier, c.synchronousReset), nil
	}
}

func (c *Controller) isAlive(ctx context.Context, e *entry.Entry, nowMs int64) bool {
	if c.prober.ShouldBypass(nowMs, e.LastAccessedMs()) {
		return true
	}
	return c.prober.IsAlive(ctx, c.factory.DSN(), e.Conn)
}

func (c *Controller) waitForResume(ctx context.Context, deadline time.Time) error {
	ch := *c.resumeCh.Load()
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return ErrPoolSuspendedTimeout
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		// Close also closes this channel to release parked waiters, so a
		// wakeup doesn't necessarily mean ResumePool ran.
		if lifecycleState(c.state.Load()) == stateShutdown {
			return ErrPoolClosed
		}
		return nil
	case <-timer.C:
		return ErrPoolSuspendedTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) timeoutErr() error {
	c.sink.RecordTimeout()
	failure := c.getLastFailure()
	if c.bag.Total() == 0 && failure != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailure, failure)
	}
	s := c.Stats()
	return fmt.Errorf("%w (active=%d idle=%d waiting=%d total=%d last_failure=%v)",
		ErrTimeout, s.Active, s.Idle, s.Waiting, s.Total, failure)
}

// Release implements proxy.Releaser: it applies the release-time
// eviction policy (evict flag, maxLifetime) before handing the entry
// back to the bag or tearing it down.
func (c *Controller) Release(e *entry.Entry) {
	now := c.clk.NowMs()
	e.MarkReleased(now)

	if e.EvictRequested() || e.ExceedsLifetime(now) {
		c.closeAndRemove(e)
		c.requestCreate()
	} else {
		c.bag.Requite(e)
	}
	c.publishSnapshot()
}

// EvictConnection marks p's backing entry for eviction. If it is idle it
// is torn down immediately; otherwise the eviction happens on Release.
func (c *Controller) EvictConnection(p *proxy.Proxy) {
	e := p.Entry()
	e.MarkEvicted()
	if c.bag.Reserve(e) {
		c.closeAndRemove(e)
	}
}

// SoftEvictConnections marks every currently tracked entry for eviction
// on next release, without interrupting connections in use.
func (c *Controller) SoftEvictConnections() {
	for _, e := range c.bag.Values() {
		e.MarkEvicted()
	}
	c.logger.Info("POOL_SOFT_EVICT_ALL")
}

// SoftEvictAll implements housekeeper.Pool.
func (c *Controller) SoftEvictAll() { c.SoftEvictConnections() }

// SuspendPool stops new acquisitions from succeeding until ResumePool is
// called. Requires AllowPoolSuspension.
func (c *Controller) SuspendPool() error {
	if !c.opts.AllowPoolSuspension {
		return ErrSuspensionNotAllowed
	}
	c.state.CompareAndSwap(int32(stateNormal), int32(stateSuspended))
	return nil
}

// ResumePool releases any acquisitions parked on a suspended pool.
func (c *Controller) ResumePool() error {
	if !c.opts.AllowPoolSuspension {
		return ErrSuspensionNotAllowed
	}
	if c.state.CompareAndSwap(int32(stateSuspended), int32(stateNormal)) {
		c.closeResumeCh()
	}
	return nil
}

// closeResumeCh wakes every goroutine parked in waitForResume and installs
// a fresh channel for the next suspension. Guarded by resumeMu so a
// concurrent Close (which also wakes waiters this way) can never double-
// close the same channel.
func (c *Controller) closeResumeCh() {
	c.resumeMu.Lock()
	defer c.resumeMu.Unlock()

	ch := c.resumeCh.Load()
	select {
	case <-*ch:
		return // already closed by a racing ResumePool/Close
	default:
	}
	close(*ch)
	fresh := make(chan struct{})
	c.resumeCh.Store(&fresh)
}

// Close idempotently shuts the pool down: the housekeeper stops, every
// borrower parked in the bag or on a suspended pool returns
// ErrPoolClosed, and every tracked connection is closed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateShutdown))
		c.hk.Stop()
		c.bag.Close()

		// Wake any borrower parked in waitForResume: it re-checks state
		// after the channel closes and now sees stateShutdown, so it
		// returns ErrPoolClosed instead of sleeping to ErrPoolSuspendedTimeout.
		c.closeResumeCh()

		// Every remaining raw connection is torn down concurrently: at
		// shutdown there's no borrower left to serialize against, and
		// waiting for N sequential network round trips only delays Close.
		var g errgroup.Group
		for _, e := range c.bag.Values() {
			e := e
			c.bag.Remove(e)
			g.Go(func() error {
				return e.Conn.Close()
			})
		}
		_ = g.Wait()

		close(c.createRequests)
		close(c.closeRequests)
		c.workersWG.Wait()
	})
	return nil
}

// IsClosed reports whether Close has run, for health-check surfaces that
// want to report pool lifecycle state without attempting an acquisition.
func (c *Controller) IsClosed() bool {
	return lifecycleState(c.state.Load()) == stateShutdown
}

// Stats returns a point-in-time snapshot of pool composition.
func (c *Controller) Stats() Snapshot {
	return Snapshot{
		Active:  c.bag.Count(entry.InUse),
		Idle:    c.bag.Count(entry.NotInUse),
		Waiting: int(c.bag.WaitingThreadCount()),
		Total:   c.bag.Total(),
	}
}

func (c *Controller) publishSnapshot() {
	s := c.Stats()
	c.sink.RecordSnapshot(metrics.Snapshot{Active: s.Active, Idle: s.Idle, Waiting: s.Waiting, Total: s.Total})
}

// --- housekeeper.Pool ---

func (c *Controller) Bag() *bag.Bag        { return c.bag }
func (c *Controller) MinimumIdle() int     { return c.opts.MinimumIdle }
func (c *Controller) IdleTimeoutMs() int64 { return c.opts.IdleTimeout.Milliseconds() }
func (c *Controller) Clock() clock.Clock   { return c.clk }
func (c *Controller) Logger() *slog.Logger { return c.logger }

func (c *Controller) CloseAndRemove(e *entry.Entry) { c.closeAndRemove(e) }

func (c *Controller) TopUp(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		c.requestCreate()
	}
}

// --- internal helpers ---

// closeAndRemove drops e from the bag and schedules its raw Close on the
// dedicated close executor, matching HikariCP's closeConnectionExecutor:
// the caller's path is never blocked on an actual network teardown.
func (c *Controller) closeAndRemove(e *entry.Entry) {
	c.bag.Remove(e)
	select {
	case c.closeRequests <- e:
	default:
		// Executor's queue is saturated; close synchronously rather than
		// drop the connection on the floor.
		_ = e.Conn.Close()
	}
}

// requestCreate signals the create executor to attempt one connection,
// without blocking. A full queue means a creation attempt is already
// pending, so the signal is redundant and safely dropped.
func (c *Controller) requestCreate() {
	select {
	case c.createRequests <- struct{}{}:
	default:
	}
}

func (c *Controller) closeWorker() {
	defer c.workersWG.Done()
	for e := range c.closeRequests {
		_ = e.Conn.Close()
	}
}

func (c *Controller) createWorker() {
	defer c.workersWG.Done()
	for range c.createRequests {
		c.tryCreateOne()
	}
}

func (c *Controller) tryCreateOne() {
	if c.bag.Total() >= c.opts.MaximumPoolSize {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectionTimeout)
	conn, err := c.factory.Connect(ctx)
	cancel()

	if err != nil {
		c.setLastFailure(err)
		c.sink.RecordCreate(false)
		c.logger.Warn("CONNECTION_CREATE_FAILED", slog.Any("error", err))

		n := c.consecutiveCreateFailures.Add(1)
		c.backoff(n)
		return
	}

	c.consecutiveCreateFailures.Store(0)
	c.setLastFailure(nil)

	now := c.clk.NowMs()
	e := entry.New(conn, now, c.opts.MaxLifetime.Milliseconds())
	c.bag.Add(e)
	c.sink.RecordCreate(true)
	c.publishSnapshot()
}

// backoff sleeps for a duration capped at CreationBackoffCap, doubling
// per consecutive failure. It runs on the dedicated create-executor
// goroutine, so it never stalls a borrower.
func (c *Controller) backoff(consecutiveFailures int32) {
	d := time.Duration(1) << uint(consecutiveFailures) * 100 * time.Millisecond
	if d > c.opts.CreationBackoffCap || d <= 0 {
		d = c.opts.CreationBackoffCap
	}
	time.Sleep(d)
}

func (c *Controller) setLastFailure(err error) {
	c.failureMu.Lock()
	c.lastFailure = err
	c.failureMu.Unlock()
}

func (c *Controller) getLastFailure() error {
	c.failureMu.RLock()
	defer c.failureMu.RUnlock()
	return c.lastFailure
}
