// Package housekeeper implements the periodic eviction and top-up task
// from spec §4.6: idle/aged entry reclamation, minimumIdle replenishment,
// and clock-regression detection.
package housekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/webitel/connpool/internal/pool/bag"
	"github.com/webitel/connpool/internal/pool/clock"
	"github.com/webitel/connpool/internal/pool/entry"
)

// Pool is the subset of PoolController the HouseKeeper drives. Kept as a
// narrow interface (the "mediator" the original design note calls for)
// so housekeeper can be tested without a full controller.
type Pool interface {
	Bag() *bag.Bag
	MinimumIdle() int
	IdleTimeoutMs() int64
	Clock() clock.Clock
	Logger() *slog.Logger
	CloseAndRemove(e *entry.Entry)
	TopUp(ctx context.Context, n int)
	SoftEvictAll()
}

// HouseKeeper runs the periodic maintenance tick on its own goroutine.
type HouseKeeper struct {
	pool   Pool
	config config

	stopCh chan struct{}
	doneCh chan struct{}

	lastTickMs int64
}

type config struct {
	period             time.Duration
	allowedBackwardsMs int64
	forwardToleranceMs int64
}

// Option configures a HouseKeeper.
type Option func(*config)

// WithPeriod sets the tick interval (spec default: 30s).
func WithPeriod(d time.Duration) Option {
	return func(c *config) { c.period = d }
}

// WithAllowedClockBackwards sets how far the clock may regress between
// ticks before it's treated as a suspicious jump.
func WithAllowedClockBackwards(d time.Duration) Option {
	return func(c *config) { c.allowedBackwardsMs = d.Milliseconds() }
}

// New constructs a HouseKeeper bound to pool. It does not start running
// until Start is called.
func New(pool Pool, opts ...Option) *HouseKeeper {
	c := config{
		period:             30 * time.Second,
		allowedBackwardsMs: 1000,
		forwardToleranceMs: 5000,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return &HouseKeeper{
		pool:   pool,
		config: c,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the periodic tick loop on a new goroutine. Calling Start
// more than once is not supported.
func (h *HouseKeeper) Start() {
	h.lastTickMs = h.pool.Clock().NowMs()
	go h.loop()
}

// Stop signals the tick loop to exit and waits for it to do so.
func (h *HouseKeeper) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *HouseKeeper) loop() {
	defer close(h.doneCh)

	ticker := time.NewTicker(h.config.period)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HouseKeeper) tick() {
	now := h.pool.Clock().NowMs()
	logger := h.pool.Logger()

	if h.clockRegressed(now) {
		logger.Warn("HOUSEKEEPER_CLOCK_JUMP", slog.Int64("previous_ms", h.lastTickMs), slog.Int64("now_ms", now))
		h.pool.SoftEvictAll()
	}
	h.lastTickMs = now

	h.evictExpiredAndIdle(now)
	h.topUp()
}

func (h *HouseKeeper) clockRegressed(now int64) bool {
	if now < h.lastTickMs-h.config.allowedBackwardsMs {
		return true
	}
	maxForward := h.lastTickMs + h.config.period.Milliseconds() + h.config.forwardToleranceMs
	return now > maxForward
}

// evictExpiredAndIdle reserves and removes NotInUse entries that have
// exceeded maxLifetime, or that have been idle past idleTimeout while the
// pool holds more than minimumIdle entries.
func (h *HouseKeeper) evictExpiredAndIdle(now int64) {
	b := h.pool.Bag()
	minIdle := h.pool.MinimumIdle()
	idleTimeoutMs := h.pool.IdleTimeoutMs()

	values := b.Values()
	poolSize := len(values)

	for _, e := range values {
		if e.State() != entry.NotInUse {
			continue
		}

		aged := e.ExceedsLifetime(now)
		idle := idleTimeoutMs > 0 && poolSize > minIdle && (now-e.LastAccessedMs()) > idleTimeoutMs

		if !aged && !idle {
			continue
		}
		if !b.Reserve(e) {
			continue // lost the race to a concurrent borrower
		}
		h.pool.CloseAndRemove(e)
		poolSize--
	}
}

func (h *HouseKeeper) topUp() {
	b := h.pool.Bag()
	minIdle := h.pool.MinimumIdle()
	if minIdle <= 0 {
		return
	}
	deficit := minIdle - b.Count(entry.NotInUse)
	if deficit > 0 {
		h.pool.TopUp(context.Background(), deficit)
	}
}
