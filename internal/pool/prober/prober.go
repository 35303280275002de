// Package prober implements the aliveness probe from spec §4.5: prefer a
// driver-native IsValid-style check, cache whether the driver supports
// one, and fall back to a configured test query otherwise.
package prober

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/webitel/connpool/internal/pool/entry"
)

// Pinger is implemented by raw connections with a native liveness check
// (pgconn.PgConn.Ping, etc.). Prober prefers this over a test query.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ErrProbeUnsupported is the error a Pinger implementation should wrap or
// return when it structurally cannot perform a native liveness check
// (e.g. the driver build doesn't implement it), as opposed to an
// ordinary network/connection failure. Only this case disables the
// driverID's capability pool-wide; a plain Ping failure means this one
// connection is dead and is reported not-alive without touching the
// cache.
var ErrProbeUnsupported = errors.New("prober: native liveness probe not supported")

// QueryProber is implemented by raw connections that can run an
// arbitrary validation query when no native Ping is available.
type QueryProber interface {
	Exec(ctx context.Context, query string) error
}

// Prober runs the aliveness probe bounded by validationTimeout, skipping
// very recently released entries (aliveBypassWindow) to reduce overhead.
type Prober struct {
	logger             *slog.Logger
	validationTimeout  time.Duration
	connectionTestSQL  string
	aliveBypassWindow  time.Duration
	capabilities       *lru.Cache[string, bool] // driverID -> supports native Ping
	regressionLoggedMu sync.Mutex
	regressionLogged   map[string]bool
}

// Options configures a Prober.
type Options struct {
	ValidationTimeout time.Duration
	ConnectionTestSQL string
	AliveBypassWindow time.Duration // defaults to 500ms, per spec §9
	CapabilityCache   int           // LRU size; defaults to 64 distinct driver identities
}

// New constructs a Prober. logger may be nil (defaults to slog.Default).
func New(logger *slog.Logger, opts Options) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AliveBypassWindow <= 0 {
		opts.AliveBypassWindow = 500 * time.Millisecond
	}
	if opts.CapabilityCache <= 0 {
		opts.CapabilityCache = 64
	}
	cache, _ := lru.New[string, bool](opts.CapabilityCache)
	return &Prober{
		logger:            logger,
		validationTimeout: opts.ValidationTimeout,
		connectionTestSQL: opts.ConnectionTestSQL,
		aliveBypassWindow: opts.AliveBypassWindow,
		capabilities:      cache,
		regressionLogged:  make(map[string]bool),
	}
}

// ShouldBypass reports whether an entry released at lastAccessedMs is
// recent enough (within aliveBypassWindow of nowMs) to skip probing.
func (p *Prober) ShouldBypass(nowMs, lastAccessedMs int64) bool {
	return time.Duration(nowMs-lastAccessedMs)*time.Millisecond < p.aliveBypassWindow
}

// IsAlive runs the probe against conn, identified by driverID (the
// controller passes its factory's DSN) for capability caching purposes. The probe never
// runs longer than validationTimeout.
func (p *Prober) IsAlive(ctx context.Context, driverID string, conn entry.RawConn) bool {
	ctx, cancel := context.WithTimeout(ctx, p.validationTimeout)
	defer cancel()

	if pinger, ok := conn.(Pinger); ok {
		if supports, found := p.capabilities.Get(driverID); !found || supports {
			err := pinger.Ping(ctx)
			switch {
			case err == nil:
				p.capabilities.Add(driverID, true)
				return true
			case errors.Is(err, ErrProbeUnsupported):
				p.capabilities.Add(driverID, false)
				p.logCapabilityRegression(driverID, "isValid")
			default:
				// The driver supports native probing; this particular
				// connection just failed it, which is the normal signal
				// for a stale entry. Report not-alive without touching
				// the capability cache so later, healthy connections of
				// the same driverID still get probed.
				return false
			}
		}
	}

	if qp, ok := conn.(QueryProber); ok && p.connectionTestSQL != "" {
		return qp.Exec(ctx, p.connectionTestSQL) == nil
	}

	// Neither a native check nor a configured test query: there is no
	// way to validate this connection, so assume it's alive rather than
	// evicting healthy entries on every acquisition.
	p.logCapabilityRegression(driverID, "no-validation-method")
	return true
}

// logCapabilityRegression logs the first time a driver's capability
// regresses (or is found absent), then stays silent for that driver.
func (p *Prober) logCapabilityRegression(driverID, capability string) {
	p.regressionLoggedMu.Lock()
	defer p.regressionLoggedMu.Unlock()

	key := driverID + ":" + capability
	if p.regressionLogged[key] {
		return
	}
	p.regressionLogged[key] = true
	p.logger.Warn("DRIVER_CAPABILITY_UNAVAILABLE", slog.String("driver", driverID), slog.String("capability", capability))
}
