package driver

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"github.com/webitel/connpool/internal/pool/entry"
)

// BreakerFactory wraps a ConnectionFactory with a circuit breaker: after a
// run of consecutive dial failures it opens and fails fast instead of
// hammering a downed database, trying a single half-open probe after the
// cooldown. It is the idiomatic Go analogue of HikariCP's ad hoc creation
// backoff, and composes with it — the addConnection executor still paces
// retries, the breaker decides whether an attempt is allowed through at
// all.
type BreakerFactory struct {
	inner ConnectionFactory
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerFactory wraps inner. consecutiveFailures is how many dial
// failures in a row open the breaker; cooldown is how long it stays open
// before allowing a half-open trial.
func NewBreakerFactory(inner ConnectionFactory, consecutiveFailures uint32, cooldown time.Duration) *BreakerFactory {
	settings := gobreaker.Settings{
		Name: "connpool.connect",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		Timeout: cooldown,
	}
	return &BreakerFactory{inner: inner, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (f *BreakerFactory) Connect(ctx context.Context) (entry.RawConn, error) {
	conn, err := f.cb.Execute(func() (any, error) {
		return f.inner.Connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return conn.(entry.RawConn), nil
}

func (f *BreakerFactory) DSN() string { return f.inner.DSN() }

// State exposes the breaker's current state for the admin/metrics
// surface (closed/half-open/open).
func (f *BreakerFactory) State() gobreaker.State { return f.cb.State() }
