package controller

import "time"

// Options mirrors spec §6's configuration surface field-for-field, using
// the same option names so config files remain bit-compatible. Durations
// are accepted as time.Duration but the zero value for each matches the
// spec's documented "0 = disabled" semantics.
//
// Not every field is read by this package directly: ValidationTimeout,
// ConnectionTestQuery, AliveBypassWindow and BreakerTripThreshold
// configure the Prober and BreakerFactory the caller builds and hands to
// New — they live here so the whole pool is configured from one struct
// instead of three. ConnectionInitSQL is carried here but no component
// runs it on new connections.
type Options struct {
	MaximumPoolSize int // > 0

	// MinimumIdle defaults to MaximumPoolSize when left at 0 by the
	// caller — set MinimumIdleExplicitZero to actually request 0.
	MinimumIdle             int
	MinimumIdleExplicitZero bool

	ConnectionTimeout time.Duration // default 30s, floor 250ms
	IdleTimeout       time.Duration // 0 disables; the 10m default is set by the config loader
	MaxLifetime       time.Duration // 0 disables; the 30m default is set by the config loader
	ValidationTimeout time.Duration // default 5s, must be <= ConnectionTimeout

	LeakDetectionThreshold time.Duration // 0 disables; else >= 2s

	ConnectionTestQuery string
	ConnectionInitSQL   string

	AllowPoolSuspension bool

	AliveBypassWindow    time.Duration // default 500ms
	HousekeepingPeriod   time.Duration // default 30s
	CreationBackoffCap   time.Duration // default 10s
	BreakerTripThreshold uint32        // consecutive create failures to open the breaker; default 5
}

// withDefaults returns a copy of o with documented defaults applied and
// validates the documented invariants.
func (o Options) withDefaults() (Options, error) {
	if o.MaximumPoolSize <= 0 {
		return o, ErrInvalidMaximumPoolSize
	}
	if !o.MinimumIdleExplicitZero && o.MinimumIdle == 0 {
		o.MinimumIdle = o.MaximumPoolSize
	}
	if o.MinimumIdle > o.MaximumPoolSize {
		return o, ErrInvalidMinimumIdle
	}

	if o.ConnectionTimeout == 0 {
		o.ConnectionTimeout = 30 * time.Second
	}
	if o.ConnectionTimeout < 250*time.Millisecond {
		return o, ErrInvalidConnectionTimeout
	}

	explicitValidationTimeout := o.ValidationTimeout != 0
	if o.ValidationTimeout == 0 {
		o.ValidationTimeout = 5 * time.Second
	}
	if o.ValidationTimeout > o.ConnectionTimeout {
		if explicitValidationTimeout {
			return o, ErrInvalidValidationTimeout
		}
		// The 5s default itself exceeds a caller-shortened
		// ConnectionTimeout: clamp rather than reject a config that never
		// mentioned ValidationTimeout at all.
		o.ValidationTimeout = o.ConnectionTimeout
	}

	// IdleTimeout and MaxLifetime keep the spec's "0 means disabled"
	// semantics verbatim at this layer: the 10m/30m defaults from spec §6
	// are applied once, by the config loader, before Options ever reaches
	// New — not hidden here, where a caller explicitly asking for 0 would
	// otherwise silently get a timeout back.

	if o.LeakDetectionThreshold != 0 && o.LeakDetectionThreshold < 2*time.Second {
		return o, ErrInvalidLeakDetectionThreshold
	}

	if o.AliveBypassWindow == 0 {
		o.AliveBypassWindow = 500 * time.Millisecond
	}
	if o.HousekeepingPeriod == 0 {
		o.HousekeepingPeriod = 30 * time.Second
	}
	if o.CreationBackoffCap == 0 {
		o.CreationBackoffCap = 10 * time.Second
	}
	if o.BreakerTripThreshold == 0 {
		o.BreakerTripThreshold = 5
	}

	return o, nil
}
