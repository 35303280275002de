package clock

import (
	"sync/atomic"
	"time"
)

// Fake is a Clock stub for tests: time only moves when Advance/Set is
// called, never on its own.
type Fake struct {
	nanos atomic.Int64
}

// NewFake returns a Fake clock initialized to t.
func NewFake(t time.Time) *Fake {
	f := &Fake{}
	f.nanos.Store(t.UnixNano())
	return f
}

func (f *Fake) Now() time.Time { return time.Unix(0, f.nanos.Load()) }
func (f *Fake) NowMs() int64   { return f.nanos.Load() / int64(time.Millisecond) }

// Advance moves the clock forward (or backward, for regression tests) by d.
func (f *Fake) Advance(d time.Duration) { f.nanos.Add(int64(d)) }

// Set pins the clock to an absolute instant.
func (f *Fake) Set(t time.Time) { f.nanos.Store(t.UnixNano()) }
