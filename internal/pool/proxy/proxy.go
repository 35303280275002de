// Package proxy implements ProxyConnection: the user-facing wrapper
// whose Close returns the underlying PoolEntry to the bag instead of
// closing the raw connection. Its internals are intentionally thin —
// spec §4.3 specifies this component only by its invariants.
package proxy

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/webitel/connpool/internal/pool/driver"
	"github.com/webitel/connpool/internal/pool/entry"
)

// ErrClosed is returned by Raw once Close has run. After Close, MarkDirty
// is ignored and a second Close returns nil.
var ErrClosed = errors.New("connpool: use of connection after close")

// DirtyBit marks a connection property a caller mutated away from the
// pool's default, and that must be reset before the entry is reused.
type DirtyBit uint32

const (
	DirtyAutoCommit DirtyBit = 1 << iota
	DirtyCatalog
	DirtyReadOnly
	DirtyIsolation
	DirtyNetworkTimeout
)

// Resettable is implemented by raw connections that know how to restore
// their session state given the set of properties a caller changed. It
// is optional: a driver that doesn't implement it simply isn't reset
// between borrowers (no dirty-bit tracking is possible without driver
// cooperation, per spec §4.3's "contract only" scope).
type Resettable interface {
	ResetSession(ctx context.Context, dirty DirtyBit) error
}

// Releaser is implemented by the controller: returning an entry to the
// bag and applying the release-time eviction policy (evict flag,
// maxLifetime) is pool-wide policy, not something a single Proxy decides.
type Releaser interface {
	Release(e *entry.Entry)
}

// Proxy is the ProxyConnection: what Controller.Acquire hands to
// borrowers. Its zero value is not usable; construct with New.
type Proxy struct {
	entry      *entry.Entry
	releaser   Releaser
	classifier driver.FatalClassifier

	// synchronousReset mirrors spec §9's MySQL/MariaDB network-timeout
	// quirk: session-reset driver calls run on the goroutine that called
	// Close instead of being handed to a separate worker goroutine. Most
	// drivers tolerate either; the known-buggy ones require the former.
	synchronousReset bool

	closed atomic.Bool
	dirty  atomic.Uint32
}

// New wraps e for a borrower. releaser.Release(e) is called exactly once,
// when Close runs. synchronousReset should be driver.IsSynchronousDriver
// applied to the factory's DSN.
func New(e *entry.Entry, releaser Releaser, classifier driver.FatalClassifier, synchronousReset bool) *Proxy {
	return &Proxy{entry: e, releaser: releaser, classifier: classifier, synchronousReset: synchronousReset}
}

// Raw returns the underlying connection, or ErrClosed if Close has run.
func (p *Proxy) Raw() (entry.RawConn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}
	return p.entry.Conn, nil
}

// Entry exposes the backing PoolEntry, for the controller's own
// bookkeeping (e.g. EvictConnection marking it for eviction). Not part of
// the borrower-facing surface.
func (p *Proxy) Entry() *entry.Entry { return p.entry }

// MarkDirty records that a connection property diverges from the pool's
// default and must be reset on Close.
func (p *Proxy) MarkDirty(bit DirtyBit) {
	if p.closed.Load() {
		return
	}
	p.dirty.Or(uint32(bit))
}

// NoteError inspects an error observed on this connection and, if it is
// connection-fatal, marks the backing entry for eviction instead of
// returning it to the bag clean on Close.
func (p *Proxy) NoteError(err error) {
	if p.classifier.IsFatal(err) {
		p.entry.MarkEvicted()
	}
}

// Close resets dirty session state (if the driver supports it), cancels
// any armed leak timer, and returns the entry to the bag. It is
// idempotent: a second Close is a no-op and returns nil.
func (p *Proxy) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.entry.StopLeakTimer()

	if dirty := DirtyBit(p.dirty.Load()); dirty != 0 {
		if resettable, ok := p.entry.Conn.(Resettable); ok {
			if err := p.resetSession(ctx, resettable, dirty); err != nil {
				p.entry.MarkEvicted()
			}
		}
	}

	p.releaser.Release(p.entry)
	return nil
}

// resetSession issues the driver's session-reset call either inline, on
// the goroutine that called Close (synchronousReset), or on a separate
// goroutine. The caller still waits for the result either way; what
// differs is which goroutine the driver sees the call arrive from, which
// is the axis spec §9's MySQL/MariaDB quirk cares about.
func (p *Proxy) resetSession(ctx context.Context, r Resettable, dirty DirtyBit) error {
	if p.synchronousReset {
		return r.ResetSession(ctx, dirty)
	}
	done := make(chan error, 1)
	go func() { done <- r.ResetSession(ctx, dirty) }()
	return <-done
}
