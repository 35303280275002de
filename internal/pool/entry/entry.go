// Package entry implements the pool entry state machine: the bookkeeping
// wrapper around one raw connection. State transitions are the
// linearization point for borrow/release; every field besides state and
// the timestamps is owned by whichever goroutine currently holds the
// entry IN_USE.
package entry

import (
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the PoolEntry lifecycle state. The only legal CAS transitions
// are NotInUse<->InUse, NotInUse<->Reserved, and any->Removed (terminal).
type State int32

const (
	NotInUse State = 0
	InUse    State = 1
	Removed  State = -1
	Reserved State = -2
)

func (s State) String() string {
	switch s {
	case NotInUse:
		return "NOT_IN_USE"
	case InUse:
		return "IN_USE"
	case Removed:
		return "REMOVED"
	case Reserved:
		return "RESERVED"
	default:
		return "UNKNOWN"
	}
}

// RawConn is the opaque handle to a driver connection. The pool never
// inspects it; it only carries it between ConnectionFactory, the
// aliveness prober, and ProxyConnection.
type RawConn interface {
	// Close releases the underlying network/driver resource.
	Close() error
}

// Entry is one pooled connection's bookkeeping record. Identity is
// immutable; state and the timestamps are mutated concurrently via
// atomics.
type Entry struct {
	ID   uuid.UUID
	Conn RawConn

	state atomic.Int32

	createdAtMs     int64
	lastAccessedMs  atomic.Int64
	lastOpenTimeMs  atomic.Int64
	endOfLifeMs int64 // 0 means maxLifetime disabled
	evict       atomic.Bool
	leakTimer   atomic.Pointer[time.Timer]
}

// New constructs an Entry for a freshly created raw connection. nowMs is
// the creation timestamp; maxLifetimeMs is 0 to disable expiry. A small
// random variance (up to 2.5%) is subtracted from endOfLife so that a
// batch of connections created together don't all expire in the same
// instant and stampede the creation executor.
func New(conn RawConn, nowMs int64, maxLifetimeMs int64) *Entry {
	e := &Entry{
		ID:          uuid.New(),
		Conn:        conn,
		createdAtMs: nowMs,
	}
	e.lastAccessedMs.Store(nowMs)
	e.lastOpenTimeMs.Store(nowMs)
	if maxLifetimeMs > 0 {
		var variance int64
		if n := maxLifetimeMs / 40; n > 0 {
			variance = rand.Int64N(n) // up to 2.5%
		}
		e.endOfLifeMs = nowMs + maxLifetimeMs - variance
	}
	return e
}

func (e *Entry) State() State { return State(e.state.Load()) }

// CompareAndSet attempts the CAS from expected to target, enforcing the
// legal-transition table from spec §3. It is the sole mutator of state.
func (e *Entry) CompareAndSet(expected, target State) bool {
	if !legalTransition(expected, target) {
		return false
	}
	return e.state.CompareAndSwap(int32(expected), int32(target))
}

func legalTransition(from, to State) bool {
	if to == Removed {
		return true // terminal, reachable from any state
	}
	switch {
	case from == NotInUse && to == InUse:
		return true
	case from == NotInUse && to == Reserved:
		return true
	case from == InUse && to == NotInUse:
		return true
	case from == Reserved && to == NotInUse:
		return true
	default:
		return false
	}
}

// CreatedAtMs is immutable after construction.
func (e *Entry) CreatedAtMs() int64 { return e.createdAtMs }

func (e *Entry) LastAccessedMs() int64    { return e.lastAccessedMs.Load() }
func (e *Entry) touchAccessed(nowMs int64) { e.lastAccessedMs.Store(nowMs) }

func (e *Entry) LastOpenTimeMs() int64 { return e.lastOpenTimeMs.Load() }

// MarkBorrowed records lastOpenTime; called by the controller once a
// borrow's CAS to InUse succeeds.
func (e *Entry) MarkBorrowed(nowMs int64) { e.lastOpenTimeMs.Store(nowMs) }

// MarkReleased records lastAccessed; called on release regardless of the
// entry's destination (NotInUse or Removed).
func (e *Entry) MarkReleased(nowMs int64) { e.touchAccessed(nowMs) }

// EndOfLifeMs is 0 if maxLifetime is disabled for this entry.
func (e *Entry) EndOfLifeMs() int64 { return e.endOfLifeMs }

// ExceedsLifetime reports whether nowMs has reached or passed endOfLife.
func (e *Entry) ExceedsLifetime(nowMs int64) bool {
	return e.endOfLifeMs != 0 && nowMs >= e.endOfLifeMs
}

// MarkEvicted requests eviction on next release (soft evict).
func (e *Entry) MarkEvicted() { e.evict.Store(true) }

// EvictRequested reports whether a soft eviction was requested.
func (e *Entry) EvictRequested() bool { return e.evict.Load() }

// StartLeakTimer arms a one-shot timer that invokes onLeak if the entry
// is not released before d elapses. Arming a new timer stops any previous
// one; cancellation goes through StopLeakTimer.
func (e *Entry) StartLeakTimer(d time.Duration, onLeak func()) {
	if d <= 0 {
		return
	}
	t := time.AfterFunc(d, onLeak)
	if prev := e.leakTimer.Swap(t); prev != nil {
		prev.Stop()
	}
}

// StopLeakTimer cancels any armed leak timer. Safe to call when none is
// armed.
func (e *Entry) StopLeakTimer() {
	if t := e.leakTimer.Swap(nil); t != nil {
		t.Stop()
	}
}
