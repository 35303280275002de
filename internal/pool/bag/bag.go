// Package bag implements the ConcurrentBag: the multi-producer/multi-
// consumer handoff structure that brokers PoolEntries between borrowers.
// It prefers thread-local reuse, falls back to a full scan, and finally
// parks the caller on a per-waiter rendezvous channel with a deadline.
//
// Correctness never depends on the local cache or on handoff delivery
// ordering: every candidate, from whatever source, is only acquired via
// entry.CompareAndSet. The cache and the rendezvous are both pure
// latency optimizations ("preference, never correctness").
package bag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/connpool/internal/pool/entry"
)

// Bag is the concurrent handoff structure. The zero value is not usable;
// construct with New.
type Bag struct {
	mu   sync.RWMutex
	list []*entry.Entry

	waitersMu sync.Mutex
	waiters   []chan *entry.Entry
	waiting   atomic.Int64

	// localCache approximates HikariCP's ThreadLocal<FastList<PoolEntry>>
	// using sync.Pool: a per-P cache of recently-released entries that
	// the Go runtime is free to drop under memory pressure, giving the
	// same "preference, not a pin" property as a weak reference would.
	localCache sync.Pool
}

// New returns an empty Bag.
func New() *Bag {
	b := &Bag{}
	b.localCache.New = func() any {
		s := make([]*entry.Entry, 0, 8)
		return &s
	}
	return b
}

// Add appends a newly created entry to the shared list and, if any
// borrower is currently parked, offers it directly through the handoff
// rendezvous so the new entry doesn't have to wait for a scan to be
// discovered.
func (b *Bag) Add(e *entry.Entry) {
	b.mu.Lock()
	b.list = append(b.list, e)
	b.mu.Unlock()

	if b.waiting.Load() > 0 {
		b.handoff(e)
	}
}

// Borrow returns an entry whose state CAS NotInUse->InUse succeeds, or
// nil if ctx is done or deadline elapses first. It never blocks past the
// earlier of ctx's deadline and the deadline parameter.
func (b *Bag) Borrow(ctx context.Context, deadline time.Time) *entry.Entry {
	if e := b.borrowFromLocalCache(); e != nil {
		return e
	}

	// Register as a waiter, and bump waiting, before scanning the shared
	// list rather than after: if a releaser's Requite/Add ran in the gap
	// between the scan and this registration, it would see waiting==0,
	// skip the handoff, and leave the freed entry to be found only by a
	// scan nobody performs again before the deadline. Registering first
	// closes that lost-wakeup window (HikariCP bumps waiters.incrementAndGet
	// before its own bag scan for the same reason).
	ch := make(chan *entry.Entry, 1)
	b.registerWaiter(ch)
	b.waiting.Add(1)
	defer func() {
		b.waiting.Add(-1)
		b.unregisterWaiter(ch)
	}()

	if e := b.borrowFromSharedList(); e != nil {
		return e
	}
	return b.awaitHandoff(ctx, deadline, ch)
}

func (b *Bag) borrowFromLocalCache() *entry.Entry {
	stackPtr := b.localCache.Get().(*[]*entry.Entry)
	defer b.localCache.Put(stackPtr)

	stack := *stackPtr
	for i := len(stack) - 1; i >= 0; i-- {
		candidate := stack[i]
		stack = stack[:i]
		*stackPtr = stack
		if candidate.CompareAndSet(entry.NotInUse, entry.InUse) {
			return candidate
		}
	}
	*stackPtr = stack
	return nil
}

func (b *Bag) borrowFromSharedList() *entry.Entry {
	for _, candidate := range b.Values() {
		if candidate.CompareAndSet(entry.NotInUse, entry.InUse) {
			return candidate
		}
	}
	return nil
}

// awaitHandoff waits on ch, already registered by the caller, for a
// handed-off entry until deadline or ctx is done.
func (b *Bag) awaitHandoff(ctx context.Context, deadline time.Time, ch chan *entry.Entry) *entry.Entry {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		select {
		case candidate, ok := <-ch:
			if !ok {
				return nil // pool closed, rendezvous torn down
			}
			if candidate.CompareAndSet(entry.NotInUse, entry.InUse) {
				return candidate
			}
			// Lost the race to a concurrent scanner. handoff removed ch
			// from the waiter list when it delivered, so register it again
			// before waiting out the rest of the deadline, and rescan in
			// case an entry was released while ch was unregistered.
			b.registerWaiter(ch)
			if e := b.borrowFromSharedList(); e != nil {
				return e
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bag) registerWaiter(ch chan *entry.Entry) {
	b.waitersMu.Lock()
	b.waiters = append(b.waiters, ch)
	b.waitersMu.Unlock()
}

func (b *Bag) unregisterWaiter(ch chan *entry.Entry) {
	b.waitersMu.Lock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			break
		}
	}
	b.waitersMu.Unlock()
}

// handoff delivers e to one parked waiter, non-blocking. If no waiter
// accepts it (all channels full, or none left), the entry stays
// discoverable via the shared-list scan — callers must not assume
// handoff delivery is guaranteed.
func (b *Bag) handoff(e *entry.Entry) {
	b.waitersMu.Lock()
	var target chan *entry.Entry
	if n := len(b.waiters); n > 0 {
		target = b.waiters[0]
		b.waiters = b.waiters[1:]
	}
	b.waitersMu.Unlock()

	if target == nil {
		return
	}
	select {
	case target <- e:
	default:
		// Waiter's buffer of 1 was already filled by a racing handoff;
		// the entry remains visible via the shared-list scan.
	}
}

// Requite returns a borrowed entry to NotInUse, prefers it for the next
// local borrow on this P, and hands it directly to a parked waiter if
// one exists.
func (b *Bag) Requite(e *entry.Entry) bool {
	if !e.CompareAndSet(entry.InUse, entry.NotInUse) {
		return false
	}

	stackPtr := b.localCache.Get().(*[]*entry.Entry)
	stack := *stackPtr
	if len(stack) < cap(stack) {
		stack = append(stack, e)
	}
	*stackPtr = stack
	b.localCache.Put(stackPtr)

	if b.waiting.Load() > 0 {
		b.handoff(e)
	}
	return true
}

// Reserve claims a currently-free entry for housekeeping teardown,
// without publishing it as borrowable.
func (b *Bag) Reserve(e *entry.Entry) bool {
	return e.CompareAndSet(entry.NotInUse, entry.Reserved)
}

// Unreserve aborts a reservation, returning the entry to service.
func (b *Bag) Unreserve(e *entry.Entry) bool {
	return e.CompareAndSet(entry.Reserved, entry.NotInUse)
}

// Remove marks e Removed and drops it from the shared list before
// returning. Precondition: caller holds e InUse or Reserved. An entry
// already Removed is dropped from the list and reports true; an entry in
// any other state (e.g. NotInUse) is left untouched and reports false.
func (b *Bag) Remove(e *entry.Entry) bool {
	if !e.CompareAndSet(entry.InUse, entry.Removed) && !e.CompareAndSet(entry.Reserved, entry.Removed) {
		if e.State() != entry.Removed {
			return false
		}
	}

	b.mu.Lock()
	for i, candidate := range b.list {
		if candidate == e {
			b.list = append(b.list[:i], b.list[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return true
}

// Values returns a read-only snapshot of all non-removed entries, for
// housekeeping scans and stats.
func (b *Bag) Values() []*entry.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*entry.Entry, len(b.list))
	copy(out, b.list)
	return out
}

// WaitingThreadCount is the number of goroutines currently inside Borrow
// past the local-cache check: scanning the shared list or parked on the
// handoff.
func (b *Bag) WaitingThreadCount() int64 { return b.waiting.Load() }

// Count returns the number of entries currently in the given state.
func (b *Bag) Count(state entry.State) int {
	n := 0
	for _, e := range b.Values() {
		if e.State() == state {
			n++
		}
	}
	return n
}

// Total is the number of non-removed entries currently tracked.
func (b *Bag) Total() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.list)
}

// Close tears down the handoff rendezvous: every parked waiter receives
// a closed channel and returns nil from Borrow. Safe to call once; a
// second call is a no-op since the waiter list is already empty.
func (b *Bag) Close() {
	b.waitersMu.Lock()
	waiters := b.waiters
	b.waiters = nil
	b.waitersMu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}
