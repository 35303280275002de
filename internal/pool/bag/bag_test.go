package bag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/webitel/connpool/internal/pool/entry"
)

type stubConn struct{}

func (stubConn) Close() error { return nil }

func newEntry() *entry.Entry { return entry.New(stubConn{}, 0, 0) }

func TestBorrowEmptyBagTimesOut(t *testing.T) {
	b := New()
	start := time.Now()
	got := b.Borrow(context.Background(), start.Add(100*time.Millisecond))
	if got != nil {
		t.Fatal("expected nil from an empty bag")
	}
	if time.Since(start) > time.Second {
		t.Fatal("borrow waited far longer than the deadline")
	}
}

func TestBorrowFindsAddedEntry(t *testing.T) {
	b := New()
	e := newEntry()
	b.Add(e)

	got := b.Borrow(context.Background(), time.Now().Add(time.Second))
	if got != e {
		t.Fatal("expected the added entry back")
	}
	if got.State() != entry.InUse {
		t.Fatalf("borrowed entry must be InUse, got %s", got.State())
	}
}

func TestRequiteMakesEntryBorrowableAgain(t *testing.T) {
	b := New()
	e := newEntry()
	b.Add(e)

	got := b.Borrow(context.Background(), time.Now().Add(time.Second))
	if got == nil {
		t.Fatal("expected to borrow the entry")
	}
	if !b.Requite(got) {
		t.Fatal("requite should succeed for an InUse entry")
	}
	if got.State() != entry.NotInUse {
		t.Fatalf("expected NotInUse after requite, got %s", got.State())
	}

	again := b.Borrow(context.Background(), time.Now().Add(time.Second))
	if again != e {
		t.Fatal("expected to borrow the same entry after requite")
	}
}

func TestHandoffDeliversToParkedWaiter(t *testing.T) {
	b := New()
	result := make(chan *entry.Entry, 1)

	go func() {
		result <- b.Borrow(context.Background(), time.Now().Add(2*time.Second))
	}()

	// Give the waiter time to register before the entry becomes available.
	time.Sleep(50 * time.Millisecond)
	e := newEntry()
	b.Add(e)

	select {
	case got := <-result:
		if got != e {
			t.Fatal("expected the waiter to receive the newly added entry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never received the handed-off entry")
	}
}

func TestRemoveDropsFromValues(t *testing.T) {
	b := New()
	e := newEntry()
	b.Add(e)

	e.CompareAndSet(entry.NotInUse, entry.InUse)
	if !b.Remove(e) {
		t.Fatal("remove of an InUse entry should succeed")
	}
	if e.State() != entry.Removed {
		t.Fatalf("expected Removed, got %s", e.State())
	}
	if len(b.Values()) != 0 {
		t.Fatal("removed entry must not appear in Values")
	}
}

func TestConcurrentBorrowNeverDoubleLeases(t *testing.T) {
	b := New()
	const entries = 8
	for i := 0; i < entries; i++ {
		b.Add(newEntry())
	}

	held := make(map[*entry.Entry]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for worker := 0; worker < 32; worker++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			deadline := time.Now().Add(500 * time.Millisecond)
			e := b.Borrow(context.Background(), deadline)
			if e == nil {
				return
			}
			mu.Lock()
			if held[e] {
				mu.Unlock()
				t.Errorf("entry %s was handed to two borrowers at once", e.ID)
				return
			}
			held[e] = true
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			held[e] = false
			mu.Unlock()
			b.Requite(e)
		}(worker)
	}
	wg.Wait()
}

// TestBorrowNeverMissesAConcurrentRequite races a parking borrower
// against a releaser's Requite with no synchronization delay between
// them, repeated many times. If waiting were incremented only inside the
// handoff wait (after the shared-list scan already came up empty)
// instead of before it, a release landing in that gap would see no
// waiters, skip the handoff, and strand the borrower until its deadline.
func TestBorrowNeverMissesAConcurrentRequite(t *testing.T) {
	for i := 0; i < 200; i++ {
		b := New()
		e := newEntry()
		b.Add(e)

		held := b.Borrow(context.Background(), time.Now().Add(time.Second))
		if held == nil {
			t.Fatalf("round %d: expected to borrow the only entry", i)
		}

		start := make(chan struct{})
		result := make(chan *entry.Entry, 1)
		go func() {
			<-start
			result <- b.Borrow(context.Background(), time.Now().Add(200*time.Millisecond))
		}()
		go func() {
			<-start
			b.Requite(held)
		}()
		close(start)

		select {
		case got := <-result:
			if got != e {
				t.Fatalf("round %d: expected the released entry back, got %v", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("round %d: parked borrower missed a concurrent requite (lost wakeup)", i)
		}
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	b := New()
	result := make(chan *entry.Entry, 1)

	go func() {
		result <- b.Borrow(context.Background(), time.Now().Add(5*time.Second))
	}()

	time.Sleep(50 * time.Millisecond)
	b.Close()

	select {
	case got := <-result:
		if got != nil {
			t.Fatal("expected nil from a waiter unblocked by Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock the parked waiter")
	}
}
