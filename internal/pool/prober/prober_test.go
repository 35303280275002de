package prober

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeConn struct {
	pingErr error
}

func (fakeConn) Close() error                        { return nil }
func (c fakeConn) Ping(ctx context.Context) error     { return c.pingErr }

func TestIsAlivePrefersPing(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second})
	if !p.IsAlive(context.Background(), "pg", fakeConn{}) {
		t.Fatal("expected a healthy connection to report alive")
	}
}

func TestIsAliveFailsOnPingError(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second})
	if p.IsAlive(context.Background(), "pg", fakeConn{pingErr: errors.New("down")}) {
		t.Fatal("expected a failing ping to report not-alive")
	}
}

func TestIsAliveKeepsProbingAfterAnOrdinaryPingFailure(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second})

	if p.IsAlive(context.Background(), "pg", fakeConn{pingErr: errors.New("connection reset")}) {
		t.Fatal("expected the dead connection to report not-alive")
	}
	// A plain ping failure must not disable native probing for the
	// driverID: the next, healthy connection should still be pinged.
	if !p.IsAlive(context.Background(), "pg", fakeConn{}) {
		t.Fatal("expected a later healthy connection of the same driver to still be probed and report alive")
	}
}

type pingAndQueryConn struct {
	pingErr error
	execErr error
}

func (pingAndQueryConn) Close() error                            { return nil }
func (c pingAndQueryConn) Ping(ctx context.Context) error         { return c.pingErr }
func (c pingAndQueryConn) Exec(ctx context.Context, q string) error { return c.execErr }

func TestIsAliveDisablesCapabilityOnlyWhenProbeUnsupported(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second, ConnectionTestSQL: "SELECT 1"})

	if !p.IsAlive(context.Background(), "odbc", pingAndQueryConn{pingErr: ErrProbeUnsupported}) {
		t.Fatal("expected the test-query fallback to report alive once native probing is marked unsupported")
	}
	if supports, found := p.capabilities.Get("odbc"); !found || supports {
		t.Fatalf("expected capability to be recorded unsupported, got found=%v supports=%v", found, supports)
	}
}

type queryOnlyConn struct {
	execErr error
}

func (queryOnlyConn) Close() error { return nil }
func (c queryOnlyConn) Exec(ctx context.Context, query string) error { return c.execErr }

func TestIsAliveFallsBackToTestQuery(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second, ConnectionTestSQL: "SELECT 1"})
	if !p.IsAlive(context.Background(), "odbc", queryOnlyConn{}) {
		t.Fatal("expected test-query fallback to succeed")
	}
	if p.IsAlive(context.Background(), "odbc", queryOnlyConn{execErr: errors.New("bad")}) {
		t.Fatal("expected failing test query to report not-alive")
	}
}

func TestShouldBypassRecentRelease(t *testing.T) {
	p := New(nil, Options{ValidationTimeout: time.Second, AliveBypassWindow: 500 * time.Millisecond})
	if !p.ShouldBypass(1000, 700) {
		t.Fatal("a release 300ms ago should be within the bypass window")
	}
	if p.ShouldBypass(2000, 700) {
		t.Fatal("a release 1300ms ago should not be within a 500ms bypass window")
	}
}
