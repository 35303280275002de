// Package metrics defines the MetricsSink contract (spec §1's external
// observability collaborator) and ships two adapters: a no-op default
// and an OpenTelemetry-backed recorder.
package metrics

import "time"

// Snapshot is the point-in-time pool state a Sink is asked to record.
type Snapshot struct {
	Active  int
	Idle    int
	Waiting int
	Total   int
}

// Sink receives pool observability events. Implementations must not
// block the caller for any meaningful amount of time: Record* is called
// from the acquire/release hot path.
type Sink interface {
	// RecordAcquire is called once per successful getConnection, with the
	// total time spent (including any retries against stale entries).
	RecordAcquire(wait time.Duration)
	// RecordTimeout is called once per getConnection that reached its
	// deadline, whether it then failed with TIMEOUT or CONNECTION_FAILURE.
	RecordTimeout()
	// RecordCreate is called once per connection creation attempt, ok
	// indicating success.
	RecordCreate(ok bool)
	// RecordSnapshot is called by the controller after a successful
	// borrow, a release, and a successful connection creation.
	RecordSnapshot(s Snapshot)
}

// Noop discards everything. It is the default Sink.
type Noop struct{}

func (Noop) RecordAcquire(time.Duration)  {}
func (Noop) RecordTimeout()               {}
func (Noop) RecordCreate(bool)            {}
func (Noop) RecordSnapshot(Snapshot)      {}
