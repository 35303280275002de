package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// OTel records pool observability via the OpenTelemetry metrics API:
// acquisition wait time as a histogram, and active/idle/waiting as
// observable gauges sampled from the last snapshot the controller
// reported — the same acquire/release-site instrumentation pattern the
// retrieved pack's connection-pool implementations drive Prometheus
// counters from, expressed through otel/metric instead.
type OTel struct {
	acquireWait   metric.Float64Histogram
	createTotal   metric.Int64Counter
	createFailure metric.Int64Counter
	timeoutTotal  metric.Int64Counter

	active  atomic.Int64
	idle    atomic.Int64
	waiting atomic.Int64
	total   atomic.Int64
}

// NewOTel builds an OTel sink registered against meter, named following
// the "connpool." prefix convention.
func NewOTel(meter metric.Meter) (*OTel, error) {
	o := &OTel{}

	var err error
	if o.acquireWait, err = meter.Float64Histogram(
		"connpool.acquire.wait",
		metric.WithDescription("Time spent waiting for a connection to become available"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if o.createTotal, err = meter.Int64Counter("connpool.connections.created"); err != nil {
		return nil, err
	}
	if o.createFailure, err = meter.Int64Counter("connpool.connections.create_failures"); err != nil {
		return nil, err
	}
	if o.timeoutTotal, err = meter.Int64Counter("connpool.acquire.timeouts"); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge("connpool.connections.active",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(o.active.Load())
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge("connpool.connections.idle",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(o.idle.Load())
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge("connpool.threads.waiting",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(o.waiting.Load())
			return nil
		})); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge("connpool.connections.total",
		metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
			obs.Observe(o.total.Load())
			return nil
		})); err != nil {
		return nil, err
	}

	return o, nil
}

func (o *OTel) RecordAcquire(wait time.Duration) {
	o.acquireWait.Record(context.Background(), float64(wait.Milliseconds()))
}

func (o *OTel) RecordTimeout() {
	o.timeoutTotal.Add(context.Background(), 1)
}

func (o *OTel) RecordCreate(ok bool) {
	if ok {
		o.createTotal.Add(context.Background(), 1)
		return
	}
	o.createFailure.Add(context.Background(), 1)
}

func (o *OTel) RecordSnapshot(s Snapshot) {
	o.active.Store(int64(s.Active))
	o.idle.Store(int64(s.Idle))
	o.waiting.Store(int64(s.Waiting))
	o.total.Store(int64(s.Total))
}
