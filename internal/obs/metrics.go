package obs

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the counters the daemon increments as it applies ops,
// queues them for the remote, and broadcasts sync messages (§4.10's
// sync-lifecycle instrumentation).
type Metrics struct {
	OpsApplied     metric.Int64Counter
	OpsQueued      metric.Int64Counter
	SyncBroadcasts metric.Int64Counter
}

// NewMetrics registers the daemon's counters against meter. Registration
// failures are wrapped with the instrument name so a typo is obvious
// immediately rather than surfacing as a generic metric API error.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	opsApplied, err := meter.Int64Counter("wok.ops.applied",
		metric.WithDescription("operations merged into the local materialized cache"))
	if err != nil {
		return nil, fmt.Errorf("obs: wok.ops.applied: %w", err)
	}
	opsQueued, err := meter.Int64Counter("wok.ops.queued",
		metric.WithDescription("operations appended to the offline outbound queue"))
	if err != nil {
		return nil, fmt.Errorf("obs: wok.ops.queued: %w", err)
	}
	syncBroadcasts, err := meter.Int64Counter("wok.sync.broadcasts",
		metric.WithDescription("sync messages sent to the remote backend"))
	if err != nil {
		return nil, fmt.Errorf("obs: wok.sync.broadcasts: %w", err)
	}
	return &Metrics{
		OpsApplied:     opsApplied,
		OpsQueued:      opsQueued,
		SyncBroadcasts: syncBroadcasts,
	}, nil
}

// NoopMetrics returns a Metrics whose counters discard every
// measurement, for tests and callers that don't want to stand up a full
// MeterProvider.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}
