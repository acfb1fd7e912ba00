package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all bridge metric instruments.
type Metrics struct {
	RequestDuration   metric.Float64Histogram
	ItemStoreDuration metric.Float64Histogram
	MutationsApplied  metric.Int64Counter
	MutationsSkipped  metric.Int64Counter
	AuthFailures      metric.Int64Counter
	RateLimitRejects  metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("zotbridge.request.duration",
		metric.WithDescription("Bridge request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ItemStoreDuration, err = meter.Float64Histogram("zotbridge.itemstore.duration",
		metric.WithDescription("Item store call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.MutationsApplied, err = meter.Int64Counter("zotbridge.mutations.applied",
		metric.WithDescription("Tag and note mutations that changed item state"),
	)
	if err != nil {
		return nil, err
	}

	m.MutationsSkipped, err = meter.Int64Counter("zotbridge.mutations.skipped",
		metric.WithDescription("Idempotent mutations skipped because nothing changed"),
	)
	if err != nil {
		return nil, err
	}

	m.AuthFailures, err = meter.Int64Counter("zotbridge.auth.failures",
		metric.WithDescription("Requests rejected for a missing or wrong token"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("zotbridge.ratelimit.rejects",
		metric.WithDescription("Requests rejected by the auth-failure rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
