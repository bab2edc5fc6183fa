// Package observe holds the OpenTelemetry instruments recorded by the linking
// engine. Tests should use NewMetrics with their own MeterProvider; production
// code can use DefaultMetrics, which binds to the global provider.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/japaniel/lexlink"

// Metrics holds the instruments. All fields are safe for concurrent use.
type Metrics struct {
	// LinksCreated counts spans written by createLink. Attribute "action":
	// insert or update.
	LinksCreated metric.Int64Counter

	// StatusChanges counts status transitions. Attributes "from", "to".
	StatusChanges metric.Int64Counter

	// LinksRemoved counts removeLink calls that deleted a record.
	LinksRemoved metric.Int64Counter

	// Conflicts counts confirmations blocked by a confirmed span.
	Conflicts metric.Int64Counter

	// SuggestionsAdmitted and SuggestionsDropped count generator candidates
	// after overlap resolution.
	SuggestionsAdmitted metric.Int64Counter
	SuggestionsDropped  metric.Int64Counter

	// PersistenceRetries counts retried storage calls. Attribute "op".
	PersistenceRetries metric.Int64Counter

	// PersistenceFailures counts storage calls that failed for good. Attribute "op".
	PersistenceFailures metric.Int64Counter

	// RegenerationDuration tracks suggestion regeneration per text.
	RegenerationDuration metric.Float64Histogram
}

var durationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LinksCreated, err = m.Int64Counter("lexlink.links.created",
		metric.WithDescription("Links created or updated in place by user action."),
	); err != nil {
		return nil, err
	}
	if met.StatusChanges, err = m.Int64Counter("lexlink.links.status_changes",
		metric.WithDescription("Link status transitions by from and to status."),
	); err != nil {
		return nil, err
	}
	if met.LinksRemoved, err = m.Int64Counter("lexlink.links.removed",
		metric.WithDescription("Links deleted by user action."),
	); err != nil {
		return nil, err
	}
	if met.Conflicts, err = m.Int64Counter("lexlink.links.conflicts",
		metric.WithDescription("Confirmations rejected because a confirmed link overlaps."),
	); err != nil {
		return nil, err
	}
	if met.SuggestionsAdmitted, err = m.Int64Counter("lexlink.suggestions.admitted",
		metric.WithDescription("Generated suggestions stored after overlap resolution."),
	); err != nil {
		return nil, err
	}
	if met.SuggestionsDropped, err = m.Int64Counter("lexlink.suggestions.dropped",
		metric.WithDescription("Generated suggestions discarded by overlap resolution."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceRetries, err = m.Int64Counter("lexlink.persistence.retries",
		metric.WithDescription("Storage calls retried after a transient failure."),
	); err != nil {
		return nil, err
	}
	if met.PersistenceFailures, err = m.Int64Counter("lexlink.persistence.failures",
		metric.WithDescription("Storage calls that failed after all attempts."),
	); err != nil {
		return nil, err
	}
	if met.RegenerationDuration, err = m.Float64Histogram("lexlink.suggestions.regeneration.duration",
		metric.WithDescription("Time to regenerate the suggestions of one text."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a shared Metrics bound to otel.GetMeterProvider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
