// Package metricstest records metrics in memory for assertions in tests.
package metricstest

import (
	"context"
	"testing"

	"github.com/crashstats/antenna/internal/metrics"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Recorder reads back what a Metrics facade recorded. Values are
// cumulative since the Recorder was created.
type Recorder struct {
	t      testing.TB
	reader *sdkmetric.ManualReader
	prefix string
}

// New returns a Metrics facade using prefix and a Recorder for it.
func New(t testing.TB, prefix string) (*metrics.Metrics, *Recorder) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	return metrics.New(provider, prefix), &Recorder{t: t, reader: reader, prefix: prefix}
}

func (r *Recorder) collect() map[string]metricdata.Aggregation {
	r.t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(r.t, r.reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func (r *Recorder) fullName(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + "." + key
}

// Counter returns the total of counter key, or 0 if it was never
// incremented.
func (r *Recorder) Counter(key string) int64 {
	r.t.Helper()
	sum, ok := r.collect()[r.fullName(key)].(metricdata.Sum[int64])
	if !ok {
		return 0
	}

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// HistogramCount returns how many values histogram key recorded.
func (r *Recorder) HistogramCount(key string) uint64 {
	r.t.Helper()
	hist, ok := r.collect()[r.fullName(key)].(metricdata.Histogram[float64])
	if !ok {
		return 0
	}

	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

// HistogramSum returns the sum of the values histogram key recorded.
func (r *Recorder) HistogramSum(key string) float64 {
	r.t.Helper()
	hist, ok := r.collect()[r.fullName(key)].(metricdata.Histogram[float64])
	if !ok {
		return 0
	}

	var sum float64
	for _, dp := range hist.DataPoints {
		sum += dp.Sum
	}
	return sum
}

// Gauge returns the last value of gauge key and whether it was set.
func (r *Recorder) Gauge(key string) (int64, bool) {
	r.t.Helper()
	g, ok := r.collect()[r.fullName(key)].(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 {
		return 0, false
	}
	return g.DataPoints[0].Value, true
}
