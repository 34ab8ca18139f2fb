package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"

	exportInterval = 30 * time.Second
)

// NewProvider builds the process meter provider for the given exporter. The
// returned shutdown func flushes pending data.
func NewProvider(exporter string) (metric.MeterProvider, func(context.Context) error, error) {
	switch exporter {
	case ExporterNone, "":
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	case ExporterStdout:
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, errors.Wrap(err, "create stdout metric exporter")
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(exportInterval))),
		)
		return mp, mp.Shutdown, nil
	default:
		return nil, nil, errors.Newf("unknown metrics exporter %q", exporter)
	}
}

// Metrics is a statsd-style facade over an OpenTelemetry meter. Instrument
// names are "<prefix>.<name>" and are created on first use.
type Metrics struct {
	meter  metric.Meter
	prefix string

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	gauges     map[string]metric.Int64Gauge
}

func New(provider metric.MeterProvider, prefix string) *Metrics {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	return &Metrics{
		meter:      provider.Meter("antenna"),
		prefix:     prefix,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
		gauges:     make(map[string]metric.Int64Gauge),
	}
}

func (m *Metrics) name(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + "." + key
}

// Incr adds one to the named counter.
func (m *Metrics) Incr(ctx context.Context, key string) {
	m.counter(key).Add(ctx, 1)
}

// Histogram records value in the named histogram.
func (m *Metrics) Histogram(ctx context.Context, key string, value float64) {
	m.histogram(key, "").Record(ctx, value)
}

// Timing records d in milliseconds.
func (m *Metrics) Timing(ctx context.Context, key string, d time.Duration) {
	m.histogram(key, "ms").Record(ctx, float64(d)/float64(time.Millisecond))
}

// Gauge sets the named gauge to value.
func (m *Metrics) Gauge(ctx context.Context, key string, value int64) {
	m.gauge(key).Record(ctx, value)
}

func (m *Metrics) counter(key string) metric.Int64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.counters[key]; ok {
		return c
	}
	c, err := m.meter.Int64Counter(m.name(key))
	if err != nil {
		c = noop.Int64Counter{}
	}
	m.counters[key] = c
	return c
}

func (m *Metrics) histogram(key, unit string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.histograms[key]; ok {
		return h
	}
	var opts []metric.Float64HistogramOption
	if unit != "" {
		opts = append(opts, metric.WithUnit(unit))
	}
	h, err := m.meter.Float64Histogram(m.name(key), opts...)
	if err != nil {
		h = noop.Float64Histogram{}
	}
	m.histograms[key] = h
	return h
}

func (m *Metrics) gauge(key string) metric.Int64Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.gauges[key]; ok {
		return g
	}
	g, err := m.meter.Int64Gauge(m.name(key))
	if err != nil {
		g = noop.Int64Gauge{}
	}
	m.gauges[key] = g
	return g
}
