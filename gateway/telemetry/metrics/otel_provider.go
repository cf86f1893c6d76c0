package metrics

// OpenTelemetry metrics bridge implementing the Provider interface.
// Counters, gauges, histograms, timers. Gauges simulate Set semantics via
// an UpDownCounter delta application tracked with an atomic float store.

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// OTelProviderOptions configures NewOTelProvider.
type OTelProviderOptions struct {
	ServiceName      string // reserved for future resource attribution
	CardinalityLimit int    // warn threshold like the Prometheus provider; 0 => default
}

// NewOTelProvider returns a Provider backed by an OTEL MeterProvider.
// Exporters, views, and resource attributes can be layered on by callers
// using the returned SDK provider.
func NewOTelProvider(opts OTelProviderOptions) Provider {
	mp := sdkmetric.NewMeterProvider()
	meter := mp.Meter("ocr-gateway")

	p := &otelProvider{mp: mp, meter: meter}
	warnCtr, _ := meter.Float64Counter(
		"gateway.internal.cardinality_exceeded.total",
		metric.WithDescription("count of metrics whose label cardinality exceeded limit"),
	)
	p.warnCounter = warnCtr
	p.cardinality = newCardinalityGuard(opts.CardinalityLimit, p.warnCardinalityExceeded)
	return p
}

type otelProvider struct {
	mp    *sdkmetric.MeterProvider
	meter metric.Meter

	cardinality *cardinalityGuard
	warnCounter metric.Float64Counter
}

func (p *otelProvider) NewCounter(opts CounterOpts) Counter {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Counter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopCounter{}
	}
	return &otelCounter{c: inst, labelKeys: opts.Labels, provider: p, id: name}
}

func (p *otelProvider) NewGauge(opts GaugeOpts) Gauge {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64UpDownCounter(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopGauge{}
	}
	return &otelGauge{g: inst, labelKeys: opts.Labels, provider: p, id: name}
}

func (p *otelProvider) NewHistogram(opts HistogramOpts) Histogram {
	name := otelName(opts.CommonOpts)
	inst, err := p.meter.Float64Histogram(name, metric.WithDescription(opts.Help))
	if err != nil {
		return noopHistogram{}
	}
	return &otelHistogram{h: inst, labelKeys: opts.Labels, provider: p, id: name}
}

func (p *otelProvider) NewTimer(h HistogramOpts) func() Timer {
	hist := p.NewHistogram(h)
	return func() Timer { return &otelTimer{h: hist, start: time.Now()} }
}

func (p *otelProvider) Health(ctx context.Context) error { return nil }

func (p *otelProvider) warnCardinalityExceeded(id string) {
	p.warnCounter.Add(context.Background(), 1, metric.WithAttributes(attribute.String("metric", id)))
}

// otelName composes namespace/subsystem/name with '.' separators, the OTEL
// naming convention, tolerating any subset being empty.
func otelName(c CommonOpts) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{c.Namespace, c.Subsystem, c.Name} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	name := ""
	for i, part := range parts {
		if i > 0 {
			name += "."
		}
		name += part
	}
	return name
}

func toAttributes(keys, values []string) []attribute.KeyValue {
	n := min(len(keys), len(values))
	if n == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, n)
	for i := 0; i < n; i++ {
		out[i] = attribute.String(keys[i], values[i])
	}
	return out
}

type otelCounter struct {
	c         metric.Float64Counter
	labelKeys []string
	provider  *otelProvider
	id        string
}

func (c *otelCounter) Inc(delta float64, labels ...string) {
	if delta <= 0 {
		return
	}
	c.provider.cardinality.track(c.id, labels)
	opts := attrOpts(c.labelKeys, labels)
	c.c.Add(context.Background(), delta, opts...)
}

// atomicFloat stores a float64 as its IEEE-754 bit pattern so gauges can
// diff successive Set calls without a separate mutex.
type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) swap(v float64) (previous float64) {
	return math.Float64frombits(f.bits.Swap(math.Float64bits(v)))
}

func (f *atomicFloat) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

type otelGauge struct {
	g         metric.Float64UpDownCounter
	value     atomicFloat
	labelKeys []string
	provider  *otelProvider
	id        string
}

func (g *otelGauge) Set(v float64, labels ...string) {
	prev := g.value.swap(v)
	diff := v - prev
	if diff == 0 {
		return
	}
	g.provider.cardinality.track(g.id, labels)
	g.g.Add(context.Background(), diff, attrOpts(g.labelKeys, labels)...)
}

func (g *otelGauge) Add(delta float64, labels ...string) {
	if delta == 0 {
		return
	}
	g.value.add(delta)
	g.provider.cardinality.track(g.id, labels)
	g.g.Add(context.Background(), delta, attrOpts(g.labelKeys, labels)...)
}

type otelHistogram struct {
	h         metric.Float64Histogram
	labelKeys []string
	provider  *otelProvider
	id        string
}

func (h *otelHistogram) Observe(value float64, labels ...string) {
	h.provider.cardinality.track(h.id, labels)
	h.h.Record(context.Background(), value, recordOpts(h.labelKeys, labels)...)
}

type otelTimer struct {
	h     Histogram
	start time.Time
}

func (t *otelTimer) ObserveDuration(labels ...string) {
	t.h.Observe(time.Since(t.start).Seconds(), labels...)
}

func attrOpts(keys, values []string) []metric.AddOption {
	attrs := toAttributes(keys, values)
	if len(attrs) == 0 {
		return nil
	}
	return []metric.AddOption{metric.WithAttributes(attrs...)}
}

func recordOpts(keys, values []string) []metric.RecordOption {
	attrs := toAttributes(keys, values)
	if len(attrs) == 0 {
		return nil
	}
	return []metric.RecordOption{metric.WithAttributes(attrs...)}
}
