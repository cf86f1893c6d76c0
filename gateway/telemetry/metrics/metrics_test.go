package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCardinalityGuard_WarnsOnceAfterLimitExceeded(t *testing.T) {
	var exceeded []string
	g := newCardinalityGuard(2, func(metric string) { exceeded = append(exceeded, metric) })

	g.track("gateway_probe_total", []string{"a"})
	g.track("gateway_probe_total", []string{"b"})
	assert.Empty(t, exceeded)

	g.track("gateway_probe_total", []string{"c"})
	g.track("gateway_probe_total", []string{"d"})
	assert.Equal(t, []string{"gateway_probe_total"}, exceeded)
}

func TestCardinalityGuard_IgnoresUnlabeledObservations(t *testing.T) {
	called := false
	g := newCardinalityGuard(1, func(string) { called = true })
	g.track("metric", nil)
	g.track("metric", nil)
	assert.False(t, called)
}

func TestNoopProvider_DiscardsEverything(t *testing.T) {
	p := NewNoopProvider()
	c := p.NewCounter(CounterOpts{})
	c.Inc(1)
	gauge := p.NewGauge(GaugeOpts{})
	gauge.Set(5)
	gauge.Add(1)
	h := p.NewHistogram(HistogramOpts{})
	h.Observe(0.5)
	timer := p.NewTimer(HistogramOpts{})()
	timer.ObserveDuration()
	assert.NoError(t, p.Health(nil))
}
