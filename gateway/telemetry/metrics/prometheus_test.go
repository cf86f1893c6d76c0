package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusProvider_CounterExposedViaHandler(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Namespace: "gateway", Subsystem: "test", Name: "total", Help: "test counter", Labels: []string{"outcome"}}})
	c.Inc(1, "ok")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	p.MetricsHandler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "gateway_test_total")
}

func TestPrometheusProvider_Health(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	require.NoError(t, p.Health(nil))
}
