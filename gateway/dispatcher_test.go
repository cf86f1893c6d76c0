package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/ocr-gateway/gateway/telemetry/health"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
)

func TestDispatcher_PickOne_NoEligible(t *testing.T) {
	w, err := NewEndpointWatcher(context.Background(), nil, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)
	d := NewDispatcher(w, nil, metrics.NewNoopProvider())

	_, err = d.PickOne("ocrs")
	assert.ErrorIs(t, err, ErrNoEligibleEndpoint)
}

func TestDispatcher_ServeHTTP_ProxiesToBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: []string{"ocrs"}, HandlerTemplate: "/ocr/{handler_name}"})
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(append([]byte("echo:"), body...))
	}))
	defer backend.Close()

	w, err := NewEndpointWatcher(context.Background(), []string{backend.URL}, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)
	d := NewDispatcher(w, nil, metrics.NewNoopProvider())

	req := httptest.NewRequest(http.MethodPost, "/ocr/ocrs", strings.NewReader("hello"))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req, "ocrs")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "echo:hello", rec.Body.String())
}

func TestDispatcher_ServeHTTP_NoEligibleReturns404(t *testing.T) {
	w, err := NewEndpointWatcher(context.Background(), nil, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)
	d := NewDispatcher(w, nil, metrics.NewNoopProvider())

	req := httptest.NewRequest(http.MethodPost, "/ocr/ocrs", nil)
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req, "ocrs")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrNoEligibleEndpoint.Error())
}

func TestDispatcher_Probe_HealthyWithNoTraffic(t *testing.T) {
	w, err := NewEndpointWatcher(context.Background(), nil, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)
	d := NewDispatcher(w, nil, metrics.NewNoopProvider())

	result := d.Probe(context.Background())
	assert.Equal(t, health.StatusHealthy, result.Status)
}

func TestDispatcher_Probe_UnhealthyUnderSustained5xx(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: []string{"ocrs"}, HandlerTemplate: "/ocr/{handler_name}"})
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	w, err := NewEndpointWatcher(context.Background(), []string{backend.URL}, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)
	d := NewDispatcher(w, nil, metrics.NewNoopProvider())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/ocr/ocrs", strings.NewReader("x"))
		d.ServeHTTP(httptest.NewRecorder(), req, "ocrs")
	}

	result := d.Probe(context.Background())
	assert.NotEqual(t, health.StatusHealthy, result.Status)
}
