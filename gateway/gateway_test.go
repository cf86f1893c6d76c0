package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99souls/ocr-gateway/gateway/telemetry/health"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
)

func TestNew_BuildsReadyGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: []string{"ocrs"}, HandlerTemplate: "/ocr/{handler_name}"})
	}))
	defer srv.Close()

	cfg := Defaults()
	cfg.BaseAPIURLs = []string{srv.URL}
	cfg.APICheckInterval = time.Hour

	gw, err := New(context.Background(), cfg, metrics.NewNoopProvider())
	require.NoError(t, err)
	defer gw.Stop(context.Background())

	assert.Len(t, gw.Watcher.Endpoints(), 1)
	assert.NotNil(t, gw.Dispatcher)
	assert.NotNil(t, gw.Health)
}

func TestProbeWatcherLiveness_UnknownBeforeFirstTick(t *testing.T) {
	cfg := Defaults()
	cfg.BaseAPIURLs = []string{"http://127.0.0.1:1/"}
	cfg.APICheckInterval = time.Hour

	gw, err := New(context.Background(), cfg, metrics.NewNoopProvider())
	require.NoError(t, err)
	defer gw.Stop(context.Background())

	result := gw.probeWatcherLiveness(context.Background())
	assert.Equal(t, health.StatusUnknown, result.Status)
}

func TestStartStop_GracefulShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: []string{"ocrs"}, HandlerTemplate: "/ocr/{handler_name}"})
	}))
	defer srv.Close()

	cfg := Defaults()
	cfg.BaseAPIURLs = []string{srv.URL}
	cfg.APICheckInterval = 5 * time.Millisecond

	gw, err := New(context.Background(), cfg, metrics.NewNoopProvider())
	require.NoError(t, err)

	go gw.Start(context.Background())
	require.Eventually(t, func() bool { return !gw.Watcher.LastTick().IsZero() }, time.Second, 5*time.Millisecond)

	require.NoError(t, gw.Stop(context.Background()))
}
