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

	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
)

func newManifestServer(t *testing.T, handlers ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EndpointInfo{AvailableHandlers: handlers, HandlerTemplate: "/ocr/{handler_name}"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewEndpointWatcher_SeedsAndProbesSynchronously(t *testing.T) {
	srv := newManifestServer(t, "ocrs")
	w, err := NewEndpointWatcher(context.Background(), []string{srv.URL}, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)

	eps := w.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, StateUp, eps[0].Status().State)
}

func TestAddEndpoint_DedupsByNormalizedURL(t *testing.T) {
	srv := newManifestServer(t, "ocrs")
	w, err := NewEndpointWatcher(context.Background(), nil, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)

	added1, err := w.AddEndpoint(context.Background(), srv.URL+"/")
	require.NoError(t, err)
	assert.True(t, added1)

	added2, err := w.AddEndpoint(context.Background(), srv.URL+"/anything")
	require.NoError(t, err)
	assert.False(t, added2)
	assert.Len(t, w.Endpoints(), 1)
}

func TestRemoveEndpoint(t *testing.T) {
	srv := newManifestServer(t, "ocrs")
	w, err := NewEndpointWatcher(context.Background(), []string{srv.URL}, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)

	id := w.Endpoints()[0].ID()
	assert.True(t, w.RemoveEndpoint(id))
	assert.Empty(t, w.Endpoints())
	assert.False(t, w.RemoveEndpoint(id))
}

func TestEndpointsSupporting_FiltersDisabledAndDown(t *testing.T) {
	up := newManifestServer(t, "ocrs")
	downURL := "http://127.0.0.1:1/"

	w, err := NewEndpointWatcher(context.Background(), []string{up.URL, downURL}, time.Hour, metrics.NewNoopProvider())
	require.NoError(t, err)

	eligible := w.EndpointsSupporting("ocrs")
	require.Len(t, eligible, 1)
	assert.Equal(t, up.URL+"/", eligible[0].URL().String())

	eligible[0].SetDisabled(true)
	assert.Empty(t, w.EndpointsSupporting("ocrs"))
}

func TestRun_TicksUpdateStatusAndLastTick(t *testing.T) {
	srv := newManifestServer(t, "ocrs")
	w, err := NewEndpointWatcher(context.Background(), []string{srv.URL}, 10*time.Millisecond, metrics.NewNoopProvider())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer func() {
		cancel()
		w.Stop()
	}()

	require.Eventually(t, func() bool {
		return !w.LastTick().IsZero()
	}, time.Second, 5*time.Millisecond)
}
