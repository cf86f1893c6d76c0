package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/99souls/ocr-gateway/gateway/telemetry/events"
	"github.com/99souls/ocr-gateway/gateway/telemetry/logging"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
	"github.com/99souls/ocr-gateway/gateway/telemetry/tracing"
)

// EndpointWatcher owns the registry of backend endpoints and the background
// probe loop that keeps their status fresh.
type EndpointWatcher struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint // id -> endpoint

	interval time.Duration
	client   *http.Client

	bus     events.Bus
	logger  logging.Logger
	tracer  *tracing.Tracer
	metrics watcherMetrics

	lastTick atomic.Pointer[time.Time]

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type watcherMetrics struct {
	probeTotal    metrics.Counter
	probeDuration metrics.Histogram
	liveGauge     metrics.Gauge
}

// WatcherOption customizes an EndpointWatcher at construction time.
type WatcherOption func(*EndpointWatcher)

func WithEventBus(b events.Bus) WatcherOption { return func(w *EndpointWatcher) { w.bus = b } }
func WithLogger(l logging.Logger) WatcherOption {
	return func(w *EndpointWatcher) { w.logger = l }
}
func WithTracer(t *tracing.Tracer) WatcherOption {
	return func(w *EndpointWatcher) { w.tracer = t }
}
func WithHTTPClient(c *http.Client) WatcherOption {
	return func(w *EndpointWatcher) { w.client = c }
}

// NewEndpointWatcher constructs a watcher seeded with the given backend base
// URLs. Each seed is probed synchronously before the constructor returns, so
// the first reader sees populated status.
func NewEndpointWatcher(ctx context.Context, seedURLs []string, interval time.Duration, provider metrics.Provider, opts ...WatcherOption) (*EndpointWatcher, error) {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	w := &EndpointWatcher{
		endpoints: make(map[string]*Endpoint),
		interval:  interval,
		client:    &http.Client{Timeout: probeFetchTimeout},
		logger:    logging.New(nil),
		stopCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	w.metrics = watcherMetrics{
		probeTotal: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "gateway", Subsystem: "probe", Name: "total", Help: "Total endpoint probes run", Labels: []string{"result"},
		}}),
		probeDuration: provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "gateway", Subsystem: "probe", Name: "duration_seconds", Help: "Endpoint probe duration", Labels: []string{"endpoint_id", "result"},
		}}),
		liveGauge: provider.NewGauge(metrics.GaugeOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "gateway", Subsystem: "endpoints", Name: "live", Help: "Number of endpoints currently Up",
		}}),
	}

	for _, raw := range seedURLs {
		if _, err := w.AddEndpoint(ctx, raw); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Run starts the background probe loop; it blocks until Stop is called or
// ctx is cancelled.
func (w *EndpointWatcher) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()
	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(w.interval):
		}
	}
}

// Stop terminates the background probe loop and waits for the in-flight
// tick to finish.
func (w *EndpointWatcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *EndpointWatcher) tick(ctx context.Context) {
	snapshot := w.Endpoints()
	var wg sync.WaitGroup
	wg.Add(len(snapshot))
	for _, ep := range snapshot {
		ep := ep
		go func() {
			defer wg.Done()
			w.probeOne(ctx, ep)
		}()
	}
	wg.Wait()
	now := time.Now()
	w.lastTick.Store(&now)
	w.publishLiveGauge()
}

func (w *EndpointWatcher) probeOne(ctx context.Context, ep *Endpoint) {
	start := time.Now()
	spanCtx := ctx
	if w.tracer != nil {
		var span trace.Span
		spanCtx, span = w.tracer.StartProbe(ctx, ep.ID(), ep.URL().String())
		defer span.End()
	}
	prevState := ep.Status().State
	ep.CheckAndUpdate(spanCtx)
	newStatus := ep.Status()
	result := "down"
	if newStatus.State == StateUp {
		result = "up"
	}
	w.metrics.probeTotal.Inc(1, result)
	w.metrics.probeDuration.Observe(time.Since(start).Seconds(), ep.ID(), result)

	if prevState != newStatus.State {
		evType := "down"
		if newStatus.State == StateUp {
			evType = "up"
		}
		if newStatus.State == StateDown {
			w.logger.WarnCtx(ctx, "endpoint went down", "endpoint_id", ep.ID(), "url", ep.URL().String(), "error", newStatus.Error)
		} else {
			w.logger.InfoCtx(ctx, "endpoint came up", "endpoint_id", ep.ID(), "url", ep.URL().String())
		}
		if w.bus != nil {
			_ = w.bus.PublishCtx(ctx, events.Event{
				Category: events.CategoryEndpoint,
				Type:     evType,
				Fields:   map[string]interface{}{"endpoint_id": ep.ID(), "url": ep.URL().String()},
			})
		}
	}
}

func (w *EndpointWatcher) publishLiveGauge() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	live := 0
	for _, ep := range w.endpoints {
		if ep.Status().State == StateUp {
			live++
		}
	}
	w.metrics.liveGauge.Set(float64(live))
}

// Endpoints returns a point-in-time snapshot of every registered endpoint,
// safe to range over without holding the registry lock.
func (w *EndpointWatcher) Endpoints() []*Endpoint {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Endpoint, 0, len(w.endpoints))
	for _, ep := range w.endpoints {
		out = append(out, ep)
	}
	return out
}

// EndpointsSupporting filters Endpoints() to those that are enabled, Up,
// and advertise handler h.
func (w *EndpointWatcher) EndpointsSupporting(h string) []*Endpoint {
	all := w.Endpoints()
	out := make([]*Endpoint, 0, len(all))
	for _, ep := range all {
		if ep.Disabled() {
			continue
		}
		if ep.SupportsHandler(h) {
			out = append(out, ep)
		}
	}
	return out
}

// Endpoint looks up a single endpoint by id.
func (w *EndpointWatcher) Endpoint(id string) (*Endpoint, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	ep, ok := w.endpoints[id]
	return ep, ok
}

// AddEndpoint parses and dedups raw, probes it synchronously, then inserts
// it into the registry. It returns false (no error) if an endpoint with the
// same normalized URL already exists.
func (w *EndpointWatcher) AddEndpoint(ctx context.Context, raw string) (bool, error) {
	u, err := ParseBackendURL(raw)
	if err != nil {
		return false, err
	}

	w.mu.RLock()
	for _, existing := range w.endpoints {
		if existing.URL().String() == u.String() {
			w.mu.RUnlock()
			return false, nil
		}
	}
	w.mu.RUnlock()

	ep := NewEndpoint(u, w.client)
	w.probeOne(ctx, ep)

	w.mu.Lock()
	for _, existing := range w.endpoints {
		if existing.URL().String() == u.String() {
			w.mu.Unlock()
			return false, nil
		}
	}
	w.endpoints[ep.ID()] = ep
	w.mu.Unlock()
	return true, nil
}

// RemoveEndpoint removes the endpoint with the given id, if present.
func (w *EndpointWatcher) RemoveEndpoint(id string) bool {
	w.mu.Lock()
	_, ok := w.endpoints[id]
	delete(w.endpoints, id)
	w.mu.Unlock()
	return ok
}

// LastTick returns the time of the most recently completed probe tick, or
// the zero value if none has run yet.
func (w *EndpointWatcher) LastTick() time.Time {
	p := w.lastTick.Load()
	if p == nil {
		return time.Time{}
	}
	return *p
}

// publishAdminEvent emits a CategoryAdmin event for an authenticated admin
// mutation. Unlike AddEndpoint/RemoveEndpoint, which also run during startup
// seeding, this is only reachable from the Admin* wrapper methods.
func (w *EndpointWatcher) publishAdminEvent(outcome string, fields map[string]interface{}) {
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(events.Event{
		Category: events.CategoryAdmin,
		Type:     outcome,
		Fields:   fields,
	})
}
