package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/http/httputil"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/99souls/ocr-gateway/gateway/telemetry/health"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
	"github.com/99souls/ocr-gateway/gateway/telemetry/tracing"
)

// requestTimeout bounds the whole proxy round trip, mirroring the original
// service's 300-second TimeoutLayer. Implemented as a context deadline
// rather than a response-buffering wrapper so streamed bodies are never
// held in memory.
const requestTimeout = 300 * time.Second

// ErrNoEligibleEndpoint is returned by PickOne when no registered endpoint
// is currently Up, enabled, and supports the requested handler.
var ErrNoEligibleEndpoint = errors.New("No live endpoints found supporting that handler")

// ErrEndpointInfoUnavailable is returned when the endpoint selected for
// dispatch transitioned away from Up before its handler URL could be
// materialized.
var ErrEndpointInfoUnavailable = errors.New("Endpoint info not available")

// Dispatcher selects an eligible backend for a handler and proxies requests
// to it, streaming bodies through untouched.
type Dispatcher struct {
	watcher *EndpointWatcher
	tracer  *tracing.Tracer
	metrics dispatcherMetrics
	errRate *slidingErrorWindow
}

type dispatcherMetrics struct {
	dispatchTotal    metrics.Counter
	dispatchDuration metrics.Histogram
}

// NewDispatcher constructs a Dispatcher over the given watcher.
func NewDispatcher(w *EndpointWatcher, tracer *tracing.Tracer, provider metrics.Provider) *Dispatcher {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	return &Dispatcher{
		watcher: w,
		tracer:  tracer,
		errRate: newSlidingErrorWindow(time.Minute, 5*time.Second),
		metrics: dispatcherMetrics{
			dispatchTotal: provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "total", Help: "Total dispatch attempts", Labels: []string{"handler", "outcome"},
			}}),
			dispatchDuration: provider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
				Namespace: "gateway", Subsystem: "dispatch", Name: "duration_seconds", Help: "Dispatch proxy duration", Labels: []string{"handler", "outcome"},
			}}),
		},
	}
}

// PickOne selects one endpoint supporting handler uniformly at random from
// the eligible set, or ErrNoEligibleEndpoint if none qualify.
func (d *Dispatcher) PickOne(handler string) (*Endpoint, error) {
	eligible := d.watcher.EndpointsSupporting(handler)
	if len(eligible) == 0 {
		return nil, ErrNoEligibleEndpoint
	}
	return eligible[rand.IntN(len(eligible))], nil
}

// ServeHTTP implements the streaming proxy flow for POST /ocr/{handler}.
// handler is the path parameter extracted by the caller's router.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request, handler string) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.StartDispatch(ctx, handler)
		defer span.End()
	}

	ep, err := d.PickOne(handler)
	if err != nil {
		d.record(handler, "no_eligible", start, http.StatusNotFound)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	target := ep.HandlerURL(handler)
	if target == nil {
		d.record(handler, "stale", start, http.StatusInternalServerError)
		http.Error(w, ErrEndpointInfoUnavailable.Error(), http.StatusInternalServerError)
		return
	}

	sr := &statusRecorder{ResponseWriter: w}
	proxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.URL.Path = target.Path
			req.URL.RawPath = target.EscapedPath()
			req.Host = target.Host
		},
		ErrorHandler: func(rw http.ResponseWriter, req *http.Request, err error) {
			status := http.StatusInternalServerError
			msg := "Failed to proxy request: " + err.Error()
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
				msg = "request body exceeds maximum size"
			}
			sr.status = status
			http.Error(rw, msg, status)
		},
	}

	proxy.ServeHTTP(sr, r.WithContext(ctx))
	outcome := "ok"
	if sr.status >= http.StatusInternalServerError {
		outcome = "error"
	} else if sr.status >= http.StatusBadRequest {
		outcome = "upstream_4xx"
	}
	d.record(handler, outcome, start, sr.status)
}

// statusRecorder captures the status code the proxy actually wrote so the
// dispatcher can fold backend 5xx responses into its error-rate window,
// not just transport-level failures.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (d *Dispatcher) record(handler, outcome string, start time.Time, status int) {
	d.metrics.dispatchTotal.Inc(1, handler, outcome)
	d.metrics.dispatchDuration.Observe(time.Since(start).Seconds(), handler, outcome)
	d.errRate.record(time.Now(), status >= http.StatusInternalServerError)
}

// Probe reports the dispatcher's rolling 5xx rate as a health signal,
// grounded on the same bucketed sliding-window technique the teacher uses
// for rate-limit accounting.
func (d *Dispatcher) Probe(ctx context.Context) health.ProbeResult {
	total, errs, rate := d.errRate.snapshot(time.Now())
	if total == 0 {
		return health.Healthy("dispatcher")
	}
	detail := fmt.Sprintf("%d/%d requests returned 5xx in the last %s (%.1f%%)", errs, total, d.errRate.span, rate*100)
	switch {
	case rate >= 0.5:
		return health.Unhealthy("dispatcher", detail)
	case rate >= 0.1:
		return health.Degraded("dispatcher", detail)
	default:
		return health.Healthy("dispatcher")
	}
}
