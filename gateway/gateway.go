package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/99souls/ocr-gateway/gateway/telemetry/events"
	healthpkg "github.com/99souls/ocr-gateway/gateway/telemetry/health"
	"github.com/99souls/ocr-gateway/gateway/telemetry/logging"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
	"github.com/99souls/ocr-gateway/gateway/telemetry/tracing"
)

// Gateway is the composition root: it owns the config, the endpoint
// registry, the dispatcher, and every telemetry provider, and exposes the
// lifecycle any embedder or CLI entrypoint drives.
type Gateway struct {
	cfg Config

	Watcher    *EndpointWatcher
	Dispatcher *Dispatcher

	Metrics metrics.Provider
	Events  events.Bus
	Logger  logging.Logger
	Tracer  *tracing.Tracer
	Health  *healthpkg.Evaluator

	cancel context.CancelFunc
}

// New constructs a Gateway from cfg. It performs the initial synchronous
// probe of every seed URL before returning, so the registry is populated
// the moment New returns.
func New(ctx context.Context, cfg Config, provider metrics.Provider) (*Gateway, error) {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(cfg.LogLevel))
	base := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger := logging.New(base)

	tracer, err := tracing.New(cfg.OTelServiceName, "production")
	if err != nil {
		return nil, fmt.Errorf("gateway: init tracing: %w", err)
	}

	bus := events.NewBus(provider)

	watcher, err := NewEndpointWatcher(ctx, cfg.BaseAPIURLs, cfg.APICheckInterval, provider,
		WithEventBus(bus), WithLogger(logger), WithTracer(tracer))
	if err != nil {
		return nil, fmt.Errorf("gateway: seed endpoints: %w", err)
	}

	dispatcher := NewDispatcher(watcher, tracer, provider)

	g := &Gateway{
		cfg:        cfg,
		Watcher:    watcher,
		Dispatcher: dispatcher,
		Metrics:    provider,
		Events:     bus,
		Logger:     logger,
		Tracer:     tracer,
	}
	g.Health = healthpkg.NewEvaluator(2*time.Second,
		healthpkg.ProbeFunc(g.probeWatcherLiveness),
		healthpkg.ProbeFunc(dispatcher.Probe),
	)
	return g, nil
}

func (g *Gateway) probeWatcherLiveness(ctx context.Context) healthpkg.ProbeResult {
	last := g.Watcher.LastTick()
	if last.IsZero() {
		return healthpkg.Unknown("watcher", "no probe tick has completed yet")
	}
	if time.Since(last) > 2*g.cfg.APICheckInterval {
		return healthpkg.Unhealthy("watcher", fmt.Sprintf("last probe tick was %s ago", time.Since(last)))
	}
	return healthpkg.Healthy("watcher")
}

// Start runs the background probe loop until the returned context is
// cancelled or Stop is called.
func (g *Gateway) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.Watcher.Run(ctx)
}

// Stop terminates the background probe loop and flushes the tracer.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}
	g.Watcher.Stop()
	return g.Tracer.Shutdown(ctx)
}

// Config returns a copy of the gateway's configuration.
func (g *Gateway) Config() Config { return g.cfg }
