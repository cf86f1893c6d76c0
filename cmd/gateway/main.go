package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/99souls/ocr-gateway/adapters/httpapi"
	"github.com/99souls/ocr-gateway/gateway"
	"github.com/99souls/ocr-gateway/gateway/internal/seedwatch"
	"github.com/99souls/ocr-gateway/gateway/telemetry/metrics"
)

func main() {
	cfg := gateway.Defaults()
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var (
		baseAPIURLs    string
		metricsBackend string
	)
	flag.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "Bind port")
	flag.StringVar(&baseAPIURLs, "base-api-url", strings.Join(cfg.BaseAPIURLs, ","), "Comma/space separated backend base URLs")
	flag.DurationVar(&cfg.APICheckInterval, "api-check-interval", cfg.APICheckInterval, "Interval between probe ticks")
	flag.StringVar(&cfg.APIAuthKey, "api-auth-key", cfg.APIAuthKey, "Admin auth key (>=16 chars); auto-generated if unset")
	flag.StringVar(&cfg.SeedFile, "seed-file", cfg.SeedFile, "Optional YAML file of backend URLs, hot-reloaded")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Optional separate listener address for /metrics")
	flag.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "Optional separate listener address for /healthz,/readyz")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	flag.StringVar(&cfg.OTelServiceName, "otel-service-name", cfg.OTelServiceName, "OpenTelemetry service name")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|noop")
	flag.Parse()

	if baseAPIURLs != "" {
		cfg.BaseAPIURLs = strings.FieldsFunc(baseAPIURLs, func(r rune) bool { return r == ',' || r == ' ' })
	}

	if cfg.SeedFile != "" {
		seeded, err := seedwatch.Load(cfg.SeedFile)
		if err != nil {
			log.Fatalf("load seed-file: %v", err)
		}
		cfg.BaseAPIURLs = append(cfg.BaseAPIURLs, seeded...)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.APIAuthKeyGenerated {
		fmt.Printf("No api-auth-key configured; generated one for this run:\n%s\n", cfg.APIAuthKey)
	}

	var provider metrics.Provider
	var promProvider *metrics.PrometheusProvider
	switch metricsBackend {
	case "noop":
		provider = metrics.NewNoopProvider()
	default:
		p := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
		promProvider = p
		provider = p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := gateway.New(ctx, cfg, provider)
	if err != nil {
		log.Fatalf("init gateway: %v", err)
	}

	if cfg.SeedFile != "" {
		sw, err := seedwatch.New(cfg.SeedFile)
		if err != nil {
			log.Fatalf("watch seed-file: %v", err)
		}
		done := make(chan struct{})
		go sw.Run(done)
		go reconcileSeeds(ctx, gw, sw)
		defer func() { close(done); sw.Close() }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("signal received; initiating graceful shutdown")
		cancel()
		<-sigCh
		log.Println("second signal received; forcing exit")
		os.Exit(1)
	}()

	if cfg.MetricsAddr != "" && promProvider != nil {
		go serveAux(ctx, cfg.MetricsAddr, promProvider.MetricsHandler())
	}
	if cfg.HealthAddr != "" {
		go serveAux(ctx, cfg.HealthAddr, httpapi.NewHealthHandler(gw.Health))
	}

	mux := http.NewServeMux()
	mux.Handle("/", httpapi.NewHandler(gw, cfg.APIAuthKey))
	if cfg.MetricsAddr == "" && promProvider != nil {
		mux.Handle("/metrics", promProvider.MetricsHandler())
	}
	if cfg.HealthAddr == "" {
		mux.Handle("/healthz", httpapi.NewHealthHandler(gw.Health))
		mux.Handle("/readyz", httpapi.NewHealthHandler(gw.Health))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go gw.Start(ctx)

	log.Printf("ocr-gateway listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = gw.Stop(stopCtx)
}

func serveAux(ctx context.Context, addr string, handler http.Handler) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("aux listener %s stopped: %v", addr, err)
	}
}

func reconcileSeeds(ctx context.Context, gw *gateway.Gateway, sw *seedwatch.Watcher) {
	for change := range sw.Changes() {
		wanted := make(map[string]bool, len(change.Backends))
		for _, raw := range change.Backends {
			u, err := gateway.ParseBackendURL(raw)
			if err != nil {
				gw.Logger.WarnCtx(ctx, "seed-file: skipping invalid backend URL", "url", raw, "error", err)
				continue
			}
			wanted[u.String()] = true
			if _, err := gw.Watcher.AddEndpoint(ctx, raw); err != nil {
				gw.Logger.WarnCtx(ctx, "seed-file: failed to add backend", "url", raw, "error", err)
			}
		}
		for _, ep := range gw.Watcher.Endpoints() {
			if !wanted[ep.URL().String()] {
				gw.Watcher.RemoveEndpoint(ep.ID())
			}
		}
	}
}
