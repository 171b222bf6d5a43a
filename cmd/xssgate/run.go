package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"
	"golang.org/x/sync/errgroup"

	"github.com/eugener/xssgate/internal/config"
	"github.com/eugener/xssgate/internal/server"
	"github.com/eugener/xssgate/internal/storage/sqlite"
	"github.com/eugener/xssgate/internal/telemetry"
	"github.com/eugener/xssgate/internal/upstream"
	"github.com/eugener/xssgate/internal/worker"
)

// dnsRefreshInterval is how often cached upstream DNS entries are refreshed.
const dnsRefreshInterval = 5 * time.Minute

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)
	slog.Info("starting xssgate", "version", version, "addr", cfg.Server.Addr, "routes", len(cfg.Routes))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Open database
	store, err := sqlite.New(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, version, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("tracing shutdown", "error", err)
			}
		}()
	}

	// Upstreams
	var resolver *dnscache.Resolver
	if cfg.Server.DNSCache {
		resolver = &dnscache.Resolver{}
	}
	client := &http.Client{Transport: upstream.NewTransport(resolver, false)}
	routes, err := buildRoutes(cfg, client)
	if err != nil {
		return err
	}

	// Workers
	var queue prometheus.Gauge
	if metrics != nil {
		queue = metrics.DecisionQueueLength
	}
	recorder := worker.NewDecisionRecorder(store, queue)
	var pruner worker.Worker
	if cfg.Retention.Decisions > 0 {
		pruner = worker.NewDecisionPruner(store, cfg.Retention.Decisions)
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Routes:         routes,
		ReadyCheck:     store.Ping,
		Recorder:       recorder,
		Decisions:      store,
		AdminKey:       cfg.Admin.Key,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Workers stop only after the server has drained, so late decisions
	// are still flushed.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)
	workersDone := make(chan error, 1)
	go func() { workersDone <- worker.NewRunner(recorder, pruner).Run(workerCtx) }()

	if resolver != nil {
		g.Go(func() error {
			refreshDNS(gctx, resolver)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("xssgate ready", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	stopWorkers()
	if werr := <-workersDone; werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	slog.Info("xssgate stopped")
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: lc.SlogLevel()}
	if strings.EqualFold(lc.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// buildRoutes resolves every configured route into a mounted proxy route.
func buildRoutes(cfg *config.Config, client *http.Client) ([]server.Route, error) {
	routes := make([]server.Route, 0, len(cfg.Routes))
	for _, rc := range cfg.Routes {
		jcfg, err := cfg.RouteJSONP(rc)
		if err != nil {
			return nil, err
		}
		up, err := upstream.New(rc.Name, rc.Upstream, client, rc.Timeout)
		if err != nil {
			return nil, err
		}
		if jcfg.GetEnabled && jcfg.CallbackArg == "" {
			slog.Warn("jsonp enabled without callback_arg; responses will pass through", "route", rc.Name)
		}
		routes = append(routes, server.Route{
			Name:        rc.Name,
			Prefix:      config.NormalizePrefix(rc.Prefix),
			StripPrefix: rc.StripPrefix,
			Target:      rc.Upstream,
			JSONP:       jcfg,
			Upstream:    up,
		})
	}
	if len(routes) == 0 {
		return nil, errors.New("no routes configured")
	}
	return routes, nil
}

func refreshDNS(ctx context.Context, r *dnscache.Resolver) {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(true)
		}
	}
}
