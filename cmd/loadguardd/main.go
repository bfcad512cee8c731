package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/splax/loadguard/internal/alert"
	"github.com/splax/loadguard/internal/breaker"
	"github.com/splax/loadguard/internal/gate"
	"github.com/splax/loadguard/internal/governor"
	httpx "github.com/splax/loadguard/internal/http"
	"github.com/splax/loadguard/internal/metrics"
	"github.com/splax/loadguard/internal/monitor"
	"github.com/splax/loadguard/internal/pressure"
	"github.com/splax/loadguard/internal/stream"
	"github.com/splax/loadguard/internal/telemetry"
	"github.com/splax/loadguard/pkg/config"
	"github.com/splax/loadguard/pkg/logger"
)

func main() {
	cfg := config.LoadGuardConfig()
	log := logger.New("loadguardd", slog.LevelInfo)
	if cfg.LogPretty {
		log = logger.NewPretty("loadguardd", slog.LevelDebug)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub()
	sinks := []alert.Sink{alert.NewSlogSink(log), alert.NewHubSink(hub)}
	if addr := strings.TrimSpace(cfg.AlertRedisAddr); addr != "" {
		redisSink, err := alert.NewRedisSink(addr, cfg.AlertRedisPass, cfg.AlertRedisDB, cfg.AlertRedisChannel, log)
		if err != nil {
			log.Warn("redis alert sink unavailable, continuing without it", "error", err)
		} else {
			defer redisSink.Close()
			sinks = append(sinks, redisSink)
		}
	}
	alerts := alert.NewManager(alert.Config{SuppressionWindow: cfg.AlertSuppressionWindow}, log, sinks...)

	gov := governor.New(governor.Config{
		MinWorkers:     cfg.MinWorkers,
		SoftMaxWorkers: cfg.SoftMaxWorkers,
		HardMaxWorkers: cfg.HardMaxWorkers,
		InitialBudget:  cfg.InitialBudget,
		HistorySize:    cfg.HistorySize,
		AdaptWindow:    cfg.AdaptWindow,
		IncreaseAfter:  cfg.IncreaseAfter,
		DecreaseFactor: cfg.DecreaseFactor,
		CPUHighWater:   cfg.CPUHighWater,
		CPULowWater:    cfg.CPULowWater,
		MemHighWater:   cfg.MemHighWater,
		MemLowWater:    cfg.MemLowWater,
	}, log, alerts)

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold:   cfg.BreakerFailureThreshold,
		ErrorRateThreshold: cfg.BreakerErrorRateThreshold,
		WindowSize:         cfg.BreakerWindowSize,
		Timeout:            cfg.BreakerTimeout,
		SuccessThreshold:   cfg.BreakerSuccessThreshold,
	}, log)

	set := metrics.New("loadguard")
	admission := gate.New(gov.GetBudget(), registry, set, log)
	classifier := pressure.New(pressure.DefaultThresholds(), cfg.MinWorkers, log)

	provider, err := buildProvider(cfg)
	if err != nil {
		log.Error("telemetry provider setup failed", "error", err)
		os.Exit(1)
	}

	mon := monitor.New(provider, gov, admission, classifier, alerts, registry, set, cfg.SampleInterval, log)
	go mon.Run(ctx)

	if cfg.DemoWorkload {
		runDemoWorkload(ctx, admission, cfg.DemoUnits, log)
	}

	router := httpx.NewRouter(log, gov, admission, registry, hub)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("loadguard server starting", "addr", cfg.Addr, "telemetry", cfg.TelemetrySource)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("loadguard server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func buildProvider(cfg config.GuardConfig) (telemetry.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TelemetrySource)) {
	case "", "local":
		return telemetry.NewLocalProvider()
	case "prometheus":
		if strings.TrimSpace(cfg.PrometheusURL) == "" {
			return nil, errors.New("prometheus telemetry requires LOADGUARD_PROMETHEUS_URL")
		}
		return telemetry.NewPrometheusProvider(cfg.PrometheusURL, telemetry.PrometheusQueries{})
	case "simulated":
		return telemetry.NewSimulatedProvider(45, 55, time.Now().UnixNano()), nil
	default:
		return nil, fmt.Errorf("unknown telemetry source %q", cfg.TelemetrySource)
	}
}
