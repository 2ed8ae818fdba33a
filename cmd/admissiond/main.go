// Package main — cmd/admissiond/main.go
//
// Admission control and cost-anomaly-detection service entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/admissionctl/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Open the registry store (BoltDB or in-memory, per config).
//  4. Seed the default ADW connection limits if none are configured.
//  5. Purge expired registrations.
//  6. Build the admission controller, time-series provider, and
//     invariant kernel.
//  7. Start the Prometheus metrics server (127.0.0.1:9095) and the
//     health poller (queries C6 on an interval, evaluates via C8,
//     records metrics and invariant checks — spec.md §2's detection
//     data flow).
//  8. Start the admission RPC server (Unix domain socket), if enabled.
//  9. Register SIGHUP handler for config hot-reload.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Cost-series anomaly detection (C4/C5, the pattern chain and ensemble
// detector) is invoked by callers through the cost-ledger client contract
// (spec.md §1, out of scope) rather than by this service's own poll loop;
// see internal/anomaly and cmd/admission-sim's cost mode.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Close the registry store.
//  3. Flush logger.
//  4. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dataplatform/admissionctl/internal/admission"
	"github.com/dataplatform/admissionctl/internal/config"
	"github.com/dataplatform/admissionctl/internal/domain"
	"github.com/dataplatform/admissionctl/internal/governance"
	"github.com/dataplatform/admissionctl/internal/health"
	"github.com/dataplatform/admissionctl/internal/observability"
	"github.com/dataplatform/admissionctl/internal/poller"
	"github.com/dataplatform/admissionctl/internal/registry"
	"github.com/dataplatform/admissionctl/internal/rpcserver"
	"github.com/dataplatform/admissionctl/internal/timeseries"
)

func main() {
	configPath := flag.String("config", "/etc/admissionctl/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("admissiond %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("admissiond starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open registry store ───────────────────────────────────────────
	store, err := openStore(cfg.Registry)
	if err != nil {
		log.Fatal("registry store open failed", zap.Error(err),
			zap.String("provider", cfg.Registry.Provider))
	}
	defer store.Close() //nolint:errcheck
	log.Info("registry store opened", zap.String("provider", cfg.Registry.Provider))

	// ── Step 4: Seed default limits ───────────────────────────────────────────
	if limits, err := store.AllLimits(); err != nil {
		log.Warn("failed to list configured limits", zap.Error(err))
	} else if len(limits) == 0 {
		adw := domain.DefaultADWLimits()
		if err := store.PutLimits(adw); err != nil {
			log.Warn("failed to seed default limits", zap.Error(err))
		} else {
			log.Info("seeded default ADW limits", zap.Int("src_db_id", adw.SrcDBID))
		}
	}

	// ── Step 5: Purge expired registrations ───────────────────────────────────
	purged, err := store.DeleteExpired(time.Now())
	if err != nil {
		log.Warn("expired-registration purge failed", zap.Error(err))
	} else {
		log.Info("purged expired registrations", zap.Int("count", purged))
	}

	// ── Step 6: Build components ──────────────────────────────────────────────
	controller := admission.New(store, log)

	backendLabel := "mock"
	var provider timeseries.Provider
	if cfg.TimeSeries.Provider == "real" {
		rp, err := timeseries.NewRemoteProvider(cfg.TimeSeries.Endpoint)
		if err != nil {
			log.Fatal("time-series provider init failed", zap.Error(err))
		}
		provider = rp
		backendLabel = "real"
	} else {
		provider = timeseries.NewMockProvider()
	}

	kernel := governance.New(log, false)

	// ── Step 7: Prometheus metrics ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 7b: Health poller ─────────────────────────────────────────────────
	evaluator := health.NewEvaluator()
	healthPoller := poller.NewManager(provider, evaluator, metrics, kernel, log, poller.Config{
		Interval:        cfg.Detection.PollInterval,
		Namespace:       cfg.Detection.Namespace,
		CPUThreshold:    health.DefaultCPUThreshold,
		MemoryThreshold: health.DefaultMemoryThreshold,
		BackendLabel:    backendLabel,
	})
	go healthPoller.Run(ctx)

	// ── Step 8: Admission RPC server ──────────────────────────────────────────
	if cfg.RPC.Enabled {
		srv := rpcserver.NewServer(cfg.RPC.SocketPath, controller, log)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				log.Error("admission socket server error", zap.Error(err))
			}
		}()
		log.Info("admission socket listening", zap.String("path", cfg.RPC.SocketPath))
	} else {
		log.Info("admission RPC server disabled")
	}

	// ── Step 9: SIGHUP hot-reload ─────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			log.Info("config hot-reload successful",
				zap.Int("new_default_wait_seconds", newCfg.Admission.DefaultWaitSeconds))
		}
	}()

	// ── Step 10: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	log.Info("admissiond shutdown complete")
}

// openStore builds the registry.Store the config selects.
func openStore(cfg config.RegistryConfig) (registry.Store, error) {
	if cfg.Provider == "mock" {
		return registry.NewMemStore(), nil
	}
	return registry.OpenBoltStore(cfg.DBPath)
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
