// Package main — cmd/kernel/main.go
//
// nous autonomic kernel core entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/nous/kernel.yaml.
//  2. Initialise structured logger (zap, JSON or console).
//  3. Open BoltDB storage (trace archive, audit ledger, model registry journal).
//  4. Prune stale ledger/trace entries.
//  5. Construct the model registry and load the active (and, if configured,
//     shadow) model version; replay the registry journal first so a prior
//     crash mid-swap is reconciled before anything reads the pointer files.
//  6. Start the Prometheus metrics server and, if enabled, the OTel tracer.
//  7. Wire telemetry, policy, dispatch, trace, shadow, and real-time
//     admission into one autonomy Tick and start its loop.
//  8. Start the agent capability/audit engine's frame listener.
//  9. Start the shell control socket (autoctl/llmctl/shadowctl/memctl/
//     driftctl/logctl).
// 10. Register SIGHUP for config hot-reload (non-destructive fields only).
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// On model load failure or config validation failure: exit 1 immediately.
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

	"github.com/nous-kernel/nous/internal/agent"
	"github.com/nous-kernel/nous/internal/config"
	"github.com/nous-kernel/nous/internal/control"
	"github.com/nous-kernel/nous/internal/dispatch"
	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/incident"
	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/kernel"
	"github.com/nous-kernel/nous/internal/model"
	"github.com/nous-kernel/nous/internal/observability"
	"github.com/nous-kernel/nous/internal/policy"
	"github.com/nous-kernel/nous/internal/rt"
	"github.com/nous-kernel/nous/internal/shadow"
	"github.com/nous-kernel/nous/internal/storage"
	"github.com/nous-kernel/nous/internal/telemetry"
	"github.com/nous-kernel/nous/internal/trace"
)

func main() {
	configPath := flag.String("config", "/etc/nous/kernel.yaml", "Path to kernel.yaml")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("nous %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("nous kernel starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("bbolt open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("storage opened", zap.String("path", cfg.Storage.DBPath))

	if pruned, err := db.PruneOldEntries(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Model registry (component G) ─────────────────────────────────────
	health := model.HealthThresholds{
		MaxLatencyP99:  cfg.Model.MaxLatencyP99,
		MaxFootprintKB: cfg.Model.MaxFootprintKB,
		MinAccuracyPPM: int(cfg.Model.MinAccuracyPPM),
	}
	models, err := model.NewManager(cfg.Model.RegistryPath, "q88-dense", model.NoopVerifier{}, db, health)
	if err != nil {
		log.Fatal("model registry init failed", zap.Error(err))
	}
	if lastEvent, found, err := models.Recover(); err != nil {
		log.Fatal("model registry journal replay failed", zap.Error(err))
	} else if found {
		log.Info("model registry recovered", zap.String("last_event", lastEvent.Kind), zap.String("version", lastEvent.Version))
	}
	if v, err := os.ReadFile(cfg.Model.RegistryPath + "/active"); err == nil {
		if err := models.Load(string(v)); err != nil {
			log.Fatal("active model load failed", zap.Error(err))
		}
	}
	if v, err := os.ReadFile(cfg.Model.RegistryPath + "/shadow"); err == nil && cfg.Shadow.Mode != "disabled" {
		if err := models.ShadowLoad(string(v)); err != nil {
			log.Fatal("shadow model load failed", zap.Error(err))
		}
	}

	// ── Telemetry (component A) ──────────────────────────────────────────
	src := &telemetry.AtomicSource{}
	collector := telemetry.NewCollector(src)

	// ── Policy gate (component C) ────────────────────────────────────────
	bounds := policy.DefaultBounds()
	bounds.ConfidenceThreshold = fixedpoint.FromInt(cfg.Autonomy.ConfidenceThreshold)
	bounds.MemoryMinDwell = time.Duration(cfg.Policy.MemoryMinDwellMS) * time.Millisecond
	bounds.OscillationWindow = cfg.Policy.OscillationWindow
	bounds.OscillationLimit = cfg.Policy.OscillationLimit
	gate := policy.NewGate(bounds)

	// ── Dispatcher (component D) ─────────────────────────────────────────
	th := dispatch.DefaultThresholds()
	th.HysteresisDelta = fixedpoint.FromInt(cfg.Policy.MemoryHysteresis)
	th.MinDwell = time.Duration(cfg.Policy.MemoryMinDwellMS) * time.Millisecond
	dispatcher := dispatch.NewDispatcher(th)

	// ── Trace recorder (component E) ─────────────────────────────────────
	recorder := trace.NewRecorder(cfg.Trace.Capacity, cfg.Trace.ArchiveOverwritten, db, log.Logger)

	// ── Shadow controller (component F) ──────────────────────────────────
	quorum := shadow.NewQuorum(cfg.Shadow.QuorumMin, 30*time.Second)
	shadowCfg := shadow.Config{
		DivergenceThreshold: cfg.Shadow.DivergenceThreshold,
		ConfidenceDelta:     fixedpoint.FromInt(cfg.Shadow.ConfidenceDelta),
		CanaryPercent:       cfg.Shadow.CanaryPercent,
		DryRun:              cfg.Shadow.DryRun,
		QuorumMin:           cfg.Shadow.QuorumMin,
		DriftBaseline:       fixedpoint.FromInt(cfg.Shadow.DriftBaseline),
		DriftWarning:        fixedpoint.FromInt(cfg.Shadow.DriftWarningThreshold),
		DriftAlert:          fixedpoint.FromInt(cfg.Shadow.DriftAlertThreshold),
	}
	shadowCtrl := shadow.NewController(shadowCfg, quorum)
	if cfg.Shadow.Mode != "disabled" {
		shadowCtrl.SetMode(shadow.Mode(cfg.Shadow.Mode))
	}

	// ── Real-time admission core (component H) ───────────────────────────
	rtCore := rt.NewCore(cfg.RT.MaxUtilization, cfg.RT.CPUCount)

	// ── Online learning ───────────────────────────────────────────────────
	learner := inference.NewLearner(cfg.Learning.Limit, cfg.Learning.Period,
		fixedpoint.FromInt(cfg.Learning.KLThreshold), fixedpoint.FromInt(1))

	// ── Observability ─────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	go reportRTMetrics(ctx, rtCore, metrics)
	tracing, shutdownTracing, err := observability.NewTracing(cfg.Observability.TracingEnabled, "nous-kernel", config.Version)
	if err != nil {
		log.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(ctx) //nolint:errcheck
	tickHealth := observability.NewTickHealth()
	go func() {
		if err := observability.ServeHealth(ctx, cfg.Observability.HealthAddr, tickHealth, log.Logger); err != nil {
			log.Error("health server error", zap.Error(err))
		}
	}()

	// ── Incident exporter (component J) ──────────────────────────────────
	exporter, err := incident.NewExporter(cfg.Storage.IncidentDir, recorder, models,
		incident.ConfigFingerprint{ModulePath: "github.com/nous-kernel/nous", GoVersion: config.Version, BuildCommit: config.GitCommit})
	if err != nil {
		log.Fatal("incident exporter init failed", zap.Error(err))
	}

	// ── Autonomy tick loop ────────────────────────────────────────────────
	tickCfg := kernel.Config{
		TickPeriod:          time.Duration(cfg.Autonomy.TickPeriodNS),
		ConfidenceThreshold: float64(cfg.Autonomy.ConfidenceThreshold),
		ThermalStressUsage:  900,
		CPU:                 0, // the autonomy loop is pinned to CPU 0; agent/dispatch work shares the rest
	}
	tick, err := kernel.New(tickCfg, kernel.Dependencies{
		Collector: collector, Source: src, Models: models, Gate: gate, Dispatcher: dispatcher,
		Recorder: recorder, Shadow: shadowCtrl, RT: rtCore, Learner: learner,
		Metrics: metrics, Tracing: tracing, Health: tickHealth, Log: log.Logger, Incident: exporter,
	}, time.Now())
	if err != nil {
		log.Fatal("autonomy tick init failed", zap.Error(err))
	}
	tick.SetEnabled(cfg.Autonomy.Enabled)
	go tick.Run(ctx)
	log.Info("autonomy tick loop started", zap.Duration("period", tickCfg.TickPeriod))

	// ── Agent capability/audit engine (component I) ──────────────────────
	agentEngine := agent.NewEngine(db)
	registerAgentBindings(agentEngine, dispatcher)
	go func() {
		if err := agent.ListenAndServe(ctx, cfg.Agent.SocketPath, agentEngine, cfg.Agent.MaxFrameBytes, log.Logger); err != nil {
			log.Error("agent frame server error", zap.Error(err))
		}
	}()
	log.Info("agent frame socket started", zap.String("path", cfg.Agent.SocketPath))

	// ── Shell control surface ────────────────────────────────────────────
	ctlServer := control.NewServer(cfg.Operator.SocketPath, log.Logger)
	ctlServer.Register("autoctl", control.AutoctlHandler(tick))
	ctlServer.Register("llmctl", control.LlmctlHandler(modelAdapter{mgr: models, learner: learner}))
	ctlServer.Register("shadowctl", control.ShadowctlHandler(shadowAdapter{ctrl: shadowCtrl, mgr: models}, models.ShadowLoad))
	ctlServer.Register("memctl", control.MemctlHandler(dispatcher.Approvals()))
	ctlServer.Register("driftctl", control.DriftctlHandler(shadowCtrl))
	ctlServer.Register("logctl", control.LogctlHandler(log))

	if cfg.Operator.Enabled {
		go func() {
			if err := ctlServer.ListenAndServe(ctx); err != nil {
				log.Error("control server error", zap.Error(err))
			}
		}()
		log.Info("control socket started", zap.String("path", cfg.Operator.SocketPath))
	}

	// ── SIGHUP hot-reload ─────────────────────────────────────────────────
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
			gate.SetBounds(policyBoundsFrom(newCfg))
			log.Info("config hot-reload applied", zap.Int32("confidence_threshold", newCfg.Autonomy.ConfidenceThreshold))
		}
	}()

	// ── Wait for shutdown signal ──────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight ticks and connections unwind
	log.Info("nous kernel shutdown complete")
}

// reportRTMetrics periodically publishes per-CPU admitted utilization and
// the lifetime deadline-miss count to Prometheus — the rt.Core admission
// core partitions accounting per CPU, but has no Prometheus dependency of
// its own, so the shell process reads its snapshot instead.
func reportRTMetrics(ctx context.Context, core *rt.Core, metrics *observability.Metrics) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	var lastMisses uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for cpu, util := range core.UtilizationByCPU() {
				metrics.RTUtilization.WithLabelValues(fmt.Sprintf("%d", cpu)).Set(util)
			}
			if misses := core.DeadlineMisses(); misses > lastMisses {
				metrics.RTDeadlineMissesTotal.Add(float64(misses - lastMisses))
				lastMisses = misses
			}
		}
	}
}

func policyBoundsFrom(cfg *config.Config) policy.Bounds {
	b := policy.DefaultBounds()
	b.ConfidenceThreshold = fixedpoint.FromInt(cfg.Autonomy.ConfidenceThreshold)
	b.MemoryMinDwell = time.Duration(cfg.Policy.MemoryMinDwellMS) * time.Millisecond
	b.OscillationWindow = cfg.Policy.OscillationWindow
	b.OscillationLimit = cfg.Policy.OscillationLimit
	return b
}

