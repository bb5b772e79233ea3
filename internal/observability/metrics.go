// Package observability — metrics.go
//
// Prometheus metrics for the kernel core.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable via
// observability.metrics_addr).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: nous_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the kernel core.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Autonomy tick (A→B→C→D→E) ────────────────────────────────────────────

	// TickDurationSeconds records end-to-end tick latency.
	TickDurationSeconds prometheus.Histogram

	// TicksTotal counts completed ticks. Labels: outcome (executed,
	// overridden, panicked, throttled).
	TicksTotal *prometheus.CounterVec

	// ─── Inference (B) ────────────────────────────────────────────────────────

	// ConfidenceHistogram records the distribution of directive confidence
	// scalars (milli-units, 0..1000).
	ConfidenceHistogram prometheus.Histogram

	// InferenceErrorsTotal counts runtime errors. Labels: kind (invalid_shape).
	InferenceErrorsTotal *prometheus.CounterVec

	// LearningStepsTotal counts bounded online-learning gradient steps.
	// Labels: outcome (applied, budget_exceeded, kl_aborted).
	LearningStepsTotal *prometheus.CounterVec

	// ─── Policy gate (C) ───────────────────────────────────────────────────────

	// PolicyDenialsTotal counts denials. Labels: reason (the policy.DenyReason
	// string: ConfidenceBelowThreshold, RateLimited, RangeClamped,
	// OscillationDetected, Unauthorized).
	PolicyDenialsTotal *prometheus.CounterVec

	// ─── Dispatcher (D) ─────────────────────────────────────────────────────────

	// StrategyChangesTotal counts memory-strategy commits. Labels: strategy.
	StrategyChangesTotal *prometheus.CounterVec

	// ─── Trace recorder (E) ─────────────────────────────────────────────────────

	// TraceRingOccupancy is the current live-entry count in the ring buffer.
	TraceRingOccupancy prometheus.Gauge

	// TraceOverwritesTotal counts oldest-first evictions.
	TraceOverwritesTotal prometheus.Counter

	// ─── Shadow/canary (F) ───────────────────────────────────────────────────────

	// ShadowDivergencesTotal counts ticks where shadow diverged from production.
	ShadowDivergencesTotal prometheus.Counter

	// ShadowRollbacksTotal counts Rollback signals emitted to the model manager.
	ShadowRollbacksTotal prometheus.Counter

	// DriftStatus is the confidence drift monitor's current classification:
	// 0=ok, 1=warning, 2=alert.
	DriftStatus prometheus.Gauge

	// ─── Model life-cycle (G) ────────────────────────────────────────────────────

	// ModelSwapsTotal counts life-cycle transitions. Labels: kind (load, swap,
	// rollback, promote, dry_swap).
	ModelSwapsTotal *prometheus.CounterVec

	// ModelHealthCheckFails counts health-check failures. Labels: metric
	// (latency_p99, footprint, accuracy).
	ModelHealthCheckFails *prometheus.CounterVec

	// ─── RT admission core (H) ───────────────────────────────────────────────────

	// RTUtilization is admitted CBS utilization per CPU. Labels: cpu.
	RTUtilization *prometheus.GaugeVec

	// RTAdmissionsTotal counts admission attempts. Labels: outcome (admitted,
	// not_schedulable).
	RTAdmissionsTotal *prometheus.CounterVec

	// RTDeadlineMissesTotal counts deadline misses across all servers.
	RTDeadlineMissesTotal prometheus.Counter

	// ─── Agent capability/audit engine (I) ───────────────────────────────────────

	// AgentOpsTotal counts agent-initiated frame operations. Labels: class,
	// decision (allow, deny).
	AgentOpsTotal *prometheus.CounterVec

	// AuditAppendFailures counts audit-ledger append failures — fatal to the
	// requesting frame, by contract.
	AuditAppendFailures prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────────────

	// UptimeSeconds is seconds since this kernel core instance initialized.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all kernel-core Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		TickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nous",
			Subsystem: "tick",
			Name:      "duration_seconds",
			Help:      "End-to-end autonomy tick latency (telemetry through trace recording).",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 2, 12),
		}),

		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "tick",
			Name:      "total",
			Help:      "Completed autonomy ticks, by outcome.",
		}, []string{"outcome"}),

		ConfidenceHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nous",
			Subsystem: "inference",
			Name:      "confidence",
			Help:      "Distribution of directive confidence scalars (milli-units, 0..1000).",
			Buckets:   []float64{100, 200, 300, 400, 500, 600, 700, 800, 900, 1000},
		}),

		InferenceErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "inference",
			Name:      "errors_total",
			Help:      "Inference runtime errors, by kind.",
		}, []string{"kind"}),

		LearningStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "inference",
			Name:      "learning_steps_total",
			Help:      "Bounded online-learning gradient steps, by outcome.",
		}, []string{"outcome"}),

		PolicyDenialsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "policy",
			Name:      "denials_total",
			Help:      "Safety policy gate denials, by reason.",
		}, []string{"reason"}),

		StrategyChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "dispatch",
			Name:      "strategy_changes_total",
			Help:      "Memory-strategy transitions committed, by target strategy.",
		}, []string{"strategy"}),

		TraceRingOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nous",
			Subsystem: "trace",
			Name:      "ring_occupancy",
			Help:      "Current live entry count in the decision-trace ring buffer.",
		}),

		TraceOverwritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "trace",
			Name:      "overwrites_total",
			Help:      "Ring-buffer slots overwritten oldest-first since start.",
		}),

		ShadowDivergencesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "shadow",
			Name:      "divergences_total",
			Help:      "Ticks where the shadow/canary model diverged from production.",
		}),

		ShadowRollbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "shadow",
			Name:      "rollbacks_total",
			Help:      "Rollback signals emitted from the shadow controller to the model manager.",
		}),

		DriftStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nous",
			Subsystem: "shadow",
			Name:      "drift_status",
			Help:      "Confidence drift monitor classification: 0=ok, 1=warning, 2=alert.",
		}),

		ModelSwapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "model",
			Name:      "swaps_total",
			Help:      "Model life-cycle transitions, by kind.",
		}, []string{"kind"}),

		ModelHealthCheckFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "model",
			Name:      "health_check_failures_total",
			Help:      "Model health-check failures, by offending metric.",
		}, []string{"metric"}),

		RTUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "nous",
			Subsystem: "rt",
			Name:      "utilization",
			Help:      "Admitted CBS utilization (sum of budget/period) per CPU.",
		}, []string{"cpu"}),

		RTAdmissionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "rt",
			Name:      "admissions_total",
			Help:      "Reservation-server admission attempts, by outcome.",
		}, []string{"outcome"}),

		RTDeadlineMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "rt",
			Name:      "deadline_misses_total",
			Help:      "Deadline misses across all admitted CBS servers.",
		}),

		AgentOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "agent",
			Name:      "ops_total",
			Help:      "Agent-initiated frame operations, by opcode class and decision.",
		}, []string{"class", "decision"}),

		AuditAppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "nous",
			Subsystem: "agent",
			Name:      "audit_append_failures_total",
			Help:      "Audit-ledger append failures — fatal to the requesting frame, by contract.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "nous",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Seconds since this kernel core instance initialized.",
		}),
	}

	reg.MustRegister(
		m.TickDurationSeconds,
		m.TicksTotal,
		m.ConfidenceHistogram,
		m.InferenceErrorsTotal,
		m.LearningStepsTotal,
		m.PolicyDenialsTotal,
		m.StrategyChangesTotal,
		m.TraceRingOccupancy,
		m.TraceOverwritesTotal,
		m.ShadowDivergencesTotal,
		m.ShadowRollbacksTotal,
		m.DriftStatus,
		m.ModelSwapsTotal,
		m.ModelHealthCheckFails,
		m.RTUtilization,
		m.RTAdmissionsTotal,
		m.RTDeadlineMissesTotal,
		m.AgentOpsTotal,
		m.AuditAppendFailures,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on addr.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
