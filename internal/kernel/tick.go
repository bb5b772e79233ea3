// Package kernel runs the autonomy tick: the closed loop
// A(telemetry)→B(inference)→C(policy)→D(dispatch)→E(trace), gated by the
// real-time admission core (H) and cross-checked against a shadow model
// (F) when enabled.
//
// Grounded on the teacher's BPF ring-buffer processor
// (internal/kernel/events.go, pre-transformation): a single ctx-driven
// goroutine runs a ticker loop, updates metrics inline, and applies
// backpressure/skip rather than blocking — generalized here from "drain a
// ring buffer, queue for workers" to "run one closed-loop iteration,
// bounded by a CBS server instead of a channel". Per spec, any panic
// inside the tick disables the loop until the next reboot; this is the one
// place recover() is used anywhere in the module.
package kernel

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nous-kernel/nous/internal/dispatch"
	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/incident"
	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/model"
	"github.com/nous-kernel/nous/internal/observability"
	"github.com/nous-kernel/nous/internal/policy"
	"github.com/nous-kernel/nous/internal/rt"
	"github.com/nous-kernel/nous/internal/shadow"
	"github.com/nous-kernel/nous/internal/telemetry"
	"github.com/nous-kernel/nous/internal/trace"
)

// AutonomyServerID is the CBS server id reserved for the tick itself, so
// the closed loop is bounded the same way any other real-time class is.
const AutonomyServerID = "autonomy"

// Config holds the tick loop's tunable parameters (§6 "Environment-like
// configuration" in the external-interfaces surface).
type Config struct {
	TickPeriod          time.Duration
	ConfidenceThreshold float64 // informational; the real threshold lives in policy.Bounds
	ThermalStressUsage  int32   // CPU usage (milli-units) above which audio is gated off
	CPU                 int     // CPU id the autonomy server is admitted and dispatched on
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{TickPeriod: 10 * time.Millisecond, ThermalStressUsage: 900}
}

// Tick owns the autonomy loop's runtime dependencies and running state.
type Tick struct {
	cfg Config

	collector  *telemetry.Collector
	src        *telemetry.AtomicSource
	models     *model.Manager
	gate       *policy.Gate
	dispatcher *dispatch.Dispatcher
	recorder   *trace.Recorder
	shadowCtrl *shadow.Controller
	rtCore     *rt.Core
	learner    *inference.Learner

	metrics  *observability.Metrics
	tracing  *observability.Tracing
	health   *observability.TickHealth
	log      *zap.Logger
	incident *incident.Exporter // optional; nil disables panic incident export

	enabled  atomic.Bool
	traceSeq atomic.Uint64

	prevDirective inference.Directive
}

// Dependencies bundles every collaborator Tick needs, to keep New's
// signature from sprawling as components are added.
type Dependencies struct {
	Collector  *telemetry.Collector
	Source     *telemetry.AtomicSource
	Models     *model.Manager
	Gate       *policy.Gate
	Dispatcher *dispatch.Dispatcher
	Recorder   *trace.Recorder
	Shadow     *shadow.Controller
	RT         *rt.Core
	Learner    *inference.Learner
	Metrics    *observability.Metrics
	Tracing    *observability.Tracing
	Health     *observability.TickHealth
	Log        *zap.Logger
	Incident   *incident.Exporter // optional
}

// New constructs a Tick, admitting the autonomy server into the RT core
// under budget/period derived from cfg.TickPeriod (budget defaults to 80%
// of the period, leaving headroom for throttle/refill jitter).
func New(cfg Config, deps Dependencies, now time.Time) (*Tick, error) {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 10 * time.Millisecond
	}
	budget := time.Duration(float64(cfg.TickPeriod) * 0.8)
	if err := deps.RT.Admit(AutonomyServerID, cfg.CPU, budget, cfg.TickPeriod, now); err != nil {
		return nil, fmt.Errorf("kernel: admit autonomy server: %w", err)
	}

	t := &Tick{
		cfg: cfg, collector: deps.Collector, src: deps.Source, models: deps.Models,
		gate: deps.Gate, dispatcher: deps.Dispatcher, recorder: deps.Recorder,
		shadowCtrl: deps.Shadow, rtCore: deps.RT, learner: deps.Learner,
		metrics: deps.Metrics, tracing: deps.Tracing, health: deps.Health, log: deps.Log,
		incident: deps.Incident,
	}
	t.enabled.Store(true)
	return t, nil
}

// SetEnabled is autoctl on/off.
func (t *Tick) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled is autoctl status.
func (t *Tick) Enabled() bool { return t.enabled.Load() }

// LastDecisions is autoctl audit: the last n trace records, newest first.
func (t *Tick) LastDecisions(n int) any { return t.recorder.Last(n) }

// Explain is autoctl explain <trace-id>: returns the full recorded trace.
func (t *Tick) Explain(traceID string) (any, error) {
	rec, ok := t.recorder.FindByID(traceID)
	if !ok {
		return nil, fmt.Errorf("kernel: trace %q not found", traceID)
	}
	return rec, nil
}

// WhatIf is autoctl whatif/preview: looks up a recorded trace and checks
// modelVersion with the model manager's DrySwap (decode plus health check,
// journaled as a dry_swap event), then returns the trace's recorded sample
// next to the candidate version. The sample is not run through the
// candidate model, so no alternative directive is computed, and nothing is
// dispatched.
func (t *Tick) WhatIf(traceID, modelVersion string) (any, error) {
	rec, ok := t.recorder.FindByID(traceID)
	if !ok {
		return nil, fmt.Errorf("kernel: trace %q not found", traceID)
	}
	meta, err := t.models.DrySwap(modelVersion)
	if err != nil {
		return nil, err
	}
	return map[string]any{"trace_id": traceID, "against_version": meta.Version, "original_sample": rec.Sample}, nil
}

// Run drives the tick loop until ctx is cancelled.
func (t *Tick) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.runOnceGuarded(now)
		}
	}
}

// runOnceGuarded wraps runOnce with the one recover() in the module: a
// panic inside the tick disables the loop until the process restarts,
// matching the spec's failure semantics for an unrecoverable defect in the
// closed loop.
func (t *Tick) runOnceGuarded(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.enabled.Store(false)
			t.health.MarkPanicked()
			t.metrics.TicksTotal.WithLabelValues("panicked").Inc()
			t.log.Error("autonomy tick panicked, loop disabled until restart", zap.Any("recover", r))
			if t.incident != nil {
				path, err := t.incident.Export(nil, true, fmt.Sprintf("autonomy tick panic: %v", r), now)
				if err != nil {
					t.log.Error("failed to export panic incident bundle", zap.Error(err))
				} else {
					t.log.Warn("panic incident bundle written", zap.String("path", path))
				}
			}
		}
	}()
	t.runOnce(now)
}

func (t *Tick) runOnce(now time.Time) {
	if !t.enabled.Load() {
		return
	}

	if _, admitted := t.rtCore.Dispatch(t.cfg.CPU, now); !admitted {
		t.metrics.TicksTotal.WithLabelValues("throttled").Inc()
		return
	}
	start := time.Now()
	defer func() { _ = t.rtCore.Charge(AutonomyServerID, time.Since(start)) }()

	sample := t.collector.Sample(now)
	if t.src != nil {
		t.src.ResetDeadlineMisses()
	}

	handle := t.models.Active()
	if handle == nil {
		t.metrics.TicksTotal.WithLabelValues("panicked").Inc() // no model: treat as a hard fault, not a quiet skip
		return
	}

	directive, act, err := handle.Runtime.Infer(sample)
	if err != nil {
		t.metrics.InferenceErrorsTotal.WithLabelValues("invalid_shape").Inc()
		directive = t.prevDirective.ZeroedConfidence()
	} else {
		t.prevDirective = directive
	}
	t.metrics.ConfidenceHistogram.Observe(directive.Confidence.Float64())
	t.observeDrift(directive)

	priorStrategy := t.dispatcher.Strategy()
	candidate := dispatch.MemoryStrategyFromDirective(priorStrategy, directive.Memory, dispatch.DefaultThresholds())
	isChange := candidate != priorStrategy

	verdict := t.gate.Evaluate(directive, isChange, isChange, now)

	traceID := fmt.Sprintf("trc-%d-%d", now.UnixNano(), t.traceSeq.Add(1))
	rec := trace.Record{
		TraceID: traceID, Timestamp: now,
		ModelVersion: handle.Meta.Version, ModelHash: handle.Meta.HashHex(),
		Sample: sample, Activations: act.Clone(),
		Checks: verdict.Checks,
		Prediction: directive, ActionIndex: directive.ActionIndex,
		Confidence: directive.Confidence, Alternatives: directive.Alternatives,
	}

	if !verdict.Allowed {
		t.metrics.PolicyDenialsTotal.WithLabelValues(string(verdict.Deny.Reason)).Inc()
		rec.WasExecuted = false
		rec.OverrideReason = verdict.Deny.Error()
		t.recorder.Record(rec)
		t.metrics.TicksTotal.WithLabelValues("overridden").Inc()
		t.metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
		return
	}

	thermalStress := sample.CPUUsage >= t.cfg.ThermalStressUsage
	dispatchRec := t.dispatcher.Dispatch(verdict.Directive.Memory, fixedpoint.FromInt(sample.CPUUsage), thermalStress, now)
	if dispatchRec.StrategyChanged {
		t.metrics.StrategyChangesTotal.WithLabelValues(string(dispatchRec.NewStrategy)).Inc()
	}
	rec.Dispatch = dispatchRec
	rec.WasExecuted = true

	if shadowHandle := t.models.Shadow(); shadowHandle != nil && t.shadowCtrl.Mode() != shadow.ModeDisabled {
		shadowDirective, _, shadowErr := shadowHandle.Runtime.Infer(sample)
		if shadowErr == nil {
			diverged, signal := t.shadowCtrl.Evaluate(traceID, directive, shadowDirective)
			if diverged {
				t.metrics.ShadowDivergencesTotal.Inc()
			}
			if signal == shadow.SignalRollback {
				t.metrics.ShadowRollbacksTotal.Inc()
				if err := t.models.Rollback(); err != nil {
					t.log.Warn("shadow-triggered rollback failed", zap.Error(err))
				}
			}
		}
	}

	t.recorder.Record(rec)
	t.metrics.TicksTotal.WithLabelValues("executed").Inc()
	t.metrics.TraceRingOccupancy.Set(float64(t.recorder.Stats().Occupancy))
	t.metrics.TickDurationSeconds.Observe(time.Since(start).Seconds())
}

// observeDrift feeds this tick's production confidence into the shadow
// controller's rolling drift monitor (driftctl status/history), independent
// of whether a shadow model is even configured — grounded on
// otel/drift.rs's DriftMonitor, which tracks production confidence
// unconditionally rather than only during shadow comparison.
func (t *Tick) observeDrift(directive inference.Directive) {
	status := t.shadowCtrl.ObserveConfidence(directive.Confidence)
	switch status {
	case shadow.DriftWarning:
		t.metrics.DriftStatus.Set(1)
		t.log.Warn("confidence drift warning", zap.Float64("confidence", directive.Confidence.Float64()))
	case shadow.DriftAlert:
		t.metrics.DriftStatus.Set(2)
		t.log.Warn("confidence drift alert", zap.Float64("confidence", directive.Confidence.Float64()))
	default:
		t.metrics.DriftStatus.Set(0)
	}
}

