// Package shadow implements component F: the shadow/canary controller.
package shadow

import (
	"sync"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
)

// Mode is the shadow controller's state.
type Mode string

const (
	ModeDisabled      Mode = "disabled"
	ModeLogOnly       Mode = "log_only"
	ModeCompare       Mode = "compare"
	ModeCanaryPartial Mode = "canary_partial"
	ModeCanaryFull    Mode = "canary_full"
)

// Signal is emitted by the controller to the model life-cycle manager (G).
type Signal int

const (
	SignalNone Signal = iota
	SignalRollback
)

// Config holds the divergence detection thresholds.
type Config struct {
	DivergenceThreshold int            // running divergence count that triggers Rollback
	ConfidenceDelta     fixedpoint.Q88 // |confidence_prod - confidence_shadow| > this declares divergence
	CanaryPercent       int            // 0..100, fraction of real decisions routed to shadow in CanaryPartial
	DryRun              bool           // suppresses counters and rollback
	QuorumMin           int            // replicas required to corroborate before Rollback, when quorum is wired

	// DriftBaseline, DriftWarning, and DriftAlert parameterize the rolling
	// confidence-drift monitor (driftctl), grounded on the original kernel's
	// otel::drift::DriftMonitor. Zero values fall back to that monitor's own
	// defaults (800, 100, 200 on the 0..1000 confidence scale).
	DriftBaseline fixedpoint.Q88
	DriftWarning  fixedpoint.Q88
	DriftAlert    fixedpoint.Q88
}

// driftWindowCapacity is the rolling confidence-sample ring buffer size,
// carried over from otel/drift.rs's `RingBuffer<u32, 100>`.
const driftWindowCapacity = 100

// minDriftSamples is the smallest window otel/drift.rs requires before it
// attempts a drift verdict (`confidence_window.len() < 10`).
const minDriftSamples = 10

// DriftStatus classifies the rolling confidence average against baseline,
// mirrored on otel/drift.rs's DriftStatus enum (Ok/Warning/Alert).
type DriftStatus string

const (
	DriftOK      DriftStatus = "ok"
	DriftWarning DriftStatus = "warning"
	DriftAlert   DriftStatus = "alert"
)

// driftRingBuffer is a fixed-capacity ring of recent confidence samples,
// ported from otel/drift.rs's `RingBuffer<u32, N>`: push overwrites the
// oldest slot once full, iteration order is insertion order.
type driftRingBuffer struct {
	samples [driftWindowCapacity]fixedpoint.Q88
	next    int
	count   int
}

func (b *driftRingBuffer) push(v fixedpoint.Q88) {
	b.samples[b.next] = v
	b.next = (b.next + 1) % driftWindowCapacity
	if b.count < driftWindowCapacity {
		b.count++
	}
}

// ordered returns the current window's samples oldest-first.
func (b *driftRingBuffer) ordered() []fixedpoint.Q88 {
	out := make([]fixedpoint.Q88, b.count)
	if b.count < driftWindowCapacity {
		copy(out, b.samples[:b.count])
		return out
	}
	copy(out, b.samples[b.next:])
	copy(out[driftWindowCapacity-b.next:], b.samples[:b.next])
	return out
}

func (b *driftRingBuffer) average() fixedpoint.Q88 {
	if b.count == 0 {
		return 0
	}
	var sum fixedpoint.Q88
	for _, v := range b.ordered() {
		sum = fixedpoint.Add(sum, v)
	}
	return fixedpoint.Div(sum, fixedpoint.FromInt(int32(b.count)))
}

func defaultDriftBaseline(cfg Config) fixedpoint.Q88 {
	if cfg.DriftBaseline != 0 {
		return cfg.DriftBaseline
	}
	return fixedpoint.FromInt(800)
}

func driftWarningThreshold(cfg Config) fixedpoint.Q88 {
	if cfg.DriftWarning != 0 {
		return cfg.DriftWarning
	}
	return fixedpoint.FromInt(100)
}

func driftAlertThreshold(cfg Config) fixedpoint.Q88 {
	if cfg.DriftAlert != 0 {
		return cfg.DriftAlert
	}
	return fixedpoint.FromInt(200)
}

// Controller runs the shadow model B' alongside production and tracks
// divergence until promotion or rollback.
type Controller struct {
	mu sync.Mutex

	mode   Mode
	cfg    Config
	quorum *Quorum // optional; nil means single-instance, always corroborated

	divergenceCount int
	tickCounter     uint64

	confidenceBaseline fixedpoint.Q88
	confidenceWindow   driftRingBuffer
}

// NewController constructs a Controller in Disabled mode.
func NewController(cfg Config, quorum *Quorum) *Controller {
	return &Controller{mode: ModeDisabled, cfg: cfg, quorum: quorum, confidenceBaseline: defaultDriftBaseline(cfg)}
}

// Mode returns the current controller mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetMode transitions the controller, following
// Disabled→LogOnly→Compare→(CanaryPartial→CanaryFull)→Disabled, with
// Compare→Rollback→Disabled as the failure arc (Rollback is signaled by
// Evaluate, not SetMode). Resets the divergence counter on every
// transition, since a stale count from a previous mode must not leak into
// the next.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = m
	c.divergenceCount = 0
}

// DivergenceCount returns the current running divergence count.
func (c *Controller) DivergenceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.divergenceCount
}

// ObserveConfidence feeds one tick's production confidence scalar into the
// rolling drift window and returns the resulting classification. Runs
// unconditionally on every tick regardless of Mode: drift tracks model
// performance over time, not shadow/canary divergence, matching
// otel/drift.rs's DriftMonitor, which has no notion of a "disabled" state.
func (c *Controller) ObserveConfidence(confidence fixedpoint.Q88) DriftStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confidenceWindow.push(confidence)
	return c.driftStatusLocked()
}

func (c *Controller) driftStatusLocked() DriftStatus {
	if c.confidenceWindow.count < minDriftSamples {
		return DriftOK
	}
	avg := c.confidenceWindow.average()
	delta := fixedpoint.Sub(avg, c.confidenceBaseline)
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta > driftAlertThreshold(c.cfg):
		return DriftAlert
	case delta > driftWarningThreshold(c.cfg):
		return DriftWarning
	default:
		return DriftOK
	}
}

// Status is driftctl status: a snapshot of the controller's drift-relevant
// state for operator inspection.
func (c *Controller) Status() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]any{
		"mode":                string(c.mode),
		"divergence_count":    c.divergenceCount,
		"threshold":           c.cfg.DivergenceThreshold,
		"ticks_observed":      c.tickCounter,
		"drift_status":        string(c.driftStatusLocked()),
		"confidence_baseline": c.confidenceBaseline.Float64(),
		"confidence_samples":  c.confidenceWindow.count,
	}
}

// History is driftctl history: the last n confidence samples in the rolling
// drift window, oldest first, bounded by both n and how many samples have
// actually been observed. Grounded on otel/drift.rs's RingBuffer::iter.
func (c *Controller) History(n int) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := c.confidenceWindow.ordered()
	if n > 0 && n < len(samples) {
		samples = samples[len(samples)-n:]
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.Float64()
	}
	return out
}

// Retrain is driftctl retrain: recomputes the confidence baseline from the
// current rolling window's average (a no-op on the baseline if the window
// is still empty), grounded directly on otel/drift.rs's `set_baseline` — a
// freshly retrained shadow compares against its own recent behavior instead
// of a stale baseline. Also clears the divergence counter, matching the
// previous behavior operators already depend on.
func (c *Controller) Retrain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.confidenceWindow.count > 0 {
		c.confidenceBaseline = c.confidenceWindow.average()
	}
	c.divergenceCount = 0
	return nil
}

// ResetBaseline is driftctl reset-baseline: discards the rolling confidence
// window and running divergence count and reverts the baseline to the
// configured value, e.g. after a shadow model swap where prior drift
// history is no longer meaningful.
func (c *Controller) ResetBaseline() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confidenceWindow = driftRingBuffer{}
	c.confidenceBaseline = defaultDriftBaseline(c.cfg)
	c.divergenceCount = 0
	return nil
}

// SetDivergenceThreshold is shadowctl threshold <n>.
func (c *Controller) SetDivergenceThreshold(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.DivergenceThreshold = n
}

// Promote is shadowctl promote: the controller itself holds no model
// handle, so promotion is delegated by the caller (cmd/kernel wiring) to
// model.Manager.PromoteShadow; Promote here only clears local drift state
// so the newly-active model starts without an inherited divergence count.
func (c *Controller) Promote() error {
	return c.ResetBaseline()
}

// ShouldRouteToShadow decides, for CanaryPartial, whether this tick's real
// decision should come from the shadow model. Deterministic on tickCounter
// so a replay sees the same routing the live run did.
func (c *Controller) ShouldRouteToShadow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tickCounter++
	switch c.mode {
	case ModeCanaryFull:
		return true
	case ModeCanaryPartial:
		return int(c.tickCounter%100) < c.cfg.CanaryPercent
	default:
		return false
	}
}

// Evaluate compares the production and shadow directives for one tick,
// declaring a divergence when the confidence delta exceeds the configured
// threshold or when top-1 actions differ. In dry_run mode the comparison
// still runs (so operators can observe it) but neither the counter nor
// Rollback fires. tickID identifies this tick for quorum corroboration.
func (c *Controller) Evaluate(tickID string, prod, shad inference.Directive) (diverged bool, signal Signal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeCompare && c.mode != ModeCanaryPartial && c.mode != ModeCanaryFull {
		return false, SignalNone
	}

	delta := prod.Confidence - shad.Confidence
	if delta < 0 {
		delta = -delta
	}
	diverged = delta > c.cfg.ConfidenceDelta || prod.ActionIndex != shad.ActionIndex

	if !diverged || c.cfg.DryRun {
		return diverged, SignalNone
	}

	corroborated := true
	if c.quorum != nil {
		c.quorum.ReportDivergence(tickID, "self")
		corroborated = c.quorum.Corroborated(tickID)
	}
	if !corroborated {
		return diverged, SignalNone
	}

	c.divergenceCount++
	if c.divergenceCount > c.cfg.DivergenceThreshold {
		c.mode = ModeDisabled
		c.divergenceCount = 0
		return diverged, SignalRollback
	}
	return diverged, SignalNone
}
