// Package policy implements component C: the safety policy gate.
//
// Every directive produced by inference (B) passes through Evaluate before
// dispatch (D) acts on it. Evaluate is not allocation-free: each call builds
// a new checks slice for the verdict, and recent memory-strategy changes
// are kept in a slice that is trimmed to the oscillation window.
package policy

import (
	"sync"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
)

// Bounds mirrors the teacher governance layer's ParameterBounds idiom:
// one struct holding every hard range the gate enforces, loaded once from
// config and never mutated on the hot path.
type Bounds struct {
	DirectiveMin fixedpoint.Q88
	DirectiveMax fixedpoint.Q88

	ConfidenceThreshold fixedpoint.Q88 // minimum confidence for high-impact actions

	MemoryMinDwell   time.Duration // min_dwell for memory-strategy changes
	OscillationWindow time.Duration
	OscillationLimit  int // max memory-strategy changes allowed inside the window
}

// DefaultBounds returns conservative production bounds.
func DefaultBounds() Bounds {
	return Bounds{
		DirectiveMin:        fixedpoint.FromInt(-inference.DirectiveBound),
		DirectiveMax:        fixedpoint.FromInt(inference.DirectiveBound),
		ConfidenceThreshold: fixedpoint.FromInt(500),
		MemoryMinDwell:      1 * time.Second,
		OscillationWindow:   10 * time.Second,
		OscillationLimit:    3,
	}
}

// Check records one policy check performed against a directive field, kept
// so the decision trace can carry the ordered list of value/threshold
// pairs the gate consulted.
type Check struct {
	Field     string
	Value     float64
	Threshold float64
	Passed    bool
}

// Verdict is the sum type {Allow(directive), Deny(reason)} produced by
// Evaluate.
type Verdict struct {
	Allowed   bool
	Directive inference.Directive
	Deny      *DeniedError
	Checks    []Check
}

// Gate enforces bounds, confidence, and per-subsystem rate limits.
type Gate struct {
	mu     sync.Mutex
	bounds Bounds

	lastMemoryChange time.Time
	memoryChangeLog  []time.Time // sliding window of recent memory-strategy changes
}

// NewGate constructs a Gate with the given bounds.
func NewGate(bounds Bounds) *Gate {
	return &Gate{bounds: bounds}
}

// SetBounds replaces the gate's bounds, e.g. on a config hot-reload. Safe
// for concurrent use with Evaluate; takes effect on the next call.
func (g *Gate) SetBounds(b Bounds) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bounds = b
}

// Evaluate checks d against bounds, confidence, and rate limits, returning
// the (possibly range-clamped) directive on Allow, or the denial reason.
// isHighImpact marks directives that require confidence ≥ threshold (e.g.
// a nonzero memory-strategy change); memoryStrategyChange marks a directive
// that would actually flip the memory strategy, which is what the
// min-dwell/oscillation checks gate.
func (g *Gate) Evaluate(d inference.Directive, isHighImpact, memoryStrategyChange bool, now time.Time) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	var checks []Check

	clamped := d
	clamped.Memory = fixedpoint.Clamp(d.Memory, g.bounds.DirectiveMin, g.bounds.DirectiveMax)
	clamped.Scheduler = fixedpoint.Clamp(d.Scheduler, g.bounds.DirectiveMin, g.bounds.DirectiveMax)
	clamped.Command = fixedpoint.Clamp(d.Command, g.bounds.DirectiveMin, g.bounds.DirectiveMax)

	rangeClamped := clamped.Memory != d.Memory || clamped.Scheduler != d.Scheduler || clamped.Command != d.Command
	checks = append(checks, Check{Field: "directive_range", Value: d.Memory.Float64(), Threshold: g.bounds.DirectiveMax.Float64(), Passed: !rangeClamped})
	if rangeClamped {
		return Verdict{
			Deny: &DeniedError{Reason: ReasonRangeClamped, Field: "directive_range", Value: d.Memory.Float64(), Threshold: g.bounds.DirectiveMax.Float64()},
			Checks: checks,
		}
	}

	checks = append(checks, Check{Field: "confidence", Value: d.Confidence.Float64(), Threshold: g.bounds.ConfidenceThreshold.Float64(), Passed: !isHighImpact || d.Confidence >= g.bounds.ConfidenceThreshold})
	if isHighImpact && d.Confidence < g.bounds.ConfidenceThreshold {
		return Verdict{
			Deny: &DeniedError{Reason: ReasonConfidenceBelowThreshold, Field: "confidence", Value: d.Confidence.Float64(), Threshold: g.bounds.ConfidenceThreshold.Float64()},
			Checks: checks,
		}
	}

	if memoryStrategyChange {
		sinceLast := now.Sub(g.lastMemoryChange)
		checks = append(checks, Check{Field: "memory_min_dwell", Value: sinceLast.Seconds(), Threshold: g.bounds.MemoryMinDwell.Seconds(), Passed: g.lastMemoryChange.IsZero() || sinceLast >= g.bounds.MemoryMinDwell})
		if !g.lastMemoryChange.IsZero() && sinceLast < g.bounds.MemoryMinDwell {
			return Verdict{
				Deny: &DeniedError{Reason: ReasonRateLimited, Field: "memory_min_dwell", Value: sinceLast.Seconds(), Threshold: g.bounds.MemoryMinDwell.Seconds()},
				Checks: checks,
			}
		}

		g.pruneWindow(now)
		checks = append(checks, Check{Field: "oscillation_window", Value: float64(len(g.memoryChangeLog)), Threshold: float64(g.bounds.OscillationLimit), Passed: len(g.memoryChangeLog) < g.bounds.OscillationLimit})
		if len(g.memoryChangeLog) >= g.bounds.OscillationLimit {
			return Verdict{
				Deny: &DeniedError{Reason: ReasonOscillationDetected, Field: "oscillation_window", Value: float64(len(g.memoryChangeLog)), Threshold: float64(g.bounds.OscillationLimit)},
				Checks: checks,
			}
		}

		g.lastMemoryChange = now
		g.memoryChangeLog = append(g.memoryChangeLog, now)
	}

	return Verdict{Allowed: true, Directive: clamped, Checks: checks}
}

func (g *Gate) pruneWindow(now time.Time) {
	cutoff := now.Add(-g.bounds.OscillationWindow)
	i := 0
	for ; i < len(g.memoryChangeLog); i++ {
		if g.memoryChangeLog[i].After(cutoff) {
			break
		}
	}
	g.memoryChangeLog = g.memoryChangeLog[i:]
}
