// Package dispatch implements component D: the directive dispatcher.
//
// MemoryStrategyFromDirective is the single authoritative pure function
// deciding the memory strategy threshold crossing — the hot path and the
// offline simulator/tests call the same function, following the teacher's
// "single authoritative control-law implementation, no divergence between
// simulator and runtime" idiom (internal/escalation/camouflage.go's
// MutationRateFromControlLaw).
package dispatch

import (
	"sync"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
)

// Strategy is the memory-manager mode D selects.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced      Strategy = "balanced"
	StrategyAggressive    Strategy = "aggressive"
)

// Thresholds configures the hysteretic mapping from the signed memory
// directive to a Strategy.
type Thresholds struct {
	// ConservativeBelow: directive < this selects Conservative.
	ConservativeBelow fixedpoint.Q88
	// AggressiveAbove: directive > this selects Aggressive; otherwise Balanced.
	AggressiveAbove fixedpoint.Q88
	// HysteresisDelta: the directive must cross a threshold by this much to
	// register a change, preventing ping-pong at the boundary.
	HysteresisDelta fixedpoint.Q88
	// MinDwell: minimum time since the last change before another is allowed.
	MinDwell time.Duration
}

// DefaultThresholds returns a conservative default mapping.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConservativeBelow: fixedpoint.FromInt(-300),
		AggressiveAbove:   fixedpoint.FromInt(300),
		HysteresisDelta:   fixedpoint.FromInt(50),
		MinDwell:          1 * time.Second,
	}
}

// MemoryStrategyFromDirective is the pure control law: given the current
// strategy, the incoming directive, and the thresholds, it returns the next
// strategy. It does not consult time or mutate anything — dwell-time gating
// is the caller's (Dispatcher's) responsibility, exactly so the simulator
// can replay this function deterministically without a clock.
func MemoryStrategyFromDirective(current Strategy, directive fixedpoint.Q88, th Thresholds) Strategy {
	switch current {
	case StrategyConservative:
		if directive > fixedpoint.Add(th.ConservativeBelow, th.HysteresisDelta) {
			if directive > th.AggressiveAbove {
				return StrategyAggressive
			}
			return StrategyBalanced
		}
		return StrategyConservative
	case StrategyAggressive:
		if directive < fixedpoint.Sub(th.AggressiveAbove, th.HysteresisDelta) {
			if directive < th.ConservativeBelow {
				return StrategyConservative
			}
			return StrategyBalanced
		}
		return StrategyAggressive
	default: // StrategyBalanced
		if directive > fixedpoint.Add(th.AggressiveAbove, th.HysteresisDelta) {
			return StrategyAggressive
		}
		if directive < fixedpoint.Sub(th.ConservativeBelow, th.HysteresisDelta) {
			return StrategyConservative
		}
		return StrategyBalanced
	}
}

// SchedulerHint is an advisory idle-CPU preference carried on the dispatch
// record; the real-time admission core (internal/rt) does not read it, so
// it never affects EDF ordering.
type SchedulerHint struct {
	PreferLowUtilizationCPU bool
}

// CommandGateMask enables/disables classes of agent opcodes. Bit i
// corresponds to the opcode class i (0=filesystem,1=audio,2=network,
// 3=memory-approvals,4=agent-control), matching the wire protocol's opcode
// partitioning.
type CommandGateMask uint8

const (
	GateFilesystem CommandGateMask = 1 << iota
	GateAudio
	GateNetwork
	GateMemoryApprovals
	GateAgentControl

	GateAllEnabled = GateFilesystem | GateAudio | GateNetwork | GateMemoryApprovals | GateAgentControl
)

// Enabled reports whether class is currently enabled.
func (m CommandGateMask) Enabled(class CommandGateMask) bool {
	return m&class != 0
}

// Record captures one dispatch's inputs and outputs so the trace recorder
// can reconstruct why it fired.
type Record struct {
	Timestamp       time.Time
	MemoryDirective fixedpoint.Q88
	PriorStrategy   Strategy
	NewStrategy     Strategy
	StrategyChanged bool
	Hint            SchedulerHint
	Gate            CommandGateMask
}

// Dispatcher fans a validated directive into memory-strategy selection,
// scheduler hint, and command gate, applying min-dwell gating around the
// pure control law above.
type Dispatcher struct {
	mu sync.Mutex

	th         Thresholds
	strategy   Strategy
	lastChange time.Time
	gate       CommandGateMask
	approvals  *ApprovalGate
}

// NewDispatcher constructs a Dispatcher starting in Balanced with all
// command gate classes enabled.
func NewDispatcher(th Thresholds) *Dispatcher {
	return &Dispatcher{th: th, strategy: StrategyBalanced, gate: GateAllEnabled, approvals: NewApprovalGate()}
}

// Approvals returns the dispatcher's operator-approval gate, so the shell's
// memctl surface can inspect and resolve pending strategy changes.
func (d *Dispatcher) Approvals() *ApprovalGate { return d.approvals }

// Dispatch computes the next strategy, scheduler hint, and command gate for
// one validated memory directive, honoring min-dwell. The caller (the
// policy gate, component C) has already rate-limited the *attempt*; this
// enforces the dwell time the control law itself cannot see.
func (d *Dispatcher) Dispatch(memoryDirective fixedpoint.Q88, cpuUtilization fixedpoint.Q88, thermalStress bool, now time.Time) Record {
	d.mu.Lock()
	defer d.mu.Unlock()

	prior := d.strategy
	next := prior

	dwellOK := d.lastChange.IsZero() || now.Sub(d.lastChange) >= d.th.MinDwell
	if dwellOK {
		candidate := MemoryStrategyFromDirective(prior, memoryDirective, d.th)
		if candidate != prior {
			if d.approvals != nil && d.approvals.ApprovalRequired() {
				if _, cleared := d.approvals.stage(prior, candidate, memoryDirective, now); cleared {
					next = candidate
					d.lastChange = now
				}
				// not cleared: candidate stays queued in d.approvals until
				// an operator resolves it via memctl approve/reject.
			} else {
				next = candidate
				d.lastChange = now
			}
		}
	}
	d.strategy = next

	gate := d.gate
	if thermalStress {
		gate &^= GateAudio
	} else {
		gate |= GateAudio
	}
	d.gate = gate

	return Record{
		Timestamp:       now,
		MemoryDirective: memoryDirective,
		PriorStrategy:   prior,
		NewStrategy:     next,
		StrategyChanged: next != prior,
		Hint:            SchedulerHint{PreferLowUtilizationCPU: cpuUtilization > fixedpoint.FromInt(700)},
		Gate:            gate,
	}
}

// Strategy returns the current memory strategy.
func (d *Dispatcher) Strategy() Strategy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategy
}

// Gate returns the current command gate mask.
func (d *Dispatcher) Gate() CommandGateMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gate
}
