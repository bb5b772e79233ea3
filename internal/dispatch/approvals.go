package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
)

// PendingChange describes a memory-strategy change awaiting operator
// sign-off via the shell's memctl approve/reject commands.
type PendingChange struct {
	ID        string
	From      Strategy
	To        Strategy
	Directive fixedpoint.Q88
	QueuedAt  time.Time
}

// ApprovalGate optionally requires operator approval before a strategy
// change the control law selected is allowed to take effect. Disabled
// (required=false) by default, so operator gating is opt-in.
type ApprovalGate struct {
	mu       sync.Mutex
	required bool
	seq      uint64
	pending  map[string]PendingChange
	approved map[string]bool // transition key ("from->to") cleared for one use
}

// NewApprovalGate constructs a disabled ApprovalGate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{pending: make(map[string]PendingChange), approved: make(map[string]bool)}
}

func transitionKey(from, to Strategy) string { return string(from) + "->" + string(to) }

// SetApprovalRequired is memctl approval on|off.
func (g *ApprovalGate) SetApprovalRequired(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.required = on
}

// ApprovalRequired is memctl approval status.
func (g *ApprovalGate) ApprovalRequired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.required
}

// stage records from→to as a pending change unless it was already approved,
// in which case the approval is consumed and the caller may commit it.
func (g *ApprovalGate) stage(from, to Strategy, directive fixedpoint.Q88, now time.Time) (id string, cleared bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := transitionKey(from, to)
	if g.approved[key] {
		delete(g.approved, key)
		return "", true
	}
	g.seq++
	id = fmt.Sprintf("chg-%d", g.seq)
	g.pending[id] = PendingChange{ID: id, From: from, To: to, Directive: directive, QueuedAt: now}
	return id, false
}

// PendingApprovals is memctl approvals.
func (g *ApprovalGate) PendingApprovals() any {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PendingChange, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}
	return out
}

// Approve is memctl approve <id>: clears the pending entry and marks its
// transition approved for the next tick that proposes the same change.
func (g *ApprovalGate) Approve(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pending[id]
	if !ok {
		return fmt.Errorf("dispatch: no pending change %q", id)
	}
	delete(g.pending, id)
	g.approved[transitionKey(p.From, p.To)] = true
	return nil
}

// Reject is memctl reject <id>: discards the pending entry without approval.
func (g *ApprovalGate) Reject(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[id]; !ok {
		return fmt.Errorf("dispatch: no pending change %q", id)
	}
	delete(g.pending, id)
	return nil
}
