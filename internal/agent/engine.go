// Package agent implements component I: the agent capability/audit engine.
//
// Every frame is resolved against a capability grant, a scope predicate,
// and a token bucket (combining the teacher's rate-limiting idiom from
// internal/budget with a capability model new to this domain), then
// audited before the bound subsystem handler runs — so the audit record
// always precedes the side effect becoming observable, and a replayed
// frame (same agent, same or lower sequence number) never executes twice.
package agent

import (
	"sync"

	"github.com/nous-kernel/nous/internal/storage"
	"github.com/nous-kernel/nous/internal/wire"
)

// Handler resolves a frame's payload against a target subsystem (VFS,
// audio, network, memory approvals) and returns the response payload.
type Handler func(payload []byte) ([]byte, error)

// Binding associates an opcode with the capability it requires, a
// resource extractor for the scope check, and its subsystem handler.
type Binding struct {
	Capability Capability
	ResourceOf func(payload []byte) string
	Handle     Handler
}

// Engine evaluates and dispatches agent frames.
type Engine struct {
	mu       sync.Mutex
	bindings map[uint8]Binding
	profiles map[uint32]*Profile
	lastSeq  map[uint32]uint64 // agent_id -> highest sequence that completed successfully
	seen     map[uint32]bool   // agent_id -> has completed at least one frame
	db       *storage.DB
}

// NewEngine constructs an empty Engine backed by db for audit persistence.
// db may be nil in tests that don't exercise persistence; audit append is
// then a no-op success, not a failure, since there is nothing to persist to.
func NewEngine(db *storage.DB) *Engine {
	return &Engine{
		bindings: make(map[uint8]Binding),
		profiles: make(map[uint32]*Profile),
		lastSeq:  make(map[uint32]uint64),
		seen:     make(map[uint32]bool),
		db:       db,
	}
}

// RegisterOpcode binds opcode to a capability/handler. Panics on duplicate
// registration — an opcode routed two ways is a programming error, never a
// runtime condition.
func (e *Engine) RegisterOpcode(opcode uint8, b Binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.bindings[opcode]; exists {
		panic("agent: opcode already registered")
	}
	e.bindings[opcode] = b
}

// RegisterProfile installs (or replaces) an agent's capability profile.
func (e *Engine) RegisterProfile(p *Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles[p.AgentID] = p
}

// Evaluate applies the policy predicate to frame without executing
// anything: capability present AND scope matches AND sequence not a
// replay. Token bucket is NOT consumed here — only Dispatch consumes, so a
// dry evaluation (used by operator tooling) never costs budget.
func (e *Engine) Evaluate(frame wire.Frame) (resource string, reason DenyReason, allowed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.evaluateLocked(frame)
}

func (e *Engine) evaluateLocked(frame wire.Frame) (resource string, reason DenyReason, allowed bool) {
	binding, ok := e.bindings[frame.Opcode]
	if !ok {
		return "", DenyUnknownOpcode, false
	}
	resource = binding.ResourceOf(frame.Payload)

	profile, ok := e.profiles[frame.Header.AgentID]
	if !ok {
		return resource, DenyUnknownAgent, false
	}
	grant, ok := profile.Find(binding.Capability)
	if !ok {
		return resource, DenyNoCapability, false
	}
	if !grant.Scope(resource) {
		return resource, DenyScopeRejected, false
	}
	// Sequence 0 is a legitimate first value (a zero-based monotonic
	// counter), so "has this agent completed a frame before" must be its own
	// bit rather than inferred from lastSeq != 0 — the latter would accept
	// every subsequent Sequence: 0 frame from a zero-based agent forever.
	if e.seen[frame.Header.AgentID] && frame.Header.Sequence <= e.lastSeq[frame.Header.AgentID] {
		return resource, DenyReplay, false
	}
	return resource, "", true
}

// Dispatch evaluates frame and, if allowed, audits the decision, then
// invokes the bound handler. Denials are also audited (Allowed=false) so
// the ledger records every request, not just the ones that ran.
func (e *Engine) Dispatch(frame wire.Frame) ([]byte, error) {
	e.mu.Lock()
	resource, reason, allowed := e.evaluateLocked(frame)

	var grant Grant
	if allowed {
		profile := e.profiles[frame.Header.AgentID]
		binding := e.bindings[frame.Opcode]
		grant, _ = profile.Find(binding.Capability)
		if !profile.Bucket.Consume(grant.Cost) {
			allowed = false
			reason = DenyBudgetExhausted
		}
	}
	e.mu.Unlock()

	if err := e.audit(frame, resource, allowed, string(reason)); err != nil {
		return nil, &AuditAppendFailedError{Cause: err}
	}

	if !allowed {
		return nil, &DeniedError{AgentID: frame.Header.AgentID, Opcode: frame.Opcode, Reason: reason}
	}

	binding := e.bindings[frame.Opcode]
	resp, err := binding.Handle(frame.Payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.lastSeq[frame.Header.AgentID] = frame.Header.Sequence
	e.seen[frame.Header.AgentID] = true
	e.mu.Unlock()

	return resp, nil
}

func (e *Engine) audit(frame wire.Frame, resource string, allowed bool, reason string) error {
	if e.db == nil {
		return nil
	}
	return e.db.AppendAudit(storage.AuditEntry{
		AgentID:  agentIDString(frame.Header.AgentID),
		Opcode:   frame.Opcode,
		Resource: resource,
		Allowed:  allowed,
		Reason:   reason,
		Sequence: frame.Header.Sequence,
	})
}

func agentIDString(id uint32) string {
	const hexDigits = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = hexDigits[id&0xF]
		id >>= 4
	}
	return string(b)
}
