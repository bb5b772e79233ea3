package agent

import (
	"fmt"

	"github.com/nous-kernel/nous/internal/errkind"
)

// DenyReason names why Evaluate refused a frame.
type DenyReason string

const (
	DenyUnknownOpcode    DenyReason = "unknown_opcode"
	DenyUnknownAgent     DenyReason = "unknown_agent"
	DenyNoCapability     DenyReason = "no_capability"
	DenyScopeRejected    DenyReason = "scope_rejected"
	DenyBudgetExhausted  DenyReason = "budget_exhausted"
	DenyReplay           DenyReason = "replay"
)

// DeniedError is returned by Dispatch when policy refuses a frame.
type DeniedError struct {
	AgentID uint32
	Opcode  uint8
	Reason  DenyReason
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("agent: denied agent=%d opcode=0x%02X reason=%s", e.AgentID, e.Opcode, e.Reason)
}
func (e *DeniedError) Kind() string { return "AgentDenied" }

// AuditAppendFailedError wraps a storage failure while persisting the
// audit record. Per the audit-before-effect contract, this is fatal for
// the requesting frame — the side effect must not run.
type AuditAppendFailedError struct{ Cause error }

func (e *AuditAppendFailedError) Error() string { return "agent: audit append failed: " + e.Cause.Error() }
func (e *AuditAppendFailedError) Kind() string  { return "AuditAppendFailed" }
func (e *AuditAppendFailedError) Unwrap() error { return e.Cause }

var (
	_ errkind.Kinded = (*DeniedError)(nil)
	_ errkind.Kinded = (*AuditAppendFailedError)(nil)
)
