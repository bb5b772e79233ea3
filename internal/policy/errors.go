package policy

import (
	"fmt"

	"github.com/nous-kernel/nous/internal/errkind"
)

// DenyReason enumerates why the gate refused a directive or agent operation.
type DenyReason string

const (
	ReasonConfidenceBelowThreshold DenyReason = "ConfidenceBelowThreshold"
	ReasonRateLimited              DenyReason = "RateLimited"
	ReasonRangeClamped             DenyReason = "RangeClamped"
	ReasonOscillationDetected      DenyReason = "OscillationDetected"
	ReasonUnauthorized             DenyReason = "Unauthorized"
)

// DeniedError is returned when the gate refuses a directive. It carries the
// reason and the numeric value/threshold pair that tripped the check, so
// the decision trace's "ordered list of policy checks with numeric
// value/threshold pairs" can be reconstructed from the error alone.
type DeniedError struct {
	Reason    DenyReason
	Field     string
	Value     float64
	Threshold float64
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("policy: denied (%s): %s=%.3f threshold=%.3f", e.Reason, e.Field, e.Value, e.Threshold)
}

func (e *DeniedError) Kind() string { return string(e.Reason) }

var _ errkind.Kinded = (*DeniedError)(nil)
