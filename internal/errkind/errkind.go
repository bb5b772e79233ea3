// Package errkind defines the common shape every core error kind
// implements: a concrete Go error type with a Kind() accessor, following
// the constitutional-violation pattern (typed struct, stable tag string)
// used throughout the kernel's governance layer.
//
// The control surface's JSON error envelope (`{"ok":false,"error":"<kind>",
// "detail":"..."}`) and kernel log lines both read Kind() rather than
// parsing Error() strings.
package errkind

// Kinded is implemented by every error type the core surfaces: InvalidShape,
// HealthCheckFailed, NotSchedulable, DeadlineMissed, Timeout, RateLimited,
// ConfidenceBelowThreshold, OscillationDetected, Unauthorized, InvalidOpcode,
// SignatureInvalid, LearningBudgetExceeded, DivergenceExceeded,
// RegistryCorrupt.
type Kinded interface {
	error
	Kind() string
}

// Envelope is the control-surface JSON error shape.
type Envelope struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// NewEnvelope builds an Envelope from any Kinded error, falling back to
// "Unknown" for plain errors that don't implement Kinded (defensive only —
// every core-surfaced error should implement it).
func NewEnvelope(err error) Envelope {
	if err == nil {
		return Envelope{OK: true}
	}
	if k, ok := err.(Kinded); ok {
		return Envelope{OK: false, Error: k.Kind(), Detail: k.Error()}
	}
	return Envelope{OK: false, Error: "Unknown", Detail: err.Error()}
}
