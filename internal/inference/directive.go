// Package inference implements component B: the no-allocation MLP runtime
// that turns one telemetry sample into a directive and confidence score.
package inference

import "github.com/nous-kernel/nous/internal/fixedpoint"

// Directive is the small, bounded recommendation produced by one inference
// pass: signed memory/scheduling/command sub-directives plus a confidence
// scalar and the sampled action's log-probability. Consumed immediately by
// dispatch (D); also captured verbatim by the trace recorder (E).
type Directive struct {
	Memory    fixedpoint.Q88 // -1000..+1000 milli-units
	Scheduler fixedpoint.Q88 // -1000..+1000 milli-units
	Command   fixedpoint.Q88 // -1000..+1000 milli-units

	Confidence fixedpoint.Q88 // 0..1000
	LogProb    fixedpoint.Q88 // log-probability of the sampled action

	// ActionIndex is the index of the chosen discrete action among the
	// output layer's logits, used by the shadow controller's top-1 compare.
	ActionIndex int

	// Alternatives holds the top-k runner-up action indices by logit, for
	// the decision trace's "top-k alternatives" field.
	Alternatives []int
}

const (
	// DirectiveBound is the absolute value bound for Memory/Scheduler/Command.
	DirectiveBound = 1000
	// MaxConfidence is the upper bound for Confidence.
	MaxConfidence = 1000
)

// ZeroedConfidence returns a copy of d with Confidence forced to 0. Used by
// the failure path: "the previous directive is reused with confidence
// decayed to zero (so the policy gate will veto)".
func (d Directive) ZeroedConfidence() Directive {
	d.Confidence = 0
	return d
}
