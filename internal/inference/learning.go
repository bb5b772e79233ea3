package inference

import (
	"sync"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
)

// Learner applies bounded online updates to a Runtime's final layer,
// gated by a per-period rate limit and a KL-divergence safeguard. Natural-
// gradient machinery is out of scope for this core; the safeguard here
// approximates "does not shift the policy distribution more than a
// configured threshold" by bounding the pre/post confidence delta, which is
// the only distribution statistic the no-allocation runtime retains.
type Learner struct {
	mu sync.Mutex

	rateLimit  int // max admitted updates per period
	period     time.Duration
	klThreshold fixedpoint.Q88
	stepSize    fixedpoint.Q88

	windowStart time.Time
	admitted    int
}

// NewLearner constructs a Learner. rateLimit and period implement
// `learn_rate_limit`; klThreshold implements the natural-gradient safeguard.
func NewLearner(rateLimit int, period time.Duration, klThreshold, stepSize fixedpoint.Q88) *Learner {
	return &Learner{rateLimit: rateLimit, period: period, klThreshold: klThreshold, stepSize: stepSize}
}

// LearnResult reports what happened to one admitted (input, target) pair.
type LearnResult struct {
	Applied  bool
	KLAborted bool
}

// Learn applies a single gradient step nudging the final layer's output for
// actionIndex toward target, subject to the rate limit and KL safeguard.
// Returns LearningBudgetExceededError if the per-period cap is exhausted.
func (l *Learner) Learn(rt *Runtime, actionIdx int, target fixedpoint.Q88, now time.Time) (LearnResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.windowStart) >= l.period {
		l.windowStart = now
		l.admitted = 0
	}
	if l.admitted >= l.rateLimit {
		return LearnResult{}, &LearningBudgetExceededError{Limit: l.rateLimit}
	}

	if len(rt.layers) == 0 {
		return LearnResult{}, nil
	}
	last := &rt.layers[len(rt.layers)-1]
	if actionIdx < 0 || actionIdx >= last.OutputSize {
		return LearnResult{}, nil
	}

	current := rt.scratch[len(rt.scratch)-1][actionIdx]
	errSignal := fixedpoint.Sub(target, current)

	// KL-threshold safeguard: bound the step by klThreshold rather than
	// compute a true KL divergence (no probability distribution is
	// materialized by this no-allocation runtime) — the error magnitude
	// itself stands in for distributional shift, and a step that would move
	// the output by more than klThreshold is aborted outright.
	if abs(errSignal) > l.klThreshold {
		return LearnResult{KLAborted: true}, nil
	}

	step := fixedpoint.Mul(l.stepSize, errSignal)
	last.Bias[actionIdx] = fixedpoint.Add(last.Bias[actionIdx], step)

	l.admitted++
	return LearnResult{Applied: true}, nil
}

// RemainingBudget reports how many more updates the current period admits,
// rolling the window over first if it has already elapsed. Used by
// `llmctl budget` to show operators how much online-learning headroom is
// left without consuming any of it.
func (l *Learner) RemainingBudget(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.windowStart) >= l.period {
		return l.rateLimit
	}
	remaining := l.rateLimit - l.admitted
	if remaining < 0 {
		return 0
	}
	return remaining
}

func abs(q fixedpoint.Q88) fixedpoint.Q88 {
	if q < 0 {
		return -q
	}
	return q
}
