package inference

import (
	"fmt"

	"github.com/nous-kernel/nous/internal/errkind"
)

// InvalidShapeError reports an input whose dimensionality does not match
// the runtime's pre-allocated scratch buffers.
type InvalidShapeError struct {
	Expected int
	Got      int
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("inference: invalid shape: expected %d features, got %d", e.Expected, e.Got)
}

// Kind implements the core's common error-kind accessor.
func (e *InvalidShapeError) Kind() string { return "InvalidShape" }

// LearningBudgetExceededError reports that the per-period online-learning
// update budget has been exhausted.
type LearningBudgetExceededError struct {
	Limit int
}

func (e *LearningBudgetExceededError) Error() string {
	return fmt.Sprintf("inference: learning budget exceeded: limit=%d updates/period", e.Limit)
}

func (e *LearningBudgetExceededError) Kind() string { return "LearningBudgetExceeded" }

var (
	_ errkind.Kinded = (*InvalidShapeError)(nil)
	_ errkind.Kinded = (*LearningBudgetExceededError)(nil)
)
