package inference

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/telemetry"
)

func identityLayers(inputSize, outputSize int) Layers {
	matrix := make([]fixedpoint.Q88, inputSize*outputSize)
	for i := 0; i < inputSize && i < outputSize; i++ {
		matrix[i*outputSize+i] = fixedpoint.FromInt(1)
	}
	return Layers{{
		InputSize:  inputSize,
		OutputSize: outputSize,
		Matrix:     matrix,
		Bias:       make([]fixedpoint.Q88, outputSize),
	}}
}

func TestInferRejectsWrongShape(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 3))
	// sampleFeatures always emits 6 features, so force a mismatch via a
	// runtime expecting a different count.
	badRt := NewRuntime(identityLayers(4, 3))
	_, _, err := badRt.Infer(telemetry.Sample{})
	require.Error(t, err)
	var shapeErr *InvalidShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Equal(t, "InvalidShape", shapeErr.Kind())
	_ = rt
}

func TestInferConfidenceBounded(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 3))
	d, act, err := rt.Infer(telemetry.Sample{MemoryPressure: 500, CPUUsage: 100})
	require.NoError(t, err)
	require.GreaterOrEqual(t, d.Confidence, fixedpoint.Q88(0))
	require.LessOrEqual(t, d.Confidence, fixedpoint.FromInt(MaxConfidence))
	require.Len(t, act.Layers, 1)
}

func TestInferDeterministic(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 3))
	sample := telemetry.Sample{MemoryPressure: 300, DeadlineMisses: 2, CPUUsage: 400, IOLatencyMicros: 10}
	d1, _, err := rt.Infer(sample)
	require.NoError(t, err)
	d2, _, err := rt.Infer(sample)
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestLearnerRespectsRateLimit(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 2))
	_, _, err := rt.Infer(telemetry.Sample{MemoryPressure: 100})
	require.NoError(t, err)

	l := NewLearner(1, time.Minute, fixedpoint.FromInt(1000), fixedpoint.FromFloat64(0.1))
	now := time.Now()

	res, err := l.Learn(rt, 0, fixedpoint.FromInt(10), now)
	require.NoError(t, err)
	require.True(t, res.Applied)

	_, err = l.Learn(rt, 0, fixedpoint.FromInt(10), now)
	require.Error(t, err)
	var budgetErr *LearningBudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
}

func TestLearnerRemainingBudgetTracksConsumption(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 2))
	_, _, err := rt.Infer(telemetry.Sample{MemoryPressure: 100})
	require.NoError(t, err)

	l := NewLearner(2, time.Minute, fixedpoint.FromInt(1000), fixedpoint.FromFloat64(0.1))
	now := time.Now()
	require.Equal(t, 2, l.RemainingBudget(now))

	_, err = l.Learn(rt, 0, fixedpoint.FromInt(10), now)
	require.NoError(t, err)
	require.Equal(t, 1, l.RemainingBudget(now))

	_, err = l.Learn(rt, 0, fixedpoint.FromInt(10), now)
	require.NoError(t, err)
	require.Equal(t, 0, l.RemainingBudget(now))

	// Budget rolls over once the period elapses.
	require.Equal(t, 2, l.RemainingBudget(now.Add(2*time.Minute)))
}

func TestLearnerAbortsOnKLThreshold(t *testing.T) {
	rt := NewRuntime(identityLayers(6, 2))
	_, _, err := rt.Infer(telemetry.Sample{MemoryPressure: 100})
	require.NoError(t, err)

	l := NewLearner(10, time.Minute, fixedpoint.FromInt(1), fixedpoint.FromFloat64(0.1))
	res, err := l.Learn(rt, 0, fixedpoint.FromInt(1000), time.Now())
	require.NoError(t, err)
	require.True(t, res.KLAborted)
	require.False(t, res.Applied)
}
