package shadow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
)

func TestEvaluateNoOpWhenDisabled(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 2, ConfidenceDelta: fixedpoint.FromInt(100)}, nil)
	diverged, signal := c.Evaluate("t1", inference.Directive{Confidence: fixedpoint.FromInt(900)}, inference.Directive{Confidence: fixedpoint.FromInt(100)})
	require.False(t, diverged)
	require.Equal(t, SignalNone, signal)
}

func TestEvaluateDetectsConfidenceDivergence(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 2, ConfidenceDelta: fixedpoint.FromInt(100)}, nil)
	c.SetMode(ModeCompare)
	diverged, signal := c.Evaluate("t1", inference.Directive{Confidence: fixedpoint.FromInt(900)}, inference.Directive{Confidence: fixedpoint.FromInt(100)})
	require.True(t, diverged)
	require.Equal(t, SignalNone, signal)
	require.Equal(t, 1, c.DivergenceCount())
}

func TestEvaluateEmitsRollbackPastThreshold(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 2, ConfidenceDelta: fixedpoint.FromInt(50)}, nil)
	c.SetMode(ModeCompare)

	prod := inference.Directive{Confidence: fixedpoint.FromInt(900), ActionIndex: 0}
	shad := inference.Directive{Confidence: fixedpoint.FromInt(100), ActionIndex: 1}

	for i := 0; i < 2; i++ {
		_, signal := c.Evaluate("t", prod, shad)
		require.Equal(t, SignalNone, signal)
	}
	_, signal := c.Evaluate("t", prod, shad)
	require.Equal(t, SignalRollback, signal)
	require.Equal(t, ModeDisabled, c.Mode())
}

func TestEvaluateDryRunSuppressesRollback(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 1, ConfidenceDelta: fixedpoint.FromInt(10), DryRun: true}, nil)
	c.SetMode(ModeCompare)
	prod := inference.Directive{Confidence: fixedpoint.FromInt(900), ActionIndex: 0}
	shad := inference.Directive{Confidence: fixedpoint.FromInt(100), ActionIndex: 1}

	for i := 0; i < 5; i++ {
		_, signal := c.Evaluate("t", prod, shad)
		require.Equal(t, SignalNone, signal)
	}
	require.Equal(t, ModeCompare, c.Mode())
}

func TestShouldRouteToShadowCanaryFullAlwaysTrue(t *testing.T) {
	c := NewController(Config{}, nil)
	c.SetMode(ModeCanaryFull)
	require.True(t, c.ShouldRouteToShadow())
}

func TestControllerStatusAndResetBaseline(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 5, ConfidenceDelta: fixedpoint.FromInt(50)}, nil)
	c.SetMode(ModeCompare)

	prod := inference.Directive{Confidence: fixedpoint.FromInt(900), ActionIndex: 0}
	shad := inference.Directive{Confidence: fixedpoint.FromInt(100), ActionIndex: 1}
	c.Evaluate("t", prod, shad)
	require.Equal(t, 1, c.DivergenceCount())

	status := c.Status().(map[string]any)
	require.Equal(t, string(ModeCompare), status["mode"])
	require.Equal(t, 1, status["divergence_count"])

	require.NoError(t, c.ResetBaseline())
	require.Equal(t, 0, c.DivergenceCount())

	hist := c.History(50).([]float64)
	require.Len(t, hist, 0) // ResetBaseline discards the rolling window too
}

func TestDriftMonitorTracksConfidenceWindow(t *testing.T) {
	c := NewController(Config{}, nil)

	for i := 0; i < minDriftSamples-1; i++ {
		status := c.ObserveConfidence(fixedpoint.FromInt(800))
		require.Equal(t, DriftOK, status)
	}

	status := c.ObserveConfidence(fixedpoint.FromInt(800))
	require.Equal(t, DriftOK, status)

	hist := c.History(5).([]float64)
	require.Len(t, hist, 5)
	require.InDelta(t, 800.0, hist[len(hist)-1], 1e-6)
}

func TestDriftMonitorWarnsAndAlertsOnDivergence(t *testing.T) {
	c := NewController(Config{}, nil)
	for i := 0; i < minDriftSamples; i++ {
		c.ObserveConfidence(fixedpoint.FromInt(800))
	}

	// Baseline defaults to 800; a sustained drop to 650 (delta=150) crosses
	// the default warning threshold (100) but not alert (200).
	var last DriftStatus
	for i := 0; i < driftWindowCapacity; i++ {
		last = c.ObserveConfidence(fixedpoint.FromInt(650))
	}
	require.Equal(t, DriftWarning, last)

	for i := 0; i < driftWindowCapacity; i++ {
		last = c.ObserveConfidence(fixedpoint.FromInt(500))
	}
	require.Equal(t, DriftAlert, last)
}

func TestDriftMonitorRetrainRecomputesBaseline(t *testing.T) {
	c := NewController(Config{}, nil)
	for i := 0; i < driftWindowCapacity; i++ {
		c.ObserveConfidence(fixedpoint.FromInt(650))
	}
	status := c.ObserveConfidence(fixedpoint.FromInt(650))
	require.Equal(t, DriftWarning, status)

	require.NoError(t, c.Retrain())

	status = c.ObserveConfidence(fixedpoint.FromInt(650))
	require.Equal(t, DriftOK, status)
}

func TestControllerSetDivergenceThresholdAndPromote(t *testing.T) {
	c := NewController(Config{DivergenceThreshold: 1, ConfidenceDelta: fixedpoint.FromInt(10)}, nil)
	c.SetMode(ModeCompare)
	c.SetDivergenceThreshold(100)

	prod := inference.Directive{Confidence: fixedpoint.FromInt(900), ActionIndex: 0}
	shad := inference.Directive{Confidence: fixedpoint.FromInt(100), ActionIndex: 1}
	_, signal := c.Evaluate("t", prod, shad)
	require.Equal(t, SignalNone, signal) // raised threshold means one divergence doesn't roll back

	require.NoError(t, c.Promote())
	require.Equal(t, 0, c.DivergenceCount())
}

func TestQuorumRequiresCorroboration(t *testing.T) {
	q := NewQuorumWithConfig(QuorumConfig{QuorumMin: 1, TTL: time.Minute, TotalPeers: 0})
	c := NewController(Config{DivergenceThreshold: 0, ConfidenceDelta: fixedpoint.FromInt(10)}, q)
	c.SetMode(ModeCompare)

	prod := inference.Directive{Confidence: fixedpoint.FromInt(900), ActionIndex: 0}
	shad := inference.Directive{Confidence: fixedpoint.FromInt(100), ActionIndex: 1}

	// Single replica reporting meets effectiveMin=1 (single-instance default).
	_, signal := c.Evaluate("t1", prod, shad)
	require.Equal(t, SignalRollback, signal)
}
