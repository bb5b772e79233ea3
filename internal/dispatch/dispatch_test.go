package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-kernel/nous/internal/fixedpoint"
)

func TestMemoryStrategyFromDirectivePure(t *testing.T) {
	th := DefaultThresholds()
	got := MemoryStrategyFromDirective(StrategyBalanced, fixedpoint.FromInt(500), th)
	require.Equal(t, StrategyAggressive, got)

	got = MemoryStrategyFromDirective(StrategyBalanced, fixedpoint.FromInt(-500), th)
	require.Equal(t, StrategyConservative, got)
}

func TestMemoryStrategyHysteresisPreventsFlapping(t *testing.T) {
	th := DefaultThresholds()
	// Near the Aggressive threshold but inside the hysteresis band from
	// Balanced should not flip.
	got := MemoryStrategyFromDirective(StrategyBalanced, fixedpoint.FromInt(320), th)
	require.Equal(t, StrategyBalanced, got)
}

func TestDispatcherEnforcesMinDwell(t *testing.T) {
	d := NewDispatcher(DefaultThresholds())
	now := time.Now()

	r1 := d.Dispatch(fixedpoint.FromInt(500), 0, false, now)
	require.True(t, r1.StrategyChanged)
	require.Equal(t, StrategyAggressive, r1.NewStrategy)

	r2 := d.Dispatch(fixedpoint.FromInt(-500), 0, false, now.Add(100*time.Millisecond))
	require.False(t, r2.StrategyChanged)
	require.Equal(t, StrategyAggressive, r2.NewStrategy)

	r3 := d.Dispatch(fixedpoint.FromInt(-500), 0, false, now.Add(2*time.Second))
	require.True(t, r3.StrategyChanged)
	require.Equal(t, StrategyConservative, r3.NewStrategy)
}

func TestDispatcherThermalStressDisablesAudioGate(t *testing.T) {
	d := NewDispatcher(DefaultThresholds())
	r := d.Dispatch(0, 0, true, time.Now())
	require.False(t, r.Gate.Enabled(GateAudio))
}

func TestDispatcherSchedulerHintUnderHighUtilization(t *testing.T) {
	d := NewDispatcher(DefaultThresholds())
	r := d.Dispatch(0, fixedpoint.FromInt(900), false, time.Now())
	require.True(t, r.Hint.PreferLowUtilizationCPU)
}
