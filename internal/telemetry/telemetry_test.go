package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollectorMissingSourceReadsZero(t *testing.T) {
	c := NewCollector(nil)
	s := c.Sample(time.Unix(0, 0))
	require.Zero(t, s.MemoryPressure)
	require.Zero(t, s.DeadlineMisses)
	require.Zero(t, s.CPUUsage)
	require.Zero(t, s.IOLatencyMicros)
}

func TestAtomicSourceSaturatesPressure(t *testing.T) {
	src := &AtomicSource{}
	src.SetMemoryPressure(5000)
	v, ok := src.MemoryPressure()
	require.True(t, ok)
	require.Equal(t, int32(1000), v)
}

func TestAtomicSourceDeadlineMissSaturatesAtMax(t *testing.T) {
	src := &AtomicSource{}
	src.deadlineMisses.Store(1<<31 - 1)
	src.AddDeadlineMiss()
	v, _ := src.DeadlineMissCount()
	require.Equal(t, int32(1<<31-1), v)
}

func TestCollectorDeltaAndMovingAverage(t *testing.T) {
	src := &AtomicSource{}
	c := NewCollector(src)

	src.SetMemoryPressure(100)
	s1 := c.Sample(time.Unix(1, 0))
	require.Equal(t, int32(100), s1.MemoryPressureDelta)
	require.Equal(t, int32(100), s1.MemoryPressureMA)

	src.SetMemoryPressure(200)
	s2 := c.Sample(time.Unix(2, 0))
	require.Equal(t, int32(100), s2.MemoryPressureDelta)
	require.Equal(t, int32(150), s2.MemoryPressureMA)
}

func TestCollectorUnwiredFieldReadsZeroEvenAfterOtherFieldsSet(t *testing.T) {
	src := &AtomicSource{}
	src.SetCPUUsage(300)
	c := NewCollector(src)
	s := c.Sample(time.Unix(0, 0))
	require.Equal(t, int32(300), s.CPUUsage)
	require.Zero(t, s.MemoryPressure)
}
