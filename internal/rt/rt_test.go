package rt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmitAcceptsWithinUtilization(t *testing.T) {
	c := NewCore(0.8, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 2*time.Millisecond, 10*time.Millisecond, now))  // 0.2
	require.NoError(t, c.Admit("agent", 0, 3*time.Millisecond, 10*time.Millisecond, now)) // +0.3 = 0.5
}

func TestAdmitRejectsOverUtilization(t *testing.T) {
	c := NewCore(0.5, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 4*time.Millisecond, 10*time.Millisecond, now)) // 0.4
	err := c.Admit("agent", 0, 2*time.Millisecond, 10*time.Millisecond, now)             // +0.2 = 0.6 > 0.5
	require.Error(t, err)
	var nse *NotSchedulableError
	require.ErrorAs(t, err, &nse)
}

func TestAdmitRejectsInvalidCPU(t *testing.T) {
	c := NewCore(0.8, 2)
	now := time.Unix(0, 0)
	err := c.Admit("tick", 2, time.Millisecond, 10*time.Millisecond, now)
	require.Error(t, err)
	var ice *InvalidCPUError
	require.ErrorAs(t, err, &ice)
}

func TestAdmitPartitionsUtilizationPerCPU(t *testing.T) {
	c := NewCore(0.5, 2)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("cpu0-a", 0, 4*time.Millisecond, 10*time.Millisecond, now)) // 0.4 on cpu0
	// cpu1 is untouched, so the same request that would overflow cpu0 is fine on cpu1.
	require.NoError(t, c.Admit("cpu1-a", 1, 4*time.Millisecond, 10*time.Millisecond, now)) // 0.4 on cpu1

	err := c.Admit("cpu0-b", 0, 2*time.Millisecond, 10*time.Millisecond, now) // +0.2 = 0.6 > 0.5 on cpu0
	require.Error(t, err)
	var nse *NotSchedulableError
	require.ErrorAs(t, err, &nse)
	require.Equal(t, 0, nse.CPU)

	require.InDelta(t, 0.4, c.UtilizationOnCPU(0), 1e-9)
	require.InDelta(t, 0.4, c.UtilizationOnCPU(1), 1e-9)
}

func TestDispatchPicksEarliestDeadline(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("slow", 0, 5*time.Millisecond, 20*time.Millisecond, now))
	require.NoError(t, c.Admit("fast", 0, 5*time.Millisecond, 5*time.Millisecond, now))

	id, ok := c.Dispatch(0, now)
	require.True(t, ok)
	require.Equal(t, "fast", id) // earlier deadline: now+5ms vs now+20ms
}

func TestDispatchTieBreaksByID(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("b", 0, 1*time.Millisecond, 10*time.Millisecond, now))
	require.NoError(t, c.Admit("a", 0, 1*time.Millisecond, 10*time.Millisecond, now))

	id, ok := c.Dispatch(0, now)
	require.True(t, ok)
	require.Equal(t, "a", id)
}

func TestDispatchOnlyConsidersOwnCPU(t *testing.T) {
	c := NewCore(1.0, 2)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("cpu0", 0, 1*time.Millisecond, 10*time.Millisecond, now))
	require.NoError(t, c.Admit("cpu1", 1, 1*time.Millisecond, 10*time.Millisecond, now))

	id, ok := c.Dispatch(0, now)
	require.True(t, ok)
	require.Equal(t, "cpu0", id)

	id, ok = c.Dispatch(1, now)
	require.True(t, ok)
	require.Equal(t, "cpu1", id)
}

func TestChargeThrottlesOnExhaustion(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 5*time.Millisecond, 10*time.Millisecond, now))

	require.NoError(t, c.Charge("tick", 5*time.Millisecond))
	_, ok := c.Dispatch(0, now)
	require.False(t, ok) // budget exhausted, throttled until deadline
}

func TestThrottledServerRefillsAtDeadline(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 5*time.Millisecond, 10*time.Millisecond, now))
	require.NoError(t, c.Charge("tick", 5*time.Millisecond))

	after := now.Add(10 * time.Millisecond)
	id, ok := c.Dispatch(0, after)
	require.True(t, ok)
	require.Equal(t, "tick", id)
	require.EqualValues(t, 1, c.DeadlineMisses())
}

func TestChargeUnknownServer(t *testing.T) {
	c := NewCore(1.0, 1)
	err := c.Charge("ghost", time.Millisecond)
	require.Error(t, err)
	var use *UnknownServerError
	require.ErrorAs(t, err, &use)
}

func TestUtilizationReflectsAdmittedServers(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("a", 0, 1*time.Millisecond, 4*time.Millisecond, now)) // 0.25
	require.InDelta(t, 0.25, c.Utilization(), 1e-9)
}

func TestUtilizationByCPUCoversEveryCPU(t *testing.T) {
	c := NewCore(1.0, 3)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("a", 0, 1*time.Millisecond, 4*time.Millisecond, now))  // 0.25 on cpu0
	require.NoError(t, c.Admit("b", 2, 1*time.Millisecond, 2*time.Millisecond, now))  // 0.5 on cpu2

	byCPU := c.UtilizationByCPU()
	require.Len(t, byCPU, 3)
	require.InDelta(t, 0.25, byCPU[0], 1e-9)
	require.InDelta(t, 0.0, byCPU[1], 1e-9)
	require.InDelta(t, 0.5, byCPU[2], 1e-9)
}

func TestMigrateRejectsWhenNotThrottled(t *testing.T) {
	c := NewCore(1.0, 2)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 5*time.Millisecond, 10*time.Millisecond, now))

	err := c.Migrate("tick", 1, now)
	require.Error(t, err)
	var mnae *MigrationNotAllowedError
	require.ErrorAs(t, err, &mnae)
}

func TestMigrateSucceedsAtThrottleEvent(t *testing.T) {
	c := NewCore(1.0, 2)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 5*time.Millisecond, 10*time.Millisecond, now))
	require.NoError(t, c.Charge("tick", 5*time.Millisecond)) // exhausts budget, throttles

	require.NoError(t, c.Migrate("tick", 1, now))
	require.InDelta(t, 0.0, c.UtilizationOnCPU(0), 1e-9)
	require.InDelta(t, 0.5, c.UtilizationOnCPU(1), 1e-9)

	// still throttled until its deadline, now on cpu1's runqueue
	_, ok := c.Dispatch(1, now)
	require.False(t, ok)
	after := now.Add(10 * time.Millisecond)
	id, ok := c.Dispatch(1, after)
	require.True(t, ok)
	require.Equal(t, "tick", id)
}

func TestMigrateRejectsWhenDestinationLacksCapacity(t *testing.T) {
	c := NewCore(0.5, 2)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 4*time.Millisecond, 10*time.Millisecond, now))  // 0.4 on cpu0
	require.NoError(t, c.Admit("other", 1, 4*time.Millisecond, 10*time.Millisecond, now)) // 0.4 on cpu1
	require.NoError(t, c.Charge("tick", 4*time.Millisecond))                              // throttles tick

	err := c.Migrate("tick", 1, now) // +0.4 = 0.8 > 0.5 on cpu1
	require.Error(t, err)
	var nse *NotSchedulableError
	require.ErrorAs(t, err, &nse)
}

func TestMigrateRejectsInvalidDestinationCPU(t *testing.T) {
	c := NewCore(1.0, 1)
	now := time.Unix(0, 0)
	require.NoError(t, c.Admit("tick", 0, 5*time.Millisecond, 10*time.Millisecond, now))
	require.NoError(t, c.Charge("tick", 5*time.Millisecond))

	err := c.Migrate("tick", 1, now)
	require.Error(t, err)
	var ice *InvalidCPUError
	require.ErrorAs(t, err, &ice)
}

func TestMigrateUnknownServer(t *testing.T) {
	c := NewCore(1.0, 2)
	err := c.Migrate("ghost", 1, time.Unix(0, 0))
	require.Error(t, err)
	var use *UnknownServerError
	require.ErrorAs(t, err, &use)
}
