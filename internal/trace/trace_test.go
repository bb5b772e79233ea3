package trace

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecorderOverwritesOldest(t *testing.T) {
	r := NewRecorder(3, false, nil, nil)
	for i := 0; i < 5; i++ {
		r.Record(Record{TraceID: fmt.Sprintf("t-%d", i), Timestamp: time.Unix(int64(i), 0)})
	}

	stats := r.Stats()
	require.Equal(t, 3, stats.Capacity)
	require.Equal(t, 3, stats.Occupancy)
	require.Equal(t, uint64(2), stats.Overwrites)

	_, ok := r.FindByID("t-0")
	require.False(t, ok)
	_, ok = r.FindByID("t-4")
	require.True(t, ok)
}

func TestRecorderLastReturnsNewestFirst(t *testing.T) {
	r := NewRecorder(5, false, nil, nil)
	for i := 0; i < 3; i++ {
		r.Record(Record{TraceID: fmt.Sprintf("t-%d", i), Timestamp: time.Unix(int64(i), 0)})
	}
	last := r.Last(2)
	require.Len(t, last, 2)
	require.Equal(t, "t-2", last[0].TraceID)
	require.Equal(t, "t-1", last[1].TraceID)
}

func TestRecorderDrainAllInsertionOrder(t *testing.T) {
	r := NewRecorder(5, false, nil, nil)
	for i := 0; i < 3; i++ {
		r.Record(Record{TraceID: fmt.Sprintf("t-%d", i), Timestamp: time.Unix(int64(i), 0)})
	}
	all := r.DrainAll()
	require.Len(t, all, 3)
	require.Equal(t, "t-0", all[0].TraceID)
	require.Equal(t, "t-2", all[2].TraceID)
}

func TestRecorderNoGapsAfterWraparound(t *testing.T) {
	r := NewRecorder(4, false, nil, nil)
	for i := 0; i < 10; i++ {
		r.Record(Record{TraceID: fmt.Sprintf("t-%d", i), Timestamp: time.Unix(int64(i), 0)})
	}
	all := r.DrainAll()
	require.Len(t, all, 4)
	for i, rec := range all {
		require.Equal(t, fmt.Sprintf("t-%d", 6+i), rec.TraceID)
	}
}
