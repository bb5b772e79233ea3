// Package telemetry implements component A: the per-tick sampler.
//
// sample() is pure, wait-free, and allocation-free so it can run inside the
// autonomy tick with interrupts disabled: every Source method is backed by
// an atomic load, never a lock or a channel receive. This mirrors the
// "atomic scalars, relaxed ordering sufficient" telemetry-counter resource
// model and the channel/backpressure idiom the rest of the kernel uses for
// everything that CAN block, by contrast.
package telemetry

import (
	"sync/atomic"
	"time"
)

// Sample is the fixed-size state vector produced once per autonomy tick.
// All scaled fields are 0..1000 milli-units unless documented otherwise.
type Sample struct {
	Timestamp int64 // UnixNano, monotonic within a single process run

	MemoryPressure  int32 // 0..1000
	DeadlineMisses  int32 // count over the last window, saturating
	CPUUsage        int32 // 0..1000
	IOLatencyMicros int32 // average I/O latency, microseconds, saturating

	// Derived features.
	MemoryPressureDelta int32 // signed, this sample minus previous
	MemoryPressureMA     int32 // moving average over movingAverageWindow samples
}

const (
	maxMilliUnits = 1000
	// movingAverageWindow is the number of trailing samples folded into
	// MemoryPressureMA.
	movingAverageWindow = 8
)

// Source exposes the raw counters this package samples from. Each method
// must be non-blocking; implementations backed by real subsystems wrap an
// atomic.Int32/Int64, and a missing/unwired source returns false so the
// collector can record zero per the "missing sources read as zero"
// failure model instead of guessing.
type Source interface {
	MemoryPressure() (int32, bool)
	DeadlineMissCount() (int32, bool)
	CPUUsage() (int32, bool)
	IOLatencyMicros() (int32, bool)
}

// AtomicSource is a Source backed by plain atomic counters, suitable for
// wiring directly to the memory manager, scheduler, and driver layer's own
// atomic state without an intervening lock. A field left at its zero Value
// (never Store'd) is indistinguishable from "reads as zero", which matches
// the missing-source contract exactly.
type AtomicSource struct {
	memoryPressure  atomic.Int32
	deadlineMisses  atomic.Int32
	cpuUsage        atomic.Int32
	ioLatencyMicros atomic.Int32

	wired atomic.Uint32 // bitmask of which fields have ever been Set*
}

const (
	wiredMemoryPressure uint32 = 1 << iota
	wiredDeadlineMisses
	wiredCPUUsage
	wiredIOLatency
)

// SetMemoryPressure stores a saturated 0..1000 pressure reading.
func (s *AtomicSource) SetMemoryPressure(v int32) {
	s.memoryPressure.Store(saturate(v, 0, maxMilliUnits))
	s.wired.Or(wiredMemoryPressure)
}

// AddDeadlineMiss increments the miss counter, saturating at int32 max.
func (s *AtomicSource) AddDeadlineMiss() {
	for {
		old := s.deadlineMisses.Load()
		if old == 1<<31-1 {
			s.wired.Or(wiredDeadlineMisses)
			return
		}
		if s.deadlineMisses.CompareAndSwap(old, old+1) {
			s.wired.Or(wiredDeadlineMisses)
			return
		}
	}
}

// ResetDeadlineMisses zeroes the window counter; called once per tick by the
// autonomy tick (internal/kernel), right after sampling.
func (s *AtomicSource) ResetDeadlineMisses() {
	s.deadlineMisses.Store(0)
}

// SetCPUUsage stores a saturated 0..1000 usage reading.
func (s *AtomicSource) SetCPUUsage(v int32) {
	s.cpuUsage.Store(saturate(v, 0, maxMilliUnits))
	s.wired.Or(wiredCPUUsage)
}

// SetIOLatencyMicros stores a saturating microsecond latency reading.
func (s *AtomicSource) SetIOLatencyMicros(v int32) {
	s.ioLatencyMicros.Store(saturate(v, 0, 1<<31-1))
	s.wired.Or(wiredIOLatency)
}

func (s *AtomicSource) MemoryPressure() (int32, bool) {
	return s.memoryPressure.Load(), s.wired.Load()&wiredMemoryPressure != 0
}

func (s *AtomicSource) DeadlineMissCount() (int32, bool) {
	return s.deadlineMisses.Load(), s.wired.Load()&wiredDeadlineMisses != 0
}

func (s *AtomicSource) CPUUsage() (int32, bool) {
	return s.cpuUsage.Load(), s.wired.Load()&wiredCPUUsage != 0
}

func (s *AtomicSource) IOLatencyMicros() (int32, bool) {
	return s.ioLatencyMicros.Load(), s.wired.Load()&wiredIOLatency != 0
}

// Collector samples a Source once per tick, no allocation after New.
type Collector struct {
	src Source

	lastPressure int32
	window       [movingAverageWindow]int32
	windowIdx    int
	windowFilled int
	windowSum    int64
}

// NewCollector creates a Collector reading from src. src may be nil, in
// which case every field samples as zero.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Sample produces one TelemetrySample. Pure, wait-free, allocation-free.
func (c *Collector) Sample(now time.Time) Sample {
	var pressure, misses, cpu, io int32
	if c.src != nil {
		if v, ok := c.src.MemoryPressure(); ok {
			pressure = v
		}
		if v, ok := c.src.DeadlineMissCount(); ok {
			misses = v
		}
		if v, ok := c.src.CPUUsage(); ok {
			cpu = v
		}
		if v, ok := c.src.IOLatencyMicros(); ok {
			io = v
		}
	}

	delta := pressure - c.lastPressure
	c.lastPressure = pressure

	c.windowSum -= int64(c.window[c.windowIdx])
	c.window[c.windowIdx] = pressure
	c.windowSum += int64(pressure)
	c.windowIdx = (c.windowIdx + 1) % movingAverageWindow
	if c.windowFilled < movingAverageWindow {
		c.windowFilled++
	}
	ma := int32(c.windowSum / int64(c.windowFilled))

	return Sample{
		Timestamp:            now.UnixNano(),
		MemoryPressure:       pressure,
		DeadlineMisses:       misses,
		CPUUsage:             cpu,
		IOLatencyMicros:      io,
		MemoryPressureDelta:  delta,
		MemoryPressureMA:     ma,
	}
}

func saturate(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
