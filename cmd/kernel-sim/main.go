// Package main — cmd/kernel-sim/main.go
//
// nous offline control-law simulator.
//
// Purpose: replay a synthetic memory-pressure trace through the same pure
// control law the runtime dispatcher uses (dispatch.MemoryStrategyFromDirective)
// and verify the anti-oscillation invariant holds offline, before a new
// threshold/hysteresis configuration is ever loaded by a live kernel.
//
// Synthetic directive model: a bounded random walk in [-1000,1000] milli-
// units, seeded for reproducibility:
//
//	d_{t+1} = clamp(d_t + step_t, -1000, 1000)
//	step_t ~ Uniform(-maxStep, maxStep)
//
// Output: per-step CSV to stdout (step, directive_milli, strategy, changed).
// Summary: oscillation-window violation count to stderr — a configuration
// that violates the window/limit pair here will violate it live too, since
// both paths call the identical pure function.
//
// Usage:
//
//	kernel-sim [flags]
//	kernel-sim -steps 10000 -max-step 80 -window 10s -limit 3
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/nous-kernel/nous/internal/dispatch"
	"github.com/nous-kernel/nous/internal/fixedpoint"
)

func main() {
	steps := flag.Int("steps", 10000, "Number of simulation steps")
	maxStep := flag.Int("max-step", 80, "Max per-step directive delta (milli-units)")
	window := flag.Duration("window", 10*time.Second, "Oscillation detection window")
	limit := flag.Int("limit", 3, "Max strategy changes allowed inside window")
	stepPeriod := flag.Duration("step-period", 100*time.Millisecond, "Simulated wall-clock time per step")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *maxStep <= 0 || *maxStep > 1000 {
		fmt.Fprintln(os.Stderr, "ERROR: max-step must be in (0,1000]")
		os.Exit(1)
	}

	rng := rand.New(rand.NewSource(*seed))

	th := dispatch.DefaultThresholds()
	th.MinDwell = 0 // the simulator isolates the pure control law; min-dwell is the live Dispatcher's own concern

	w := csv.NewWriter(os.Stdout)
	defer w.Flush()
	_ = w.Write([]string{"step", "directive_milli", "strategy", "changed"})

	strategy := dispatch.StrategyBalanced
	directive := fixedpoint.FromInt(0)
	now := time.Unix(0, 0)

	var changeTimes []time.Time
	violations := 0

	for i := 0; i < *steps; i++ {
		delta := rng.Intn(2**maxStep+1) - *maxStep
		directive = fixedpoint.Clamp(fixedpoint.Add(directive, fixedpoint.FromInt(int32(delta))), fixedpoint.FromInt(-1000), fixedpoint.FromInt(1000))

		next := dispatch.MemoryStrategyFromDirective(strategy, directive, th)
		changed := next != strategy
		if changed {
			changeTimes = append(changeTimes, now)
			// drop entries older than the window
			cutoff := now.Add(-*window)
			kept := changeTimes[:0]
			for _, t := range changeTimes {
				if t.After(cutoff) {
					kept = append(kept, t)
				}
			}
			changeTimes = kept
			if len(changeTimes) > *limit {
				violations++
			}
		}
		strategy = next

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.Itoa(int(directive.Int())),
			string(strategy),
			strconv.FormatBool(changed),
		})
		now = now.Add(*stepPeriod)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "oscillation window violations: %d/%d steps (window=%s limit=%d)\n",
		violations, *steps, *window, *limit)
	if violations > 0 {
		fmt.Fprintln(os.Stderr, "FAIL: oscillation window exceeded at least once — tighten hysteresis or widen min-dwell")
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "PASS: no oscillation window violations")
}
