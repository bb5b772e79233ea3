// Package bench — latency/main.go
//
// Inference-path latency measurement tool.
//
// Measures the wall-clock time of a single Runtime.Infer call, end to end:
// feature extraction from a telemetry.Sample, the no-allocation forward
// pass through every configured layer, and action selection. This is the
// same call the autonomy tick loop makes once per period, so its p99 is
// the figure component B's MaxLatencyP99 health threshold names. The model
// health check in internal/model does not measure latency, so that
// threshold is not checked when a model is loaded or swapped in.
//
// Method:
//  1. Builds a synthetic Layers stack sized by -layers/-width.
//  2. Runs -iterations calls to Runtime.Infer with clock_gettime(CLOCK_MONOTONIC)
//     (time.Now, backed by runtime.nanotime) bracketing each call.
//  3. Locks to an OS thread so the scheduler can't interleave a GC-triggered
//     preemption into the measured window as easily.
//  4. Results are written to a CSV file.
//
// The measurement includes:
//   - Feature extraction and fixed-point arithmetic for every layer
//   - Go function-call and slice-bookkeeping overhead
//
// It does NOT include:
//   - Model load/swap latency (that's internal/model's concern, not B's)
//   - Telemetry collection latency (internal/telemetry is sampled separately)
//
// Output CSV columns:
//
//	iteration, latency_ns, action_index
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
	"github.com/nous-kernel/nous/internal/telemetry"
)

func main() {
	iterations := flag.Int("iterations", 10000, "Number of Infer calls to measure")
	outputFile := flag.String("output", "latency_raw.csv", "Output CSV file path")
	numLayers := flag.Int("layers", 3, "Number of fully-connected layers")
	width := flag.Int("width", 32, "Hidden layer width")
	budgetUs := flag.Int64("budget-us", 200, "p99 latency budget in microseconds (MaxLatencyP99 proxy)")
	flag.Parse()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	f, err := os.Create(*outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	_ = w.Write([]string{"iteration", "latency_ns", "action_index"})

	layers := syntheticLayers(*numLayers, *width)
	rt := inference.NewRuntime(layers)
	sample := telemetry.Sample{
		Timestamp:           1,
		MemoryPressure:      500,
		DeadlineMisses:      0,
		CPUUsage:            400,
		IOLatencyMicros:     120,
		MemoryPressureDelta: 5,
		MemoryPressureMA:    495,
	}

	const histBucketNs = 1000               // 1µs buckets
	const histBuckets = 1_000_000 / histBucketNs // up to 1ms
	hist := make([]int, histBuckets+1)

	for i := 0; i < *iterations; i++ {
		start := time.Now()
		directive, _, err := rt.Infer(sample)
		latency := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "infer: %v\n", err)
			os.Exit(1)
		}

		ns := latency.Nanoseconds()
		bucket := int(ns / histBucketNs)
		if bucket > histBuckets {
			bucket = histBuckets
		}
		hist[bucket]++

		_ = w.Write([]string{
			strconv.Itoa(i),
			strconv.FormatInt(ns, 10),
			strconv.Itoa(directive.ActionIndex),
		})
	}

	p50, p95, p99 := computePercentiles(hist, *iterations)

	fmt.Printf("Inference Latency Results (%d iterations, %d layers, width %d)\n", *iterations, *numLayers, *width)
	fmt.Printf("  p50: %dus\n", p50*histBucketNs/1000)
	fmt.Printf("  p95: %dus\n", p95*histBucketNs/1000)
	fmt.Printf("  p99: %dus\n", p99*histBucketNs/1000)
	fmt.Printf("  Output: %s\n", *outputFile)

	p99Us := int64(p99 * histBucketNs / 1000)
	if p99Us > *budgetUs {
		fmt.Fprintf(os.Stderr, "FAIL: p99 %dus exceeds %dus budget\n", p99Us, *budgetUs)
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, "PASS: p99 within budget")
}

func computePercentiles(hist []int, total int) (p50, p95, p99 int) {
	targets := []struct {
		pct float64
		out *int
	}{
		{0.50, &p50},
		{0.95, &p95},
		{0.99, &p99},
	}
	cumulative := 0
	ti := 0
	for i, count := range hist {
		cumulative += count
		for ti < len(targets) && float64(cumulative) >= targets[ti].pct*float64(total) {
			*targets[ti].out = i
			ti++
		}
		if ti == len(targets) {
			break
		}
	}
	return
}

// syntheticLayers builds a numLayers-deep stack of width-wide fully
// connected layers taking telemetry's feature count as input and producing
// one logit per dispatch action, all weights fixed at a small
// identity-leaning constant so the forward pass is deterministic without
// needing a real trained model.
func syntheticLayers(numLayers, width int) inference.Layers {
	const inputSize = 6  // telemetry feature count sampleFeatures extracts
	const outputSize = 4 // dispatch action count

	layers := make(inference.Layers, numLayers)
	in := inputSize
	for i := 0; i < numLayers; i++ {
		out := width
		if i == numLayers-1 {
			out = outputSize
		}
		matrix := make([]fixedpoint.Q88, in*out)
		for j := range matrix {
			if j%(in+1) == 0 {
				matrix[j] = fixedpoint.FromFloat64(0.1)
			}
		}
		bias := make([]fixedpoint.Q88, out)
		layers[i] = inference.Weights{InputSize: in, OutputSize: out, Matrix: matrix, Bias: bias}
		in = out
	}
	return layers
}
