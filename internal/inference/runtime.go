package inference

import (
	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/telemetry"
)

// Activations captures one tick's per-layer outputs for the trace recorder.
// The slice headers point into the runtime's scratch buffers and are only
// valid until the next Infer call — callers that need to retain them past
// that (the trace recorder) must copy.
type Activations struct {
	Layers [][]fixedpoint.Q88
}

// Clone deep-copies Activations for retention beyond the current tick.
func (a Activations) Clone() Activations {
	out := Activations{Layers: make([][]fixedpoint.Q88, len(a.Layers))}
	for i, layer := range a.Layers {
		cp := make([]fixedpoint.Q88, len(layer))
		copy(cp, layer)
		out.Layers[i] = cp
	}
	return out
}

// TopK is the number of runner-up actions captured as alternatives.
const TopK = 3

// Runtime is a no-allocation MLP forward pass over pre-allocated scratch
// buffers. A single Runtime is not safe for concurrent Infer calls — the
// model manager (G) owns at most one active handle and one shadow handle,
// each with its own Runtime.
type Runtime struct {
	layers  Layers
	scratch [][]fixedpoint.Q88 // one buffer per layer output, reused every tick
	lastAct Activations
}

// NewRuntime allocates scratch buffers sized to layers once; no further
// allocation occurs on the Infer fast path.
func NewRuntime(layers Layers) *Runtime {
	scratch := make([][]fixedpoint.Q88, len(layers))
	for i, l := range layers {
		scratch[i] = make([]fixedpoint.Q88, l.OutputSize)
	}
	return &Runtime{layers: layers, scratch: scratch, lastAct: Activations{Layers: scratch}}
}

// InputSize reports the expected telemetry feature count.
func (r *Runtime) InputSize() int { return r.layers.InputSize() }

// Infer runs sample through the network, returning the chosen directive,
// its confidence, and this tick's activations (valid until the next Infer
// call). Returns InvalidShapeError if sample's feature count does not
// match the first layer's InputSize.
func (r *Runtime) Infer(sample telemetry.Sample) (Directive, Activations, error) {
	input := sampleFeatures(sample)
	if len(input) != r.layers.InputSize() {
		return Directive{}, Activations{}, &InvalidShapeError{Expected: r.layers.InputSize(), Got: len(input)}
	}

	cur := input
	for i, layer := range r.layers {
		out := r.scratch[i]
		forwardLayer(layer, cur, out)
		if i < len(r.layers)-1 {
			reluInPlace(out)
		}
		cur = out
	}

	logits := cur
	actionIdx, confidence, logProb, alts := decide(logits)

	d := Directive{
		Memory:       fixedpoint.Clamp(logits[0], fixedpoint.FromInt(-DirectiveBound), fixedpoint.FromInt(DirectiveBound)),
		Scheduler:    directiveAt(logits, 1),
		Command:      directiveAt(logits, 2),
		Confidence:   confidence,
		LogProb:      logProb,
		ActionIndex:  actionIdx,
		Alternatives: alts,
	}

	return d, r.lastAct, nil
}

func directiveAt(logits []fixedpoint.Q88, idx int) fixedpoint.Q88 {
	if idx >= len(logits) {
		return 0
	}
	return fixedpoint.Clamp(logits[idx], fixedpoint.FromInt(-DirectiveBound), fixedpoint.FromInt(DirectiveBound))
}

// sampleFeatures flattens a telemetry.Sample into the fixed feature vector
// the network's input layer expects: raw + derived fields, in a stable
// order.
func sampleFeatures(s telemetry.Sample) []fixedpoint.Q88 {
	return []fixedpoint.Q88{
		fixedpoint.FromInt(s.MemoryPressure),
		fixedpoint.FromInt(s.DeadlineMisses),
		fixedpoint.FromInt(s.CPUUsage),
		fixedpoint.FromInt(s.IOLatencyMicros),
		fixedpoint.FromInt(s.MemoryPressureDelta),
		fixedpoint.FromInt(s.MemoryPressureMA),
	}
}

func forwardLayer(w Weights, in []fixedpoint.Q88, out []fixedpoint.Q88) {
	for o := 0; o < w.OutputSize; o++ {
		acc := w.Bias[o]
		for i := 0; i < w.InputSize && i < len(in); i++ {
			acc = fixedpoint.Add(acc, fixedpoint.Mul(in[i], w.Matrix[i*w.OutputSize+o]))
		}
		out[o] = acc
	}
}

func reluInPlace(v []fixedpoint.Q88) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// decide picks the winning action index by largest logit, a margin-based
// confidence scalar in 0..1000, a deterministic pseudo log-probability
// (no floating-point exp — Q8.8 arithmetic only), and the top-k runner-up
// indices.
func decide(logits []fixedpoint.Q88) (action int, confidence, logProb fixedpoint.Q88, alternatives []int) {
	if len(logits) == 0 {
		return 0, 0, 0, nil
	}

	type scored struct {
		idx   int
		value fixedpoint.Q88
	}
	ranked := make([]scored, len(logits))
	for i, v := range logits {
		ranked[i] = scored{idx: i, value: v}
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].value > ranked[j-1].value; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	action = ranked[0].idx
	best := ranked[0].value
	second := best
	if len(ranked) > 1 {
		second = ranked[1].value
	}
	margin := fixedpoint.Sub(best, second)

	var absSum fixedpoint.Q88
	for _, v := range logits {
		if v < 0 {
			absSum = fixedpoint.Add(absSum, -v)
		} else {
			absSum = fixedpoint.Add(absSum, v)
		}
	}
	absSum = fixedpoint.Add(absSum, fixedpoint.FromInt(1)) // avoid div-by-zero

	confidence = fixedpoint.Clamp(
		fixedpoint.Mul(fixedpoint.Div(margin, absSum), fixedpoint.FromInt(MaxConfidence)),
		0, fixedpoint.FromInt(MaxConfidence),
	)
	logProb = fixedpoint.Div(margin, absSum)

	k := TopK
	if k > len(ranked)-1 {
		k = len(ranked) - 1
	}
	if k > 0 {
		alternatives = make([]int, 0, k)
		for _, s := range ranked[1 : 1+k] {
			alternatives = append(alternatives, s.idx)
		}
	}
	return
}
