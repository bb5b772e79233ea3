package inference

import "github.com/nous-kernel/nous/internal/fixedpoint"

// Weights holds one fully-connected layer's parameters in Q8.8: an
// InputSize×OutputSize matrix stored row-major, plus an OutputSize bias
// vector.
type Weights struct {
	InputSize  int
	OutputSize int
	Matrix     []fixedpoint.Q88 // len == InputSize*OutputSize
	Bias       []fixedpoint.Q88 // len == OutputSize
}

// Weights is owned exclusively by component G (the model life-cycle
// manager); component B observes it only through an atomically swappable
// handle. A Weights value, once constructed, is never mutated in place —
// that immutability is what makes the RCU-style handle swap in
// internal/model safe without per-read locks.
type Layers []Weights

// InputSize is the number of features the first layer accepts.
func (l Layers) InputSize() int {
	if len(l) == 0 {
		return 0
	}
	return l[0].InputSize
}

// OutputSize is the number of logits the last layer produces.
func (l Layers) OutputSize() int {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1].OutputSize
}

// MaxWidth returns the widest layer, used to size scratch buffers once.
func (l Layers) MaxWidth() int {
	w := 0
	for _, layer := range l {
		if layer.InputSize > w {
			w = layer.InputSize
		}
		if layer.OutputSize > w {
			w = layer.OutputSize
		}
	}
	return w
}
