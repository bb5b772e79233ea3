// codec.go — pluggable weight-format decoders.
//
// Adapted from the teacher's contrib plugin-registry pattern
// (contrib/scorer.go's RegisterScorer/AnomalyScorer): instead of swappable
// anomaly scorers, this registry holds swappable model.bin decoders, so a
// new on-disk weight format can be added without touching the registry or
// swap logic. The built-in "q88-dense" codec is registered by this package's
// init(); out-of-tree codecs register the same way contrib scorers do.
package model

import (
	"fmt"
	"sync"

	"github.com/nous-kernel/nous/internal/fixedpoint"
	"github.com/nous-kernel/nous/internal/inference"
)

// Codec decodes a model.bin payload into inference.Layers. Implementations
// must be goroutine-safe and must not retain the input slice beyond the
// call (the caller may reuse/free it).
type Codec interface {
	Name() string
	Decode(raw []byte) (inference.Layers, error)
}

var (
	codecMu sync.RWMutex
	codecs  = map[string]Codec{}
)

// RegisterCodec adds a codec to the registry. Panics on duplicate
// registration, matching the teacher's RegisterScorer fail-fast contract
// for what is always an init()-time programming error, never a runtime one.
func RegisterCodec(c Codec) {
	codecMu.Lock()
	defer codecMu.Unlock()
	if _, exists := codecs[c.Name()]; exists {
		panic(fmt.Sprintf("model: codec %q already registered", c.Name()))
	}
	codecs[c.Name()] = c
}

// LookupCodec returns the codec registered under name, or false if none.
func LookupCodec(name string) (Codec, bool) {
	codecMu.RLock()
	defer codecMu.RUnlock()
	c, ok := codecs[name]
	return c, ok
}

func init() {
	RegisterCodec(&denseQ88Codec{})
}

// denseQ88Codec decodes a simple dense-layer format: a little-endian u32
// layer count, then per layer [u32 inputSize][u32 outputSize][matrix
// int32...][bias int32...], all values already Q8.8-encoded int32s. This
// is the built-in format produced by the registry's own Register path when
// no out-of-tree codec is configured.
type denseQ88Codec struct{}

func (denseQ88Codec) Name() string { return "q88-dense" }

func (denseQ88Codec) Decode(raw []byte) (inference.Layers, error) {
	r := &byteReader{buf: raw}
	layerCount, err := r.u32()
	if err != nil {
		return nil, err
	}
	layers := make(inference.Layers, 0, layerCount)
	for i := uint32(0); i < layerCount; i++ {
		inSize, err := r.u32()
		if err != nil {
			return nil, err
		}
		outSize, err := r.u32()
		if err != nil {
			return nil, err
		}
		matrix := make([]fixedpoint.Q88, inSize*outSize)
		for j := range matrix {
			v, err := r.i32()
			if err != nil {
				return nil, err
			}
			matrix[j] = fixedpoint.Q88(v)
		}
		bias := make([]fixedpoint.Q88, outSize)
		for j := range bias {
			v, err := r.i32()
			if err != nil {
				return nil, err
			}
			bias[j] = fixedpoint.Q88(v)
		}
		layers = append(layers, inference.Weights{
			InputSize: int(inSize), OutputSize: int(outSize), Matrix: matrix, Bias: bias,
		})
	}
	return layers, nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("model: q88-dense decode: truncated at offset %d", r.pos)
	}
	v := uint32(r.buf[r.pos]) | uint32(r.buf[r.pos+1])<<8 | uint32(r.buf[r.pos+2])<<16 | uint32(r.buf[r.pos+3])<<24
	r.pos += 4
	return v, nil
}

func (r *byteReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}
