package model

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// encodeDenseQ88 builds a q88-dense model.bin payload for tests: one
// identity-ish layer mapping inSize features to outSize logits.
func encodeDenseQ88(t *testing.T, inSize, outSize int) []byte {
	t.Helper()
	buf := make([]byte, 0, 4+4+4+inSize*outSize*4+outSize*4)
	put32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}
	put32(1) // layer count
	put32(uint32(inSize))
	put32(uint32(outSize))
	for i := 0; i < inSize*outSize; i++ {
		put32(0) // zero matrix
	}
	for i := 0; i < outSize; i++ {
		put32(0) // zero bias
	}
	return buf
}

func TestDenseQ88CodecDecodeShape(t *testing.T) {
	codec, ok := LookupCodec("q88-dense")
	require.True(t, ok)

	raw := encodeDenseQ88(t, 6, 4)
	layers, err := codec.Decode(raw)
	require.NoError(t, err)
	require.Len(t, layers, 1)
	require.Equal(t, 6, layers.InputSize())
	require.Equal(t, 4, layers.OutputSize())
}

func TestDenseQ88CodecRejectsTruncated(t *testing.T) {
	codec, _ := LookupCodec("q88-dense")
	_, err := codec.Decode([]byte{1, 0, 0})
	require.Error(t, err)
}

func TestRegisterCodecPanicsOnDuplicate(t *testing.T) {
	require.Panics(t, func() {
		RegisterCodec(&denseQ88Codec{})
	})
}

func TestMetadataHashHex(t *testing.T) {
	m := Metadata{Hash: [32]byte{0xAB, 0xCD}}
	require.Equal(t, "abcd000000000000000000000000000000000000000000000000000000000000", m.HashHex())
}
