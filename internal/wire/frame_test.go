package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Header: Header{AgentID: 7, Sequence: 42}, Opcode: 0x31, Payload: []byte("hello")}
	raw := Encode(f)

	got, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, f.Header, got.Header)
	require.Equal(t, f.Opcode, got.Opcode)
	require.Equal(t, f.Payload, got.Payload)
}

func TestDecodeRejectsOpcodeBelowPartition(t *testing.T) {
	f := Frame{Header: Header{AgentID: 1, Sequence: 1}, Opcode: 0x10}
	raw := Encode(f)

	_, err := Decode(raw)
	require.Error(t, err)
	var ioe *InvalidOpcodeError
	require.ErrorAs(t, err, &ioe)
}

func TestDecodeRejectsOpcodeAbovePartition(t *testing.T) {
	f := Frame{Header: Header{AgentID: 1, Sequence: 1}, Opcode: 0x80}
	raw := Encode(f)

	_, err := Decode(raw)
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
	var tfe *TruncatedFrameError
	require.ErrorAs(t, err, &tfe)
}

func TestDecodeRejectsPayloadLengthOverrun(t *testing.T) {
	raw := Encode(Frame{Header: Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("ab")})
	raw = raw[:len(raw)-1] // truncate payload by one byte
	_, err := Decode(raw)
	require.Error(t, err)
}

func TestEncodeInvalidPreservesHeader(t *testing.T) {
	hdr := Header{AgentID: 9, Sequence: 100}
	raw := EncodeInvalid(hdr)
	got, err := Decode(raw)
	require.Error(t, err) // OpcodeInvalid (0xFF) is itself outside the partition
	require.Equal(t, hdr, got.Header)
	require.Equal(t, OpcodeInvalid, got.Opcode)
}
