// Package wire implements the agent capability/audit engine's on-wire
// frame format: a fixed binary header (agent id + monotonic sequence
// number) followed by a TLV opcode/payload body. Framed binary rather than
// the operator package's newline-JSON, since agent frames cross a faster,
// higher-volume path (every in-kernel AI assistant call) where JSON's
// allocation and parse cost would show up in the CBS budget this traffic
// runs under.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/nous-kernel/nous/internal/errkind"
)

// Header precedes every frame body: a stable agent identity and a
// per-agent monotonic sequence number used for at-most-once execution.
type Header struct {
	AgentID  uint32
	Sequence uint64
}

const headerLen = 4 + 8

// OpcodeInvalid is returned in place of any opcode outside the agent
// partition (0x30-0x7F); a frame carrying it is rejected before dispatch.
const OpcodeInvalid uint8 = 0xFF

// OpcodeMin and OpcodeMax bound the valid agent-opcode partition.
const (
	OpcodeMin uint8 = 0x30
	OpcodeMax uint8 = 0x7F
)

// Frame is one decoded agent request: header, opcode, and payload bytes.
// Payload aliases the input buffer — callers that retain a Frame past the
// read that produced it must copy Payload.
type Frame struct {
	Header  Header
	Opcode  uint8
	Payload []byte
}

// InvalidOpcodeError is returned for any opcode outside [OpcodeMin, OpcodeMax].
type InvalidOpcodeError struct{ Opcode uint8 }

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("wire: opcode 0x%02X outside agent partition [0x%02X,0x%02X]", e.Opcode, OpcodeMin, OpcodeMax)
}
func (e *InvalidOpcodeError) Kind() string { return "InvalidOpcode" }

// TruncatedFrameError is returned when raw is shorter than the header or
// the declared payload length requires.
type TruncatedFrameError struct{ Detail string }

func (e *TruncatedFrameError) Error() string { return "wire: truncated frame: " + e.Detail }
func (e *TruncatedFrameError) Kind() string  { return "TruncatedFrame" }

var (
	_ errkind.Kinded = (*InvalidOpcodeError)(nil)
	_ errkind.Kinded = (*TruncatedFrameError)(nil)
)

// Decode parses raw as [header][opcode:u8][payload_len:u16][payload],
// all multi-byte integers little-endian. Returns InvalidOpcodeError if
// opcode falls outside the agent partition — the caller is expected to
// reply with OpcodeInvalid rather than attempt dispatch.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < headerLen+1+2 {
		return Frame{}, &TruncatedFrameError{Detail: fmt.Sprintf("need at least %d bytes, got %d", headerLen+3, len(raw))}
	}

	hdr := Header{
		AgentID:  binary.LittleEndian.Uint32(raw[0:4]),
		Sequence: binary.LittleEndian.Uint64(raw[4:12]),
	}
	opcode := raw[headerLen]
	payloadLen := binary.LittleEndian.Uint16(raw[headerLen+1 : headerLen+3])

	body := raw[headerLen+3:]
	if int(payloadLen) > len(body) {
		return Frame{}, &TruncatedFrameError{Detail: fmt.Sprintf("declared payload_len=%d exceeds remaining %d bytes", payloadLen, len(body))}
	}

	if opcode < OpcodeMin || opcode > OpcodeMax {
		return Frame{Header: hdr, Opcode: opcode, Payload: body[:payloadLen]}, &InvalidOpcodeError{Opcode: opcode}
	}

	return Frame{Header: hdr, Opcode: opcode, Payload: body[:payloadLen]}, nil
}

// Encode serializes f back to wire format. Used by tests and by the
// response path, which echoes the request's header with a reply opcode.
func Encode(f Frame) []byte {
	out := make([]byte, headerLen+3+len(f.Payload))
	binary.LittleEndian.PutUint32(out[0:4], f.Header.AgentID)
	binary.LittleEndian.PutUint64(out[4:12], f.Header.Sequence)
	out[headerLen] = f.Opcode
	binary.LittleEndian.PutUint16(out[headerLen+1:headerLen+3], uint16(len(f.Payload)))
	copy(out[headerLen+3:], f.Payload)
	return out
}

// EncodeInvalid builds the canonical rejection frame for a bad opcode:
// same header, OpcodeInvalid, empty payload.
func EncodeInvalid(hdr Header) []byte {
	return Encode(Frame{Header: hdr, Opcode: OpcodeInvalid})
}
