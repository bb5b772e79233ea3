package agent

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nous-kernel/nous/internal/wire"
)

func echoHandler(payload []byte) ([]byte, error) { return payload, nil }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(nil)
	e.RegisterOpcode(0x31, Binding{
		Capability: "vfs.read",
		ResourceOf: func(payload []byte) string { return string(payload) },
		Handle:     echoHandler,
	})
	return e
}

func TestDispatchAllowsWithinGrant(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: PrefixScope("/data"), Cost: 1}},
		Bucket:  bucket,
	})

	resp, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("/data/file")})
	require.NoError(t, err)
	require.Equal(t, "/data/file", string(resp))
}

func TestDispatchDeniesOutOfScope(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: PrefixScope("/data"), Cost: 1}},
		Bucket:  bucket,
	})

	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("/etc/shadow")})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyScopeRejected, de.Reason)
}

func TestDispatchDeniesUnknownOpcode(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x40})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyUnknownOpcode, de.Reason)
}

func TestDispatchDeniesMissingCapability(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{AgentID: 1, Grants: map[Capability]Grant{}, Bucket: bucket})

	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("/data/x")})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyNoCapability, de.Reason)
}

func TestDispatchRejectsReplay(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: AnyScope(), Cost: 1}},
		Bucket:  bucket,
	})

	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 5}, Opcode: 0x31, Payload: []byte("x")})
	require.NoError(t, err)

	_, err = e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 5}, Opcode: 0x31, Payload: []byte("x")})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyReplay, de.Reason)
}

func TestDispatchRejectsReplayWithZeroBasedSequence(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: AnyScope(), Cost: 1}},
		Bucket:  bucket,
	})

	// A zero-based monotonic counter's first frame is Sequence: 0 — lastSeq
	// being unset and lastSeq being "legitimately 0" must not look the same.
	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 0}, Opcode: 0x31, Payload: []byte("x")})
	require.NoError(t, err)

	_, err = e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 0}, Opcode: 0x31, Payload: []byte("x")})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyReplay, de.Reason)
}

func TestDispatchDeniesBudgetExhausted(t *testing.T) {
	e := newTestEngine(t)
	bucket := NewBucket(1, time.Hour)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: AnyScope(), Cost: 1}},
		Bucket:  bucket,
	})

	_, err := e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("x")})
	require.NoError(t, err)

	_, err = e.Dispatch(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 2}, Opcode: 0x31, Payload: []byte("x")})
	require.Error(t, err)
	var de *DeniedError
	require.True(t, errors.As(err, &de))
	require.Equal(t, DenyBudgetExhausted, de.Reason)
}
