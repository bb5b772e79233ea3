package agent

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nous-kernel/nous/internal/wire"
)

func dialAndRoundtrip(t *testing.T, socketPath string, req []byte) []byte {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("unix", socketPath)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(req)))
	_, err = conn.Write(lenBuf)
	require.NoError(t, err)
	_, err = conn.Write(req)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	respLenBuf := make([]byte, 4)
	_, err = io.ReadFull(conn, respLenBuf)
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(respLenBuf)
	resp := make([]byte, n)
	_, err = io.ReadFull(conn, resp)
	require.NoError(t, err)
	return resp
}

func TestServerRoundTripsValidFrame(t *testing.T) {
	e := NewEngine(nil)
	e.RegisterOpcode(0x31, Binding{
		Capability: "vfs.read",
		ResourceOf: func(payload []byte) string { return string(payload) },
		Handle:     func(payload []byte) ([]byte, error) { return payload, nil },
	})
	bucket := NewBucket(10, time.Minute)
	defer bucket.Close()
	e.RegisterProfile(&Profile{
		AgentID: 1,
		Grants:  map[Capability]Grant{"vfs.read": {Capability: "vfs.read", Scope: AnyScope(), Cost: 1}},
		Bucket:  bucket,
	})

	sock := filepath.Join(t.TempDir(), "agent.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ListenAndServe(ctx, sock, e, 4096, zap.NewNop()) }()

	req := wire.Encode(wire.Frame{Header: wire.Header{AgentID: 1, Sequence: 1}, Opcode: 0x31, Payload: []byte("/x")})
	resp := dialAndRoundtrip(t, sock, req)

	frame, err := wire.Decode(resp)
	require.NoError(t, err)
	require.Equal(t, uint8(0x31), frame.Opcode)
	require.Equal(t, "/x", string(frame.Payload))

	cancel()
	<-errCh
}

func TestServerRejectsInvalidOpcode(t *testing.T) {
	e := NewEngine(nil)
	sock := filepath.Join(t.TempDir(), "agent.sock")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- ListenAndServe(ctx, sock, e, 4096, zap.NewNop()) }()

	req := wire.Encode(wire.Frame{Header: wire.Header{AgentID: 2, Sequence: 1}, Opcode: 0x10})
	resp := dialAndRoundtrip(t, sock, req)

	_, err := wire.Decode(resp)
	var invalidErr *wire.InvalidOpcodeError
	require.ErrorAs(t, err, &invalidErr)

	cancel()
	<-errCh
}
