package agent

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/nous-kernel/nous/internal/wire"
)

// maxConcurrentFrameConns bounds simultaneous agent connections, the same
// backpressure idiom as the control package's socket server.
const maxConcurrentFrameConns = 8

// ListenAndServe binds a Unix domain socket at socketPath and dispatches
// every length-prefixed frame it receives through e.Dispatch. Each frame is
// wire-encoded as [u32 length][frame bytes]; the response is returned the
// same way on the same connection, so a caller can pipeline several frames
// per connection.
func ListenAndServe(ctx context.Context, socketPath string, e *Engine, maxFrameBytes int, log *zap.Logger) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("agent: remove stale socket %q: %w", socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return fmt.Errorf("agent: mkdir %s: %w", filepath.Dir(socketPath), err)
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("agent: listen %q: %w", socketPath, err)
	}
	defer lis.Close()
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("agent: chmod %q: %w", socketPath, err)
	}

	log.Info("agent frame socket listening", zap.String("path", socketPath))

	sem := make(chan struct{}, maxConcurrentFrameConns)
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Error("agent: accept error", zap.Error(err))
				continue
			}
		}
		select {
		case sem <- struct{}{}:
		default:
			_ = conn.Close()
			continue
		}
		go func(c net.Conn) {
			defer func() { <-sem }()
			defer c.Close()
			handleFrameConn(c, e, maxFrameBytes, log)
		}(conn)
	}
}

func handleFrameConn(conn net.Conn, e *Engine, maxFrameBytes int, log *zap.Logger) {
	lenBuf := make([]byte, 4)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return
		}
		n := binary.LittleEndian.Uint32(lenBuf)
		if int(n) > maxFrameBytes {
			log.Warn("agent: frame exceeds max size, closing connection", zap.Uint32("len", n))
			return
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return
		}

		frame, err := wire.Decode(raw)
		if err != nil {
			writeFrame(conn, wire.EncodeInvalid(frame.Header))
			continue
		}

		resp, err := e.Dispatch(frame)
		if err != nil {
			writeFrame(conn, wire.EncodeInvalid(frame.Header))
			continue
		}
		writeFrame(conn, wire.Encode(wire.Frame{Header: frame.Header, Opcode: frame.Opcode, Payload: resp}))
	}
}

func writeFrame(conn net.Conn, payload []byte) {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(payload)))
	if _, err := conn.Write(lenBuf); err != nil {
		return
	}
	_, _ = conn.Write(payload)
}
