// health.go — gRPC health service for the autonomy tick.
//
// Exposes the standard grpc.health.v1.Health service so an external
// operator daemon's `autoctl status` can poll liveness without speaking
// the kernel's own wire protocol. The service reports NOT_SERVING the
// instant the autonomy tick panics (panics disable the loop until next
// reboot) and SERVING otherwise. This is the only gRPC surface the core
// carries — it deliberately avoids any domain-specific generated protobuf
// service, since no .proto stubs for one were available to regenerate.
package observability

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// TickHealth implements grpc_health_v1.HealthServer backed by a single
// boolean: whether the autonomy tick is currently alive.
type TickHealth struct {
	grpc_health_v1.UnimplementedHealthServer

	mu     sync.RWMutex
	serving bool
}

// NewTickHealth constructs a TickHealth reporting SERVING.
func NewTickHealth() *TickHealth {
	return &TickHealth{serving: true}
}

// MarkPanicked flips the service to NOT_SERVING. Called once, from the
// autonomy tick's top-level recover().
func (h *TickHealth) MarkPanicked() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.serving = false
}

// Check implements the unary health-check RPC.
func (h *TickHealth) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	h.mu.RLock()
	serving := h.serving
	h.mu.RUnlock()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return &grpc_health_v1.HealthCheckResponse{Status: status}, nil
}

// Watch implements the streaming health-check RPC by pushing the current
// status once; the core has no push-based state changes beyond the single
// panic transition, so a client that wants live updates should poll Check.
func (h *TickHealth) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	resp, err := h.Check(stream.Context(), req)
	if err != nil {
		return err
	}
	if err := stream.Send(resp); err != nil {
		return status.Errorf(codes.Unavailable, "watch send: %v", err)
	}
	<-stream.Context().Done()
	return stream.Context().Err()
}

// ServeHealth starts a gRPC server exposing only the health service on addr,
// blocking until ctx is cancelled.
func ServeHealth(ctx context.Context, addr string, health *TickHealth, log *zap.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, health)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		log.Info("health server stopped", zap.String("addr", addr))
		return nil
	case err := <-errCh:
		return err
	}
}
