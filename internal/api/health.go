package api

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name probes ask about; the empty name
// reports the same status.
const HealthService = "momentum.Trader"

// HealthServer publishes engine liveness over the standard gRPC health
// protocol.
type HealthServer struct {
	grpc     *grpc.Server
	health   *health.Server
	probe    func() bool
	interval time.Duration
}

func NewHealthServer(probe func() bool, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h := &HealthServer{
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		probe:    probe,
		interval: interval,
	}
	healthpb.RegisterHealthServer(h.grpc, h.health)
	h.refresh()
	return h
}

func (h *HealthServer) refresh() {
	status := healthpb.HealthCheckResponse_SERVING
	if h.probe != nil && !h.probe() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

// Serve polls the probe and serves on lis until ctx is done.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.grpc.GracefulStop()
				return
			case <-ticker.C:
				h.refresh()
			}
		}
	}()
	return h.grpc.Serve(lis)
}

// Check answers a probe in-process.
func (h *HealthServer) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.health.Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
