// Package grpc exposes the broker's gRPC surface: the standard health service, reporting
// overall and per-provider availability, for load balancers and service meshes.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// BrokerService is the health service name reporting whether any provider can be selected.
const BrokerService = "tsa.broker"

// ProviderService returns the health service name of one provider.
func ProviderService(providerID string) string {
	return "tsa.provider." + providerID
}

// SnapshotSource exposes provider health snapshots.
type SnapshotSource interface {
	Snapshot() []models.ProviderStatus
}

// HealthServer mirrors provider health into grpc_health_v1.
// HealthServer 将提供方健康状态映射到 grpc_health_v1。
type HealthServer struct {
	health   *health.Server
	source   SnapshotSource
	server   *grpc.Server
	listener net.Listener
	logger   logger.Logger
}

// NewHealthServer creates the gRPC server with the interceptor chain installed and the
// health service registered. Call Sync once before serving.
func NewHealthServer(source SnapshotSource, interceptors *InterceptorChain, log logger.Logger) *HealthServer {
	hs := &HealthServer{
		health: health.NewServer(),
		source: source,
		server: grpc.NewServer(interceptors.ChainUnaryInterceptors()),
		logger: log.WithComponent("grpc_health"),
	}
	healthpb.RegisterHealthServer(hs.server, hs.health)
	reflection.Register(hs.server)
	return hs
}

// Sync recomputes every serving status from the current snapshot. The empty service name
// and BrokerService both follow overall availability.
func (h *HealthServer) Sync() {
	available := false
	for _, st := range h.source.Snapshot() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if st.Health.Selectable() {
			status = healthpb.HealthCheckResponse_SERVING
			available = true
		}
		h.health.SetServingStatus(ProviderService(st.Provider.ID), status)
	}

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if available {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", overall)
	h.health.SetServingStatus(BrokerService, overall)
}

// OnProviderChange adapts Sync to the health monitor's change listener.
func (h *HealthServer) OnProviderChange(providerID string, from, to models.HealthState) {
	h.logger.Debug(context.Background(), "Provider state changed, syncing gRPC health",
		logger.String("provider_id", providerID),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	)
	h.Sync()
}

// Server returns the underlying grpc.Server.
func (h *HealthServer) Server() *grpc.Server {
	return h.server
}

// Start listens on addr and serves until Stop. It blocks.
func (h *HealthServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	h.listener = lis
	h.Sync()
	h.logger.Info(context.Background(), "Starting gRPC server", logger.String("address", addr))
	if err := h.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service as not serving and stops gracefully, forcing the stop once ctx
// is done.
func (h *HealthServer) Stop(ctx context.Context) {
	h.health.Shutdown()
	done := make(chan struct{})
	go func() {
		h.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.server.Stop()
	}
}
