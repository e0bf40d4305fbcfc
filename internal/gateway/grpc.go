// ABOUTME: gRPC listener serving the standard health service and reflection.
// ABOUTME: Each configured agent is a named health service; all flip to NOT_SERVING on shutdown.

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/2389/relay-gateway/internal/agent"
)

// newGRPCServer creates the gRPC server with health and reflection registered.
func newGRPCServer(agents *agent.Registry, logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, a := range agents.List() {
		hs.SetServingStatus(a.Name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(server, hs)

	// Reflection lets grpcurl and grpcui discover the health service.
	reflection.Register(server)

	logger.Debug("gRPC health service registered", "agents", agents.Len())
	return server, hs
}
