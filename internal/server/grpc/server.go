// Package grpc serves the operational gRPC surface: the standard
// grpc.health.v1 health service, reporting whether the scheduler is running.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/feedgate/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall
// ("") status.
const ServiceName = "feedgate.Scheduler"

type HealthServer struct {
	address string
	logger  logging.Logger
	health  *health.Server
}

// NewHealthServer returns a server whose statuses start as NOT_SERVING.
func NewHealthServer(address string, l logging.Logger) *HealthServer {
	h := health.NewServer()
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{
		address: address,
		logger:  l.With("module", "grpc_server"),
		health:  h,
	}
}

// SetServing flips both the overall and the scheduler status.
func (s *HealthServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Run listens on the configured address and serves until ctx is done.
func (s *HealthServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx is done, then marks everything NOT_SERVING
// and stops gracefully.
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	return nil
}
