// Package grpcapi serves the social service's gRPC surface: the standard
// health protocol and server reflection.
package grpcapi

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-check service name reported next to the server-wide "" entry.
const ServiceName = "social.v1.Engagement"

type Server struct {
	log      *zap.Logger
	grpc     *grpc.Server
	health   *health.Server
	ready    func(ctx context.Context) error
	interval time.Duration
}

// NewServer builds a gRPC server whose health status follows ready. A nil ready
// means always serving.
func NewServer(log *zap.Logger, ready func(ctx context.Context) error) *Server {
	s := &Server{
		log:      log,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		ready:    ready,
		interval: 5 * time.Second,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve checks readiness until ctx ends and serves on lis until Stop.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go s.watch(ctx)
	s.log.Info("grpc server starting", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

func (s *Server) watch(ctx context.Context) {
	s.checkReady(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkReady(ctx)
		}
	}
}

func (s *Server) checkReady(ctx context.Context) {
	if s.ready == nil {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.ready(pctx); err != nil {
		s.log.Warn("grpc health: not serving", zap.Error(err))
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop drains in-flight RPCs and forces a stop when ctx expires first.
func (s *Server) Stop(ctx context.Context) error {
	s.health.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}
