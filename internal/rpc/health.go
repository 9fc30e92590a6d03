// Package rpc exposes the gRPC health service for the practice server.
package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health entry for the practice loop.
const ServiceName = "viso.v1.Practice"

const defaultProbeInterval = 15 * time.Second

// Pinger checks a dependency the practice loop cannot run without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is a gRPC server carrying the standard health service. The
// practice entry tracks database reachability.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	db     Pinger
	logger *slog.Logger
}

// NewServer creates the gRPC server. logger may be nil.
func NewServer(db Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gs := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{grpc: gs, health: hs, db: db, logger: logger}
}

// Probe pings the database once and updates the practice health entry.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		s.logger.Warn("Health probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// StartProbing runs Probe immediately and then every interval until ctx is done.
func (s *Server) StartProbing(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	s.Probe(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Probe(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

// Stop marks every service as not serving and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
