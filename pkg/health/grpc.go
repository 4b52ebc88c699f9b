package health

import (
	"context"
	"fmt"
	"net"

	"duo-chat/backend/pkg/logger"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServer exposes the checker through the standard grpc.health.v1 service
type GRPCServer struct {
	server *grpc.Server
	health *grpchealth.Server
	log    *logger.Logger
}

// NewGRPCServer builds the server and keeps its serving status in step with checker
func NewGRPCServer(checker *Checker, serviceName string, log *logger.Logger) *GRPCServer {
	if log == nil {
		log = logger.GetGlobal()
	}
	srv := grpc.NewServer()
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	g := &GRPCServer{server: srv, health: hs, log: log}
	g.set(serviceName, checker.IsSystemHealthy())
	checker.OnChange(func(healthy bool) {
		g.set(serviceName, healthy)
	})
	return g
}

func (g *GRPCServer) set(serviceName string, healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	if serviceName != "" {
		g.health.SetServingStatus(serviceName, status)
	}
}

// Serve blocks serving on lis
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves
func (g *GRPCServer) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return g.Serve(lis)
}

// Shutdown stops the server, waiting for in-flight RPCs until ctx ends
func (g *GRPCServer) Shutdown(ctx context.Context) {
	g.health.Shutdown()

	done := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.server.Stop()
	}
}
