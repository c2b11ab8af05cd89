package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-ephys/internal/config"
)

// Server hosts the EphysEngine service with health and reflection.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	grpcServer *grpc.Server
	listener   net.Listener
	health     *health.Server
}

// NewServer binds cfg.Address and registers service.
func NewServer(cfg config.ServerConfig, service EphysEngineServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, logCalls(logger)),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	grpcServer := grpc.NewServer(append(serverOpts, opts...)...)

	RegisterEphysEngineServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpcServer,
		listener:   lis,
		health:     health.NewServer(),
	}
	healthpb.RegisterHealthServer(grpcServer, s.health)
	s.SetServing(true)
	reflection.Register(grpcServer)
	return s, nil
}

// logCalls records method, status code and latency of every unary call.
func logCalls(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// SetServing flips the health status of the server and the EphysEngine service.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	s.logger.Info("gRPC server listening", slog.String("address", s.Address()))
	return s.grpcServer.Serve(s.listener)
}

// Shutdown reports NOT_SERVING, drains in-flight calls and forces Stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(drained)
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out, forcing")
		s.grpcServer.Stop()
	case <-drained:
	}
}

// Address returns the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout is the configured drain budget.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
