package server

import (
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer exposes the catalog's health status over gRPC. Only the
// standard health and reflection services are registered.
func (s *CatalogServer) NewGRPCServer(authToken string) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryInterceptor(s.logger),
		LoggingInterceptor(s.logger),
		AuthInterceptor(authToken),
	))
	healthpb.RegisterHealthServer(srv, s.health)
	reflection.Register(srv)
	return srv
}
