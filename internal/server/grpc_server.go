package server

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/oggyb/crewsnow/internal/config"
)

// StartGRPCServer boots a gRPC server, registers all provided services and
// serves until ctx is done.
func StartGRPCServer(ctx context.Context, cfg *config.Config, registrars ...Registrar) error {
	addr := fmt.Sprintf("%s:%s", cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeGRPC(ctx, lis, registrars...)
}

// ServeGRPC serves on lis until ctx is done, then stops gracefully.
func ServeGRPC(ctx context.Context, lis net.Listener, registrars ...Registrar) error {
	grpcServer := grpc.NewServer()

	// register all services
	for _, r := range registrars {
		r.Register(grpcServer)
	}

	// enable reflection for easier debugging with grpcurl
	reflection.Register(grpcServer)

	go func() {
		<-ctx.Done()
		grpcServer.GracefulStop()
	}()

	return grpcServer.Serve(lis)
}
