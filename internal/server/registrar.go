package server

import (
	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
)

// Registrar is a common interface for all gRPC service registrars
type Registrar interface {
	Register(s *grpc.Server)
}

// RouteRegistrar is the HTTP counterpart: it mounts a function's routes
// under /functions/v1.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}
