package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// Check is one named dependency ping.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Health pings the datastores. It backs both /healthz and the gRPC
// health service.
type Health struct {
	checks  []Check
	timeout time.Duration
}

// NewHealth pings the database and Redis of appCtx.
func NewHealth(appCtx *app.AppContext) *Health {
	return &Health{
		timeout: 2 * time.Second,
		checks: []Check{
			{Name: "database", Ping: func(ctx context.Context) error {
				sqlDB, err := appCtx.DB.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Ping: func(ctx context.Context) error {
				if appCtx.RedisCache == nil {
					return fmt.Errorf("not configured")
				}
				return appCtx.RedisCache.Ping(ctx)
			}},
		},
	}
}

// Run pings every dependency and reports each result ("ok" or the error).
func (h *Health) Run(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	out := make(map[string]string, len(h.checks))
	healthy := true
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			out[c.Name] = err.Error()
			healthy = false
			continue
		}
		out[c.Name] = "ok"
	}
	return out, healthy
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ServeHTTP answers 200 when every check passes and 503 otherwise.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks, ok := h.Run(r.Context())
	if !ok {
		httpx.JSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Checks: checks})
		return
	}
	httpx.JSON(w, http.StatusOK, healthResponse{Status: "ok", Checks: checks})
}

// HealthRegistrar exposes Health as the standard gRPC health service.
type HealthRegistrar struct {
	health   *Health
	srv      *health.Server
	interval time.Duration
	log      *slog.Logger
}

// NewHealthRegistrar creates the gRPC health registrar. Status starts as
// NOT_SERVING until the first check.
func NewHealthRegistrar(h *Health, interval time.Duration, log *slog.Logger) *HealthRegistrar {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthRegistrar{health: h, srv: srv, interval: interval, log: log}
}

// Register attaches the health service to the gRPC server
func (r *HealthRegistrar) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// Refresh checks once and publishes the result.
func (r *HealthRegistrar) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if checks, ok := r.health.Run(ctx); !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		r.log.Warn("health check failed", "checks", checks)
	}
	r.srv.SetServingStatus("", status)
	return status
}

// Watch refreshes the status every interval until ctx is done, then marks
// the service as shutting down.
func (r *HealthRegistrar) Watch(ctx context.Context) {
	r.Refresh(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.srv.Shutdown()
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}
