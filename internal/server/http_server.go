package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/oggyb/crewsnow/internal/config"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// FunctionsPrefix is where every function is mounted.
const FunctionsPrefix = "/functions/v1"

// NewRouter builds the HTTP handler: shared middleware, /healthz and every
// function route under FunctionsPrefix.
func NewRouter(log *slog.Logger, health http.Handler, registrars ...RouteRegistrar) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(httpx.CORS)

	r.MethodNotAllowed(httpx.MethodNotAllowed)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusNotFound, httpx.ErrorResponse{Error: "Not found"})
	})

	if health != nil {
		r.Method(http.MethodGet, "/healthz", health)
	}

	r.Route(FunctionsPrefix, func(fr chi.Router) {
		for _, reg := range registrars {
			reg.RegisterRoutes(fr)
		}
	})
	return r
}

// NewHTTPServer wraps handler with the configured address and timeouts.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}
