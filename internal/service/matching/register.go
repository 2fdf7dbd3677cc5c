package matching

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
)

// Registrar ties the match-candidates function into the HTTP router
type Registrar struct {
	appCtx   *app.AppContext
	resolver *auth.Resolver
}

// NewRegistrar creates a new Registrar for the match-candidates function
func NewRegistrar(appCtx *app.AppContext, resolver *auth.Resolver) *Registrar {
	return &Registrar{appCtx: appCtx, resolver: resolver}
}

// RegisterRoutes mounts POST /match-candidates behind bearer auth
func (r *Registrar) RegisterRoutes(router chi.Router) {
	h := NewHandler(NewMatchingService(r.appCtx))
	router.With(r.resolver.Middleware).Post("/match-candidates", h.ServeHTTP)
}
