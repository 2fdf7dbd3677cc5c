package swipe

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
)

// Registrar ties the swipe function into the HTTP router
type Registrar struct {
	appCtx   *app.AppContext
	resolver *auth.Resolver
}

// NewRegistrar creates a new Registrar for the swipe function
func NewRegistrar(appCtx *app.AppContext, resolver *auth.Resolver) *Registrar {
	return &Registrar{appCtx: appCtx, resolver: resolver}
}

// RegisterRoutes mounts POST /swipe behind bearer auth
func (r *Registrar) RegisterRoutes(router chi.Router) {
	h := NewHandler(NewSwipeService(r.appCtx))
	router.With(r.resolver.Middleware).Post("/swipe", h.ServeHTTP)
}
