package consent

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
)

// Registrar ties the manage-consent function into the HTTP router
type Registrar struct {
	appCtx   *app.AppContext
	resolver *auth.Resolver
}

// NewRegistrar creates a new Registrar for the consent function
func NewRegistrar(appCtx *app.AppContext, resolver *auth.Resolver) *Registrar {
	return &Registrar{appCtx: appCtx, resolver: resolver}
}

// RegisterRoutes mounts POST and GET /manage-consent behind bearer auth.
// GET is the only read-by-GET function.
func (r *Registrar) RegisterRoutes(router chi.Router) {
	h := NewHandler(NewConsentService(r.appCtx))
	authed := router.With(r.resolver.Middleware)
	authed.Post("/manage-consent", h.Manage)
	authed.Get("/manage-consent", h.List)
}
