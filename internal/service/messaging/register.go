package messaging

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/crewsnow/internal/app"
	"github.com/oggyb/crewsnow/internal/auth"
)

// Registrar ties the messaging functions into the HTTP router
type Registrar struct {
	appCtx   *app.AppContext
	resolver *auth.Resolver
}

// NewRegistrar creates a new Registrar for the messaging functions
func NewRegistrar(appCtx *app.AppContext, resolver *auth.Resolver) *Registrar {
	return &Registrar{appCtx: appCtx, resolver: resolver}
}

// RegisterRoutes mounts POST /send-message and POST /messages behind bearer auth
func (r *Registrar) RegisterRoutes(router chi.Router) {
	h := NewHandler(NewMessagingService(r.appCtx))
	authed := router.With(r.resolver.Middleware)
	authed.Post("/send-message", h.Send)
	authed.Post("/messages", h.List)
}
