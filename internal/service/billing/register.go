package billing

import (
	"github.com/go-chi/chi/v5"

	"github.com/oggyb/crewsnow/internal/app"
)

// Registrar ties the payment webhook into the HTTP router
type Registrar struct {
	appCtx *app.AppContext
}

// NewRegistrar creates a new Registrar for the payment webhook
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{appCtx: appCtx}
}

// RegisterRoutes mounts POST /stripe-webhook. It is authenticated by its
// signature, not by a bearer token.
func (r *Registrar) RegisterRoutes(router chi.Router) {
	h := NewHandler(NewBillingService(r.appCtx))
	router.Post("/stripe-webhook", h.ServeHTTP)
}
