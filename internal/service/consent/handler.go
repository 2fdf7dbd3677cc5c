package consent

import (
	"net/http"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// Handler adapts Service to HTTP.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Manage serves POST /manage-consent.
func (h *Handler) Manage(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.Decode(w, r, &req, false); err != nil {
		httpx.Error(w, r, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.Manage(r.Context(), caller, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// List serves GET /manage-consent.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.List(r.Context(), caller)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}
