package matching

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

// ServeHTTP accepts an empty body, which means all defaults.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.Decode(w, r, &req, true); err != nil {
		httpx.Error(w, r, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.Candidates(r.Context(), caller, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}
