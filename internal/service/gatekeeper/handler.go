package gatekeeper

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

// ServeHTTP answers 200 when allowed and 429 with the quota snapshot when
// denied.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.Decode(w, r, &req, false); err != nil {
		httpx.Error(w, r, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.Check(r.Context(), caller, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if !resp.Allowed {
		httpx.JSON(w, http.StatusTooManyRequests, resp)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}
