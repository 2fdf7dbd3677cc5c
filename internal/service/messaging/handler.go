package messaging

import (
	"net/http"

	"github.com/oggyb/crewsnow/internal/auth"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// Handler adapts Service to HTTP. Send and List are separate functions.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Send serves POST /send-message.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := httpx.Decode(w, r, &req, false); err != nil {
		httpx.Error(w, r, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.Send(r.Context(), caller, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}

// List serves POST /messages.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := httpx.Decode(w, r, &req, false); err != nil {
		httpx.Error(w, r, err)
		return
	}

	caller, _ := auth.CallerFrom(r.Context())
	resp, err := h.svc.List(r.Context(), caller, req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}
