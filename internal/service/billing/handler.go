package billing

import (
	"io"
	"net/http"

	svcErr "github.com/oggyb/crewsnow/internal/errors"
	"github.com/oggyb/crewsnow/internal/httpx"
)

// Handler adapts Service to HTTP. The raw body is needed for the signature,
// so it is read before any decoding.
type Handler struct {
	svc *Service
}

// NewHandler wraps svc.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		httpx.Error(w, r, svcErr.InvalidRequest("Invalid JSON payload"))
		return
	}

	resp, err := h.svc.Handle(r.Context(), r.Header.Get("Stripe-Signature"), body)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, resp)
}
