package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
	"github.com/navajothi-jewels/storefront-sync/internal/services"
)

// CheckoutHandlers drive the checkout countdown.
type CheckoutHandlers struct {
	coord *services.Coordinator
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(coord *services.Coordinator) *CheckoutHandlers {
	return &CheckoutHandlers{coord: coord}
}

// Routes wires the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout", h.status)
	r.Post("/checkout", h.start)
	r.Delete("/checkout", h.cancel)
}

type checkoutPayload struct {
	SessionID        string `json:"session_id,omitempty"`
	State            string `json:"state"`
	Active           bool   `json:"active"`
	Expired          bool   `json:"expired"`
	RemainingSeconds int64  `json:"remaining_seconds"`
	StartedAt        string `json:"started_at,omitempty"`
	Deadline         string `json:"deadline,omitempty"`
}

func buildCheckoutPayload(status services.CheckoutStatus) checkoutPayload {
	return checkoutPayload{
		SessionID:        status.Session.ID,
		State:            string(status.State),
		Active:           status.Active,
		Expired:          status.Expired,
		RemainingSeconds: int64(status.Remaining.Seconds()),
		StartedAt:        formatTime(status.Session.StartedAt),
		Deadline:         formatTime(status.Session.Deadline),
	}
}

func (h *CheckoutHandlers) status(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"checkout": buildCheckoutPayload(h.coord.CheckoutStatus())})
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	if _, err := h.coord.StartCheckout(); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"checkout": buildCheckoutPayload(h.coord.CheckoutStatus())})
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	h.coord.CancelCheckout()
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"checkout": buildCheckoutPayload(h.coord.CheckoutStatus())})
}
