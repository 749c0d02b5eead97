package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/format"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
	"github.com/navajothi-jewels/storefront-sync/internal/services"
)

// RateHandlers exposes the cached commodity rate snapshot.
type RateHandlers struct {
	rates  *services.RateCache
	locale string
}

// NewRateHandlers constructs rate handlers.
func NewRateHandlers(rates *services.RateCache, locale string) *RateHandlers {
	return &RateHandlers{rates: rates, locale: locale}
}

// Routes wires the /rates endpoints.
func (h *RateHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/rates", h.getRates)
	r.Post("/rates/refresh", h.refreshRates)
}

type ratesPayload struct {
	Currency    string  `json:"currency"`
	Rate22K     float64 `json:"rate_22k"`
	Rate24K     float64 `json:"rate_24k"`
	Display22K  string  `json:"display_22k"`
	Display24K  string  `json:"display_24k"`
	ObservedAt  string  `json:"observed_at,omitempty"`
	Fetched     bool    `json:"fetched"`
	Stale       bool    `json:"stale"`
	Warning     bool    `json:"warning"`
	LastError   string  `json:"last_error,omitempty"`
	LastAttempt string  `json:"last_attempt,omitempty"`
}

func buildRatesPayload(snapshot domain.RateSnapshot, status services.RateStatus, locale string) ratesPayload {
	formatter := format.NewFormatter(snapshot.Currency, locale)
	payload := ratesPayload{
		Currency:    formatter.Currency(),
		Rate22K:     snapshot.Rate22K,
		Rate24K:     snapshot.Rate24K,
		Display22K:  formatter.RatePerGram(snapshot.Rate22K),
		Display24K:  formatter.RatePerGram(snapshot.Rate24K),
		ObservedAt:  formatTime(snapshot.ObservedAt),
		Fetched:     status.Fetched,
		Stale:       status.Stale,
		Warning:     status.Warning,
		LastAttempt: formatTime(status.LastAttempt),
	}
	if status.LastError != nil {
		payload.LastError = status.LastError.Error()
	}
	return payload
}

func (h *RateHandlers) getRates(w http.ResponseWriter, r *http.Request) {
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rates": buildRatesPayload(h.rates.Read(), h.rates.Status(), h.locale)})
}

// refreshRates answers 200 with the stale snapshot when the fetch fails after an earlier success,
// and 502 only while nothing was ever fetched.
func (h *RateHandlers) refreshRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.rates.Refresh(ctx)
	status := h.rates.Status()
	payload := buildRatesPayload(snapshot, status, h.locale)
	if err != nil && errors.Is(err, services.ErrRateFetch) && status.Warning {
		httpx.WriteError(ctx, w, httpx.NewError("rates_unavailable", "commodity rates could not be fetched", http.StatusBadGateway).
			WithDetails(map[string]any{"rates": payload}))
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rates": payload})
}
