package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/format"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/httpx"
	"github.com/navajothi-jewels/storefront-sync/internal/services"
)

// CollectionHandlers exposes the cart and wishlist of the signed-in identity. Mutations return as
// soon as the local store is updated; the remote write completes in the background.
type CollectionHandlers struct {
	coord  *services.Coordinator
	locale string
}

// NewCollectionHandlers constructs collection handlers rendering amounts for locale.
func NewCollectionHandlers(coord *services.Coordinator, locale string) *CollectionHandlers {
	return &CollectionHandlers{coord: coord, locale: locale}
}

// Routes wires the /collections endpoints.
func (h *CollectionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/focus", h.focus)
	r.Route("/collections/{kind}", func(r chi.Router) {
		r.Get("/", h.getCollection)
		r.Post("/items", h.addItem)
		r.Patch("/items/{itemID}/{variant}", h.setQuantity)
		r.Delete("/items/{itemID}/{variant}", h.removeItem)
		r.Post("/items/{itemID}/{variant}/move", h.moveToCart)
	})
}

type addItemRequest struct {
	ItemID           string  `json:"item_id"`
	Variant          string  `json:"variant"`
	Quantity         int     `json:"quantity"`
	WeightGrams      float64 `json:"weight_grams"`
	SurchargePercent float64 `json:"surcharge_percent"`
	Name             string  `json:"name"`
	SKU              string  `json:"sku"`
	ImageURL         string  `json:"image_url"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type collectionResponse struct {
	Collection collectionPayload `json:"collection"`
}

type collectionPayload struct {
	Kind         string           `json:"kind"`
	Version      uint64           `json:"version"`
	Currency     string           `json:"currency"`
	Total        float64          `json:"total"`
	TotalDisplay string           `json:"total_display"`
	ItemsCount   int              `json:"items_count"`
	Items        []collectionItem `json:"items"`
	Pending      []pendingPayload `json:"pending"`
	Notices      []noticePayload  `json:"notices,omitempty"`
	Rates        ratesPayload     `json:"rates"`
}

type collectionItem struct {
	ItemID           string  `json:"item_id"`
	Variant          string  `json:"variant"`
	Quantity         int     `json:"quantity"`
	WeightGrams      float64 `json:"weight_grams"`
	SurchargePercent float64 `json:"surcharge_percent"`
	Name             string  `json:"name,omitempty"`
	SKU              string  `json:"sku,omitempty"`
	ImageURL         string  `json:"image_url,omitempty"`
	UnitPrice        float64 `json:"unit_price"`
	Amount           float64 `json:"amount"`
	PriceError       string  `json:"price_error,omitempty"`
	Phase            string  `json:"phase"`
	Pending          bool    `json:"pending"`
	AddedAt          string  `json:"added_at,omitempty"`
}

type pendingPayload struct {
	ID       string `json:"id"`
	ItemID   string `json:"item_id"`
	Variant  string `json:"variant"`
	Intent   string `json:"intent"`
	IssuedAt string `json:"issued_at"`
}

type noticePayload struct {
	Kind    string `json:"kind"`
	ItemID  string `json:"item_id"`
	Variant string `json:"variant"`
	Message string `json:"message"`
	At      string `json:"at"`
}

func (h *CollectionHandlers) kind(w http.ResponseWriter, r *http.Request) (domain.CollectionKind, bool) {
	kind, ok := domain.ParseCollectionKind(chi.URLParam(r, "kind"))
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("collection_not_found", "unknown collection", http.StatusNotFound))
		return "", false
	}
	return kind, true
}

func (h *CollectionHandlers) engine(w http.ResponseWriter, r *http.Request) (*services.SyncEngine, bool) {
	kind, ok := h.kind(w, r)
	if !ok {
		return nil, false
	}
	engine, err := h.coord.Engine(kind)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("collection_not_found", err.Error(), http.StatusNotFound))
		return nil, false
	}
	return engine, true
}

func entryKeyFromPath(r *http.Request) domain.EntryKey {
	return domain.NewEntryKey(chi.URLParam(r, "itemID"), chi.URLParam(r, "variant"))
}

func (h *CollectionHandlers) getCollection(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	h.writeView(w, r, kind, http.StatusOK)
}

func (h *CollectionHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req addItemRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry := domain.CollectionEntry{
		Key:              domain.NewEntryKey(req.ItemID, req.Variant),
		Quantity:         req.Quantity,
		WeightGrams:      req.WeightGrams,
		SurchargePercent: req.SurchargePercent,
		Display:          domain.EntryDisplay{Name: req.Name, SKU: req.SKU, ImageURL: req.ImageURL},
	}
	if entry.WeightGrams < 0 {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "weight_grams must not be negative", http.StatusBadRequest))
		return
	}
	if err := engine.Add(r.Context(), entry); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	h.writeView(w, r, engine.Kind(), http.StatusAccepted)
}

func (h *CollectionHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req setQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := engine.SetQuantity(r.Context(), entryKeyFromPath(r), req.Quantity); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	h.writeView(w, r, engine.Kind(), http.StatusAccepted)
}

func (h *CollectionHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := engine.Remove(r.Context(), entryKeyFromPath(r)); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	h.writeView(w, r, engine.Kind(), http.StatusAccepted)
}

func (h *CollectionHandlers) moveToCart(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kind(w, r)
	if !ok {
		return
	}
	if kind != domain.CollectionWishlist {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "only wishlist items can be moved to the cart", http.StatusBadRequest))
		return
	}
	if err := h.coord.MoveToCart(r.Context(), entryKeyFromPath(r)); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	h.writeView(w, r, domain.CollectionCart, http.StatusAccepted)
}

func (h *CollectionHandlers) focus(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Focus(r.Context()); err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("subscription_failed", err.Error(), http.StatusBadGateway))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CollectionHandlers) writeView(w http.ResponseWriter, r *http.Request, kind domain.CollectionKind, status int) {
	view, err := h.coord.View(kind)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, status, collectionResponse{Collection: buildCollectionPayload(view, h.locale)})
}

func buildCollectionPayload(view services.CollectionView, locale string) collectionPayload {
	formatter := format.NewFormatter(view.Currency, locale)
	payload := collectionPayload{
		Kind:         string(view.Kind),
		Version:      view.Version,
		Currency:     formatter.Currency(),
		Total:        view.Total,
		TotalDisplay: formatter.Amount(view.Total),
		ItemsCount:   len(view.Lines),
		Items:        make([]collectionItem, 0, len(view.Lines)),
		Pending:      make([]pendingPayload, 0, len(view.Pending)),
		Rates:        buildRatesPayload(view.Rates, view.RateStatus, locale),
	}
	for _, line := range view.Lines {
		item := collectionItem{
			ItemID:           line.Entry.Key.ItemID,
			Variant:          string(line.Entry.Key.Variant),
			Quantity:         line.Entry.Quantity,
			WeightGrams:      line.Entry.WeightGrams,
			SurchargePercent: line.Entry.SurchargePercent,
			Name:             line.Entry.Display.Name,
			SKU:              line.Entry.Display.SKU,
			ImageURL:         line.Entry.Display.ImageURL,
			UnitPrice:        line.UnitPrice,
			Amount:           line.Amount,
			Phase:            string(line.Phase),
			Pending:          line.Phase != services.PhaseConfirmed,
			AddedAt:          formatTime(line.Entry.AddedAt),
		}
		if line.PriceErr != nil {
			item.PriceError = line.PriceErr.Error()
		}
		payload.Items = append(payload.Items, item)
	}
	for _, op := range view.Pending {
		payload.Pending = append(payload.Pending, pendingPayload{
			ID:       op.ID,
			ItemID:   op.Key.ItemID,
			Variant:  string(op.Key.Variant),
			Intent:   string(op.Kind),
			IssuedAt: formatTime(op.IssuedAt),
		})
	}
	for _, n := range view.Notices {
		message := ""
		if n.Err != nil {
			message = strings.TrimSpace(n.Err.Error())
		}
		payload.Notices = append(payload.Notices, noticePayload{
			Kind:    string(n.Kind),
			ItemID:  n.Key.ItemID,
			Variant: string(n.Key.Variant),
			Message: message,
			At:      formatTime(n.At),
		})
	}
	return payload
}
