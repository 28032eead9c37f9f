package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/checkout-service/internal/cart/application"
	inventory "github.com/storefront/checkout-service/internal/inventory/application"
	"github.com/storefront/checkout-service/pkg/idempotency"
)

// Handler is the thin HTTP surface over the cart manager. Authentication is
// upstream; the user id arrives in a trusted header.
type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("cart-http"),
	}
}

type addItemReq struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Post("/cart/items", h.addItem)
	r.Delete("/cart/items/{itemID}", h.removeItem)
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetCart")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	view, err := h.service.GetCart(ctx, userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AddCartItem")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	var req addItemReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	view, err := h.service.AddItem(ctx, userID, req.VariantID, req.Quantity, idempotency.KeyFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RemoveCartItem")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	view, err := h.service.RemoveItem(ctx, userID, chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrVariantNotFound),
		errors.Is(err, application.ErrCartNotFound),
		errors.Is(err, application.ErrItemNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, application.ErrInvalidQuantity),
		errors.Is(err, application.ErrOutOfStock),
		errors.Is(err, application.ErrCurrencyMismatch),
		errors.Is(err, inventory.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, idempotency.ErrScopeMismatch),
		errors.Is(err, idempotency.ErrPayloadMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("cart request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
