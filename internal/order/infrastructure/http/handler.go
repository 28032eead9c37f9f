package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	inventory "github.com/storefront/checkout-service/internal/inventory/application"
	"github.com/storefront/checkout-service/internal/order/application"
	"github.com/storefront/checkout-service/pkg/idempotency"
	"github.com/storefront/checkout-service/pkg/metrics"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, m *metrics.Metrics) *Handler {
	return &Handler{
		log:     log,
		service: service,
		metrics: m,
		tracer:  otel.Tracer("order-http"),
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "Checkout")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	var req application.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.Traceparent = traceparent(ctx, r)

	order, err := h.service.Checkout(ctx, userID, req, idempotency.KeyFromRequest(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.metrics.OrdersPlaced.Inc()
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ListOrders")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.service.ListForUser(ctx, userID, page, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetOrder")
	defer span.End()

	userID := userID(r)
	if userID == "" {
		http.Error(w, "missing user", http.StatusUnauthorized)
		return
	}

	order, err := h.service.GetForUser(ctx, userID, chi.URLParam(r, "orderID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, application.ErrCartNotAvailable),
		errors.Is(err, application.ErrOrderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, application.ErrItemsMismatch),
		errors.Is(err, application.ErrCurrencyMismatch),
		errors.Is(err, application.ErrAmountMismatch),
		errors.Is(err, inventory.ErrInsufficientStock):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, idempotency.ErrScopeMismatch),
		errors.Is(err, idempotency.ErrPayloadMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("order request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// traceparent resolves the W3C trace context header to stamp on outbox
// events, falling back to the current span.
func traceparent(ctx context.Context, r *http.Request) string {
	if tp := r.Header.Get("traceparent"); tp != "" {
		return tp
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier["traceparent"]
}

func userID(r *http.Request) string {
	return r.Header.Get("X-User-Id")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
