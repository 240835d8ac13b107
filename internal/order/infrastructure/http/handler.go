// Package http exposes the commerce API over chi. Handlers decode, call the
// application services, and map domain errors onto HTTP statuses; business
// rejections and infrastructure failures get distinct codes.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/eleganza/commerce-core/internal/catalog"
	inventoryapp "github.com/eleganza/commerce-core/internal/inventory/application"
	inventorydomain "github.com/eleganza/commerce-core/internal/inventory/domain"
	inventorypg "github.com/eleganza/commerce-core/internal/inventory/infrastructure/postgres"
	ledgerdomain "github.com/eleganza/commerce-core/internal/ledger/domain"
	ledgerpg "github.com/eleganza/commerce-core/internal/ledger/postgres"
	"github.com/eleganza/commerce-core/internal/money"
	orderapp "github.com/eleganza/commerce-core/internal/order/application"
	"github.com/eleganza/commerce-core/internal/order/domain"
	orderpg "github.com/eleganza/commerce-core/internal/order/infrastructure/postgres"
	paymentapp "github.com/eleganza/commerce-core/internal/payment/application"
	paymentdomain "github.com/eleganza/commerce-core/internal/payment/domain"
	paymentpg "github.com/eleganza/commerce-core/internal/payment/infrastructure/postgres"
	platform "github.com/eleganza/commerce-core/internal/platform/postgres"
)

type Handler struct {
	log       *slog.Logger
	orders    *orderapp.Service
	payments  *paymentapp.Service
	inventory *inventoryapp.Service
	ledger    *ledgerpg.Store
	catalog   *catalog.Store
	tracer    trace.Tracer
}

func NewHandler(log *slog.Logger, orders *orderapp.Service, payments *paymentapp.Service, inventory *inventoryapp.Service, ledger *ledgerpg.Store, cat *catalog.Store) *Handler {
	return &Handler{
		log:       log,
		orders:    orders,
		payments:  payments,
		inventory: inventory,
		ledger:    ledger,
		catalog:   cat,
		tracer:    otel.Tracer("commerce-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.upsertProduct)
		r.Get("/", h.listProducts)
		r.Delete("/{sku}", h.deactivateProduct)
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/audit", h.orderAudit)
		r.Get("/{id}/balance", h.orderBalance)
		r.Post("/{id}/submit", h.orderAction(h.orders.Submit))
		r.Post("/{id}/reserve", h.orderAction(h.orders.Reserve))
		r.Post("/{id}/confirm", h.confirmOrder)
		r.Post("/{id}/cancel", h.orderAction(h.orders.Cancel))
		r.Post("/{id}/reopen", h.orderAction(h.orders.Reopen))
		r.Post("/{id}/fulfill", h.orderAction(h.orders.BeginFulfillment))
		r.Post("/{id}/ship", h.shipOrder)
		r.Post("/{id}/complete", h.orderAction(h.orders.Complete))
		r.Delete("/{id}", h.deleteOrder)
	})

	r.Route("/payments", func(r chi.Router) {
		r.Get("/{id}", h.getPayment)
		r.Post("/{id}/refund", h.refundPayment)
	})
	r.Post("/payment-methods", h.createPaymentMethod)

	r.Route("/wallets/{user}", func(r chi.Router) {
		r.Get("/", h.getWallet)
		r.Get("/entries", h.walletEntries)
		r.Post("/deposit", h.deposit)
	})

	r.Route("/inventory", func(r chi.Router) {
		r.Get("/low-stock", h.lowStock)
		r.Post("/bulk-adjust", h.bulkAdjust)
		r.Get("/{sku}", h.getStock)
		r.Get("/{sku}/history", h.stockHistory)
		r.Put("/{sku}", h.adjustStock)
	})

	return r
}

type productReq struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	Currency     string `json:"currency"`
	InitialStock int    `json:"initial_stock"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpsertProduct")
	defer span.End()

	var req productReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	p := catalog.Product{SKU: req.SKU, Name: req.Name, Price: money.New(req.PriceCents, req.Currency), IsActive: true}
	if err := h.catalog.Upsert(ctx, p); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.inventory.Ensure(ctx, req.SKU); err != nil {
		h.writeError(w, err)
		return
	}
	if req.InitialStock > 0 {
		if _, err := h.inventory.Adjust(ctx, req.SKU, req.InitialStock, "initial stock"); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) deactivateProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Deactivate(r.Context(), chi.URLParam(r, "sku")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createOrderReq struct {
	Customer        string                 `json:"customer"`
	Items           []orderapp.ItemRequest `json:"items"`
	ShippingAddress string                 `json:"shipping_address"`
	BillingAddress  string                 `json:"billing_address"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	o, err := h.orders.Create(ctx, req.Customer, req.Items, req.ShippingAddress, req.BillingAddress)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderView(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	o, err := h.orders.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderView(o))
}

// orderAction adapts the stock-neutral lifecycle operations that share the
// (id, actor) shape.
func (h *Handler) orderAction(op func(ctx context.Context, id uuid.UUID, actor string) (domain.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "OrderAction")
		defer span.End()

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}
		o, err := op(ctx, id, actor(r))
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, orderView(o))
	}
}

type confirmReq struct {
	MethodID uuid.UUID `json:"method_id"`
}

func (h *Handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req confirmReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	o, p, err := h.orders.Confirm(ctx, id, req.MethodID, actor(r))
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentFailed) {
			h.writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"order":   orderView(o),
				"payment": p,
				"error":   err.Error(),
			})
			return
		}
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"order": orderView(o), "payment": p})
}

type shipReq struct {
	TrackingNumber string `json:"tracking_number"`
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ShipOrder")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	var req shipReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	o, err := h.orders.Ship(ctx, id, req.TrackingNumber, actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orderView(o))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	if err := h.orders.Delete(r.Context(), id, actor(r)); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) orderAudit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	trail, err := h.orders.AuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, trail)
}

func (h *Handler) orderBalance(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}
	balance, err := h.orders.RemainingBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"remaining": balance})
}

type createMethodReq struct {
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	HandledBy string `json:"handled_by"`
}

func (h *Handler) createPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreatePaymentMethod")
	defer span.End()

	var req createMethodReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	var m paymentdomain.PaymentMethod
	switch paymentdomain.MethodType(req.Type) {
	case paymentdomain.MethodWallet:
		m = paymentdomain.NewWalletMethod(req.UserID)
	case paymentdomain.MethodCash:
		m = paymentdomain.NewCashMethod(req.UserID, req.HandledBy)
	default:
		http.Error(w, "type must be wallet or cash", http.StatusBadRequest)
		return
	}
	if err := h.payments.CreateMethod(ctx, m); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "RefundPayment")
	defer span.End()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid payment id", http.StatusBadRequest)
		return
	}
	entry, err := h.payments.Refund(ctx, id, actor(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

type depositReq struct {
	Cents    int64  `json:"cents"`
	Currency string `json:"currency"`
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "WalletDeposit")
	defer span.End()

	var req depositReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	entry, err := h.ledger.Deposit(ctx, chi.URLParam(r, "user"), money.New(req.Cents, req.Currency))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	wlt, err := h.ledger.Wallet(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, wlt)
}

func (h *Handler) walletEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Entries(r.Context(), chi.URLParam(r, "user"), queryInt(r, "limit", 50))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

type adjustReq struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AdjustStock")
	defer span.End()

	var req adjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	inv, err := h.inventory.Adjust(ctx, chi.URLParam(r, "sku"), req.Quantity, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stockView(inv))
}

type bulkAdjustReq struct {
	Deltas map[string]int `json:"deltas"`
	Reason string         `json:"reason"`
}

func (h *Handler) bulkAdjust(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BulkAdjustStock")
	defer span.End()

	var req bulkAdjustReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	result, err := h.inventory.BulkAdjust(ctx, req.Deltas, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	inv, err := h.inventory.Get(r.Context(), chi.URLParam(r, "sku"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stockView(inv))
}

func (h *Handler) stockHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.inventory.History(r.Context(), chi.URLParam(r, "sku"), queryInt(r, "limit", 50))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, hist)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.inventory.LowStock(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, inv := range items {
		views = append(views, stockView(inv))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// writeError maps domain errors to HTTP statuses. Business rejections are
// 4xx; lock timeouts are retryable 503; everything else is a 500.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var insufficientStock *inventorydomain.InsufficientStockError
	var invalidTransition *domain.InvalidTransitionError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalidTransition) || errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.As(err, &insufficientStock):
		status = http.StatusConflict
	case errors.Is(err, paymentdomain.ErrPaymentFailed), errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, money.ErrCurrencyMismatch), errors.Is(err, orderapp.ErrInactiveProduct):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, orderpg.ErrOrderNotFound),
		errors.Is(err, paymentpg.ErrPaymentNotFound),
		errors.Is(err, paymentpg.ErrMethodNotFound),
		errors.Is(err, inventorypg.ErrSKUNotFound),
		errors.Is(err, ledgerpg.ErrWalletNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		status = http.StatusNotFound
	case errors.Is(err, platform.ErrLockTimeout):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "err", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func orderView(o domain.Order) map[string]any {
	return map[string]any{
		"id":               o.ID,
		"customer":         o.Customer,
		"status":           o.Status,
		"currency":         o.Currency,
		"total":            o.Total,
		"tax":              o.Tax,
		"shipping":         o.Shipping,
		"items":            o.Items,
		"shipping_address": o.ShippingAddress,
		"billing_address":  o.BillingAddress,
		"tracking_number":  o.TrackingNumber,
		"created_at":       o.CreatedAt,
		"updated_at":       o.UpdatedAt,
	}
}

func stockView(inv inventorydomain.Inventory) map[string]any {
	return map[string]any{
		"sku":                 inv.SKU,
		"stock_quantity":      inv.StockQuantity,
		"reserved_stock":      inv.ReservedStock,
		"available":           inv.Available(),
		"low_stock_threshold": inv.LowStockThreshold,
		"low_stock":           inv.LowStock(),
		"last_restock":        inv.LastRestock,
		"updated_at":          inv.UpdatedAt,
	}
}
