package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fjod/go_cart/inventory-service/internal/audit"
	"github.com/fjod/go_cart/inventory-service/internal/domain"
	"github.com/fjod/go_cart/inventory-service/internal/receiving"
	"github.com/fjod/go_cart/inventory-service/internal/repository"
	"github.com/fjod/go_cart/inventory-service/internal/reservation"
	"github.com/fjod/go_cart/inventory-service/internal/store"
)

const (
	defaultSource     = "api"
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Reservations is the order state machine driven by the order routes
type Reservations interface {
	Reserve(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)
	Confirm(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)
	Release(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)
	Restore(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)
}

// Receiver applies purchase order inventory
type Receiver interface {
	ApplyPurchaseOrderInventory(ctx context.Context, po *domain.PurchaseOrder, opts receiving.Options) (receiving.Result, error)
}

type transitionFunc func(ctx context.Context, order *domain.Order, source string) (reservation.Result, error)

type Handler struct {
	reservations   Reservations
	receiver       Receiver
	orders         repository.OrderRepository
	purchaseOrders repository.PurchaseOrderRepository
	stock          store.StockStore
	audit          audit.Log
	logger         *zap.Logger
	timeout        time.Duration
}

type Deps struct {
	Reservations   Reservations
	Receiver       Receiver
	Orders         repository.OrderRepository
	PurchaseOrders repository.PurchaseOrderRepository
	Stock          store.StockStore
	Audit          audit.Log
	Logger         *zap.Logger
	Timeout        time.Duration
}

func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	return &Handler{
		reservations:   d.Reservations,
		receiver:       d.Receiver,
		orders:         d.Orders,
		purchaseOrders: d.PurchaseOrders,
		stock:          d.Stock,
		audit:          d.Audit,
		logger:         d.Logger,
		timeout:        d.Timeout,
	}
}

type transitionRequest struct {
	Source string `json:"source"`
}

type transitionResponse struct {
	OrderID   string                `json:"order_id"`
	Status    reservation.Status    `json:"status"`
	Reason    string                `json:"reason,omitempty"`
	Inventory domain.InventoryState `json:"inventory"`
}

func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reservations.Reserve)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reservations.Confirm)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reservations.Release)
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.reservations.Restore)
}

// transition loads the order and runs one state machine step. The engine
// persists the order, rolling the step back if the stored order moved on.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, step transitionFunc) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID := chi.URLParam(r, "orderID")
	if orderID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "order_id is required")
		return
	}

	var req transitionRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Source == "" {
		req.Source = defaultSource
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	res, err := step(ctx, order, req.Source)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, transitionResponse{
		OrderID:   order.ID,
		Status:    res.Status,
		Reason:    res.Reason,
		Inventory: order.Inventory,
	})
}

type receiveRequest struct {
	ReceivedItems []receiving.ReceivedItem `json:"received_items"`
	ReceivedBy    string                   `json:"received_by"`
}

// ReceivePurchaseOrder applies a purchase order's quantities to stock once
func (h *Handler) ReceivePurchaseOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	poID := chi.URLParam(r, "poID")
	if poID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "purchase_order_id is required")
		return
	}

	var req receiveRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	po, err := h.purchaseOrders.GetPurchaseOrder(ctx, poID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	res, err := h.receiver.ApplyPurchaseOrderInventory(ctx, po, receiving.Options{
		ReceivedItems: req.ReceivedItems,
		ReceivedBy:    req.ReceivedBy,
	})
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

type stockRecordResponse struct {
	VariantID string `json:"variant_id,omitempty"`
	SKU       string `json:"sku,omitempty"`
	domain.StockRecord
	Available int  `json:"available"`
	LowStock  bool `json:"low_stock"`
}

type stockResponse struct {
	ProductID string                `json:"product_id"`
	Name      string                `json:"name"`
	Kind      domain.ProductKind    `json:"kind"`
	Records   []stockRecordResponse `json:"records"`
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := chi.URLParam(r, "productID")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "product_id is required")
		return
	}

	p, err := h.stock.GetProduct(ctx, productID)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	resp := stockResponse{ProductID: p.ID, Name: p.Name, Kind: p.Kind}
	if p.Kind == domain.KindVariants {
		for _, v := range p.Variants {
			rec, err := p.Record(v.VariantID)
			if err != nil {
				handleError(w, h.logger, err)
				return
			}
			resp.Records = append(resp.Records, toRecordResponse(v.VariantID, v.SKU, rec))
		}
	} else {
		resp.Records = append(resp.Records, toRecordResponse("", "", p.Stock))
	}

	respondJSON(w, http.StatusOK, resp)
}

func toRecordResponse(variantID, sku string, rec domain.StockRecord) stockRecordResponse {
	return stockRecordResponse{
		VariantID:   variantID,
		SKU:         sku,
		StockRecord: rec,
		Available:   rec.Available(),
		LowStock:    rec.LowStock(),
	}
}

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// ListAudit returns ledger entries for one reference or one product
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	q := r.URL.Query()
	referenceID := q.Get("reference_id")
	productID := q.Get("product_id")

	var (
		entries []domain.AuditEntry
		err     error
	)
	switch {
	case referenceID != "" && productID != "":
		respondError(w, http.StatusBadRequest, "invalid_request", "use either reference_id or product_id")
		return
	case referenceID != "":
		entries, err = h.audit.ListByReference(ctx, referenceID)
	case productID != "":
		limit, ok := parseLimit(q.Get("limit"))
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		entries, err = h.audit.ListByProduct(ctx, productID, limit)
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "reference_id or product_id is required")
		return
	}
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}

	respondJSON(w, http.StatusOK, auditResponse{Entries: entries, Count: len(entries)})
}

func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return defaultAuditLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, maxAuditLimit), true
}

// decodeOptional decodes a JSON body when one is present. An empty body is accepted.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
	return false
}
