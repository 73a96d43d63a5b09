package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/notifyhub/purchase-notify/internal/api/middleware"
	"github.com/notifyhub/purchase-notify/internal/catalog"
	"github.com/notifyhub/purchase-notify/internal/domain"
)

// PurchaseService is the subset of service.PurchaseService used by the HTTP
// layer.
type PurchaseService interface {
	Save(ctx context.Context, req domain.CreatePurchaseRequest, correlationID string) (*domain.Purchase, error)
	GetByID(ctx context.Context, id string) (*domain.Purchase, error)
	List(ctx context.Context, filter domain.PurchaseFilter) ([]*domain.Purchase, int, error)
	Delete(ctx context.Context, id string) error
	Products() []catalog.Product
}

// PurchaseHandler handles the purchase endpoints.
type PurchaseHandler struct {
	svc    PurchaseService
	logger *zap.Logger
}

func NewPurchaseHandler(svc PurchaseService, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{svc: svc, logger: logger}
}

// Save handles POST /api/purchase/save_purchase
//
// @Summary  Save a purchase and queue its notifications
// @Tags     purchases
// @Accept   json
// @Produce  json
// @Param    body  body      domain.CreatePurchaseRequest  true  "Purchase payload"
// @Success  200   {object}  map[string]string
// @Failure  422   {object}  map[string]string
// @Router   /api/purchase/save_purchase [post]
func (h *PurchaseHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	correlationID := apimw.GetCorrelationID(r.Context())
	p, err := h.svc.Save(r.Context(), req, correlationID)
	if err != nil {
		h.logger.Warn("save purchase failed",
			zap.String("correlation_id", correlationID),
			zap.Error(err),
		)
		mapError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Purchase saved successfully",
		"id":      p.ID,
	})
}

// List handles GET /api/purchase/get_purchases
//
// @Summary  List purchases, newest first
// @Tags     purchases
// @Produce  json
// @Param    product  query     string  false  "Filter by product"
// @Param    from     query     string  false  "Created after (RFC3339)"
// @Param    to       query     string  false  "Created before (RFC3339)"
// @Param    page     query     int     false  "Page number (default 1)"
// @Param    limit    query     int     false  "Items per page (max 100, default all)"
// @Success  200      {array}   domain.Purchase
// @Router   /api/purchase/get_purchases [get]
func (h *PurchaseHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := parseListFilter(r)
	purchases, total, err := h.svc.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchases failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list purchases")
		return
	}

	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	respondJSON(w, http.StatusOK, purchases)
}

// Get handles GET /api/purchase/get_purchase/{id}
//
// @Summary  Get a purchase by ID
// @Tags     purchases
// @Produce  json
// @Param    id   path      string  true  "Purchase UUID"
// @Success  200  {object}  domain.Purchase
// @Failure  404  {object}  map[string]string
// @Router   /api/purchase/get_purchase/{id} [get]
func (h *PurchaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/purchase/delete_purchase/{id}
//
// @Summary  Delete a purchase
// @Tags     purchases
// @Param    id   path      string  true  "Purchase UUID"
// @Success  200  {object}  map[string]string
// @Failure  404  {object}  map[string]string
// @Router   /api/purchase/delete_purchase/{id} [delete]
func (h *PurchaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		mapError(w, err)
		return
	}
	respondMessage(w, http.StatusOK, "Purchase deleted successfully")
}

// Products handles GET /api/purchase/products
//
// @Summary  List the products and prices offered by the form
// @Tags     purchases
// @Produce  json
// @Success  200  {array}  catalog.Product
// @Router   /api/purchase/products [get]
func (h *PurchaseHandler) Products(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Products())
}

// parseListFilter reads paging and filters from the query string. Without a
// limit every purchase is returned, as the form's listing expects.
func parseListFilter(r *http.Request) domain.PurchaseFilter {
	q := r.URL.Query()
	filter := domain.PurchaseFilter{Page: 1}

	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		filter.Page = p
	}
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 && l <= 100 {
		filter.Limit = l
	}
	if p := q.Get("product"); p != "" {
		filter.Product = &p
	}
	if f := q.Get("from"); f != "" {
		if t, err := time.Parse(time.RFC3339, f); err == nil {
			filter.From = &t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = &t
		}
	}
	return filter
}
