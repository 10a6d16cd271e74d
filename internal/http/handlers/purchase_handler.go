package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Jeazzzy/UWantIt/internal/domain"
	"github.com/Jeazzzy/UWantIt/internal/http/middleware"
	"github.com/Jeazzzy/UWantIt/internal/services"
	"github.com/Jeazzzy/UWantIt/internal/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// PurchaseReader is the read side of the purchase service.
type PurchaseReader interface {
	Get(ctx context.Context, owner domain.UserID, id string) (*domain.Purchase, error)
	List(ctx context.Context, owner domain.UserID, status domain.Status, limit int) ([]domain.Purchase, error)
	Stats(ctx context.Context, owner domain.UserID) ([]domain.Aggregate, error)
}

// Handlers serves the purchase API. Every route expects middleware.Owner().
type Handlers struct {
	purchases PurchaseReader
}

// New returns Handlers bound to p.
func New(p PurchaseReader) *Handlers {
	return &Handlers{purchases: p}
}

// PurchaseView is the API representation of a purchase.
type PurchaseView struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Price        float64       `json:"price"`
	Store        string        `json:"store"`
	Link         string        `json:"link,omitempty"`
	HasPhoto     bool          `json:"has_photo"`
	Status       domain.Status `json:"status"`
	DueAt        time.Time     `json:"due_at"`
	Acknowledged bool          `json:"acknowledged"`
	CreatedAt    time.Time     `json:"created_at"`
}

func viewOf(p *domain.Purchase) PurchaseView {
	return PurchaseView{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Store:        p.Store,
		Link:         p.LinkText(),
		HasPhoto:     p.HasPhoto(),
		Status:       p.Status,
		DueAt:        p.DueAt,
		Acknowledged: p.Acknowledged,
		CreatedAt:    p.CreatedAt,
	}
}

// ListPurchasesResponse is a page of one status, newest first.
type ListPurchasesResponse struct {
	Status    domain.Status  `json:"status"`
	Limit     int            `json:"limit"`
	Purchases []PurchaseView `json:"purchases"`
}

// StatsResponse holds one aggregate per status in display order.
type StatsResponse struct {
	Stats []domain.Aggregate `json:"stats"`
}

func owner(c *gin.Context) domain.UserID {
	id, _ := middleware.OwnerFrom(c)
	return id
}

// ListPurchases godoc
// @ID          listPurchases
// @Summary     List purchases by status
// @Description Returns the caller's most recent purchases with the given status. The status defaults to pending; legacy names (buy, wait, reject) are accepted.
// @Tags        Purchases
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  int     true   "Telegram user id"  example(42)
// @Param       status     query   string  false  "pending, bought or cancelled"  default(pending)
// @Param       limit      query   int     false  "Page size (1..100)"  default(20)
//
// @Success     200  {object}  handlers.ListPurchasesResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid status"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token or user id"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /purchases [get]
func (h *Handlers) ListPurchases(c *gin.Context) {
	status := domain.StatusPending
	if raw := c.Query("status"); raw != "" {
		st, ok := domain.ParseStatus(raw)
		if !ok {
			fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "status must be one of pending, bought, cancelled")
			return
		}
		status = st
	}
	limit := utils.ClampLimit(c.Query("limit"), defaultListLimit, maxListLimit)

	items, err := h.purchases.List(c.Request.Context(), owner(c), status, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	views := make([]PurchaseView, 0, len(items))
	for i := range items {
		views = append(views, viewOf(&items[i]))
	}
	ok(c, ListPurchasesResponse{Status: status, Limit: limit, Purchases: views})
}

// GetPurchase godoc
// @ID          getPurchase
// @Summary     Get a purchase
// @Description Returns one of the caller's purchases. Records of other owners are reported as not found.
// @Tags        Purchases
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  int     true  "Telegram user id"  example(42)
// @Param       id         path    string  true  "Purchase ID"
//
// @Success     200  {object}  handlers.PurchaseView
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token or user id"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /purchases/{id} [get]
func (h *Handlers) GetPurchase(c *gin.Context) {
	p, err := h.purchases.Get(c.Request.Context(), owner(c), c.Param("id"))
	switch {
	case errors.Is(err, services.ErrPurchaseNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "purchase not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, viewOf(p))
}

// Stats godoc
// @ID          purchaseStats
// @Summary     Per-status totals
// @Description Returns the count and price sum of the caller's purchases for every status.
// @Tags        Stats
// @Produce     json
// @Security    BearerAuth
//
// @Param       X-User-ID  header  int  true  "Telegram user id"  example(42)
//
// @Success     200  {object}  handlers.StatsResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing token or user id"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	aggs, err := h.purchases.Stats(c.Request.Context(), owner(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, StatsResponse{Stats: aggs})
}
