package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/number-market/internal/model"
	xhttp "github.com/nimasrn/number-market/pkg/http"
	"github.com/shopspring/decimal"
)

type CatalogService interface {
	ListAvailable(ctx context.Context, f model.NumberFilter) ([]*model.Number, int64, error)
}

type NumberHandler struct {
	svc CatalogService
}

func RegisterNumberRoutes(e *router.Group, h *NumberHandler) {
	e.GET("/numbers", h.ListNumbers)
}

func NewNumberHandler(svc CatalogService) *NumberHandler {
	return &NumberHandler{svc: svc}
}

// listing hides the phone and its backing account until purchase.
type listing struct {
	ID          int64           `json:"id"`
	Country     string          `json:"country"`
	Description string          `json:"description"`
	PriceStars  int64           `json:"price_stars"`
	PriceFiat   decimal.Decimal `json:"price_fiat"`
}

type listResponse struct {
	Items []listing `json:"items"`
	Total int64     `json:"total"`
}

func (h *NumberHandler) ListNumbers(ctx *xhttp.RequestCtx) {
	f := model.NumberFilter{
		Country: strings.ToUpper(strings.TrimSpace(query(ctx, "country"))),
		Limit:   queryInt(ctx, "limit", 0),
		Offset:  queryInt(ctx, "offset", 0),
	}
	if f.Limit < 0 || f.Offset < 0 {
		writeError(ctx, xhttp.StatusBadRequest, "limit and offset must not be negative")
		return
	}

	items, total, err := h.svc.ListAvailable(ctx, f)
	if err != nil {
		writeDomainError(ctx, err)
		return
	}

	out := listResponse{Items: make([]listing, 0, len(items)), Total: total}
	for _, n := range items {
		out.Items = append(out.Items, listing{
			ID:          n.ID,
			Country:     n.Country,
			Description: n.Description,
			PriceStars:  n.PriceStars,
			PriceFiat:   n.PriceFiat,
		})
	}
	writeJSON(ctx, xhttp.StatusOK, out)
}
