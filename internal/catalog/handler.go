package catalog

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Handler exposes item and variant endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Show)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/variants", h.AddVariant)
			r.Put("/variants/{variantID}", h.UpdateVariant)
			r.Delete("/variants/{variantID}", h.RemoveVariant)
		})
	})
}

// VariantView adds derived pricing figures to a variant.
type VariantView struct {
	Variant
	IsBaseUnit       bool            `json:"is_base_unit"`
	CostPrice        decimal.Decimal `json:"cost_price"`
	ProfitAmount     decimal.Decimal `json:"profit_amount"`
	ProfitPercentage decimal.Decimal `json:"profit_percentage"`
}

// ItemView is the JSON shape of an item.
type ItemView struct {
	Item
	Variants []VariantView `json:"variants"`
}

// NewItemView derives the display shape of item.
func NewItemView(item Item) ItemView {
	view := ItemView{Item: item, Variants: make([]VariantView, 0, len(item.Variants))}
	for _, v := range item.ActiveVariants() {
		view.Variants = append(view.Variants, VariantView{
			Variant:          v,
			IsBaseUnit:       v.IsBaseUnit(),
			CostPrice:        v.CostPrice(item.RecordedBuyPrice),
			ProfitAmount:     v.ProfitAmount(item.RecordedBuyPrice),
			ProfitPercentage: v.ProfitPercentage(item.RecordedBuyPrice),
		})
	}
	return view
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	category, err := httpx.QueryInt64(r, "category_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	supplier, err := httpx.QueryInt64(r, "supplier_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ListFilter{
		Search:     r.URL.Query().Get("search"),
		CategoryID: category,
		SupplierID: supplier,
		Page:       httpx.QueryInt(r, "page", 1),
		Limit:      httpx.QueryInt(r, "limit", shared.DefaultPerPage),
	}
	items, total, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.logger.Error("list items failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]ItemView, 0, len(items))
	for _, it := range items {
		views = append(views, NewItemView(it))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      views,
		"pagination": shared.NewPagination(filter.Page, filter.Limit, total),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewItemView(item))
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), shared.ActorFromContext(r.Context()), req)
	if err != nil {
		h.logger.Info("create item rejected", slog.String("code", req.Code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewItemView(item))
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), shared.ActorFromContext(r.Context()), id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewItemView(item))
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteItem(r.Context(), shared.ActorFromContext(r.Context()), id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AddVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var draft VariantDraft
	if err := httpx.DecodeJSON(r, &draft); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.AddVariant(r.Context(), shared.ActorFromContext(r.Context()), id, draft)
	if err != nil {
		h.logger.Info("add variant rejected", slog.Int64("item_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, NewItemView(item))
}

func (h *Handler) UpdateVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variantID, err := httpx.URLParamInt64(r, "variantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var patch VariantPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateVariant(r.Context(), shared.ActorFromContext(r.Context()), id, variantID, patch)
	if err != nil {
		h.logger.Info("update variant rejected", slog.Int64("variant_id", variantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewItemView(item))
}

func (h *Handler) RemoveVariant(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.URLParamInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variantID, err := httpx.URLParamInt64(r, "variantID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.RemoveVariant(r.Context(), shared.ActorFromContext(r.Context()), id, variantID)
	if err != nil {
		h.logger.Info("remove variant rejected", slog.Int64("variant_id", variantID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, NewItemView(item))
}
