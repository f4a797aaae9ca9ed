package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-pos/internal/platform/httpx"
)

// Handler exposes stock queries.
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

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/items/{itemID}", h.ListByItem)
		r.Get("/branches/{branchID}/items/{itemID}", h.Show)
		r.Get("/branches/{branchID}/items/{itemID}/movements", h.Movements)
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.URLParamInt64(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.URLParamInt64(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.URL.Query().Has("variant_id") {
		variantID, err := httpx.QueryInt64(r, "variant_id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		balance, err := h.service.GetInUnits(r.Context(), branchID, itemID, variantID)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, balance)
		return
	}
	entry, err := h.service.Get(r.Context(), branchID, itemID)
	if err != nil {
		h.logger.Error("ledger read failed", slog.Int64("branch_id", branchID), slog.Int64("item_id", itemID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) ListByItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.URLParamInt64(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries, err := h.service.ListByItem(r.Context(), itemID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Movements(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.URLParamInt64(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.URLParamInt64(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := MovementFilter{BranchID: branchID, ItemID: itemID, Limit: httpx.QueryInt(r, "limit", 200)}
	if filter.From, err = httpx.QueryDate(r, "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = httpx.QueryDate(r, "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	movements, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}
