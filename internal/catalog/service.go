package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates item and variant maintenance.
type Service struct {
	repo      RepositoryPort
	cache     *Cache
	audit     AuditPort
	logger    *slog.Logger
	validator *validator.Validate
	now       func() time.Time
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, cache *Cache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		cache:     cache,
		audit:     audit,
		logger:    logger,
		validator: shared.NewValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetItem returns a live item with its active variants.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.cache.Item(ctx, id, func(ctx context.Context) (Item, error) {
		return s.repo.GetItem(ctx, id)
	})
}

// ListItems returns a page of live items.
func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	return s.repo.ListItems(ctx, filter)
}

// CreateItem stores an item together with its initial variants.
func (s *Service) CreateItem(ctx context.Context, actorID int64, req CreateItemRequest) (Item, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Item{}, err
	}
	if req.RecordedBuyPrice.IsNegative() {
		return Item{}, ErrNegativePrice
	}
	if err := CheckVariantSet(req.Variants); err != nil {
		return Item{}, err
	}
	var created Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureUnits(ctx, tx, req.Variants...); err != nil {
			return err
		}
		id, err := tx.InsertItem(ctx, Item{
			Code:             strings.TrimSpace(req.Code),
			Name:             strings.TrimSpace(req.Name),
			CategoryID:       req.CategoryID,
			SupplierID:       req.SupplierID,
			IsActive:         true,
			RecordedBuyPrice: req.RecordedBuyPrice,
		})
		if err != nil {
			return err
		}
		for _, d := range req.Variants {
			if _, err := tx.InsertVariant(ctx, d.toVariant(id)); err != nil {
				return err
			}
		}
		created, err = tx.LockItem(ctx, id)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.record(ctx, actorID, "item:create", created.ID, map[string]any{"code": created.Code, "variants": len(created.Variants)})
	return created, nil
}

// UpdateItem changes descriptive fields. Variants are maintained through their own operations.
func (s *Service) UpdateItem(ctx context.Context, actorID, id int64, req UpdateItemRequest) (Item, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Item{}, err
	}
	if req.RecordedBuyPrice.IsNegative() {
		return Item{}, ErrNegativePrice
	}
	return s.mutate(ctx, actorID, id, "item:update", func(ctx context.Context, tx TxRepository, item Item) (map[string]any, error) {
		item.Name = strings.TrimSpace(req.Name)
		item.CategoryID = req.CategoryID
		item.SupplierID = req.SupplierID
		item.IsActive = req.IsActive
		item.RecordedBuyPrice = req.RecordedBuyPrice
		return map[string]any{"name": item.Name}, tx.UpdateItem(ctx, item)
	})
}

// DeleteItem soft-deletes an item so historical documents keep resolving it.
func (s *Service) DeleteItem(ctx context.Context, actorID, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockItem(ctx, id); err != nil {
			return err
		}
		return tx.SoftDeleteItem(ctx, id, s.now())
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.record(ctx, actorID, "item:delete", id, nil)
	return nil
}

// AddVariant adds a sellable unit to an item.
func (s *Service) AddVariant(ctx context.Context, actorID, itemID int64, draft VariantDraft) (Item, error) {
	if err := shared.ValidateStruct(s.validator, draft); err != nil {
		return Item{}, err
	}
	return s.mutate(ctx, actorID, itemID, "variant:add", func(ctx context.Context, tx TxRepository, item Item) (map[string]any, error) {
		if err := CheckAddVariant(item, draft); err != nil {
			return nil, err
		}
		if err := ensureUnits(ctx, tx, draft); err != nil {
			return nil, err
		}
		id, err := tx.InsertVariant(ctx, draft.toVariant(item.ID))
		if err != nil {
			return nil, err
		}
		return map[string]any{"variant_id": id, "code": NormalizeVariantCode(draft.Code), "conversion_amount": draft.ConversionAmount}, nil
	})
}

// UpdateVariant patches a variant. Base-unit uniqueness is checked against the other variants.
func (s *Service) UpdateVariant(ctx context.Context, actorID, itemID, variantID int64, patch VariantPatch) (Item, error) {
	if err := shared.ValidateStruct(s.validator, patch); err != nil {
		return Item{}, err
	}
	return s.mutate(ctx, actorID, itemID, "variant:update", func(ctx context.Context, tx TxRepository, item Item) (map[string]any, error) {
		next, err := ApplyVariantPatch(item, variantID, patch)
		if err != nil {
			return nil, err
		}
		if patch.UnitCode != nil {
			if err := ensureUnits(ctx, tx, VariantDraft{UnitCode: next.UnitCode}); err != nil {
				return nil, err
			}
		}
		if err := tx.UpdateVariant(ctx, next); err != nil {
			return nil, err
		}
		return map[string]any{"variant_id": variantID, "conversion_amount": next.ConversionAmount}, nil
	})
}

// RemoveVariant soft-deletes a variant no committed document references.
func (s *Service) RemoveVariant(ctx context.Context, actorID, itemID, variantID int64) (Item, error) {
	return s.mutate(ctx, actorID, itemID, "variant:remove", func(ctx context.Context, tx TxRepository, item Item) (map[string]any, error) {
		if _, ok := item.Variant(variantID); !ok {
			return nil, ErrVariantNotFound
		}
		refs, err := tx.CountVariantReferences(ctx, variantID)
		if err != nil {
			return nil, err
		}
		if err := CheckRemoveVariant(item, variantID, refs); err != nil {
			return nil, err
		}
		return map[string]any{"variant_id": variantID}, tx.SoftDeleteVariant(ctx, variantID, s.now())
	})
}

type mutation func(ctx context.Context, tx TxRepository, item Item) (map[string]any, error)

// mutate locks the item row, applies fn and returns the item as committed.
func (s *Service) mutate(ctx context.Context, actorID, itemID int64, action string, fn mutation) (Item, error) {
	var (
		out  Item
		meta map[string]any
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if meta, err = fn(ctx, tx, item); err != nil {
			return err
		}
		out, err = tx.LockItem(ctx, itemID)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	s.invalidate(ctx, itemID)
	s.record(ctx, actorID, action, itemID, meta)
	return out, nil
}

func ensureUnits(ctx context.Context, tx TxRepository, drafts ...VariantDraft) error {
	seen := map[string]struct{}{}
	codes := make([]string, 0, len(drafts))
	for _, d := range drafts {
		code := strings.ToUpper(strings.TrimSpace(d.UnitCode))
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	missing, err := tx.MissingUnits(ctx, codes)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownUnit, strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, id int64) {
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("catalog cache invalidation failed", slog.Int64("item_id", id), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, itemID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "item",
		EntityID: strconv.FormatInt(itemID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
