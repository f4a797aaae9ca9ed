package units

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

type Service struct {
	repo      Repository
	validator *validator.Validate
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, validator: shared.NewValidator()}
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Unit, int, error) {
	filter.Page, filter.Limit = shared.NormalizePage(filter.Page, filter.Limit)
	return s.repo.List(ctx, filter)
}

func (s *Service) Get(ctx context.Context, code string) (Unit, error) {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return Unit{}, ErrInvalidUnitCode
	}
	return s.repo.Get(ctx, code)
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Unit, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Unit{}, err
	}
	unit := Unit{Code: NormalizeCode(req.Code), DisplayName: req.DisplayName}
	if err := s.validate(unit); err != nil {
		return Unit{}, err
	}
	return s.repo.Create(ctx, unit)
}

// Update changes the display name only. The code is the unit's identity and never changes.
func (s *Service) Update(ctx context.Context, code string, req UpdateRequest) (Unit, error) {
	if err := shared.ValidateStruct(s.validator, req); err != nil {
		return Unit{}, err
	}
	unit := Unit{Code: NormalizeCode(code), DisplayName: req.DisplayName}
	if err := s.validate(unit); err != nil {
		return Unit{}, err
	}
	return s.repo.UpdateDisplayName(ctx, unit.Code, unit.DisplayName)
}

// Delete removes a unit that no active variant references.
func (s *Service) Delete(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if !ValidCode(code) {
		return ErrInvalidUnitCode
	}
	refs, err := s.repo.CountVariantReferences(ctx, code)
	if err != nil {
		return err
	}
	if refs > 0 {
		return ErrUnitInUse
	}
	return s.repo.Delete(ctx, code)
}
