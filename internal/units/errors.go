package units

import "github.com/odyssey-erp/odyssey-pos/internal/shared"

var (
	ErrUnitNotFound    = shared.NotFound("UNIT_NOT_FOUND", "units: unit not found")
	ErrDuplicateUnit   = shared.Conflict("DUPLICATE_UNIT", "units: unit code already exists")
	ErrUnitInUse       = shared.Conflict("UNIT_IN_USE", "units: unit is referenced by an active variant")
	ErrInvalidUnitCode = shared.Validation("INVALID_UNIT_CODE", "units: code must be an uppercase token of letters, digits or underscore")
)
