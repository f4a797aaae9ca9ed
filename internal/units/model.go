package units

import "time"

// Unit represents a unit of measure usable by item variants.
type Unit struct {
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter narrows unit listings.
type ListFilter struct {
	Search string
	Page   int
	Limit  int
}

// CreateRequest is the body of POST /units.
type CreateRequest struct {
	Code        string `json:"code" validate:"required,max=16"`
	DisplayName string `json:"display_name" validate:"required,max=100"`
}

// UpdateRequest is the body of PUT /units/{code}.
type UpdateRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=100"`
}
