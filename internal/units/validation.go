package units

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

var codePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,15}$`)

var upper = cases.Upper(language.Und)

// NormalizeCode trims and upper-cases a unit code.
func NormalizeCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// ValidCode reports whether code is an acceptable normalized unit code.
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

func (s *Service) validate(u Unit) error {
	if !ValidCode(u.Code) {
		return ErrInvalidUnitCode
	}
	if strings.TrimSpace(u.DisplayName) == "" {
		return shared.InvalidFields(map[string]string{"display_name": "is required"})
	}
	return nil
}
