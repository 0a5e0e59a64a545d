package validator

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrEmptyPlate indicates the license plate is empty
	ErrEmptyPlate = errors.New("license plate cannot be empty")

	// ErrInvalidPlate indicates the plate is neither a standard nor a personalised Icelandic plate
	ErrInvalidPlate = errors.New("license plate must be 2 to 6 letters or digits")
)

var (
	// standardPlate: two letters, a letter or digit, then two digits (AB123, ABC12)
	standardPlate = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9][0-9]{2}$`)

	// personalisedPlate: up to six characters including Icelandic letters
	personalisedPlate = regexp.MustCompile(`^[A-Z0-9ÁÐÉÍÓÚÝÞÆÖ]{2,6}$`)
)

// PlateValidator validates Icelandic vehicle registration plates
type PlateValidator struct{}

// NewPlateValidator creates a new plate validator instance
func NewPlateValidator() *PlateValidator {
	return &PlateValidator{}
}

// Normalize upper-cases the plate and strips spaces and dashes
func (v *PlateValidator) Normalize(plate string) string {
	plate = strings.ToUpper(plate)
	return strings.NewReplacer(" ", "", "-", "").Replace(plate)
}

// Validate returns the normalized plate or an error
func (v *PlateValidator) Validate(plate string) (string, error) {
	if strings.TrimSpace(plate) == "" {
		return "", ErrEmptyPlate
	}
	normalized := v.Normalize(plate)
	if standardPlate.MatchString(normalized) || personalisedPlate.MatchString(normalized) {
		return normalized, nil
	}
	return "", ErrInvalidPlate
}

// IsStandard reports whether the plate uses the state-issued format
func (v *PlateValidator) IsStandard(plate string) bool {
	return standardPlate.MatchString(v.Normalize(plate))
}
