package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates the subscriber number is not 7 digits
	ErrInvalidLength = errors.New("phone number must have exactly 7 digits after the country code")

	// ErrInvalidPrefix indicates the number does not start with a valid Icelandic prefix
	ErrInvalidPrefix = errors.New("phone number must start with 4, 5, 6, 7 or 8")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// IcelandCountryCode is prepended to normalized numbers
const IcelandCountryCode = "+354"

// validPrefixes contains the leading digits of Icelandic subscriber numbers
var validPrefixes = []string{
	"4", // landline
	"5", // landline
	"6", // mobile
	"7", // mobile
	"8", // mobile
}

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates an Icelandic phone number.
// Accepts 6601234, 660 1234, +354 660 1234 or 00354-660-1234.
// Returns the number in E.164 form (+3546601234).
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	if len(sanitized) != 7 {
		return "", ErrInvalidLength
	}

	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return IcelandCountryCode + sanitized, nil
}

// Sanitize removes separators and the Icelandic country code, leaving the subscriber number
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "").Replace(phone)

	switch {
	case strings.HasPrefix(phone, "+354"):
		phone = phone[4:]
	case strings.HasPrefix(phone, "00354"):
		phone = phone[5:]
	case strings.HasPrefix(phone, "354") && len(phone) == 10:
		phone = phone[3:]
	}

	return phone
}

// IsValidPrefix checks the first digit of a subscriber number
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if phone == "" {
		return false
	}
	for _, p := range validPrefixes {
		if strings.HasPrefix(phone, p) {
			return true
		}
	}
	return false
}

// IsMobile reports whether a valid number is on a mobile range
func (v *PhoneValidator) IsMobile(phone string) bool {
	normalized, err := v.Validate(phone)
	if err != nil {
		return false
	}
	first := normalized[len(IcelandCountryCode)]
	return first == '6' || first == '7' || first == '8'
}

// Format formats a phone number for display: +354 XXX XXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	normalized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	local := normalized[len(IcelandCountryCode):]
	return fmt.Sprintf("%s %s %s", IcelandCountryCode, local[0:3], local[3:7]), nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
