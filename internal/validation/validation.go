// Package validation holds the input checks shared by checkout, payment
// initiation and callback reconciliation.
package validation

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinAmount = 1
	MaxAmount = 1_000_000

	MinAddressLength = 10
	MaxAddressLength = 500
	MaxNotesLength   = 1000

	MaxQuantity = 10_000

	// MaxTokenLength bounds gateway correlation tokens.
	MaxTokenLength = 100
)

var mpesaPhone = regexp.MustCompile(`^254[17]\d{8}$`)

type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Field + ": " + e.Message
}

func NewError(field, message string) *Error {
	return &Error{Field: field, Message: message}
}

// Errors collects every problem found in one request.
type Errors []*Error

func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Err returns nil when nothing was collected.
func (es Errors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// NormalizePhone rewrites a Kenyan mobile number into the 2547XXXXXXXX /
// 2541XXXXXXXX form the gateway expects. Spaces and punctuation are
// ignored; the national trunk prefix 0 is replaced with 254.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case digits == "":
		return "", NewError("phone", "phone number is required")
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		digits = "254" + digits[1:]
	case strings.HasPrefix(digits, "254") && len(digits) == 12:
	default:
		return "", NewError("phone", "invalid phone number format")
	}

	if !mpesaPhone.MatchString(digits) {
		return "", NewError("phone", "invalid M-Pesa phone number, use format 254XXXXXXXXX")
	}
	return digits, nil
}

// Amount accepts whole currency units within the gateway limits.
func Amount(v float64) (int64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, NewError("amount", "amount must be a valid number")
	}
	if v != math.Trunc(v) {
		return 0, NewError("amount", "amount must be a whole number")
	}
	if v < MinAmount {
		return 0, NewError("amount", "amount must be at least 1")
	}
	if v > MaxAmount {
		return 0, NewError("amount", "amount cannot exceed 1,000,000")
	}
	return int64(v), nil
}

func UUID(field, v string) error {
	if v == "" {
		return NewError(field, field+" is required")
	}
	if _, err := uuid.Parse(v); err != nil || len(v) != 36 {
		return NewError(field, "invalid "+field+" format")
	}
	return nil
}

// CanonicalUUID returns v in the lowercase hyphenated form the database
// returns. v must already have passed UUID.
func CanonicalUUID(v string) string {
	id, err := uuid.Parse(v)
	if err != nil {
		return v
	}
	return id.String()
}

// CheckoutToken sanitizes a gateway correlation token. Stored and received
// tokens both go through it so they compare equal.
func CheckoutToken(v string) string {
	return Sanitize(v, MaxTokenLength)
}

// Address trims the delivery address and enforces its length bounds.
func Address(v string) (string, error) {
	v = strings.TrimSpace(v)
	n := utf8.RuneCountInString(v)
	if n < MinAddressLength {
		return "", NewError("delivery_address", "delivery address must be at least 10 characters")
	}
	if n > MaxAddressLength {
		return "", NewError("delivery_address", "delivery address must be less than 500 characters")
	}
	return v, nil
}

func Notes(v string) (string, error) {
	v = strings.TrimSpace(v)
	if utf8.RuneCountInString(v) > MaxNotesLength {
		return "", NewError("notes", "notes must be less than 1000 characters")
	}
	return v, nil
}

func Coordinates(lat, lng *float64) error {
	if (lat == nil) != (lng == nil) {
		return NewError("delivery_lat", "latitude and longitude must be given together")
	}
	if lat == nil {
		return nil
	}
	if math.IsNaN(*lat) || *lat < -90 || *lat > 90 {
		return NewError("delivery_lat", "latitude out of range")
	}
	if math.IsNaN(*lng) || *lng < -180 || *lng > 180 {
		return NewError("delivery_lng", "longitude out of range")
	}
	return nil
}

// Sanitize makes gateway-provided text safe to store: it trims, removes
// angle brackets and control characters, and keeps at most max runes.
func Sanitize(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if r == '<' || r == '>' || r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}

// MaskPhone keeps the country and network prefix for log correlation.
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return "****"
	}
	return phone[:6] + "****"
}
