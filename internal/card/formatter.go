package card

import (
	"strings"
	"unicode"
)

const (
	cardGroupSize       = 4
	maxFormattedNumber  = 19
	maxExpiryDigits     = 4
	expirySeparatorSpot = 2
)

// DigitsOnly strips everything but ASCII digits
func DigitsOnly(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatCardNumber masks a card number as "dddd dddd dddd dddd"
func FormatCardNumber(raw string) string {
	digits := DigitsOnly(raw)
	if digits == "" {
		return ""
	}

	groups := make([]string, 0, len(digits)/cardGroupSize+1)
	for i := 0; i < len(digits); i += cardGroupSize {
		end := i + cardGroupSize
		if end > len(digits) {
			end = len(digits)
		}
		groups = append(groups, digits[i:end])
	}

	formatted := strings.Join(groups, " ")
	if len(formatted) > maxFormattedNumber {
		formatted = formatted[:maxFormattedNumber]
	}
	return formatted
}

// FormatExpiry masks an expiry date as "MM/YY"
func FormatExpiry(raw string) string {
	digits := DigitsOnly(raw)
	if len(digits) > maxExpiryDigits {
		digits = digits[:maxExpiryDigits]
	}
	if len(digits) <= expirySeparatorSpot {
		return digits
	}
	return digits[:expirySeparatorSpot] + "/" + digits[expirySeparatorSpot:]
}

// NormalizeHolderName uppercases the name and collapses whitespace runs
func NormalizeHolderName(raw string) string {
	return strings.ToUpper(strings.Join(strings.FieldsFunc(raw, unicode.IsSpace), " "))
}

// MaskCardNumber renders the summary form "**** **** **** 1234"
func MaskCardNumber(raw string) string {
	digits := DigitsOnly(raw)
	if len(digits) < cardGroupSize {
		return ""
	}
	return "**** **** **** " + digits[len(digits)-cardGroupSize:]
}

// LastFour returns the last four digits of a card number, or "" when shorter
func LastFour(raw string) string {
	digits := DigitsOnly(raw)
	if len(digits) < cardGroupSize {
		return ""
	}
	return digits[len(digits)-cardGroupSize:]
}
