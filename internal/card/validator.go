package card

import (
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"storefront/internal/models"
)

// Field keys used in FieldErrors
const (
	FieldCardNumber = "cardNumber"
	FieldCardHolder = "cardHolder"
	FieldExpDate    = "expDate"
	FieldCVV        = "cvv"
)

// Card types returned by ClassifyCardNumber
const (
	TypeVisa       = "VISA"
	TypeMasterCard = "MasterCard"
)

const (
	defaultCVVLength   = 3
	defaultExpiryYears = 10
)

var (
	lettersAndSpaces = regexp.MustCompile(`^[A-Za-z\s]+$`)
	expiryShape      = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvvShape         = regexp.MustCompile(`^\d{3,4}$`)
)

var messages = map[string]map[string]string{
	FieldCardNumber: {
		"len":    "card number must have 16 digits",
		"digits": "card number must have 16 digits",
		"luhn":   "invalid card number",
	},
	FieldCardHolder: {
		"min":            "name must have at least 3 characters",
		"letters_spaces": "name may only contain letters and spaces",
	},
	FieldExpDate: {
		"expiry_shape":  "expiry must use the MM/YY format",
		"expiry_window": "invalid expiry date, it must be a future date no more than 10 years ahead",
	},
	FieldCVV: {
		"cvv_shape":  "CVV must have 3 or 4 digits",
		"cvv_length": "invalid CVV length",
	},
}

// FieldErrors maps a draft field to the first rule it violated
type FieldErrors map[string]string

// Error implements error
func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+fe[field])
	}
	return "invalid payment draft: " + strings.Join(parts, "; ")
}

// draftFields is the normalized shape the rules run against
type draftFields struct {
	Number string `json:"cardNumber" validate:"len=16,digits,luhn"`
	Holder string `json:"cardHolder" validate:"min=3,letters_spaces"`
	Expiry string `json:"expDate" validate:"expiry_shape,expiry_window"`
	CVV    string `json:"cvv" validate:"cvv_shape,cvv_length"`
}

// Option configures a Validator
type Option func(*Validator)

// WithClock overrides the time source used by the expiry rule
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithCVVLength sets the CVV length policy for a given card number
func WithCVVLength(policy func(cardNumber string) int) Option {
	return func(v *Validator) {
		v.cvvLength = policy
	}
}

// WithExpiryWindow sets how many years ahead an expiry may be
func WithExpiryWindow(years int) Option {
	return func(v *Validator) {
		v.expiryYears = years
	}
}

// FixedCVVLength is a CVV policy that ignores the card network
func FixedCVVLength(n int) func(string) int {
	return func(string) int { return n }
}

// Validator checks the structure of a payment draft
type Validator struct {
	validate    *validator.Validate
	now         func() time.Time
	cvvLength   func(cardNumber string) int
	expiryYears int
}

// NewValidator creates a validator with the given options
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		now:         time.Now,
		cvvLength:   FixedCVVLength(defaultCVVLength),
		expiryYears: defaultExpiryYears,
	}
	for _, opt := range opts {
		opt(v)
	}

	v.validate = validator.New()
	v.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	})
	// Registration only fails for empty tags or nil funcs.
	_ = v.validate.RegisterValidation("digits", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s != "" && DigitsOnly(s) == s
	})
	_ = v.validate.RegisterValidation("luhn", func(fl validator.FieldLevel) bool {
		return Luhn(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("letters_spaces", func(fl validator.FieldLevel) bool {
		return lettersAndSpaces.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("expiry_shape", func(fl validator.FieldLevel) bool {
		return expiryShape.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("expiry_window", v.validExpiry)
	_ = v.validate.RegisterValidation("cvv_shape", func(fl validator.FieldLevel) bool {
		return cvvShape.MatchString(fl.Field().String())
	})
	_ = v.validate.RegisterValidation("cvv_length", v.validCVVLength)

	return v
}

// Validate returns nil when the draft is valid, otherwise one message per
// offending field
func (v *Validator) Validate(draft models.PaymentDraft) FieldErrors {
	fields := draftFields{
		Number: stripSpaces(draft.CardNumber),
		Holder: strings.TrimSpace(draft.CardHolder),
		Expiry: draft.ExpDate,
		CVV:    draft.CVV,
	}

	err := v.validate.Struct(fields)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return FieldErrors{FieldCardNumber: err.Error()}
	}

	out := make(FieldErrors, len(verrs))
	for _, fe := range verrs {
		if _, seen := out[fe.Field()]; seen {
			continue
		}
		msg, ok := messages[fe.Field()][fe.Tag()]
		if !ok {
			msg = "invalid value"
		}
		out[fe.Field()] = msg
	}
	return out
}

func (v *Validator) validExpiry(fl validator.FieldLevel) bool {
	parts := strings.Split(fl.Field().String(), "/")
	if len(parts) != 2 {
		return false
	}
	month, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}

	now := v.now()
	currentYear := now.Year() % 100
	currentMonth := int(now.Month())

	if month < 1 || month > 12 {
		return false
	}
	if year < currentYear || year > currentYear+v.expiryYears {
		return false
	}
	if year == currentYear && month < currentMonth {
		return false
	}
	return true
}

func (v *Validator) validCVVLength(fl validator.FieldLevel) bool {
	number := fl.Parent().FieldByName("Number").String()
	return len(fl.Field().String()) == v.cvvLength(number)
}

// Luhn reports whether a digit string passes the Luhn checksum
func Luhn(digits string) bool {
	if digits == "" {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// ClassifyCardNumber returns the card network for display, or ""
func ClassifyCardNumber(raw string) string {
	digits := stripSpaces(raw)
	switch {
	case strings.HasPrefix(digits, "4"):
		return TypeVisa
	case len(digits) >= 2 && digits[0] == '5' && digits[1] >= '1' && digits[1] <= '5':
		return TypeMasterCard
	default:
		return ""
	}
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
