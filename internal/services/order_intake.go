package services

import (
	"errors"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/Babacarjopp/senmedicaltech/internal/domain"
)

const (
	maxCartLines        = 100
	maxLineQuantity     = 1000
	maxAddressFieldSize = 200
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")

	productIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
)

// FieldError names one offending input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every field-level problem found in a checkout payload.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrOrderInvalidInput.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, field := range e.Fields {
		parts = append(parts, field.Field+": "+field.Message)
	}
	return fmt.Sprintf("%s: %s", ErrOrderInvalidInput.Error(), strings.Join(parts, "; "))
}

// Is lets callers match validation failures with errors.Is(err, ErrOrderInvalidInput).
func (e *ValidationError) Is(target error) bool {
	return target == ErrOrderInvalidInput
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrderIntakeValidatorDeps configures the accepted payment methods.
type OrderIntakeValidatorDeps struct {
	AllowedPaymentMethods []string
}

type orderIntakeValidator struct {
	allowed   map[PaymentMethod]struct{}
	sanitizer *bluemonday.Policy
}

// NewOrderIntakeValidator builds a validator. An empty allow-list accepts every known method.
func NewOrderIntakeValidator(deps OrderIntakeValidatorDeps) (OrderIntakeValidator, error) {
	allowed := make(map[PaymentMethod]struct{})
	for _, raw := range deps.AllowedPaymentMethods {
		method, ok := domain.ParsePaymentMethod(raw)
		if !ok {
			return nil, fmt.Errorf("order intake: unknown payment method %q", raw)
		}
		allowed[method] = struct{}{}
	}
	if len(allowed) == 0 {
		for _, method := range domain.PaymentMethods() {
			allowed[method] = struct{}{}
		}
	}
	return &orderIntakeValidator{
		allowed:   allowed,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (v *orderIntakeValidator) Validate(input CartInput) (ValidCart, error) {
	verr := &ValidationError{}
	cart := ValidCart{}

	switch {
	case len(input.Items) == 0:
		verr.add("items", "at least one item is required")
	case len(input.Items) > maxCartLines:
		verr.add("items", fmt.Sprintf("at most %d items are allowed", maxCartLines))
	}
	for i, item := range input.Items {
		field := fmt.Sprintf("items[%d]", i)
		productID := strings.TrimSpace(item.ProductID)
		if !productIDPattern.MatchString(productID) {
			verr.add(field+".productId", "must be 1-128 letters, digits, '_' or '-'")
		}
		if item.Quantity <= 0 {
			verr.add(field+".quantity", "must be a positive integer")
		} else if item.Quantity > maxLineQuantity {
			verr.add(field+".quantity", fmt.Sprintf("must not exceed %d", maxLineQuantity))
		}
		cart.Items = append(cart.Items, CartLine{ProductID: productID, Quantity: item.Quantity})
	}

	cart.ShippingAddress = Address{
		Street:     v.addressField(verr, "shippingAddress.street", input.ShippingAddress.Street),
		City:       v.addressField(verr, "shippingAddress.city", input.ShippingAddress.City),
		PostalCode: v.addressField(verr, "shippingAddress.postalCode", input.ShippingAddress.PostalCode),
		Country:    v.addressField(verr, "shippingAddress.country", input.ShippingAddress.Country),
	}

	if method, ok := domain.ParsePaymentMethod(input.PaymentMethod); !ok {
		verr.add("paymentMethod", "must be one of card, transfer, cash")
	} else if _, accepted := v.allowed[method]; !accepted {
		verr.add("paymentMethod", fmt.Sprintf("%s is not accepted", method))
	} else {
		cart.PaymentMethod = method
	}

	guestEmail := strings.TrimSpace(input.GuestEmail)
	switch {
	case input.Authenticated && guestEmail != "":
		verr.add("guestEmail", "must be omitted for authenticated checkout")
	case !input.Authenticated && guestEmail == "":
		verr.add("guestEmail", "is required for guest checkout")
	case !input.Authenticated:
		normalized, ok := normalizeEmail(guestEmail)
		if !ok {
			verr.add("guestEmail", "must be a valid email address")
		}
		cart.GuestEmail = normalized
	}

	if len(verr.Fields) > 0 {
		return ValidCart{}, verr
	}
	return cart, nil
}

// addressField strips markup and surrounding whitespace. The sanitizer escapes entities, which
// are decoded back so "Rue de l'Eglise" survives unchanged.
func (v *orderIntakeValidator) addressField(verr *ValidationError, field, raw string) string {
	cleaned := strings.TrimSpace(html.UnescapeString(v.sanitizer.Sanitize(raw)))
	switch {
	case cleaned == "":
		verr.add(field, "is required")
	case len(cleaned) > maxAddressFieldSize:
		verr.add(field, fmt.Sprintf("must not exceed %d characters", maxAddressFieldSize))
	}
	return cleaned
}

func normalizeEmail(raw string) (string, bool) {
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" || !strings.Contains(addr.Address, ".") {
		return "", false
	}
	if !strings.EqualFold(addr.Address, raw) {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
