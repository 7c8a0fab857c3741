package services

import (
	"errors"
	"strings"
	"testing"
)

func validCartInput() CartInput {
	price := 1.0
	return CartInput{
		Items: []CartItemInput{{ProductID: "prod_gloves", Quantity: 3, Price: &price}},
		ShippingAddress: Address{
			Street:     "12 Rue Carnot",
			City:       "Dakar",
			PostalCode: "10200",
			Country:    "SN",
		},
		PaymentMethod: "cash",
		GuestEmail:    "Awa@Example.com",
	}
}

func newTestValidator(t *testing.T, methods ...string) OrderIntakeValidator {
	t.Helper()
	validator, err := NewOrderIntakeValidator(OrderIntakeValidatorDeps{AllowedPaymentMethods: methods})
	if err != nil {
		t.Fatalf("NewOrderIntakeValidator: %v", err)
	}
	return validator
}

func TestOrderIntakeValidatorAcceptsGuestCart(t *testing.T) {
	cart, err := newTestValidator(t).Validate(validCartInput())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cart.GuestEmail != "awa@example.com" {
		t.Fatalf("expected normalised guest email, got %q", cart.GuestEmail)
	}
	if cart.PaymentMethod != "cash" {
		t.Fatalf("expected cash payment, got %s", cart.PaymentMethod)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %+v", cart.Items)
	}
}

func TestOrderIntakeValidatorAcceptsFrenchPaymentLabels(t *testing.T) {
	input := validCartInput()
	input.PaymentMethod = "Espèces"
	cart, err := newTestValidator(t).Validate(input)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cart.PaymentMethod != "cash" {
		t.Fatalf("expected cash, got %s", cart.PaymentMethod)
	}
}

func TestOrderIntakeValidatorStripsMarkupFromAddress(t *testing.T) {
	input := validCartInput()
	input.ShippingAddress.Street = "<b>12</b> Rue de l'Eglise<script>alert(1)</script>"
	cart, err := newTestValidator(t).Validate(input)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cart.ShippingAddress.Street != "12 Rue de l'Eglise" {
		t.Fatalf("unexpected street %q", cart.ShippingAddress.Street)
	}

	input.ShippingAddress.City = "<img src=x>"
	_, err = newTestValidator(t).Validate(input)
	assertFieldError(t, err, "shippingAddress.city")
}

func TestOrderIntakeValidatorReportsFieldErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CartInput)
		field  string
	}{
		{"empty cart", func(in *CartInput) { in.Items = nil }, "items"},
		{"zero quantity", func(in *CartInput) { in.Items[0].Quantity = 0 }, "items[0].quantity"},
		{"negative quantity", func(in *CartInput) { in.Items[0].Quantity = -2 }, "items[0].quantity"},
		{"bad product id", func(in *CartInput) { in.Items[0].ProductID = "../etc" }, "items[0].productId"},
		{"blank street", func(in *CartInput) { in.ShippingAddress.Street = "   " }, "shippingAddress.street"},
		{"missing postal code", func(in *CartInput) { in.ShippingAddress.PostalCode = "" }, "shippingAddress.postalCode"},
		{"unknown payment", func(in *CartInput) { in.PaymentMethod = "bitcoin" }, "paymentMethod"},
		{"guest without email", func(in *CartInput) { in.GuestEmail = "" }, "guestEmail"},
		{"guest bad email", func(in *CartInput) { in.GuestEmail = "not-an-email" }, "guestEmail"},
		{"authenticated with guest email", func(in *CartInput) { in.Authenticated = true }, "guestEmail"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			input := validCartInput()
			tc.mutate(&input)
			_, err := newTestValidator(t).Validate(input)
			assertFieldError(t, err, tc.field)
		})
	}
}

func TestOrderIntakeValidatorRestrictsPaymentMethods(t *testing.T) {
	validator := newTestValidator(t, "cash")
	input := validCartInput()
	input.PaymentMethod = "card"
	_, err := validator.Validate(input)
	assertFieldError(t, err, "paymentMethod")

	if _, err := NewOrderIntakeValidator(OrderIntakeValidatorDeps{AllowedPaymentMethods: []string{"crypto"}}); err == nil {
		t.Fatalf("expected unknown configured method to be rejected")
	}
}

func TestOrderIntakeValidatorCollectsEveryProblem(t *testing.T) {
	_, err := newTestValidator(t).Validate(CartInput{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) < 6 {
		t.Fatalf("expected every missing field to be reported, got %+v", verr.Fields)
	}
	if !strings.Contains(err.Error(), "items") {
		t.Fatalf("expected message to mention items, got %q", err.Error())
	}
}

func assertFieldError(t *testing.T, err error, field string) {
	t.Helper()
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	for _, fe := range verr.Fields {
		if fe.Field == field {
			return
		}
	}
	t.Fatalf("expected error on %s, got %+v", field, verr.Fields)
}
