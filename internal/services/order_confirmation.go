package services

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var supportedLocales = []language.Tag{language.French, language.English}

var localeMatcher = language.NewMatcher(supportedLocales)

type confirmationCopy struct {
	Subject  string
	Greeting string
	Items    string
	Address  string
	Total    string
	Status   string
	Payment  string
	Closing  string
}

var confirmationCopies = map[string]confirmationCopy{
	"fr": {
		Subject:  "Confirmation de commande - %s",
		Greeting: "Merci pour votre commande sur %s.",
		Items:    "Articles",
		Address:  "Adresse de livraison",
		Total:    "Total",
		Status:   "Statut",
		Payment:  "Paiement",
		Closing:  "Nous vous tiendrons informé de l'expédition.",
	},
	"en": {
		Subject:  "Order confirmation - %s",
		Greeting: "Thank you for your order at %s.",
		Items:    "Items",
		Address:  "Shipping address",
		Total:    "Total",
		Status:   "Status",
		Payment:  "Payment",
		Closing:  "We will let you know when your order ships.",
	},
}

var paymentLabels = map[string]map[PaymentMethod]string{
	"fr": {"card": "Carte bancaire", "transfer": "Virement", "cash": "Espèces à la livraison"},
	"en": {"card": "Card", "transfer": "Bank transfer", "cash": "Cash on delivery"},
}

const confirmationHTML = `<!DOCTYPE html>
<html lang="{{.Locale}}"><body>
<p>{{.Greeting}}</p>
<h2>{{.Copy.Items}}</h2>
<ul>
{{- range .Items}}
<li>{{.Name}} &times; {{.Quantity}} : {{.TotalDisplay}}</li>
{{- end}}
</ul>
<h2>{{.Copy.Address}}</h2>
<p>{{.Address.Street}}<br>{{.Address.PostalCode}} {{.Address.City}}<br>{{.Address.Country}}</p>
<p><strong>{{.Copy.Total}} :</strong> {{.TotalDisplay}}</p>
<p>{{.Copy.Payment}} : {{.Payment}}</p>
<p>{{.Copy.Status}} : {{.StatusLabel}}</p>
<p>{{.Copy.Closing}}</p>
</body></html>
`

const confirmationText = `{{.Greeting}}

{{.Copy.Items}}:
{{- range .Items}}
- {{.Name}} x {{.Quantity}}: {{.TotalDisplay}}
{{- end}}

{{.Copy.Address}}:
{{.Address.Street}}
{{.Address.PostalCode}} {{.Address.City}}
{{.Address.Country}}

{{.Copy.Total}}: {{.TotalDisplay}}
{{.Copy.Payment}}: {{.Payment}}
{{.Copy.Status}}: {{.StatusLabel}}

{{.Copy.Closing}}
`

var (
	confirmationHTMLTemplate = template.Must(template.New("confirmation.html").Parse(confirmationHTML))
	confirmationTextTemplate = texttemplate.Must(texttemplate.New("confirmation.txt").Parse(confirmationText))
)

// ConfirmationBuilder renders the confirmation sent after checkout.
type ConfirmationBuilder struct {
	storeName     string
	defaultLocale string
}

// NewConfirmationBuilder returns a builder. Unknown default locales fall back to French.
func NewConfirmationBuilder(storeName, defaultLocale string) *ConfirmationBuilder {
	return &ConfirmationBuilder{
		storeName:     strings.TrimSpace(storeName),
		defaultLocale: ResolveLocale(defaultLocale, "fr"),
	}
}

// ResolveLocale matches an Accept-Language style value against the supported locales.
func ResolveLocale(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	tags, _, err := language.ParseAcceptLanguage(raw)
	if err != nil || len(tags) == 0 {
		if fallback != "" && fallback != raw {
			return ResolveLocale(fallback, "")
		}
		return "fr"
	}
	_, idx, confidence := localeMatcher.Match(tags...)
	if confidence == language.No {
		if fallback != "" && fallback != raw {
			return ResolveLocale(fallback, "")
		}
		return "fr"
	}
	base, _ := supportedLocales[idx].Base()
	return base.String()
}

// Build renders the confirmation for a committed order.
func (b *ConfirmationBuilder) Build(order Order) (OrderConfirmation, error) {
	recipient := order.Purchaser.ContactEmail()
	if recipient == "" {
		return OrderConfirmation{}, errors.New("order confirmation: order has no contact email")
	}

	locale := ResolveLocale(order.Locale, b.defaultLocale)
	tag := language.MustParse(locale)
	copyText := confirmationCopies[locale]
	printer := message.NewPrinter(tag)

	items := make([]OrderConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.Name
		if strings.TrimSpace(name) == "" {
			name = item.ProductID
		}
		items = append(items, OrderConfirmationItem{
			ProductID:        item.ProductID,
			Name:             name,
			Quantity:         item.Quantity,
			UnitPrice:        item.UnitPrice,
			Total:            item.Total,
			UnitPriceDisplay: FormatMoney(printer, order.Currency, item.UnitPrice),
			TotalDisplay:     FormatMoney(printer, order.Currency, item.Total),
		})
	}

	confirmation := OrderConfirmation{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		Recipient:     recipient,
		Locale:        locale,
		Subject:       fmt.Sprintf(copyText.Subject, order.OrderNumber),
		Status:        string(order.Status),
		StatusLabel:   order.Status.Label(locale),
		Currency:      order.Currency,
		Total:         order.TotalPrice,
		TotalDisplay:  FormatMoney(printer, order.Currency, order.TotalPrice),
		PaymentMethod: string(order.PaymentMethod),
		Items:         items,
		ShippingAddress: OrderConfirmationAddress{
			Street:     order.ShippingAddress.Street,
			City:       order.ShippingAddress.City,
			PostalCode: order.ShippingAddress.PostalCode,
			Country:    order.ShippingAddress.Country,
		},
		PlacedAt: order.CreatedAt,
	}

	payment := paymentLabels[locale][order.PaymentMethod]
	if payment == "" {
		payment = string(order.PaymentMethod)
	}
	view := map[string]any{
		"Locale":       locale,
		"Greeting":     fmt.Sprintf(copyText.Greeting, b.storeName),
		"Copy":         copyText,
		"Items":        items,
		"Address":      confirmation.ShippingAddress,
		"TotalDisplay": confirmation.TotalDisplay,
		"Payment":      payment,
		"StatusLabel":  confirmation.StatusLabel,
	}

	var htmlBody bytes.Buffer
	if err := confirmationHTMLTemplate.Execute(&htmlBody, view); err != nil {
		return OrderConfirmation{}, fmt.Errorf("order confirmation: render html: %w", err)
	}
	var textBody bytes.Buffer
	if err := confirmationTextTemplate.Execute(&textBody, view); err != nil {
		return OrderConfirmation{}, fmt.Errorf("order confirmation: render text: %w", err)
	}
	confirmation.HTMLBody = htmlBody.String()
	confirmation.TextBody = textBody.String()
	return confirmation, nil
}

// FormatMoney renders minor units using the currency's standard scale and the printer's
// locale separators, e.g. "30,000 XOF" or "12.50 EUR".
func FormatMoney(printer *message.Printer, code string, minor int64) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	divisor := 1.0
	for i := 0; i < scale; i++ {
		divisor *= 10
	}
	amount := printer.Sprint(number.Decimal(float64(minor)/divisor, number.Scale(scale)))
	if code == "" {
		return amount
	}
	return amount + " " + code
}
