package enums

import "strings"

// PaymentMethod is free-form: the two well-known methods below, or the id of
// a card the customer saved earlier.
type PaymentMethod string

const (
	PaymentMethodMercadoPago PaymentMethod = "mercadopago"
	PaymentMethodCash        PaymentMethod = "cash"
)

func (p PaymentMethod) String() string {
	return string(p)
}

// IsSavedCard reports whether the method references a stored card rather
// than one of the named methods.
func (p PaymentMethod) IsSavedCard() bool {
	return p != PaymentMethodMercadoPago && p != PaymentMethodCash && strings.TrimSpace(string(p)) != ""
}

// MetricLabel collapses saved-card ids into one bucket.
func (p PaymentMethod) MetricLabel() string {
	if p.IsSavedCard() {
		return "saved_card"
	}
	return string(p)
}
