package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// LineItem is a cart line as submitted at checkout. Price is the unit price
// the customer saw.
type LineItem struct {
	ProductID uuid.UUID
	Quantity  int
	Price     int64
}

type PlaceOrderInput struct {
	UserID        uuid.UUID
	Items         []LineItem
	DeliveryType  enums.DeliveryType
	AddressID     *uuid.UUID
	PaymentMethod string
}

type PlaceOrderResult struct {
	OrderID           uuid.UUID         `json:"order_id"`
	Status            enums.OrderStatus `json:"status"`
	Total             int64             `json:"total"`
	ExternalPaymentID *string           `json:"external_payment_id,omitempty"`
}

type HostedCheckoutInput struct {
	UserID       uuid.UUID
	Items        []LineItem
	DeliveryType enums.DeliveryType
	AddressID    *uuid.UUID
}

type HostedCheckoutResult struct {
	OrderID      uuid.UUID `json:"order_id"`
	RedirectURL  string    `json:"redirect_url"`
	PreferenceID string    `json:"preference_id"`
}

// Config carries the checkout knobs and hosted-checkout URLs.
type Config struct {
	ShippingCost    int64
	Currency        string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		ShippingCost:    cfg.Checkout.ShippingCost,
		Currency:        cfg.Checkout.Currency,
		NotificationURL: cfg.MercadoPago.NotificationURL,
		SuccessURL:      cfg.MercadoPago.SuccessURL,
		FailureURL:      cfg.MercadoPago.FailureURL,
		PendingURL:      cfg.MercadoPago.PendingURL,
	}
}
