package outbox

import "github.com/google/uuid"

type OrderItemPayload struct {
	ProductID uuid.UUID `json:"productId"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unitPrice"`
}

type OrderCreatedEvent struct {
	OrderID           uuid.UUID          `json:"orderId"`
	UserID            uuid.UUID          `json:"userId"`
	TotalAmount       int64              `json:"totalAmount"`
	DeliveryType      string             `json:"deliveryType"`
	PaymentMethod     string             `json:"paymentMethod"`
	Status            string             `json:"status"`
	ExternalPaymentID *string            `json:"externalPaymentId,omitempty"`
	Items             []OrderItemPayload `json:"items"`
}

type OrderStatusChangedEvent struct {
	OrderID           uuid.UUID `json:"orderId"`
	PreviousStatus    string    `json:"previousStatus"`
	Status            string    `json:"status"`
	ExternalPaymentID *string   `json:"externalPaymentId,omitempty"`
	Source            string    `json:"source"`
}

type OrderPaidEvent struct {
	OrderID           uuid.UUID `json:"orderId"`
	UserID            uuid.UUID `json:"userId"`
	TotalAmount       int64     `json:"totalAmount"`
	ExternalPaymentID *string   `json:"externalPaymentId,omitempty"`
	Source            string    `json:"source"`
}

type OrderDeletedEvent struct {
	OrderID uuid.UUID `json:"orderId"`
	UserID  uuid.UUID `json:"userId"`
}
