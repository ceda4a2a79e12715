package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// AdminFilters narrows the admin order list.
type AdminFilters struct {
	Status *enums.OrderStatus
	Search string
	pagination.Params
}

// PendingQuery selects pending orders of one payment method created inside
// (CreatedAfter, CreatedBefore], ordered by (created_at, id) and starting
// strictly after Cursor when it is set.
type PendingQuery struct {
	Method        enums.PaymentMethod
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Cursor        *PendingCursor
	Limit         int
}

// PendingCursor is the keyset position of the last order a scan returned.
type PendingCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorAfter returns the position just past order.
func CursorAfter(order models.Order) *PendingCursor {
	return &PendingCursor{CreatedAt: order.CreatedAt, ID: order.ID}
}

// OrderList is one page of orders plus the filtered total.
type OrderList struct {
	Orders []models.Order
	Total  int64
	Page   int
	Limit  int
}

// StatusSource records which path asked for a status change.
type StatusSource string

const (
	SourceWebhook       StatusSource = "webhook"
	SourceClientConfirm StatusSource = "client_confirm"
	SourceReconcile     StatusSource = "reconcile_job"
	SourceAdmin         StatusSource = "admin"
)

// StatusUpdate is one requested status transition.
type StatusUpdate struct {
	OrderID           uuid.UUID
	Status            enums.OrderStatus
	ExternalPaymentID *string
	Source            StatusSource
	ActorUserID       *uuid.UUID
	ActorRole         enums.UserRole
}

type OrderItemView struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice int64     `json:"unit_price"`
	Subtotal  int64     `json:"subtotal"`
}

type OrderView struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	TotalAmount       int64           `json:"total_amount"`
	DeliveryType      string          `json:"delivery_type"`
	AddressID         *uuid.UUID      `json:"address_id,omitempty"`
	PaymentMethod     string          `json:"payment_method"`
	Status            string          `json:"status"`
	ExternalPaymentID *string         `json:"external_payment_id,omitempty"`
	Items             []OrderItemView `json:"items"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func NewOrderView(order models.Order) OrderView {
	items := make([]OrderItemView, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemView{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal(),
		})
	}
	return OrderView{
		ID:                order.ID,
		UserID:            order.UserID,
		TotalAmount:       order.TotalAmount,
		DeliveryType:      string(order.DeliveryType),
		AddressID:         order.AddressID,
		PaymentMethod:     order.PaymentMethod,
		Status:            string(order.Status),
		ExternalPaymentID: order.ExternalPaymentID,
		Items:             items,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
}

// NewOrderPage maps a list into the shared page envelope.
func NewOrderPage(list *OrderList) types.Page[OrderView] {
	views := make([]OrderView, 0, len(list.Orders))
	for _, order := range list.Orders {
		views = append(views, NewOrderView(order))
	}
	return types.Page[OrderView]{
		Items: views,
		Page:  list.Page,
		Limit: list.Limit,
		Total: list.Total,
	}
}
