package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gte=1"`
	Price     int64     `json:"price" validate:"gte=0,lte=1000000000000"`
}

// Items may be empty here; the service owns the empty-cart rule so the
// error code stays the same for every caller.
type placeOrderRequest struct {
	Items         []checkoutItemRequest `json:"items" validate:"dive"`
	DeliveryType  string                `json:"delivery_type" validate:"required,oneof=shipping pickup"`
	AddressID     *uuid.UUID            `json:"address_id,omitempty"`
	PaymentMethod string                `json:"payment_method" validate:"required"`
}

type hostedCheckoutRequest struct {
	Items        []checkoutItemRequest `json:"items" validate:"dive"`
	DeliveryType string                `json:"delivery_type" validate:"required,oneof=shipping pickup"`
	AddressID    *uuid.UUID            `json:"address_id,omitempty"`
}

// PlaceOrder creates an order for a cash or saved-card payment.
func PlaceOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload placeOrderRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.PlaceOrder(r.Context(), checkoutsvc.PlaceOrderInput{
			UserID:        userID,
			Items:         toLineItems(payload.Items),
			DeliveryType:  enums.DeliveryType(payload.DeliveryType),
			AddressID:     payload.AddressID,
			PaymentMethod: payload.PaymentMethod,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}

// HostedCheckout creates a pending order and returns the gateway redirect.
func HostedCheckout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		userID, err := requireUser(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload hostedCheckoutRequest
		if err := validators.DecodeJSONBody(w, r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.StartHostedCheckout(r.Context(), checkoutsvc.HostedCheckoutInput{
			UserID:       userID,
			Items:        toLineItems(payload.Items),
			DeliveryType: enums.DeliveryType(payload.DeliveryType),
			AddressID:    payload.AddressID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteCreated(w, result)
	}
}

func toLineItems(items []checkoutItemRequest) []checkoutsvc.LineItem {
	out := make([]checkoutsvc.LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, checkoutsvc.LineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return out
}

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserUUIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return userID, nil
}
