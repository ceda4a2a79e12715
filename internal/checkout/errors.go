package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/stock"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// EmptyCartError is returned when checkout is attempted with no items.
type EmptyCartError struct{}

func (EmptyCartError) Error() string { return "cart is empty" }

// InvalidAddressError is returned when a shipping address is missing or does
// not belong to the customer.
type InvalidAddressError struct {
	AddressID *uuid.UUID
}

func (e *InvalidAddressError) Error() string {
	if e.AddressID == nil {
		return "address_id is required for shipping delivery"
	}
	return "address_id does not reference one of your addresses"
}

func emptyCart() error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, EmptyCartError{}, "cart is empty").
		WithDetails(map[string]any{"field": "items"})
}

func invalidAddress(id *uuid.UUID) error {
	cause := &InvalidAddressError{AddressID: id}
	details := map[string]any{"field": "address_id"}
	if id != nil {
		details["address_id"] = id.String()
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, cause.Error()).WithDetails(details)
}

func invalidField(field, message string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, field+" "+message).
		WithDetails(map[string]any{"field": field})
}

// productGone reports a product deleted while its order was being placed.
func productGone(id uuid.UUID) error {
	cause := &stock.ProductNotFoundError{ProductID: id}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, cause, cause.Error()).
		WithDetails(map[string]any{"product_id": id.String()})
}
