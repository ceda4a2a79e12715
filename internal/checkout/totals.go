package checkout

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Totals is the priced breakdown of a checkout.
type Totals struct {
	Items    int64
	Shipping int64
	Total    int64
}

// MaxUnitPrice is the largest unit price, in minor units, a checkout line
// may carry.
const MaxUnitPrice int64 = 1_000_000_000_000

var maxAmount = decimal.NewFromInt(math.MaxInt64)

// ComputeTotals sums price×quantity and adds shippingCost only for shipping
// delivery. Sums are taken in decimal; a line or total that does not fit an
// int64 amount is a validation error naming the offending line.
func ComputeTotals(items []LineItem, delivery enums.DeliveryType, shippingCost int64) (Totals, error) {
	sum := decimal.Zero
	for i, item := range items {
		field := fmt.Sprintf("items[%d].price", i)
		if item.Price > MaxUnitPrice {
			return Totals{}, invalidField(field, fmt.Sprintf("must not exceed %d", MaxUnitPrice))
		}
		sum = sum.Add(decimal.NewFromInt(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity))))
		if sum.GreaterThan(maxAmount) {
			return Totals{}, invalidField(field, "makes the order total too large")
		}
	}

	var t Totals
	if delivery == enums.DeliveryTypeShipping {
		t.Shipping = shippingCost
	}
	if sum.Add(decimal.NewFromInt(t.Shipping)).GreaterThan(maxAmount) {
		return Totals{}, invalidField("items", "order total is too large")
	}
	t.Items = sum.IntPart()
	t.Total = t.Items + t.Shipping
	return t, nil
}

// InitialPayment decides the starting status and reference for a new order.
// Cash gets a local reference and waits for collection. Saved cards settle
// immediately. Hosted payments wait for the gateway to assign a reference.
func InitialPayment(method enums.PaymentMethod) (enums.OrderStatus, *string) {
	switch {
	case method == enums.PaymentMethodCash:
		ref := fmt.Sprintf("CASH-%s", uuid.NewString())
		return enums.OrderStatusPending, &ref
	case method.IsSavedCard():
		ref := fmt.Sprintf("CARD-%s", uuid.NewString())
		return enums.OrderStatusPaid, &ref
	default:
		return enums.OrderStatusPending, nil
	}
}
