package enums

import "fmt"

// DeliveryType decides whether an order ships to an address or is picked up.
type DeliveryType string

const (
	DeliveryTypeShipping DeliveryType = "shipping"
	DeliveryTypePickup   DeliveryType = "pickup"
)

func (d DeliveryType) String() string {
	return string(d)
}

func (d DeliveryType) IsValid() bool {
	return d == DeliveryTypeShipping || d == DeliveryTypePickup
}

// RequiresAddress reports whether orders with this delivery type carry an
// address reference.
func (d DeliveryType) RequiresAddress() bool {
	return d == DeliveryTypeShipping
}

func ParseDeliveryType(value string) (DeliveryType, error) {
	d := DeliveryType(value)
	if !d.IsValid() {
		return "", fmt.Errorf("invalid delivery type %q", value)
	}
	return d, nil
}
