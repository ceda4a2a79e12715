package cart

import "github.com/google/uuid"

// LocalItem is a line from the browser's anonymous cart.
type LocalItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// Line is a cart row joined with its live catalog price.
type Line struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Price     int64     `json:"price"`
	Quantity  int       `json:"quantity"`
	Subtotal  int64     `json:"subtotal"`
}

// Snapshot is the priced cart returned to clients.
type Snapshot struct {
	Items []Line `json:"items"`
	Total int64  `json:"total"`
}
