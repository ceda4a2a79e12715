package stock

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Item is one requested (product, quantity) pair.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
}

// CatalogLookup resolves current catalog rows for a set of ids.
type CatalogLookup interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// ProductNotFoundError is returned when a requested product has no catalog
// entry.
type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError is returned when a request exceeds what is on hand.
type InsufficientStockError struct {
	ProductID   uuid.UUID
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.ProductName, e.Available, e.Requested)
}

// Validator is a point-in-time stock check. It never reserves stock.
type Validator struct {
	catalog CatalogLookup
}

func NewValidator(catalog CatalogLookup) (*Validator, error) {
	if catalog == nil {
		return nil, fmt.Errorf("catalog lookup required")
	}
	return &Validator{catalog: catalog}, nil
}

// Validate checks items in order and reports the first violation as a
// CONFLICT error wrapping either *ProductNotFoundError or
// *InsufficientStockError.
func (v *Validator) Validate(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	seen := make(map[uuid.UUID]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	rows, err := v.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products for stock check")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok {
			return notFound(item.ProductID)
		}
		if item.Quantity > product.Stock {
			return insufficient(product, item.Quantity)
		}
	}
	return nil
}

func notFound(id uuid.UUID) error {
	cause := &ProductNotFoundError{ProductID: id}
	return pkgerrors.Wrap(pkgerrors.CodeConflict, cause, cause.Error()).
		WithDetails(map[string]any{"product_id": id.String()})
}

func insufficient(product models.Product, requested int) error {
	cause := &InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.Stock,
		Requested:   requested,
	}
	return InsufficientStock(cause)
}

// InsufficientStock wraps cause in the CONFLICT error callers expect. The
// order writer uses it too when the guarded decrement loses a race.
func InsufficientStock(cause *InsufficientStockError) error {
	return pkgerrors.Wrap(pkgerrors.CodeConflict, cause, cause.Error()).
		WithDetails(map[string]any{
			"product_id":   cause.ProductID.String(),
			"product_name": cause.ProductName,
			"available":    cause.Available,
			"requested":    cause.Requested,
		})
}
