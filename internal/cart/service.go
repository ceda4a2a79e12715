package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type catalog interface {
	GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

type Service interface {
	Get(ctx context.Context, userID uuid.UUID) (*Snapshot, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Snapshot, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Snapshot, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Snapshot, error)
	Clear(ctx context.Context, userID uuid.UUID) error
	Merge(ctx context.Context, userID uuid.UUID, local []LocalItem) (*Snapshot, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	catalog catalog
	logg    *logger.Logger
}

func NewService(repo Repository, tx txRunner, catalog catalog, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, tx: tx, catalog: catalog, logg: logg}, nil
}

func (s *service) Get(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	rows, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	return s.snapshot(ctx, rows)
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Snapshot, error) {
	if err := validateQuantity("quantity", quantity); err != nil {
		return nil, err
	}
	found, err := s.catalog.GetProductsByIDs(ctx, []uuid.UUID{productID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}
	if len(found) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	if err := s.repo.Add(ctx, userID, productID, quantity); err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add cart item")
	}
	return s.Get(ctx, userID)
}

func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*Snapshot, error) {
	if err := validateQuantity("quantity", quantity); err != nil {
		return nil, err
	}
	ok, err := s.repo.SetQuantity(ctx, userID, productID, quantity)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart item")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not in cart").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	return s.Get(ctx, userID)
}

// RemoveItem is idempotent: removing a product that is not in the cart
// returns the cart unchanged.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*Snapshot, error) {
	if _, err := s.repo.Remove(ctx, userID, productID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart item")
	}
	return s.Get(ctx, userID)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear cart")
	}
	return nil
}

// Merge folds the browser cart into the server cart by summing quantities
// per product, then rebuilds the server cart from the sums. Local products
// that no longer exist in the catalog are dropped.
func (s *service) Merge(ctx context.Context, userID uuid.UUID, local []LocalItem) (*Snapshot, error) {
	for i, item := range local {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("items[%d].product_id is required", i)).
				WithDetails(map[string]any{"field": fmt.Sprintf("items[%d].product_id", i)})
		}
		if err := validateQuantity(fmt.Sprintf("items[%d].quantity", i), item.Quantity); err != nil {
			return nil, err
		}
	}
	if len(local) == 0 {
		return s.Get(ctx, userID)
	}

	known, err := s.knownProducts(ctx, local)
	if err != nil {
		return nil, err
	}

	var merged []models.CartItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		server, err := repo.List(ctx, userID)
		if err != nil {
			return err
		}

		quantities := make(map[uuid.UUID]int, len(server)+len(local))
		order := make([]uuid.UUID, 0, len(server)+len(local))
		for _, row := range server {
			if _, seen := quantities[row.ProductID]; !seen {
				order = append(order, row.ProductID)
			}
			quantities[row.ProductID] += row.Quantity
		}
		for _, item := range local {
			if _, ok := known[item.ProductID]; !ok {
				continue
			}
			if _, seen := quantities[item.ProductID]; !seen {
				order = append(order, item.ProductID)
			}
			quantities[item.ProductID] += item.Quantity
		}

		merged = make([]models.CartItem, 0, len(order))
		for _, productID := range order {
			merged = append(merged, models.CartItem{ProductID: productID, Quantity: quantities[productID]})
		}
		return repo.ReplaceAll(ctx, userID, merged)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merge cart")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":     userID.String(),
		"local_lines": len(local),
		"cart_lines":  len(merged),
	})
	s.logg.Info(logCtx, "cart.merged")
	return s.snapshot(ctx, merged)
}

func (s *service) knownProducts(ctx context.Context, local []LocalItem) (map[uuid.UUID]struct{}, error) {
	ids := make([]uuid.UUID, 0, len(local))
	for _, item := range local {
		ids = append(ids, item.ProductID)
	}
	rows, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load products")
	}
	known := make(map[uuid.UUID]struct{}, len(rows))
	for _, row := range rows {
		known[row.ID] = struct{}{}
	}
	if len(known) < len(uniqueIDs(ids)) {
		s.logg.Warn(s.logg.WithField(ctx, "dropped", len(uniqueIDs(ids))-len(known)), "cart.merge_unknown_products")
	}
	return known, nil
}

// snapshot prices rows with the live catalog. Rows whose product has gone
// are left out.
func (s *service) snapshot(ctx context.Context, rows []models.CartItem) (*Snapshot, error) {
	out := &Snapshot{Items: make([]Line, 0, len(rows))}
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ProductID)
	}
	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "price cart")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, row := range rows {
		p, ok := byID[row.ProductID]
		if !ok {
			continue
		}
		line := Line{
			ProductID: row.ProductID,
			Name:      p.Name,
			Price:     p.Price,
			Quantity:  row.Quantity,
			Subtotal:  p.Price * int64(row.Quantity),
		}
		out.Items = append(out.Items, line)
		out.Total += line.Subtotal
	}
	return out, nil
}

func validateQuantity(field string, quantity int) error {
	if quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, field+" must be at least 1").
			WithDetails(map[string]any{"field": field})
	}
	return nil
}

func uniqueIDs(ids []uuid.UUID) map[uuid.UUID]struct{} {
	out := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}
