package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order ledger bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create writes the order row and then each line item. Everything runs in one
// transaction (a savepoint when r is already bound to one), so a failing item
// leaves no trace of the order.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order == nil {
		return errors.New("order required")
	}
	items := order.Items
	order.Items = nil
	defer func() { order.Items = items }()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateStatus overwrites the status in a single statement. A nil
// externalPaymentID keeps whatever reference the order already has. Returns
// nil when the order does not exist.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, externalPaymentID *string) (*models.Order, error) {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if externalPaymentID != nil {
		updates["external_payment_id"] = *externalPaymentID
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByIDAdmin(ctx, id)
}

func (r *repository) FindByID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	return r.first(ctx, r.db.Where("id = ? AND user_id = ?", id, userID))
}

func (r *repository) FindByIDAdmin(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.first(ctx, r.db.Where("id = ?", id))
}

func (r *repository) first(ctx context.Context, scope *gorm.DB) (*models.Order, error) {
	var order models.Order
	err := scope.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC, id ASC")
		}).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	scope := r.db.Model(&models.Order{}).Where("user_id = ?", userID)
	return r.list(ctx, scope, params)
}

func (r *repository) ListAdmin(ctx context.Context, filters AdminFilters) (*OrderList, error) {
	scope := r.db.Model(&models.Order{})
	if filters.Status != nil {
		scope = scope.Where("status = ?", *filters.Status)
	}
	if q := strings.ToLower(strings.TrimSpace(filters.Search)); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		scope = scope.Where(
			"LOWER(CAST(id AS TEXT)) LIKE ? ESCAPE '\\' OR LOWER(COALESCE(external_payment_id, '')) LIKE ? ESCAPE '\\' OR LOWER(payment_method) LIKE ? ESCAPE '\\'",
			pattern, pattern, pattern,
		)
	}
	return r.list(ctx, scope, filters.Params)
}

// list counts with the same predicate used for the page so totals never
// disagree with the filtered rows.
func (r *repository) list(ctx context.Context, scope *gorm.DB, params pagination.Params) (*OrderList, error) {
	params = params.Normalize()

	var total int64
	if err := scope.Session(&gorm.Session{}).WithContext(ctx).Count(&total).Error; err != nil {
		return nil, err
	}

	var rows []models.Order
	err := scope.Session(&gorm.Session{}).WithContext(ctx).
		Preload("Items").
		Order("created_at DESC, id DESC").
		Offset(params.Offset()).
		Limit(params.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	return &OrderList{
		Orders: rows,
		Total:  total,
		Page:   params.Page,
		Limit:  params.Limit,
	}, nil
}

func (r *repository) ListPendingByMethod(ctx context.Context, q PendingQuery) ([]models.Order, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND payment_method = ?", enums.OrderStatusPending, string(q.Method)).
		Where("created_at > ? AND created_at <= ?", q.CreatedAfter, q.CreatedBefore)
	if c := q.Cursor; c != nil {
		query = query.Where("(created_at > ? OR (created_at = ? AND id > ?))", c.CreatedAt, c.CreatedAt, c.ID)
	}

	var rows []models.Order
	err := query.
		Order("created_at ASC, id ASC").
		Limit(pagination.NormalizeLimit(q.Limit)).
		Find(&rows).Error
	return rows, err
}

// Delete removes the order and its items together. It reports false when the
// order did not exist.
func (r *repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.OrderLineItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Order{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	return deleted, err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
