package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository is the order ledger. It is the only writer of orders and
// order_line_items. Lookups return a nil order, not an error, when nothing
// matches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, externalPaymentID *string) (*models.Order, error)
	FindByID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error)
	FindByIDAdmin(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListAdmin(ctx context.Context, filters AdminFilters) (*OrderList, error)
	ListPendingByMethod(ctx context.Context, q PendingQuery) ([]models.Order, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}
