package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	svc, err := NewService(NewRepository(conn), db.Wrap(conn), emitter, logger.Nop())
	require.NoError(t, err)
	return svc, conn
}

func outboxTypes(t *testing.T, conn *gorm.DB, orderID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", orderID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	conn := dbtest.Open(t)
	_, err := NewService(nil, db.Wrap(conn), outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.Error(t, err)
	_, err = NewService(NewRepository(conn), nil, outbox.NewService(outbox.NewRepository(conn), nil), nil)
	require.Error(t, err)
	_, err = NewService(NewRepository(conn), db.Wrap(conn), nil, nil)
	require.Error(t, err)
}

func TestUpdateStatusEmitsEventsOnce(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()

	seeded := dbtest.SeedOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now().UTC())
	paymentID := "555"
	update := StatusUpdate{OrderID: seeded.ID, Status: enums.OrderStatusPaid, ExternalPaymentID: &paymentID, Source: SourceWebhook}

	first, err := svc.UpdateStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, first.Status)

	second, err := svc.UpdateStatus(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, second.Status)

	assert.ElementsMatch(t,
		[]enums.OutboxEventType{enums.EventOrderStatusChanged, enums.EventOrderPaid},
		outboxTypes(t, conn, seeded.ID),
	)
}

func TestUpdateStatusMissingOrderIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: uuid.New(), Status: enums.OrderStatusPaid})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateStatusAdminValidatesStatus(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	seeded := dbtest.SeedOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now().UTC())

	_, err := svc.UpdateStatusAdmin(ctx, seeded.ID, "refunded", uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	got, err := svc.UpdateStatusAdmin(ctx, seeded.ID, "delivered", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, got.Status)

	// last write wins, even backwards
	got, err = svc.UpdateStatusAdmin(ctx, seeded.ID, "pending", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, got.Status)
}

func TestGetForUserHidesOtherUsersOrders(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	owner := uuid.New()
	seeded := dbtest.SeedOrder(t, conn, owner, enums.OrderStatusPending, time.Now().UTC())

	_, err := svc.GetForUser(ctx, seeded.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	got, err := svc.GetForUser(ctx, seeded.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, got.ID)
}

func TestDeleteAdmin(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	seeded := dbtest.SeedOrder(t, conn, uuid.New(), enums.OrderStatusPending, time.Now().UTC())

	require.NoError(t, svc.DeleteAdmin(ctx, seeded.ID, uuid.New()))
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderDeleted}, outboxTypes(t, conn, seeded.ID))

	err := svc.DeleteAdmin(ctx, seeded.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.GetAdmin(ctx, seeded.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
