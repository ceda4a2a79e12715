package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service exposes the customer and admin views of the ledger plus the single
// status transition path every payment flow converges on.
type Service interface {
	GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	GetAdmin(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListAdmin(ctx context.Context, filters AdminFilters) (*OrderList, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (*models.Order, error)
	UpdateStatusAdmin(ctx context.Context, orderID uuid.UUID, status string, actorID uuid.UUID) (*models.Order, error)
	DeleteAdmin(ctx context.Context, orderID uuid.UUID, actorID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, tx: tx, outbox: emitter, logg: logg}, nil
}

func (s *service) GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	list, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return list, nil
}

func (s *service) GetAdmin(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByIDAdmin(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

func (s *service) ListAdmin(ctx context.Context, filters AdminFilters) (*OrderList, error) {
	list, err := s.repo.ListAdmin(ctx, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	return list, nil
}

// UpdateStatus applies a last-write-wins transition. Re-applying the status an
// order already has rewrites the row but emits nothing, so duplicate payment
// notifications do not fan out duplicate events.
func (s *service) UpdateStatus(ctx context.Context, update StatusUpdate) (*models.Order, error) {
	if !update.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"status": update.Status, "allowed": enums.OrderStatuses()})
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		previous, err := repo.FindByIDAdmin(ctx, update.OrderID)
		if err != nil {
			return err
		}
		if previous == nil {
			return orderNotFound(update.OrderID)
		}

		updated, err = repo.UpdateStatus(ctx, update.OrderID, update.Status, update.ExternalPaymentID)
		if err != nil {
			return err
		}
		if updated == nil {
			return orderNotFound(update.OrderID)
		}
		if previous.Status == updated.Status {
			return nil
		}
		return s.emitStatusEvents(ctx, tx, previous.Status, updated, update)
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id": updated.ID.String(),
		"status":   updated.Status,
		"source":   update.Source,
	})
	s.logg.Info(logCtx, "order status updated")
	return updated, nil
}

func (s *service) UpdateStatusAdmin(ctx context.Context, orderID uuid.UUID, status string, actorID uuid.UUID) (*models.Order, error) {
	parsed, err := enums.ParseOrderStatus(status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status").
			WithDetails(map[string]any{"status": status, "allowed": enums.OrderStatuses()})
	}
	return s.UpdateStatus(ctx, StatusUpdate{
		OrderID:     orderID,
		Status:      parsed,
		Source:      SourceAdmin,
		ActorUserID: &actorID,
		ActorRole:   enums.UserRoleAdmin,
	})
}

func (s *service) DeleteAdmin(ctx context.Context, orderID uuid.UUID, actorID uuid.UUID) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindByIDAdmin(ctx, orderID)
		if err != nil {
			return err
		}
		if existing == nil {
			return orderNotFound(orderID)
		}
		deleted, err := repo.Delete(ctx, orderID)
		if err != nil {
			return err
		}
		if !deleted {
			return orderNotFound(orderID)
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDeleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: &actorID, Role: string(enums.UserRoleAdmin)},
			Data:          outbox.OrderDeletedEvent{OrderID: orderID, UserID: existing.UserID},
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete order")
	}
	return nil
}

func (s *service) emitStatusEvents(ctx context.Context, tx *gorm.DB, previous enums.OrderStatus, order *models.Order, update StatusUpdate) error {
	actor := actorFor(update)
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: outbox.OrderStatusChangedEvent{
			OrderID:           order.ID,
			PreviousStatus:    string(previous),
			Status:            string(order.Status),
			ExternalPaymentID: order.ExternalPaymentID,
			Source:            string(update.Source),
		},
	})
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusPaid {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: outbox.OrderPaidEvent{
			OrderID:           order.ID,
			UserID:            order.UserID,
			TotalAmount:       order.TotalAmount,
			ExternalPaymentID: order.ExternalPaymentID,
			Source:            string(update.Source),
		},
	})
}

func actorFor(update StatusUpdate) *outbox.ActorRef {
	if update.ActorUserID != nil {
		role := update.ActorRole
		if role == "" {
			role = enums.UserRoleCustomer
		}
		return &outbox.ActorRef{UserID: update.ActorUserID, Role: string(role)}
	}
	return &outbox.ActorRef{Role: "system"}
}

func orderNotFound(id uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
		WithDetails(map[string]any{"order_id": id.String()})
}
