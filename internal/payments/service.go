package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/mercadopago"
)

// Outcome describes what a notification did.
type Outcome string

const (
	// OutcomeIgnored: not a payment notification, or no payment id.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeApplied: the order was marked paid.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop: a payment notification that changes nothing, such as a
	// non-approved payment or an unknown order.
	OutcomeNoop Outcome = "noop"
	// OutcomeDuplicate: already applied according to the dedupe guard.
	OutcomeDuplicate Outcome = "duplicate"
)

// PaymentGateway is the authoritative source of payment state.
type PaymentGateway interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.Payment, error)
	SearchPaymentsByReference(ctx context.Context, reference string) ([]mercadopago.Payment, error)
}

type orderLedger interface {
	GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, update orders.StatusUpdate) (*models.Order, error)
}

type metricsRecorder interface {
	WebhookProcessed(outcome string)
	PaymentConfirmed(source string)
}

// ClientConfirmation is what the browser reports after the gateway redirect.
type ClientConfirmation struct {
	UserID    uuid.UUID
	OrderID   uuid.UUID
	PaymentID string
	Status    string
}

type ConfirmResult struct {
	OrderID uuid.UUID         `json:"order_id"`
	Status  enums.OrderStatus `json:"status"`
	Applied bool              `json:"applied"`
}

type ServiceParams struct {
	Gateway PaymentGateway
	Orders  orderLedger
	Guard   *IdempotencyGuard
	Metrics metricsRecorder
	Logger  *logger.Logger
}

// Service reconciles gateway payments with orders. Every path ends in the
// same last-write-wins UpdateStatus, so repeated or reordered deliveries
// converge on paid.
type Service struct {
	gateway PaymentGateway
	orders  orderLedger
	guard   *IdempotencyGuard
	metrics metricsRecorder
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order ledger required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	return &Service{
		gateway: params.Gateway,
		orders:  params.Orders,
		guard:   params.Guard,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// HandleNotification processes one webhook. A returned error means the
// notification should be redelivered.
func (s *Service) HandleNotification(ctx context.Context, n Notification) (outcome Outcome, err error) {
	defer func() {
		if s.metrics != nil {
			label := string(outcome)
			if err != nil {
				label = "error"
			}
			s.metrics.WebhookProcessed(label)
		}
	}()

	if !n.IsPayment() || n.PaymentID == "" {
		return OutcomeIgnored, nil
	}
	if s.gateway == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	logCtx := s.logg.WithField(ctx, "payment_id", n.PaymentID)

	payment, err := s.gateway.GetPayment(ctx, n.PaymentID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(logCtx, "payments.webhook_unknown_payment")
			return OutcomeNoop, nil
		}
		return "", err
	}
	if !payment.Approved() {
		logCtx = s.logg.WithField(logCtx, "payment_status", payment.Status)
		s.logg.Info(logCtx, "payments.webhook_not_approved")
		return OutcomeNoop, nil
	}

	orderID, err := uuid.Parse(strings.TrimSpace(payment.ExternalReference))
	if err != nil {
		logCtx = s.logg.WithField(logCtx, "external_reference", payment.ExternalReference)
		s.logg.Warn(logCtx, "payments.webhook_unparseable_reference")
		return OutcomeNoop, nil
	}
	logCtx = s.logg.WithOrderID(logCtx, orderID.String())

	dedupe := dedupeID(n.PaymentID, payment.Status)
	if s.guard != nil {
		seen, guardErr := s.guard.CheckAndMark(ctx, dedupe)
		switch {
		case guardErr != nil:
			s.logg.Warn(s.logg.WithField(logCtx, "error", guardErr.Error()), "payments.webhook_dedupe_unavailable")
		case seen:
			return OutcomeDuplicate, nil
		}
	}

	outcome, err = s.markPaid(ctx, orderID, n.PaymentID, orders.SourceWebhook)
	if err != nil && s.guard != nil {
		if delErr := s.guard.Delete(ctx, dedupe); delErr != nil {
			s.logg.Error(logCtx, "payments.webhook_dedupe_release_failed", delErr)
		}
	}
	return outcome, err
}

// ConfirmClientResult applies a status the browser claims after returning
// from the gateway. Only approved claims change anything.
func (s *Service) ConfirmClientResult(ctx context.Context, c ClientConfirmation) (*ConfirmResult, error) {
	order, err := s.orders.GetForUser(ctx, c.OrderID, c.UserID)
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(c.Status))
	paymentID := strings.TrimSpace(c.PaymentID)
	if status != mercadopago.StatusApproved {
		return &ConfirmResult{OrderID: order.ID, Status: order.Status}, nil
	}
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_id is required for approved payments").
			WithDetails(map[string]any{"field": "payment_id"})
	}

	updated, err := s.orders.UpdateStatus(ctx, orders.StatusUpdate{
		OrderID:           order.ID,
		Status:            enums.OrderStatusPaid,
		ExternalPaymentID: &paymentID,
		Source:            orders.SourceClientConfirm,
		ActorUserID:       &c.UserID,
		ActorRole:         enums.UserRoleCustomer,
	})
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.PaymentConfirmed(string(orders.SourceClientConfirm))
	}
	return &ConfirmResult{OrderID: updated.ID, Status: updated.Status, Applied: true}, nil
}

// ReconcileOrder asks the gateway for payments referencing orderID and marks
// the order paid when one was approved. Used for orders whose webhook never
// arrived.
func (s *Service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	if s.gateway == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}
	payments, err := s.gateway.SearchPaymentsByReference(ctx, orderID.String())
	if err != nil {
		return "", err
	}
	for _, payment := range payments {
		if !payment.Approved() || payment.ID == "" {
			continue
		}
		return s.markPaid(ctx, orderID, payment.ID.String(), orders.SourceReconcile)
	}
	return OutcomeNoop, nil
}

func (s *Service) markPaid(ctx context.Context, orderID uuid.UUID, paymentID string, source orders.StatusSource) (Outcome, error) {
	_, err := s.orders.UpdateStatus(ctx, orders.StatusUpdate{
		OrderID:           orderID,
		Status:            enums.OrderStatusPaid,
		ExternalPaymentID: &paymentID,
		Source:            source,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"order_id":   orderID.String(),
				"payment_id": paymentID,
				"source":     source,
			})
			s.logg.Warn(logCtx, "payments.order_not_found")
			return OutcomeNoop, nil
		}
		return "", fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	if s.metrics != nil {
		s.metrics.PaymentConfirmed(string(source))
	}
	return OutcomeApplied, nil
}
