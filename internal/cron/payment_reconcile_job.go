package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	defaultReconcileAfter  = 15 * time.Minute
	defaultReconcileWindow = 72 * time.Hour
	defaultReconcileBatch  = 100
)

type pendingOrderLister interface {
	ListPendingByMethod(ctx context.Context, q orders.PendingQuery) ([]models.Order, error)
}

type paymentReconciler interface {
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (payments.Outcome, error)
}

type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Orders     pendingOrderLister
	Reconciler paymentReconciler
	// After is how old a pending order must be before it is checked, so
	// the webhook gets a chance to land first.
	After time.Duration
	// Window bounds how far back orders are considered.
	Window time.Duration
	Batch  int
}

// NewPaymentReconcileJob polls the gateway for hosted-checkout orders still
// pending and marks the approved ones paid. Each pass checks one batch and
// the next pass continues after it; a short batch restarts the scan from the
// oldest order in the window.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	window := params.Window
	if window <= after {
		window = defaultReconcileWindow
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	batch = pagination.NormalizeLimit(batch)
	return &paymentReconcileJob{
		logg:       params.Logger,
		orders:     params.Orders,
		reconciler: params.Reconciler,
		after:      after,
		window:     window,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	orders     pendingOrderLister
	reconciler paymentReconciler
	after      time.Duration
	window     time.Duration
	batch      int
	now        func() time.Time

	// cursor is where the next pass resumes, so a backlog of abandoned
	// checkouts cannot keep newer orders out of every batch.
	mu     sync.Mutex
	cursor *orders.PendingCursor
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().UTC()
	resumed := j.cursor != nil
	pending, err := j.orders.ListPendingByMethod(ctx, orders.PendingQuery{
		Method:        enums.PaymentMethodMercadoPago,
		CreatedAfter:  now.Add(-j.window),
		CreatedBefore: now.Add(-j.after),
		Cursor:        j.cursor,
		Limit:         j.batch,
	})
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	if len(pending) < j.batch {
		j.cursor = nil
	} else {
		j.cursor = orders.CursorAfter(pending[len(pending)-1])
	}

	var errs error
	counts := map[payments.Outcome]int{}
	for _, order := range pending {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome, err := j.reconciler.ReconcileOrder(ctx, order.ID)
		if err != nil {
			j.logg.Error(j.logg.WithOrderID(ctx, order.ID.String()), "payment reconcile failed", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		counts[outcome]++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"resumed":    resumed,
		"wrapped":    j.cursor == nil,
		"applied":    counts[payments.OutcomeApplied],
		"noop":       counts[payments.OutcomeNoop],
		"failed":     len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "payment reconcile pass complete")
	return errs
}
