package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type fakeReconciler struct {
	calls    []uuid.UUID
	failures map[uuid.UUID]error
}

func (f *fakeReconciler) ReconcileOrder(_ context.Context, orderID uuid.UUID) (payments.Outcome, error) {
	f.calls = append(f.calls, orderID)
	if err := f.failures[orderID]; err != nil {
		return "", err
	}
	return payments.OutcomeApplied, nil
}

func TestPaymentReconcileJobOnlyChecksOrdersInsideWindow(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	user := uuid.New()

	tooFresh := dbtest.SeedOrder(t, conn, user, enums.OrderStatusPending, now.Add(-5*time.Minute))
	eligible := dbtest.SeedOrder(t, conn, user, enums.OrderStatusPending, now.Add(-2*time.Hour))
	tooOld := dbtest.SeedOrder(t, conn, user, enums.OrderStatusPending, now.Add(-5*24*time.Hour))
	alreadyPaid := dbtest.SeedOrder(t, conn, user, enums.OrderStatusPaid, now.Add(-2*time.Hour))

	reconciler := &fakeReconciler{}
	job := newPaymentReconcileJob(t, orders.NewRepository(conn), reconciler)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reconciler.calls) != 1 || reconciler.calls[0] != eligible.ID {
		t.Fatalf("expected only %s to be reconciled, got %v (fresh=%s old=%s paid=%s)",
			eligible.ID, reconciler.calls, tooFresh.ID, tooOld.ID, alreadyPaid.ID)
	}
}

func TestPaymentReconcileJobBacklogDoesNotStarveNewerOrders(t *testing.T) {
	conn := dbtest.Open(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var abandoned []uuid.UUID
	for i := 0; i < 4; i++ {
		order := dbtest.SeedOrder(t, conn, uuid.New(), enums.OrderStatusPending, now.Add(-48*time.Hour+time.Duration(i)*time.Minute))
		abandoned = append(abandoned, order.ID)
	}
	recent := dbtest.SeedOrder(t, conn, uuid.New(), enums.OrderStatusPending, now.Add(-30*time.Minute))

	reconciler := &fakeReconciler{}
	job := newBatchedReconcileJob(t, orders.NewRepository(conn), reconciler, 2)
	job.now = func() time.Time { return now }

	for run := 0; run < 3; run++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
	}
	want := append(append([]uuid.UUID{}, abandoned...), recent.ID)
	if len(reconciler.calls) != len(want) {
		t.Fatalf("expected %d reconcile calls, got %v", len(want), reconciler.calls)
	}
	for i, id := range want {
		if reconciler.calls[i] != id {
			t.Fatalf("call %d: expected %s got %s", i, id, reconciler.calls[i])
		}
	}
	if job.cursor != nil {
		t.Fatalf("short batch should restart the scan")
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("wrap run: %v", err)
	}
	if reconciler.calls[len(want)] != abandoned[0] {
		t.Fatalf("scan should restart from the oldest order")
	}
}

func TestPaymentReconcileJobContinuesPastFailures(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	lister := &fakePendingLister{ids: []uuid.UUID{first, second}}
	reconciler := &fakeReconciler{failures: map[uuid.UUID]error{first: errors.New("gateway down")}}
	job := newPaymentReconcileJob(t, lister, reconciler)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(multierr.Errors(err)) != 1 {
		t.Fatalf("expected one wrapped error, got %v", err)
	}
	if len(reconciler.calls) != 2 {
		t.Fatalf("expected both orders attempted, got %d", len(reconciler.calls))
	}
	if lister.method != enums.PaymentMethodMercadoPago {
		t.Fatalf("expected hosted payment method filter, got %s", lister.method)
	}
}

func TestPaymentReconcileJobRequiresDependencies(t *testing.T) {
	if _, err := NewPaymentReconcileJob(PaymentReconcileJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatalf("expected missing orders error")
	}
}

func newPaymentReconcileJob(t *testing.T, lister pendingOrderLister, reconciler paymentReconciler) *paymentReconcileJob {
	t.Helper()
	return newBatchedReconcileJob(t, lister, reconciler, 0)
}

func newBatchedReconcileJob(t *testing.T, lister pendingOrderLister, reconciler paymentReconciler, batch int) *paymentReconcileJob {
	t.Helper()
	jobIface, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:     logger.Nop(),
		Orders:     lister,
		Reconciler: reconciler,
		After:      15 * time.Minute,
		Window:     72 * time.Hour,
		Batch:      batch,
	})
	if err != nil {
		t.Fatalf("NewPaymentReconcileJob: %v", err)
	}
	return jobIface.(*paymentReconcileJob)
}

type fakePendingLister struct {
	ids    []uuid.UUID
	method enums.PaymentMethod
}

func (f *fakePendingLister) ListPendingByMethod(_ context.Context, q orders.PendingQuery) ([]models.Order, error) {
	f.method = q.Method
	out := make([]models.Order, 0, len(f.ids))
	for _, id := range f.ids {
		out = append(out, models.Order{ID: id})
	}
	return out, nil
}
