package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubConfirmer struct {
	got    payments.ClientConfirmation
	result *payments.ConfirmResult
	err    error
}

func (s *stubConfirmer) ConfirmClientResult(ctx context.Context, c payments.ClientConfirmation) (*payments.ConfirmResult, error) {
	s.got = c
	return s.result, s.err
}

func TestConfirmPaymentApplies(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	orderID := uuid.New()
	svc := &stubConfirmer{result: &payments.ConfirmResult{OrderID: orderID, Status: enums.OrderStatusPaid, Applied: true}}

	body := `{"order_id":"` + orderID.String() + `","payment_id":"123","status":"approved"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(body))
	req = asUser(req, userID, enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	ConfirmPayment(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.got.UserID != userID || svc.got.OrderID != orderID || svc.got.PaymentID != "123" || svc.got.Status != "approved" {
		t.Fatalf("unexpected confirmation %+v", svc.got)
	}
	if !strings.Contains(resp.Body.String(), `"applied":true`) {
		t.Fatalf("expected applied flag: %s", resp.Body.String())
	}
}

func TestConfirmPaymentRequiresOrderID(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(`{"status":"approved"}`))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	ConfirmPayment(&stubConfirmer{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestConfirmPaymentForeignOrderIsNotFound(t *testing.T) {
	t.Parallel()

	svc := &stubConfirmer{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	body := `{"order_id":"` + uuid.NewString() + `","status":"rejected"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/confirm", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	ConfirmPayment(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
