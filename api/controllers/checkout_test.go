package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubCheckoutService struct {
	placeInput  checkoutsvc.PlaceOrderInput
	hostedInput checkoutsvc.HostedCheckoutInput
	placed      *checkoutsvc.PlaceOrderResult
	hosted      *checkoutsvc.HostedCheckoutResult
	err         error
}

func (s *stubCheckoutService) PlaceOrder(ctx context.Context, input checkoutsvc.PlaceOrderInput) (*checkoutsvc.PlaceOrderResult, error) {
	s.placeInput = input
	return s.placed, s.err
}

func (s *stubCheckoutService) StartHostedCheckout(ctx context.Context, input checkoutsvc.HostedCheckoutInput) (*checkoutsvc.HostedCheckoutResult, error) {
	s.hostedInput = input
	return s.hosted, s.err
}

func TestPlaceOrderCreated(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	orderID := uuid.New()
	svc := &stubCheckoutService{placed: &checkoutsvc.PlaceOrderResult{
		OrderID: orderID,
		Status:  enums.OrderStatusPending,
		Total:   2500,
	}}

	body := `{"items":[{"product_id":"` + productID.String() + `","quantity":2,"price":1000}],"delivery_type":"pickup","payment_method":"cash"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = asUser(req, userID, enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	PlaceOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	var envelope struct {
		Data checkoutsvc.PlaceOrderResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.OrderID != orderID {
		t.Fatalf("unexpected order id %s", envelope.Data.OrderID)
	}
	if svc.placeInput.UserID != userID {
		t.Fatalf("expected user id to come from context")
	}
	if len(svc.placeInput.Items) != 1 || svc.placeInput.Items[0].Price != 1000 || svc.placeInput.Items[0].Quantity != 2 {
		t.Fatalf("unexpected items %+v", svc.placeInput.Items)
	}
	if svc.placeInput.DeliveryType != enums.DeliveryTypePickup {
		t.Fatalf("unexpected delivery type %s", svc.placeInput.DeliveryType)
	}
}

func TestPlaceOrderRejectsUnknownDeliveryType(t *testing.T) {
	t.Parallel()

	svc := &stubCheckoutService{}
	body := `{"items":[],"delivery_type":"drone","payment_method":"cash"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	PlaceOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestPlaceOrderRejectsPriceAboveCeiling(t *testing.T) {
	t.Parallel()

	svc := &stubCheckoutService{}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":4,"price":4611686018427387904}],"delivery_type":"pickup","payment_method":"card_123"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	PlaceOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.placeInput.UserID != uuid.Nil {
		t.Fatalf("service must not be reached")
	}
}

func TestPlaceOrderRequiresUser(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", strings.NewReader(`{}`))
	resp := httptest.NewRecorder()
	PlaceOrder(&stubCheckoutService{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestPlaceOrderPropagatesConflict(t *testing.T) {
	t.Parallel()

	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock")}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"price":100}],"delivery_type":"pickup","payment_method":"cash"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/orders", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	PlaceOrder(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestHostedCheckoutReturnsRedirect(t *testing.T) {
	t.Parallel()

	addressID := uuid.New()
	svc := &stubCheckoutService{hosted: &checkoutsvc.HostedCheckoutResult{
		OrderID:      uuid.New(),
		RedirectURL:  "https://pay.example/checkout?pref=abc",
		PreferenceID: "abc",
	}}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"price":500}],"delivery_type":"shipping","address_id":"` + addressID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/hosted", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	HostedCheckout(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.hostedInput.AddressID == nil || *svc.hostedInput.AddressID != addressID {
		t.Fatalf("address id not forwarded")
	}
	if !strings.Contains(resp.Body.String(), `"redirect_url":"https://pay.example/checkout?pref=abc"`) {
		t.Fatalf("redirect url missing: %s", resp.Body.String())
	}
}

func TestHostedCheckoutGatewayFailure(t *testing.T) {
	t.Parallel()

	svc := &stubCheckoutService{err: pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")}
	body := `{"items":[{"product_id":"` + uuid.NewString() + `","quantity":1,"price":500}],"delivery_type":"pickup"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/hosted", strings.NewReader(body))
	req = asUser(req, uuid.New(), enums.UserRoleCustomer)

	resp := httptest.NewRecorder()
	HostedCheckout(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", resp.Code)
	}
}
