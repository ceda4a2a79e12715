package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type stubService struct {
	internalorders.Service
	order     *models.Order
	list      *internalorders.OrderList
	err       error
	gotUser   uuid.UUID
	gotOrder  uuid.UUID
	gotParams pagination.Params
}

func (s *stubService) GetForUser(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	s.gotOrder = orderID
	s.gotUser = userID
	return s.order, s.err
}

func (s *stubService) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*internalorders.OrderList, error) {
	s.gotUser = userID
	s.gotParams = params
	return s.list, s.err
}

func userRequest(method, target string, userID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(middleware.WithUser(req.Context(), userID, enums.UserRoleCustomer))
}

func TestListDefaultsPagination(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	svc := &stubService{list: &internalorders.OrderList{Page: 1, Limit: pagination.DefaultLimit}}

	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, userRequest(http.MethodGet, "/api/v1/orders", userID))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if svc.gotUser != userID {
		t.Fatalf("expected caller id to be forwarded")
	}
	if svc.gotParams.Page != 1 || svc.gotParams.Limit != pagination.DefaultLimit {
		t.Fatalf("unexpected params %+v", svc.gotParams)
	}

	var envelope struct {
		Data struct {
			Items []internalorders.OrderView `json:"items"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Data.Items == nil {
		t.Fatalf("expected empty items array, not null")
	}
}

func TestListRejectsZeroPage(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	List(&stubService{}, nil).ServeHTTP(resp, userRequest(http.MethodGet, "/api/v1/orders?page=0", uuid.New()))

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestListRequiresUser(t *testing.T) {
	t.Parallel()

	resp := httptest.NewRecorder()
	List(&stubService{}, nil).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestDetail(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	orderID := uuid.New()
	svc := &stubService{order: &models.Order{ID: orderID, UserID: userID, Status: enums.OrderStatusPaid}}

	req := userRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), userID)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", orderID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if svc.gotOrder != orderID || svc.gotUser != userID {
		t.Fatalf("unexpected lookup order=%s user=%s", svc.gotOrder, svc.gotUser)
	}
}

func TestDetailForeignOrderIsNotFound(t *testing.T) {
	t.Parallel()

	svc := &stubService{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := userRequest(http.MethodGet, "/api/v1/orders/x", uuid.New())
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("orderId", uuid.NewString())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}
