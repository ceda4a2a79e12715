package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/mercadopago"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type stubGateway struct {
	requests []mercadopago.PreferenceRequest
	err      error
}

func (g *stubGateway) CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &mercadopago.Preference{ID: "pref-1", InitPoint: "https://mp.test/redirect/pref-1"}, nil
}

type countingMetrics struct {
	created map[string]int
}

func (m *countingMetrics) OrderCreated(method string) {
	if m.created == nil {
		m.created = map[string]int{}
	}
	m.created[method]++
}

type fixture struct {
	conn    *gorm.DB
	svc     Service
	gateway *stubGateway
	metrics *countingMetrics
}

func newFixture(t *testing.T, tweaks ...func(conn *gorm.DB, p *Params)) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	inventory := products.NewRepository(conn)
	validator, err := stock.NewValidator(inventory)
	require.NoError(t, err)

	f := &fixture{conn: conn, gateway: &stubGateway{}, metrics: &countingMetrics{}}
	params := Params{
		Tx:        db.Wrap(conn),
		Validator: validator,
		Inventory: inventory,
		Orders:    orders.NewRepository(conn),
		Addresses: address.NewRepository(conn),
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Gateway:   f.gateway,
		Metrics:   f.metrics,
		Config: Config{
			ShippingCost:    3990,
			Currency:        "ARS",
			NotificationURL: "https://api.shop.test/api/v1/webhooks/mercadopago",
			SuccessURL:      "https://shop.test/checkout/success",
			FailureURL:      "https://shop.test/checkout/failure",
			PendingURL:      "https://shop.test/checkout/pending",
		},
	}
	for _, tweak := range tweaks {
		tweak(conn, &params)
	}
	f.svc, err = NewService(params)
	require.NoError(t, err)
	return f
}

// hookedTx runs before ahead of the transaction and after once it has
// finished, standing in for writers that race the checkout.
type hookedTx struct {
	inner  txRunner
	before func()
	after  func()
}

func (h hookedTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if h.before != nil {
		h.before()
	}
	err := h.inner.WithTx(ctx, fn)
	if h.after != nil {
		h.after()
	}
	return err
}

// rejectingOrders fails every insert with err.
type rejectingOrders struct {
	orders.Repository
	err error
}

func (r rejectingOrders) WithTx(tx *gorm.DB) orders.Repository { return r }

func (r rejectingOrders) Create(ctx context.Context, order *models.Order) error { return r.err }

func (f *fixture) stockOf(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.conn.Model(model).Count(&n).Error)
	return n
}

func TestPlaceOrderShippingTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	a := dbtest.SeedProduct(t, f.conn, "Mate", 1000, 5)
	b := dbtest.SeedProduct(t, f.conn, "Bombilla", 2000, 5)
	addr := dbtest.SeedAddress(t, f.conn, userID)

	res, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{
		UserID:        userID,
		Items:         []LineItem{{ProductID: a.ID, Quantity: 2, Price: 1000}, {ProductID: b.ID, Quantity: 1, Price: 2000}},
		DeliveryType:  enums.DeliveryTypeShipping,
		AddressID:     &addr.ID,
		PaymentMethod: "mercadopago",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7990), res.Total)
	assert.Equal(t, enums.OrderStatusPending, res.Status)
	assert.Nil(t, res.ExternalPaymentID)

	assert.Equal(t, 3, f.stockOf(t, a.ID))
	assert.Equal(t, 4, f.stockOf(t, b.ID))
	assert.Equal(t, int64(2), f.count(t, &models.OrderLineItem{}))
	assert.Equal(t, int64(1), f.count(t, &models.OutboxEvent{}))
	assert.Equal(t, 1, f.metrics.created["mercadopago"])
}

func TestPlaceOrderPaymentMethods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := dbtest.SeedProduct(t, f.conn, "Yerba", 1500, 10)
	items := []LineItem{{ProductID: p.ID, Quantity: 1, Price: 1500}}

	cash, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: uuid.New(), Items: items, DeliveryType: enums.DeliveryTypePickup, PaymentMethod: "cash"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPending, cash.Status)
	require.NotNil(t, cash.ExternalPaymentID)
	assert.Contains(t, *cash.ExternalPaymentID, "CASH-")
	assert.Equal(t, int64(1500), cash.Total)

	card, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: uuid.New(), Items: items, DeliveryType: enums.DeliveryTypePickup, PaymentMethod: "card_123"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, card.Status)
	require.NotNil(t, card.ExternalPaymentID)
	assert.Contains(t, *card.ExternalPaymentID, "CARD-")
	assert.Equal(t, 1, f.metrics.created["saved_card"])
}

func TestPlaceOrderRejectsTotalThatWouldWrap(t *testing.T) {
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.conn, "Termo", 30000, 10)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: p.ID, Quantity: 4, Price: 1 << 62}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "card_123",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, map[string]any{"field": "items[0].price"}, pkgerrors.As(err).Details())
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, 10, f.stockOf(t, p.ID))
}

func TestPlaceOrderRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: uuid.New(), DeliveryType: enums.DeliveryTypePickup, PaymentMethod: "cash"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	var empty EmptyCartError
	assert.True(t, errors.As(err, &empty))
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestPlaceOrderInsufficientStockWritesNothing(t *testing.T) {
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.conn, "Termo", 30000, 1)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: p.ID, Quantity: 2, Price: 30000}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	var insufficient *stock.InsufficientStockError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 1, insufficient.Available)
	assert.Equal(t, 2, insufficient.Requested)
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, 1, f.stockOf(t, p.ID))
}

func TestPlaceOrderDuplicateLinesRollBackDecrements(t *testing.T) {
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.conn, "Termo", 30000, 3)

	// each line passes the point-in-time check on its own; the guarded
	// decrement catches the combined quantity
	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: p.ID, Quantity: 2, Price: 1}, {ProductID: p.ID, Quantity: 2, Price: 1}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	assert.Equal(t, 3, f.stockOf(t, p.ID))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OutboxEvent{}))
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	f := newFixture(t)
	missing := uuid.New()

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: missing, Quantity: 1, Price: 1}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "cash",
	})
	var notFound *stock.ProductNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, missing, notFound.ProductID)
}

func TestPlaceOrderProductDeletedBeforeInsertIsConflict(t *testing.T) {
	var product models.Product
	f := newFixture(t, func(conn *gorm.DB, p *Params) {
		p.Tx = hookedTx{inner: db.Wrap(conn), after: func() {
			require.NoError(t, conn.Delete(&models.Product{}, "id = ?", product.ID).Error)
		}}
		p.Orders = rejectingOrders{
			Repository: orders.NewRepository(conn),
			err:        &pgconn.PgError{Code: "23503", ConstraintName: "order_line_items_product_id_fkey"},
		}
	})
	product = dbtest.SeedProduct(t, f.conn, "Mate", 1000, 5)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: product.ID, Quantity: 1, Price: 1000}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	var notFound *stock.ProductNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, product.ID, notFound.ProductID)
	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestPlaceOrderAddressDeletedBeforeInsertIsValidation(t *testing.T) {
	var addr models.Address
	f := newFixture(t, func(conn *gorm.DB, p *Params) {
		p.Tx = hookedTx{inner: db.Wrap(conn), before: func() {
			require.NoError(t, conn.Delete(&models.Address{}, "id = ?", addr.ID).Error)
		}}
	})
	userID := uuid.New()
	product := dbtest.SeedProduct(t, f.conn, "Yerba", 1500, 10)
	addr = dbtest.SeedAddress(t, f.conn, userID)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        userID,
		Items:         []LineItem{{ProductID: product.ID, Quantity: 2, Price: 1500}},
		DeliveryType:  enums.DeliveryTypeShipping,
		AddressID:     &addr.ID,
		PaymentMethod: "cash",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	var invalid *InvalidAddressError
	require.True(t, errors.As(err, &invalid))
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Equal(t, 10, f.stockOf(t, product.ID))
}

func TestPlaceOrderCheckViolationIsValidation(t *testing.T) {
	f := newFixture(t, func(conn *gorm.DB, p *Params) {
		p.Orders = rejectingOrders{
			Repository: orders.NewRepository(conn),
			err:        &pgconn.PgError{Code: "23514", ConstraintName: "orders_delivery_address_check"},
		}
	})
	product := dbtest.SeedProduct(t, f.conn, "Termo", 5000, 3)

	_, err := f.svc.PlaceOrder(context.Background(), PlaceOrderInput{
		UserID:        uuid.New(),
		Items:         []LineItem{{ProductID: product.ID, Quantity: 1, Price: 5000}},
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: "cash",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, 3, f.stockOf(t, product.ID))
}

func TestPlaceOrderDeliveryAddressRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	p := dbtest.SeedProduct(t, f.conn, "Yerba", 1500, 10)
	items := []LineItem{{ProductID: p.ID, Quantity: 1, Price: 1500}}
	someoneElses := dbtest.SeedAddress(t, f.conn, uuid.New())
	mine := dbtest.SeedAddress(t, f.conn, userID)

	_, err := f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, Items: items, DeliveryType: enums.DeliveryTypeShipping, PaymentMethod: "cash"})
	var invalid *InvalidAddressError
	require.True(t, errors.As(err, &invalid))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, Items: items, DeliveryType: enums.DeliveryTypeShipping, AddressID: &someoneElses.ID, PaymentMethod: "cash"})
	require.True(t, errors.As(err, &invalid))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, Items: items, DeliveryType: enums.DeliveryTypePickup, AddressID: &mine.ID, PaymentMethod: "cash"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: userID, Items: []LineItem{{ProductID: p.ID, Quantity: 0, Price: 1}}, DeliveryType: enums.DeliveryTypePickup, PaymentMethod: "cash"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Zero(t, f.count(t, &models.Order{}))
}

func TestStartHostedCheckoutBuildsPreference(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	p := dbtest.SeedProduct(t, f.conn, "Mate", 1000, 5)
	addr := dbtest.SeedAddress(t, f.conn, userID)

	res, err := f.svc.StartHostedCheckout(context.Background(), HostedCheckoutInput{
		UserID:       userID,
		Items:        []LineItem{{ProductID: p.ID, Quantity: 2, Price: 1000}},
		DeliveryType: enums.DeliveryTypeShipping,
		AddressID:    &addr.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mp.test/redirect/pref-1", res.RedirectURL)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, res.OrderID.String(), req.ExternalReference)
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Mate", req.Items[0].Title)
	assert.Equal(t, "Shipping", req.Items[1].Title)
	assert.Equal(t, int64(3990), req.Items[1].UnitPrice.IntPart())
	assert.Contains(t, req.BackURLs.Success, "order_id="+res.OrderID.String())
	assert.Contains(t, req.BackURLs.Pending, "order_id="+res.OrderID.String())
	assert.Equal(t, "https://api.shop.test/api/v1/webhooks/mercadopago", req.NotificationURL)

	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", res.OrderID).Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, "mercadopago", order.PaymentMethod)
	assert.Equal(t, int64(5990), order.TotalAmount)
}

func TestStartHostedCheckoutGatewayFailureKeepsPendingOrder(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("gateway down")
	p := dbtest.SeedProduct(t, f.conn, "Mate", 1000, 5)

	_, err := f.svc.StartHostedCheckout(context.Background(), HostedCheckoutInput{
		UserID:       uuid.New(),
		Items:        []LineItem{{ProductID: p.ID, Quantity: 1, Price: 1000}},
		DeliveryType: enums.DeliveryTypePickup,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	var order models.Order
	require.NoError(t, f.conn.First(&order).Error)
	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, 4, f.stockOf(t, p.ID))
}
