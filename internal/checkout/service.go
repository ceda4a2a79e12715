package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/mercadopago"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

const shippingLineTitle = "Shipping"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockValidator interface {
	Validate(ctx context.Context, items []stock.Item) error
}

type addressLookup interface {
	Exists(ctx context.Context, id, userID uuid.UUID) (bool, error)
}

// PaymentGateway opens hosted checkout sessions.
type PaymentGateway interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

type metricsRecorder interface {
	OrderCreated(paymentMethod string)
}

// Service turns a cart into a persisted order.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error)
	StartHostedCheckout(ctx context.Context, input HostedCheckoutInput) (*HostedCheckoutResult, error)
}

// Params groups the collaborators of NewService. Gateway and Metrics may be
// nil; hosted checkout then reports the gateway as unavailable.
type Params struct {
	Tx        txRunner
	Validator stockValidator
	Inventory *products.Repository
	Orders    orders.Repository
	Addresses addressLookup
	Outbox    outbox.Emitter
	Gateway   PaymentGateway
	Metrics   metricsRecorder
	Config    Config
	Logger    *logger.Logger
}

type service struct {
	tx        txRunner
	validator stockValidator
	inventory *products.Repository
	orders    orders.Repository
	addresses addressLookup
	outbox    outbox.Emitter
	gateway   PaymentGateway
	metrics   metricsRecorder
	cfg       Config
	logg      *logger.Logger
}

func NewService(p Params) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Validator == nil {
		return nil, fmt.Errorf("stock validator required")
	}
	if p.Inventory == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if p.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Addresses == nil {
		return nil, fmt.Errorf("address lookup required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if p.Config.ShippingCost < 0 {
		return nil, fmt.Errorf("shipping cost must not be negative")
	}
	if p.Config.Currency == "" {
		p.Config.Currency = "ARS"
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &service{
		tx:        p.Tx,
		validator: p.Validator,
		inventory: p.Inventory,
		orders:    p.Orders,
		addresses: p.Addresses,
		outbox:    p.Outbox,
		gateway:   p.Gateway,
		metrics:   p.Metrics,
		cfg:       p.Config,
		logg:      p.Logger,
	}, nil
}

// draft is a validated, priced checkout ready to persist.
type draft struct {
	userID    uuid.UUID
	items     []LineItem
	delivery  enums.DeliveryType
	addressID *uuid.UUID
	totals    Totals
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlaceOrderResult, error) {
	method := enums.PaymentMethod(strings.TrimSpace(input.PaymentMethod))
	if method == "" {
		return nil, invalidField("payment_method", "is required")
	}

	d, err := s.prepare(ctx, input.UserID, input.Items, input.DeliveryType, input.AddressID)
	if err != nil {
		return nil, err
	}

	status, reference := InitialPayment(method)
	order, err := s.persist(ctx, d, method, status, reference)
	if err != nil {
		return nil, err
	}

	return &PlaceOrderResult{
		OrderID:           order.ID,
		Status:            order.Status,
		Total:             order.TotalAmount,
		ExternalPaymentID: order.ExternalPaymentID,
	}, nil
}

// StartHostedCheckout creates the order before contacting the gateway so the
// order id can travel as the external reference. A gateway failure leaves the
// order pending.
func (s *service) StartHostedCheckout(ctx context.Context, input HostedCheckoutInput) (*HostedCheckoutResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "hosted checkout is not configured")
	}

	d, err := s.prepare(ctx, input.UserID, input.Items, input.DeliveryType, input.AddressID)
	if err != nil {
		return nil, err
	}

	order, err := s.persist(ctx, d, enums.PaymentMethodMercadoPago, enums.OrderStatusPending, nil)
	if err != nil {
		return nil, err
	}

	req, err := s.buildPreference(ctx, order, d)
	if err != nil {
		return nil, err
	}

	pref, err := s.gateway.CreatePreference(ctx, req)
	if err != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		s.logg.Error(logCtx, "checkout.preference_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create hosted checkout session")
	}

	return &HostedCheckoutResult{
		OrderID:      order.ID,
		RedirectURL:  pref.RedirectURL(),
		PreferenceID: pref.ID,
	}, nil
}

func (s *service) prepare(ctx context.Context, userID uuid.UUID, items []LineItem, delivery enums.DeliveryType, addressID *uuid.UUID) (*draft, error) {
	if len(items) == 0 {
		return nil, emptyCart()
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	for i, item := range items {
		switch {
		case item.ProductID == uuid.Nil:
			return nil, invalidField(fmt.Sprintf("items[%d].product_id", i), "is required")
		case item.Quantity < 1:
			return nil, invalidField(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		case item.Price < 0:
			return nil, invalidField(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
	}
	if !delivery.IsValid() {
		return nil, invalidField("delivery_type", "must be one of shipping, pickup")
	}
	if delivery.RequiresAddress() && addressID == nil {
		return nil, invalidAddress(nil)
	}
	if !delivery.RequiresAddress() && addressID != nil {
		return nil, invalidField("address_id", "must be empty for pickup delivery")
	}

	checks := make([]stock.Item, 0, len(items))
	for _, item := range items {
		checks = append(checks, stock.Item{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.validator.Validate(ctx, checks); err != nil {
		return nil, err
	}

	if addressID != nil {
		ok, err := s.addresses.Exists(ctx, *addressID, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup address")
		}
		if !ok {
			return nil, invalidAddress(addressID)
		}
	}

	totals, err := ComputeTotals(items, delivery, s.cfg.ShippingCost)
	if err != nil {
		return nil, err
	}

	return &draft{
		userID:    userID,
		items:     items,
		delivery:  delivery,
		addressID: addressID,
		totals:    totals,
	}, nil
}

// persist decrements stock, writes the order and queues order.created in one
// transaction. The guarded decrement closes the gap between the stock check
// and the write.
func (s *service) persist(ctx context.Context, d *draft, method enums.PaymentMethod, status enums.OrderStatus, reference *string) (*models.Order, error) {
	order := &models.Order{
		UserID:            d.userID,
		TotalAmount:       d.totals.Total,
		DeliveryType:      d.delivery,
		AddressID:         d.addressID,
		PaymentMethod:     string(method),
		Status:            status,
		ExternalPaymentID: reference,
		Items:             make([]models.OrderLineItem, 0, len(d.items)),
	}
	for _, item := range d.items {
		order.Items = append(order.Items, models.OrderLineItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		inventory := s.inventory.WithTx(tx)
		for _, item := range d.items {
			ok, err := inventory.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return s.lostStockRace(ctx, inventory, item)
			}
		}

		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: &d.userID, Role: string(enums.UserRoleCustomer)},
			Data:          createdPayload(order),
		})
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, s.constraintFailure(ctx, d, err)
	}

	if s.metrics != nil {
		s.metrics.OrderCreated(method.MetricLabel())
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":       order.ID.String(),
		"payment_method": method.MetricLabel(),
		"status":         order.Status,
		"total":          order.TotalAmount,
	})
	s.logg.Info(logCtx, "checkout.order_created")
	return order, nil
}

// constraintFailure classifies an insert rejected by the database after the
// transaction rolled back. A foreign key failure means a product or address
// vanished after validation.
func (s *service) constraintFailure(ctx context.Context, d *draft, err error) error {
	switch {
	case db.IsForeignKeyViolation(err):
		for _, item := range d.items {
			_, lookupErr := s.inventory.FindByID(ctx, item.ProductID)
			if errors.Is(lookupErr, gorm.ErrRecordNotFound) {
				return productGone(item.ProductID)
			}
		}
		if d.addressID != nil {
			ok, lookupErr := s.addresses.Exists(ctx, *d.addressID, d.userID)
			if lookupErr == nil && !ok {
				return invalidAddress(d.addressID)
			}
		}
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order references a record that no longer exists")
	case db.IsCheckViolation(err):
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order violates a data constraint")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
	}
}

func (s *service) lostStockRace(ctx context.Context, inventory *products.Repository, item LineItem) error {
	product, err := inventory.FindByID(ctx, item.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return productGone(item.ProductID)
	}
	if err != nil {
		return err
	}
	return stock.InsufficientStock(&stock.InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.Stock,
		Requested:   item.Quantity,
	})
}

func (s *service) buildPreference(ctx context.Context, order *models.Order, d *draft) (mercadopago.PreferenceRequest, error) {
	ids := make([]uuid.UUID, 0, len(d.items))
	for _, item := range d.items {
		ids = append(ids, item.ProductID)
	}
	rows, err := s.inventory.GetProductsByIDs(ctx, ids)
	if err != nil {
		return mercadopago.PreferenceRequest{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product titles")
	}
	titles := make(map[uuid.UUID]string, len(rows))
	for _, row := range rows {
		titles[row.ID] = row.Name
	}

	lines := make([]mercadopago.PreferenceItem, 0, len(d.items)+1)
	for _, item := range d.items {
		title := titles[item.ProductID]
		if title == "" {
			title = item.ProductID.String()
		}
		lines = append(lines, mercadopago.PreferenceItem{
			ID:         item.ProductID.String(),
			Title:      title,
			Quantity:   item.Quantity,
			UnitPrice:  decimal.NewFromInt(item.Price),
			CurrencyID: s.cfg.Currency,
		})
	}
	if d.totals.Shipping > 0 {
		lines = append(lines, mercadopago.PreferenceItem{
			ID:         "shipping",
			Title:      shippingLineTitle,
			Quantity:   1,
			UnitPrice:  decimal.NewFromInt(d.totals.Shipping),
			CurrencyID: s.cfg.Currency,
		})
	}

	orderID := order.ID.String()
	req := mercadopago.PreferenceRequest{
		Items:             lines,
		ExternalReference: orderID,
		BackURLs: mercadopago.BackURLs{
			Success: withOrderID(s.cfg.SuccessURL, orderID),
			Failure: withOrderID(s.cfg.FailureURL, orderID),
			Pending: withOrderID(s.cfg.PendingURL, orderID),
		},
		NotificationURL: s.cfg.NotificationURL,
	}
	if req.BackURLs.Success != "" {
		req.AutoReturn = "approved"
	}
	return req, nil
}

// withOrderID appends order_id to a return URL, keeping any query it already
// has. Unparseable or empty URLs are returned unchanged.
func withOrderID(raw, orderID string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func createdPayload(order *models.Order) outbox.OrderCreatedEvent {
	items := make([]outbox.OrderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, outbox.OrderItemPayload{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return outbox.OrderCreatedEvent{
		OrderID:           order.ID,
		UserID:            order.UserID,
		TotalAmount:       order.TotalAmount,
		DeliveryType:      string(order.DeliveryType),
		PaymentMethod:     order.PaymentMethod,
		Status:            string(order.Status),
		ExternalPaymentID: order.ExternalPaymentID,
		Items:             items,
	}
}
