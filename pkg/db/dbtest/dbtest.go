// Package dbtest opens throwaway sqlite databases that mirror the postgres
// schema closely enough for repository tests.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price INTEGER NOT NULL CHECK (price >= 0),
  stock INTEGER NOT NULL DEFAULT 0 CHECK (stock >= 0),
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS addresses (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  street TEXT NOT NULL,
  city TEXT NOT NULL,
  postal_code TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  total_amount INTEGER NOT NULL CHECK (total_amount >= 0),
  delivery_type TEXT NOT NULL CHECK (delivery_type IN ('shipping', 'pickup')),
  address_id TEXT REFERENCES addresses(id),
  payment_method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending'
    CHECK (status IN ('pending', 'paid', 'shipped', 'delivered', 'cancelled')),
  external_payment_id TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT orders_delivery_address_check CHECK (
    (delivery_type = 'shipping' AND address_id IS NOT NULL)
    OR (delivery_type = 'pickup' AND address_id IS NULL)
  )
);
CREATE TABLE IF NOT EXISTS order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id TEXT NOT NULL REFERENCES products(id),
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  unit_price INTEGER NOT NULL CHECK (unit_price >= 0),
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  quantity INTEGER NOT NULL CHECK (quantity >= 1),
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT cart_items_user_product_key UNIQUE (user_id, product_id)
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
`

// Open returns an in-memory database private to the calling test, with the
// storefront schema and foreign keys enabled.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + name + "?mode=memory&cache=shared&_foreign_keys=on"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// SeedProduct inserts a catalog row.
func SeedProduct(t *testing.T, conn *gorm.DB, name string, price int64, stock int) models.Product {
	t.Helper()
	product := models.Product{ID: uuid.New(), Name: name, Price: price, Stock: stock}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// SeedAddress inserts an address owned by userID.
func SeedAddress(t *testing.T, conn *gorm.DB, userID uuid.UUID) models.Address {
	t.Helper()
	address := models.Address{ID: uuid.New(), UserID: userID, Street: "Av. Corrientes 1234", City: "Buenos Aires"}
	if err := conn.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return address
}

// SeedOrder inserts an order with one line item per product.
func SeedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, status enums.OrderStatus, createdAt time.Time, products ...models.Product) models.Order {
	t.Helper()
	if status == "" {
		status = enums.OrderStatusPending
	}
	order := models.Order{
		ID:            uuid.New(),
		UserID:        userID,
		DeliveryType:  enums.DeliveryTypePickup,
		PaymentMethod: string(enums.PaymentMethodMercadoPago),
		Status:        status,
		CreatedAt:     createdAt,
	}
	for _, p := range products {
		order.Items = append(order.Items, models.OrderLineItem{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price})
		order.TotalAmount += p.Price
	}
	if err := conn.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}
