package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is one purchase attempt. TotalAmount is in whole currency units.
type Order struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	UserID            uuid.UUID          `gorm:"column:user_id;type:uuid;not null"`
	TotalAmount       int64              `gorm:"column:total_amount;not null"`
	DeliveryType      enums.DeliveryType `gorm:"column:delivery_type;type:text;not null"`
	AddressID         *uuid.UUID         `gorm:"column:address_id;type:uuid"`
	PaymentMethod     string             `gorm:"column:payment_method;not null"`
	Status            enums.OrderStatus  `gorm:"column:status;type:text;not null;default:'pending'"`
	ExternalPaymentID *string            `gorm:"column:external_payment_id"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	Items             []OrderLineItem    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
