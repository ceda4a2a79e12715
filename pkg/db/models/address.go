package models

import (
	"time"

	"github.com/google/uuid"
)

// Address is owned by the address book service; orders only reference it.
type Address struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	Street     string    `gorm:"column:street;not null"`
	City       string    `gorm:"column:city;not null"`
	PostalCode string    `gorm:"column:postal_code"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Address) TableName() string { return "addresses" }
