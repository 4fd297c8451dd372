package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem snapshots a cart line at order time. ProductID is a weak
// reference: deleting the product nulls it, and the carried name/SKU/price
// keep historical orders intact.
type OrderItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   *uuid.UUID      `gorm:"column:product_id;type:uuid"`
	ProductName string          `gorm:"column:product_name;not null"`
	ProductSKU  string          `gorm:"column:product_sku"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	Quantity    int             `gorm:"column:quantity;not null;default:1"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Subtotal is quantity times the snapshot price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
