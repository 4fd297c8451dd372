package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartItem is one (product, quantity) line. PriceAtAdd is the effective price
// snapshotted when the line was first created; it is never refreshed, even
// when the catalog price changes afterwards.
type CartItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID     uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_product"`
	ProductID  uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_cart_product"`
	Product    *Product        `gorm:"foreignKey:ProductID"`
	Quantity   int             `gorm:"column:quantity;not null;default:1"`
	PriceAtAdd decimal.Decimal `gorm:"column:price_at_add;type:numeric(10,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Subtotal is quantity times the snapshot price.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.PriceAtAdd.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
