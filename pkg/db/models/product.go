package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is the catalog listing the checkout core reads. The catalog service
// owns writes; this core only consumes id, name, sku, active flag and price,
// plus the inventory row's stock.
type Product struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string           `gorm:"column:name;not null"`
	SKU           string           `gorm:"column:sku;not null"`
	Description   *string          `gorm:"column:description"`
	Price         decimal.Decimal  `gorm:"column:price;type:numeric(10,2);not null"`
	DiscountPrice *decimal.Decimal `gorm:"column:discount_price;type:numeric(10,2)"`
	IsActive      bool             `gorm:"column:is_active;not null;default:true"`
	Inventory     *InventoryItem   `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectivePrice returns the discount price when one is set, otherwise the
// regular price. This is the value snapshotted into cart lines.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil && p.DiscountPrice.IsPositive() {
		return *p.DiscountPrice
	}
	return p.Price
}
