package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks the available stock per product. The only writer in
// this core is the inventory ledger's conditional decrement.
type InventoryItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
