package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
)

// Order is the immutable result of a checkout. Line items never change after
// creation; only Status (and the shipping tracking number) move.
type Order struct {
	ID     uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status enums.OrderStatus `gorm:"column:status;not null;default:'PENDING'"`

	ShippingAddress    string `gorm:"column:shipping_address;not null"`
	ShippingCity       string `gorm:"column:shipping_city;not null"`
	ShippingPostalCode string `gorm:"column:shipping_postal_code"`
	ShippingCountry    string `gorm:"column:shipping_country;not null;default:'USA'"`
	Notes              string `gorm:"column:notes"`
	TrackingNumber     string `gorm:"column:tracking_number"`

	Items   []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payment *Payment    `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TotalAmount sums line subtotals. Computed, never stored, so it cannot drift
// from the lines.
func (o *Order) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// TotalItems sums line quantities.
func (o *Order) TotalItems() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}
