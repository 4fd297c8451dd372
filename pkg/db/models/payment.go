package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
)

// Payment tracks the single gateway charge attempt for an order. Amount and
// currency are fixed when the intent is created; only reconciliation against
// the gateway mutates the row afterwards.
type Payment struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID uuid.UUID `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`

	// Gateway identifiers, opaque to this core.
	GatewayIntentID string `gorm:"column:gateway_intent_id;not null;uniqueIndex"`
	ClientSecret    string `gorm:"column:client_secret"`

	Amount   decimal.Decimal     `gorm:"column:amount;type:numeric(10,2);not null"`
	Currency enums.Currency      `gorm:"column:currency;not null;default:'usd'"`
	Status   enums.PaymentStatus `gorm:"column:status;not null;default:'PENDING'"`

	PaymentMethodType  string `gorm:"column:payment_method_type"`
	PaymentMethodLast4 string `gorm:"column:payment_method_last4"`
	FailureMessage     string `gorm:"column:failure_message"`

	PaidAt    *time.Time `gorm:"column:paid_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsPaid reports whether the gateway confirmed the charge.
func (p *Payment) IsPaid() bool {
	return p.Status == enums.PaymentStatusSucceeded
}
