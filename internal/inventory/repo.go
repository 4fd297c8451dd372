package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
)

// Repository defines persistence operations for inventory rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
	DecrementAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error)
	IncrementAvailable(ctx context.Context, productID uuid.UUID, qty int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an inventory repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Find(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DecrementAvailable subtracts qty only when enough stock remains. The guard
// lives in the WHERE clause so concurrent checkouts cannot oversell.
func (r *repository) DecrementAvailable(ctx context.Context, productID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND available_qty >= ?
	`, qty, productID, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) IncrementAvailable(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
	`, qty, productID).Error
}
