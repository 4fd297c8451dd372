package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
)

// DecrementRequest is one (product, qty) pair a checkout wants to commit.
type DecrementRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// Ledger owns all stock mutations. Decrements are conditional so the
// available quantity can never go negative.
type Ledger interface {
	Decrement(ctx context.Context, tx *gorm.DB, requests []DecrementRequest) error
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Available(ctx context.Context, productID uuid.UUID) (int, error)
}

type ledger struct {
	repo Repository
}

// NewLedger builds the inventory ledger with the required dependencies.
func NewLedger(repo Repository) (Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &ledger{repo: repo}, nil
}

// Decrement commits the requested quantities inside the caller's transaction.
// The first product without enough stock aborts the whole batch; the
// surrounding transaction rollback undoes any earlier decrements.
func (l *ledger) Decrement(ctx context.Context, tx *gorm.DB, requests []DecrementRequest) error {
	repo := l.repo.WithTx(tx)
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
		}

		ok, err := repo.DecrementAvailable(ctx, req.ProductID, req.Qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decrement inventory")
		}
		if !ok {
			available := 0
			if item, err := repo.Find(ctx, req.ProductID); err == nil {
				available = item.AvailableQty
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
				WithDetails(map[string]any{
					"product_id": req.ProductID,
					"available":  available,
					"requested":  req.Qty,
				})
		}
	}
	return nil
}

// Release returns stock, for example when a cancelled order restocks.
func (l *ledger) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	repo := l.repo.WithTx(tx)
	if err := repo.IncrementAvailable(ctx, productID, qty); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release inventory")
	}
	return nil
}

// Available reads the current stock level for a product.
func (l *ledger) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	item, err := l.repo.Find(ctx, productID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory item")
	}
	return item.AvailableQty, nil
}
