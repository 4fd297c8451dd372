package cart

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Owner identifies who a cart belongs to. Exactly one of UserID and
// SessionToken must be set.
type Owner struct {
	UserID       *uuid.UUID
	SessionToken *string
}

func (o Owner) validate() error {
	hasUser := o.UserID != nil && *o.UserID != uuid.Nil
	hasSession := o.SessionToken != nil && *o.SessionToken != ""
	if hasUser == hasSession {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart owner must be a user or a session, not both")
	}
	return nil
}

// Service defines cart operations for identified and anonymous shoppers.
type Service interface {
	Get(ctx context.Context, owner Owner) (*models.Cart, error)
	AddItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error)
	UpdateItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error)
	RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, owner Owner) error
	Merge(ctx context.Context, sessionToken string, userID uuid.UUID) (*models.Cart, error)
}

type service struct {
	repo     Repository
	products productLoader
	tx       txRunner
}

// NewService builds a cart service with the required dependencies.
func NewService(repo Repository, products productLoader, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, products: products, tx: tx}, nil
}

// Get returns the owner's cart, creating an empty one on first use.
func (s *service) Get(ctx context.Context, owner Owner) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	return s.getOrCreate(ctx, s.repo, owner)
}

// AddItem appends a product line or bumps the quantity of an existing one.
// The effective price is snapshotted when the line is first created and is
// never refreshed afterwards.
func (s *service) AddItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		product, err := s.loadSellableProduct(ctx, productID)
		if err != nil {
			return err
		}

		cart, err := s.getOrCreate(ctx, repo, owner)
		if err != nil {
			return err
		}

		existing, err := repo.FindItem(ctx, cart.ID, productID)
		if err != nil && err != gorm.ErrRecordNotFound {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}

		requested := qty
		if existing != nil {
			requested += existing.Quantity
		}
		if err := checkStock(product, productID, requested); err != nil {
			return err
		}

		if existing != nil {
			if err := repo.UpdateItemQuantity(ctx, existing.ID, requested); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
			return nil
		}

		_, err = repo.CreateItem(ctx, &models.CartItem{
			CartID:     cart.ID,
			ProductID:  productID,
			Quantity:   qty,
			PriceAtAdd: product.EffectivePrice(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, owner)
}

// UpdateItem sets the absolute quantity of an existing line.
func (s *service) UpdateItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findCart(ctx, repo, owner)
		if err != nil {
			return err
		}

		existing, err := repo.FindItem(ctx, cart.ID, productID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}

		product, err := s.loadSellableProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := checkStock(product, productID, qty); err != nil {
			return err
		}

		if err := repo.UpdateItemQuantity(ctx, existing.ID, qty); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, owner)
}

// RemoveItem drops a line from the cart. Removing an absent line is a no-op.
func (s *service) RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findCart(ctx, repo, owner)
		if err != nil {
			return err
		}

		existing, err := repo.FindItem(ctx, cart.ID, productID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}
		if err := repo.DeleteItem(ctx, existing.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, owner)
}

// Clear removes every line from the owner's cart.
func (s *service) Clear(ctx context.Context, owner Owner) error {
	if err := owner.validate(); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := s.findCart(ctx, repo, owner)
		if err != nil {
			return err
		}
		if err := repo.DeleteItemsByCart(ctx, cart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}
		return nil
	})
}

// Merge folds an anonymous session cart into the user's cart after sign-in.
// Lines for the same product sum their quantities and keep the user cart's
// price snapshot; lines only in the session cart move across unchanged. The
// session cart is deleted afterwards.
func (s *service) Merge(ctx context.Context, sessionToken string, userID uuid.UUID) (*models.Cart, error) {
	if sessionToken == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session token required")
	}
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		sessionCart, err := repo.FindBySession(ctx, sessionToken)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load session cart")
		}

		userCart, err := s.getOrCreate(ctx, repo, Owner{UserID: &userID})
		if err != nil {
			return err
		}

		for _, line := range sessionCart.Items {
			existing, err := repo.FindItem(ctx, userCart.ID, line.ProductID)
			if err != nil && err != gorm.ErrRecordNotFound {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user cart item")
			}
			if existing != nil {
				if err := repo.UpdateItemQuantity(ctx, existing.ID, existing.Quantity+line.Quantity); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge cart item")
				}
				continue
			}
			_, err = repo.CreateItem(ctx, &models.CartItem{
				CartID:     userCart.ID,
				ProductID:  line.ProductID,
				Quantity:   line.Quantity,
				PriceAtAdd: line.PriceAtAdd,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "move cart item")
			}
		}

		if err := repo.DeleteItemsByCart(ctx, sessionCart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop session cart items")
		}
		if err := repo.DeleteCart(ctx, sessionCart.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop session cart")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, Owner{UserID: &userID})
}

func (s *service) getOrCreate(ctx context.Context, repo Repository, owner Owner) (*models.Cart, error) {
	cart, err := s.findCartRaw(ctx, repo, owner)
	if err == nil {
		return cart, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	created, err := repo.Create(ctx, &models.Cart{
		UserID:       owner.UserID,
		SessionToken: owner.SessionToken,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return created, nil
}

func (s *service) findCart(ctx context.Context, repo Repository, owner Owner) (*models.Cart, error) {
	cart, err := s.findCartRaw(ctx, repo, owner)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) findCartRaw(ctx context.Context, repo Repository, owner Owner) (*models.Cart, error) {
	if owner.UserID != nil {
		return repo.FindByUser(ctx, *owner.UserID)
	}
	return repo.FindBySession(ctx, *owner.SessionToken)
}

func (s *service) loadSellableProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is unavailable").
			WithDetails(map[string]any{"product_id": productID})
	}
	return product, nil
}

func checkStock(product *models.Product, productID uuid.UUID, requested int) error {
	available := 0
	if product.Inventory != nil {
		available = product.Inventory.AvailableQty
	}
	if requested > available {
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
			WithDetails(map[string]any{
				"product_id": productID,
				"available":  available,
				"requested":  requested,
			})
	}
	return nil
}
