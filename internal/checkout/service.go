package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/internal/cart"
	"github.com/shoplane-labs/shoplane-backend/internal/catalog"
	"github.com/shoplane-labs/shoplane-backend/internal/inventory"
	"github.com/shoplane-labs/shoplane-backend/internal/notifications"
	"github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockDecrementer interface {
	Decrement(ctx context.Context, tx *gorm.DB, requests []inventory.DecrementRequest) error
}

// Input captures the shipping details collected at checkout.
type Input struct {
	ShippingAddress    string
	ShippingCity       string
	ShippingPostalCode string
	ShippingCountry    string
	Notes              string
}

// Service turns a cart into an order atomically.
type Service interface {
	Execute(ctx context.Context, userID uuid.UUID, input Input) (*models.Order, error)
}

type service struct {
	tx          txRunner
	cartRepo    cart.Repository
	ordersRepo  orders.Repository
	catalogRepo catalog.Repository
	stock       stockDecrementer
	dispatcher  notifications.Dispatcher
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	cartRepo cart.Repository,
	ordersRepo orders.Repository,
	catalogRepo catalog.Repository,
	stock stockDecrementer,
	dispatcher notifications.Dispatcher,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	return &service{
		tx:          tx,
		cartRepo:    cartRepo,
		ordersRepo:  ordersRepo,
		catalogRepo: catalogRepo,
		stock:       stock,
		dispatcher:  dispatcher,
	}, nil
}

// Execute validates the user's cart, commits the stock decrements, snapshots
// the lines into a new PENDING order and clears the cart. All of it happens
// in one transaction; a stock shortfall on any line aborts the whole
// checkout.
func (s *service) Execute(ctx context.Context, userID uuid.UUID, input Input) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if strings.TrimSpace(input.ShippingAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address required")
	}
	if strings.TrimSpace(input.ShippingCity) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping city required")
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		cartRepo := s.cartRepo.WithTx(tx)
		ordersRepo := s.ordersRepo.WithTx(tx)

		record, err := cartRepo.FindByUser(ctx, userID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		// re-validate against the catalog's current rows, not the state the
		// lines were added under
		ids := make([]uuid.UUID, 0, len(record.Items))
		for _, line := range record.Items {
			ids = append(ids, line.ProductID)
		}
		products, err := s.catalogRepo.WithTx(tx).FindByIDs(ctx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		byID := make(map[uuid.UUID]*models.Product, len(products))
		for i := range products {
			byID[products[i].ID] = &products[i]
		}

		requests := make([]inventory.DecrementRequest, 0, len(record.Items))
		for _, line := range record.Items {
			product, ok := byID[line.ProductID]
			if !ok || !product.IsActive {
				return pkgerrors.New(pkgerrors.CodeValidation, "product is unavailable").
					WithDetails(map[string]any{"product_id": line.ProductID})
			}
			requests = append(requests, inventory.DecrementRequest{
				ProductID: line.ProductID,
				Qty:       line.Quantity,
			})
		}

		if err := s.stock.Decrement(ctx, tx, requests); err != nil {
			return err
		}

		country := strings.TrimSpace(input.ShippingCountry)
		if country == "" {
			country = "USA"
		}
		order, err := ordersRepo.Create(ctx, &models.Order{
			UserID:             userID,
			Status:             enums.OrderStatusPending,
			ShippingAddress:    strings.TrimSpace(input.ShippingAddress),
			ShippingCity:       strings.TrimSpace(input.ShippingCity),
			ShippingPostalCode: strings.TrimSpace(input.ShippingPostalCode),
			ShippingCountry:    country,
			Notes:              strings.TrimSpace(input.Notes),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		items := make([]models.OrderItem, 0, len(record.Items))
		for _, line := range record.Items {
			productID := line.ProductID
			product := byID[line.ProductID]
			items = append(items, models.OrderItem{
				OrderID:     order.ID,
				ProductID:   &productID,
				ProductName: product.Name,
				ProductSKU:  product.SKU,
				Price:       line.PriceAtAdd,
				Quantity:    line.Quantity,
			})
		}
		if err := ordersRepo.CreateItems(ctx, items); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
		}

		if err := cartRepo.DeleteItemsByCart(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		order.Items = items
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.OrderCreated(ctx, result)
	return result, nil
}
