package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/internal/notifications"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
	"github.com/shoplane-labs/shoplane-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InventoryReleaser returns stock when a cancelled order restocks.
type InventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
}

// AdvanceInput carries the data for an operator-driven status change.
type AdvanceInput struct {
	OrderID        uuid.UUID
	Target         enums.OrderStatus
	TrackingNumber *string
}

// Service defines order lifecycle operations.
type Service interface {
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	Advance(ctx context.Context, input AdvanceInput) (*models.Order, error)
}

type service struct {
	repo            Repository
	tx              txRunner
	inventory       InventoryReleaser
	dispatcher      notifications.Dispatcher
	restockOnCancel bool
}

// NewService builds an order lifecycle service with the required dependencies.
func NewService(repo Repository, tx txRunner, inventory InventoryReleaser, dispatcher notifications.Dispatcher, restockOnCancel bool) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	return &service{
		repo:            repo,
		tx:              tx,
		inventory:       inventory,
		dispatcher:      dispatcher,
		restockOnCancel: restockOnCancel,
	}, nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	rows, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}

	page, more := pagination.TrimPage(rows, params.Limit)
	list := &OrderList{Orders: page}
	if more && len(page) > 0 {
		last := page[len(page)-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

// Get returns the order only when it belongs to the user. Orders owned by
// someone else surface as not found rather than forbidden.
func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.repo.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Cancel moves the order to CANCELLED when its current status allows it.
// Shipped, delivered and already cancelled orders reject the transition.
func (s *service) Cancel(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var cancelled *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByIDAndUser(ctx, orderID, userID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if err := checkTransition(order.Status, enums.OrderStatusCancelled); err != nil {
			return err
		}

		if s.restockOnCancel {
			for _, item := range order.Items {
				if item.ProductID == nil || item.Quantity <= 0 {
					continue
				}
				if err := s.inventory.Release(ctx, tx, *item.ProductID, item.Quantity); err != nil {
					return err
				}
			}
		}

		if err := repo.UpdateStatus(ctx, order.ID, enums.OrderStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		order.Status = enums.OrderStatusCancelled
		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.OrderCancelled(ctx, cancelled)
	return cancelled, nil
}

// Advance is the operator path for moving an order through its lifecycle.
// Shipping requires a tracking number.
func (s *service) Advance(ctx context.Context, input AdvanceInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	var updated *models.Order
	var from enums.OrderStatus
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByID(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status == input.Target {
			updated = order
			from = order.Status
			return nil
		}
		if err := checkTransition(order.Status, input.Target); err != nil {
			return err
		}

		updates := map[string]any{"status": input.Target}
		if input.Target == enums.OrderStatusShipped {
			if input.TrackingNumber == nil || *input.TrackingNumber == "" {
				return pkgerrors.New(pkgerrors.CodeValidation, "tracking number required to ship")
			}
			updates["tracking_number"] = *input.TrackingNumber
		}

		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}

		from = order.Status
		order.Status = input.Target
		if input.TrackingNumber != nil {
			order.TrackingNumber = *input.TrackingNumber
		}
		updated = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != from {
		s.dispatcher.OrderStatusChanged(ctx, updated, from)
	}
	return updated, nil
}

func checkTransition(from, to enums.OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order status transition not allowed").
			WithDetails(map[string]any{"from": from, "to": to})
	}
	return nil
}
