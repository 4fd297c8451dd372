package notifications

import (
	"context"

	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
)

// Dispatcher fans order and payment events out to shoppers. Delivery is best
// effort: implementations must never fail the calling operation, so the
// methods return nothing and implementations log their own errors.
type Dispatcher interface {
	OrderCreated(ctx context.Context, order *models.Order)
	OrderCancelled(ctx context.Context, order *models.Order)
	OrderStatusChanged(ctx context.Context, order *models.Order, from enums.OrderStatus)
	PaymentSucceeded(ctx context.Context, order *models.Order, payment *models.Payment)
	PaymentFailed(ctx context.Context, payment *models.Payment)
}
