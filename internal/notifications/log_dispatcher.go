package notifications

import (
	"context"

	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

type logDispatcher struct {
	logg *logger.Logger
}

// NewLogDispatcher emits notification events to the structured log. It stands
// in until a real email/push channel is wired behind the Dispatcher interface.
func NewLogDispatcher(logg *logger.Logger) Dispatcher {
	return &logDispatcher{logg: logg}
}

func (d *logDispatcher) OrderCreated(ctx context.Context, order *models.Order) {
	ctx = d.logg.WithOrderID(ctx, order.ID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event":        "order.created",
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount(),
		"total_items":  order.TotalItems(),
	})
	d.logg.Info(ctx, "notification dispatched")
}

func (d *logDispatcher) OrderCancelled(ctx context.Context, order *models.Order) {
	ctx = d.logg.WithOrderID(ctx, order.ID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event":   "order.cancelled",
		"user_id": order.UserID,
	})
	d.logg.Info(ctx, "notification dispatched")
}

func (d *logDispatcher) OrderStatusChanged(ctx context.Context, order *models.Order, from enums.OrderStatus) {
	ctx = d.logg.WithOrderID(ctx, order.ID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event":   "order.status_changed",
		"user_id": order.UserID,
		"from":    from,
		"to":      order.Status,
	})
	d.logg.Info(ctx, "notification dispatched")
}

func (d *logDispatcher) PaymentSucceeded(ctx context.Context, order *models.Order, payment *models.Payment) {
	ctx = d.logg.WithOrderID(ctx, order.ID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event":      "payment.succeeded",
		"user_id":    order.UserID,
		"payment_id": payment.ID,
		"amount":     payment.Amount,
		"currency":   payment.Currency,
	})
	d.logg.Info(ctx, "notification dispatched")
}

func (d *logDispatcher) PaymentFailed(ctx context.Context, payment *models.Payment) {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event":      "payment.failed",
		"payment_id": payment.ID,
		"order_id":   payment.OrderID,
		"reason":     payment.FailureMessage,
	})
	d.logg.Warn(ctx, "notification dispatched")
}
