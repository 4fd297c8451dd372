package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/internal/notifications"
	"github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the payment intent lifecycle for orders.
type Service interface {
	CreateIntent(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error)
	Reconcile(ctx context.Context, userID uuid.UUID, intentID string) (*models.Payment, error)
	Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
}

type service struct {
	repo       Repository
	ordersRepo orders.Repository
	tx         txRunner
	gateway    StripeIntentClient
	dispatcher notifications.Dispatcher
	logg       *logger.Logger
	currency   enums.Currency
}

// NewService builds the payment service with the required dependencies.
func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	tx txRunner,
	gateway StripeIntentClient,
	dispatcher notifications.Dispatcher,
	logg *logger.Logger,
	currency enums.Currency,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("invalid currency %q", currency)
	}
	return &service{
		repo:       repo,
		ordersRepo: ordersRepo,
		tx:         tx,
		gateway:    gateway,
		dispatcher: dispatcher,
		logg:       logg,
		currency:   currency,
	}, nil
}

// CreateIntent opens a gateway payment intent for the order. The call is
// idempotent: a pending intent is handed back unchanged, a settled one
// rejects the request.
func (s *service) CreateIntent(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error) {
	order, err := s.loadOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cancelled order cannot be paid")
	}

	existing, err := s.repo.FindByOrder(ctx, order.ID)
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if existing != nil {
		if existing.IsPaid() {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
		}
		return existing, nil
	}

	amount := order.TotalAmount()
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount.Shift(2).IntPart()),
		Currency: stripe.String(s.currency.String()),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("order_id", order.ID.String())

	intent, err := s.gateway.Create(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	payment, err := s.repo.Create(ctx, &models.Payment{
		OrderID:         order.ID,
		GatewayIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          amount,
		Currency:        s.currency,
		Status:          enums.PaymentStatusPending,
	})
	if err != nil {
		// a concurrent request won the unique order_id race; reuse its row
		if db.IsUniqueViolation(err, "idx_payments_order_id") {
			return s.Get(ctx, userID, orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment")
	}
	return payment, nil
}

// Reconcile pulls the intent's current state from the gateway and folds it
// into the local payment and order rows. The lookup is keyed on the gateway
// intent id; an intent owned by someone else reads the same as one that does
// not exist.
func (s *service) Reconcile(ctx context.Context, userID uuid.UUID, intentID string) (*models.Payment, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent id required")
	}

	payment, err := s.repo.FindByIntentID(ctx, intentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}

	order, err := s.ordersRepo.FindByIDAndUser(ctx, payment.OrderID, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if payment.IsPaid() {
		return payment, nil
	}

	params := &stripe.PaymentIntentParams{}
	params.AddExpand("latest_charge")
	intent, err := s.gateway.Get(ctx, payment.GatewayIntentID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch payment intent")
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return s.settle(ctx, order, payment, intent)

	case stripe.PaymentIntentStatusProcessing:
		if err := s.repo.Update(ctx, payment.ID, map[string]any{
			"status": enums.PaymentStatusProcessing,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
		payment.Status = enums.PaymentStatusProcessing
		return payment, nil

	case stripe.PaymentIntentStatusRequiresPaymentMethod, stripe.PaymentIntentStatusCanceled:
		failure := ""
		if intent.LastPaymentError != nil {
			failure = intent.LastPaymentError.Msg
		}
		if err := s.repo.Update(ctx, payment.ID, map[string]any{
			"status":          enums.PaymentStatusFailed,
			"failure_message": failure,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}
		payment.Status = enums.PaymentStatusFailed
		payment.FailureMessage = failure
		s.dispatcher.PaymentFailed(ctx, payment)
		return payment, nil

	default:
		// intermediate gateway states (requires_confirmation, requires_action)
		// leave the local rows untouched
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithField(logCtx, "intent_status", string(intent.Status))
		s.logg.Warn(logCtx, "unmapped payment intent status, skipping reconcile")
		return payment, nil
	}
}

// Get returns the payment attached to the user's order.
func (s *service) Get(ctx context.Context, userID, orderID uuid.UUID) (*models.Payment, error) {
	order, err := s.loadOwnedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByOrder(ctx, order.ID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return payment, nil
}

// List returns every payment attached to the user's orders, newest first.
func (s *service) List(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	payments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return payments, nil
}

func (s *service) settle(ctx context.Context, order *models.Order, payment *models.Payment, intent *stripe.PaymentIntent) (*models.Payment, error) {
	now := time.Now().UTC()
	methodType, last4 := paymentMethodDescriptor(intent)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ordersRepo := s.ordersRepo.WithTx(tx)

		if err := repo.Update(ctx, payment.ID, map[string]any{
			"status":               enums.PaymentStatusSucceeded,
			"paid_at":              now,
			"payment_method_type":  methodType,
			"payment_method_last4": last4,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
		}

		if order.Status == enums.OrderStatusPending {
			if err := ordersRepo.UpdateStatus(ctx, order.ID, enums.OrderStatusProcessing); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
			}
			order.Status = enums.OrderStatusProcessing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	payment.Status = enums.PaymentStatusSucceeded
	payment.PaidAt = &now
	payment.PaymentMethodType = methodType
	payment.PaymentMethodLast4 = last4

	s.dispatcher.PaymentSucceeded(ctx, order, payment)
	return payment, nil
}

func (s *service) loadOwnedOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.ordersRepo.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func paymentMethodDescriptor(intent *stripe.PaymentIntent) (string, string) {
	charge := intent.LatestCharge
	if charge == nil || charge.PaymentMethodDetails == nil {
		return "", ""
	}
	details := charge.PaymentMethodDetails
	methodType := string(details.Type)
	last4 := ""
	if details.Card != nil {
		last4 = details.Card.Last4
	}
	return methodType, last4
}
