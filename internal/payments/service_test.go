package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
	"github.com/shoplane-labs/shoplane-backend/pkg/logger"
)

var paymentTestSchema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  shipping_address TEXT NOT NULL DEFAULT '',
  shipping_city TEXT NOT NULL DEFAULT '',
  shipping_postal_code TEXT,
  shipping_country TEXT NOT NULL DEFAULT 'USA',
  notes TEXT,
  tracking_number TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT,
  product_name TEXT NOT NULL,
  product_sku TEXT,
  price TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  gateway_intent_id TEXT NOT NULL UNIQUE,
  client_secret TEXT,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL DEFAULT 'PENDING',
  payment_method_type TEXT,
  payment_method_last4 TEXT,
  failure_message TEXT,
  paid_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
}

type stubGateway struct {
	created    []*stripe.PaymentIntentParams
	intent     *stripe.PaymentIntent
	getCalls   int
	createErr  error
	gotIntents []string
}

func (s *stubGateway) Create(ctx context.Context, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, params)
	return &stripe.PaymentIntent{
		ID:           "pi_" + uuid.NewString()[:8],
		ClientSecret: "secret_" + uuid.NewString()[:8],
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (s *stubGateway) Get(ctx context.Context, id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.getCalls++
	s.gotIntents = append(s.gotIntents, id)
	return s.intent, nil
}

type stubDispatcher struct {
	succeeded int
	failed    int
}

func (s *stubDispatcher) OrderCreated(ctx context.Context, order *models.Order)   {}
func (s *stubDispatcher) OrderCancelled(ctx context.Context, order *models.Order) {}
func (s *stubDispatcher) OrderStatusChanged(ctx context.Context, order *models.Order, from enums.OrderStatus) {
}
func (s *stubDispatcher) PaymentSucceeded(ctx context.Context, order *models.Order, payment *models.Payment) {
	s.succeeded++
}
func (s *stubDispatcher) PaymentFailed(ctx context.Context, payment *models.Payment) {
	s.failed++
}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type paymentsFixture struct {
	svc        Service
	db         *gorm.DB
	repo       Repository
	ordersRepo orders.Repository
	gateway    *stubGateway
	dispatcher *stubDispatcher
}

func newFixture(t *testing.T) *paymentsFixture {
	t.Helper()

	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, ddl := range paymentTestSchema {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	gateway := &stubGateway{}
	dispatcher := &stubDispatcher{}
	repo := NewRepository(db)
	ordersRepo := orders.NewRepository(db)
	logg := logger.New(logger.Options{ServiceName: "test"})

	svc, err := NewService(repo, ordersRepo, testTxRunner{db: db}, gateway, dispatcher, logg, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return &paymentsFixture{
		svc:        svc,
		db:         db,
		repo:       repo,
		ordersRepo: ordersRepo,
		gateway:    gateway,
		dispatcher: dispatcher,
	}
}

func (f *paymentsFixture) seedOrder(t *testing.T, userID uuid.UUID, status enums.OrderStatus, total string) *models.Order {
	t.Helper()
	ctx := context.Background()

	order, err := f.ordersRepo.Create(ctx, &models.Order{
		UserID:          userID,
		Status:          status,
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	if err != nil {
		t.Fatalf("seed order: %v", err)
	}
	err = f.ordersRepo.CreateItems(ctx, []models.OrderItem{
		{
			OrderID:     order.ID,
			ProductName: "Widget",
			Price:       decimal.RequireFromString(total),
			Quantity:    1,
		},
	})
	if err != nil {
		t.Fatalf("seed order items: %v", err)
	}
	return order
}

func TestCreateIntentConvertsAmountToCents(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusPending, "30.50")

	payment, err := f.svc.CreateIntent(context.Background(), userID, order.ID)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if len(f.gateway.created) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.gateway.created))
	}
	params := f.gateway.created[0]
	if params.Amount == nil || *params.Amount != 3050 {
		t.Fatalf("unexpected amount %v", params.Amount)
	}
	if params.Currency == nil || *params.Currency != "usd" {
		t.Fatalf("unexpected currency %v", params.Currency)
	}
	if params.Metadata["order_id"] != order.ID.String() {
		t.Fatalf("order id metadata missing: %+v", params.Metadata)
	}

	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("unexpected payment status %s", payment.Status)
	}
	if !payment.Amount.Equal(decimal.RequireFromString("30.50")) {
		t.Fatalf("unexpected stored amount %s", payment.Amount)
	}
	if payment.ClientSecret == "" || payment.GatewayIntentID == "" {
		t.Fatalf("gateway identifiers missing: %+v", payment)
	}
}

func TestCreateIntentIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")

	first, err := f.svc.CreateIntent(context.Background(), userID, order.ID)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := f.svc.CreateIntent(context.Background(), userID, order.ID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	if first.ID != second.ID || first.GatewayIntentID != second.GatewayIntentID {
		t.Fatalf("expected same payment row, got %s vs %s", first.ID, second.ID)
	}
	if len(f.gateway.created) != 1 {
		t.Fatalf("gateway must be called once, got %d", len(f.gateway.created))
	}
}

func TestCreateIntentAlreadyPaid(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusProcessing, "10.00")

	paidAt := time.Now().UTC()
	_, err := f.repo.Create(context.Background(), &models.Payment{
		OrderID:         order.ID,
		GatewayIntentID: "pi_paid",
		Amount:          decimal.RequireFromString("10.00"),
		Currency:        enums.CurrencyUSD,
		Status:          enums.PaymentStatusSucceeded,
		PaidAt:          &paidAt,
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	_, err = f.svc.CreateIntent(context.Background(), userID, order.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateIntentCancelledOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusCancelled, "10.00")

	_, err := f.svc.CreateIntent(context.Background(), userID, order.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestCreateIntentStrangerOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	order := f.seedOrder(t, uuid.New(), enums.OrderStatusPending, "10.00")

	_, err := f.svc.CreateIntent(context.Background(), uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReconcileSucceededSettlesPaymentAndOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")

	created, err := f.svc.CreateIntent(ctx, userID, order.ID)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	f.gateway.intent = &stripe.PaymentIntent{
		ID:     created.GatewayIntentID,
		Status: stripe.PaymentIntentStatusSucceeded,
		LatestCharge: &stripe.Charge{
			PaymentMethodDetails: &stripe.ChargePaymentMethodDetails{
				Type: "card",
				Card: &stripe.ChargePaymentMethodDetailsCard{Last4: "4242"},
			},
		},
	}

	payment, err := f.svc.Reconcile(ctx, userID, created.GatewayIntentID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		t.Fatalf("unexpected status %s", payment.Status)
	}
	if payment.PaidAt == nil {
		t.Fatal("paid_at not set")
	}
	if payment.PaymentMethodType != "card" || payment.PaymentMethodLast4 != "4242" {
		t.Fatalf("method descriptor missing: %+v", payment)
	}

	reloaded, err := f.ordersRepo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.Status != enums.OrderStatusProcessing {
		t.Fatalf("order must move to processing, got %s", reloaded.Status)
	}
	if f.dispatcher.succeeded != 1 {
		t.Fatalf("expected success notification, got %d", f.dispatcher.succeeded)
	}

	// second reconcile short-circuits without another gateway call
	gets := f.gateway.getCalls
	if _, err := f.svc.Reconcile(ctx, userID, created.GatewayIntentID); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if f.gateway.getCalls != gets {
		t.Fatal("settled payment must not hit the gateway again")
	}
}

func TestReconcileProcessing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")
	created, _ := f.svc.CreateIntent(ctx, userID, order.ID)

	f.gateway.intent = &stripe.PaymentIntent{
		ID:     created.GatewayIntentID,
		Status: stripe.PaymentIntentStatusProcessing,
	}

	payment, err := f.svc.Reconcile(ctx, userID, created.GatewayIntentID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if payment.Status != enums.PaymentStatusProcessing {
		t.Fatalf("unexpected status %s", payment.Status)
	}

	reloaded, _ := f.ordersRepo.FindByID(ctx, order.ID)
	if reloaded.Status != enums.OrderStatusPending {
		t.Fatalf("order must stay pending, got %s", reloaded.Status)
	}
}

func TestReconcileFailureStates(t *testing.T) {
	t.Parallel()

	for _, status := range []stripe.PaymentIntentStatus{
		stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusCanceled,
	} {
		f := newFixture(t)
		ctx := context.Background()
		userID := uuid.New()
		order := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")
		created, _ := f.svc.CreateIntent(ctx, userID, order.ID)

		f.gateway.intent = &stripe.PaymentIntent{
			ID:               created.GatewayIntentID,
			Status:           status,
			LastPaymentError: &stripe.Error{Msg: "card declined"},
		}

		payment, err := f.svc.Reconcile(ctx, userID, created.GatewayIntentID)
		if err != nil {
			t.Fatalf("status %s: reconcile: %v", status, err)
		}
		if payment.Status != enums.PaymentStatusFailed {
			t.Fatalf("status %s: unexpected payment status %s", status, payment.Status)
		}
		if payment.FailureMessage != "card declined" {
			t.Fatalf("status %s: failure message missing", status)
		}
		if f.dispatcher.failed != 1 {
			t.Fatalf("status %s: expected failure notification", status)
		}
	}
}

func TestReconcileUnknownStatusIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	order := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")
	created, _ := f.svc.CreateIntent(ctx, userID, order.ID)

	f.gateway.intent = &stripe.PaymentIntent{
		ID:     created.GatewayIntentID,
		Status: stripe.PaymentIntentStatusRequiresAction,
	}

	payment, err := f.svc.Reconcile(ctx, userID, created.GatewayIntentID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("payment must stay pending, got %s", payment.Status)
	}
}

func TestListReturnsOnlyOwnPayments(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	strangerID := uuid.New()

	mine := f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")
	theirs := f.seedOrder(t, strangerID, enums.OrderStatusPending, "99.00")
	if _, err := f.svc.CreateIntent(context.Background(), userID, mine.ID); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := f.svc.CreateIntent(context.Background(), strangerID, theirs.ID); err != nil {
		t.Fatalf("create stranger intent: %v", err)
	}

	payments, err := f.svc.List(context.Background(), userID)
	if err != nil {
		t.Fatalf("list payments: %v", err)
	}
	if len(payments) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(payments))
	}
	if payments[0].OrderID != mine.ID {
		t.Fatalf("listed payment for wrong order %s", payments[0].OrderID)
	}
}

func TestListWithoutIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.List(context.Background(), uuid.Nil)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestReconcileUnknownIntent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()
	f.seedOrder(t, userID, enums.OrderStatusPending, "10.00")

	_, err := f.svc.Reconcile(context.Background(), userID, "pi_missing")
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.gateway.getCalls != 0 {
		t.Fatal("unknown intent must not hit the gateway")
	}
}

func TestReconcileForeignIntentReadsAsMissing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	ownerID := uuid.New()
	strangerID := uuid.New()
	order := f.seedOrder(t, ownerID, enums.OrderStatusPending, "10.00")

	created, err := f.svc.CreateIntent(ctx, ownerID, order.ID)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	_, err = f.svc.Reconcile(ctx, strangerID, created.GatewayIntentID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found for foreign intent, got %v", err)
	}
	if f.gateway.getCalls != 0 {
		t.Fatal("foreign intent must not hit the gateway")
	}
}
