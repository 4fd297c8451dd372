package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/shoplane-labs/shoplane-backend/internal/cart"
	"github.com/shoplane-labs/shoplane-backend/internal/catalog"
	"github.com/shoplane-labs/shoplane-backend/internal/inventory"
	"github.com/shoplane-labs/shoplane-backend/internal/orders"
	"github.com/shoplane-labs/shoplane-backend/pkg/db/models"
	"github.com/shoplane-labs/shoplane-backend/pkg/enums"
	pkgerrors "github.com/shoplane-labs/shoplane-backend/pkg/errors"
)

var checkoutTestSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  sku TEXT NOT NULL,
  description TEXT,
  price TEXT NOT NULL,
  discount_price TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS inventory_items (
  product_id TEXT PRIMARY KEY,
  available_qty INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  session_token TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  price_at_add TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (cart_id, product_id)
);`,
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
}

type stubDispatcher struct {
	createdOrders []*models.Order
}

func (s *stubDispatcher) OrderCreated(ctx context.Context, order *models.Order) {
	s.createdOrders = append(s.createdOrders, order)
}
func (s *stubDispatcher) OrderCancelled(ctx context.Context, order *models.Order) {}
func (s *stubDispatcher) OrderStatusChanged(ctx context.Context, order *models.Order, from enums.OrderStatus) {
}
func (s *stubDispatcher) PaymentSucceeded(ctx context.Context, order *models.Order, payment *models.Payment) {
}
func (s *stubDispatcher) PaymentFailed(ctx context.Context, payment *models.Payment) {}

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

type checkoutFixture struct {
	svc        Service
	db         *gorm.DB
	cartRepo   cart.Repository
	dispatcher *stubDispatcher
}

func newFixture(t *testing.T) *checkoutFixture {
	t.Helper()

	dsn := "file:checkout_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, ddl := range checkoutTestSchema {
		if err := db.Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	ledger, err := inventory.NewLedger(inventory.NewRepository(db))
	if err != nil {
		t.Fatalf("construct ledger: %v", err)
	}
	dispatcher := &stubDispatcher{}
	cartRepo := cart.NewRepository(db)
	svc, err := NewService(testTxRunner{db: db}, cartRepo, orders.NewRepository(db), catalog.NewRepository(db), ledger, dispatcher)
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	return &checkoutFixture{svc: svc, db: db, cartRepo: cartRepo, dispatcher: dispatcher}
}

func (f *checkoutFixture) seedProduct(t *testing.T, name, price string, stock int, active bool) uuid.UUID {
	t.Helper()

	product := &models.Product{
		ID:       uuid.New(),
		Name:     name,
		SKU:      "SKU-" + name,
		Price:    decimal.RequireFromString(price),
		IsActive: active,
	}
	if err := f.db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := f.db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: stock}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return product.ID
}

func (f *checkoutFixture) seedCart(t *testing.T, userID uuid.UUID, lines map[uuid.UUID]int) {
	t.Helper()
	ctx := context.Background()

	c, err := f.cartRepo.Create(ctx, &models.Cart{UserID: &userID})
	if err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	for productID, qty := range lines {
		var product models.Product
		if err := f.db.First(&product, "id = ?", productID).Error; err != nil {
			t.Fatalf("load product: %v", err)
		}
		_, err := f.cartRepo.CreateItem(ctx, &models.CartItem{
			CartID:     c.ID,
			ProductID:  productID,
			Quantity:   qty,
			PriceAtAdd: product.EffectivePrice(),
		})
		if err != nil {
			t.Fatalf("seed cart item: %v", err)
		}
	}
}

func (f *checkoutFixture) stock(t *testing.T, productID uuid.UUID) int {
	t.Helper()
	var item models.InventoryItem
	if err := f.db.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item.AvailableQty
}

func TestExecuteCreatesOrderAndClearsCart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	productA := f.seedProduct(t, "alpha", "10.00", 5, true)
	productB := f.seedProduct(t, "beta", "2.50", 4, true)
	f.seedCart(t, userID, map[uuid.UUID]int{productA: 2, productB: 4})

	order, err := f.svc.Execute(ctx, userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if order.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected status %s", order.Status)
	}
	if len(order.Items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(order.Items))
	}
	if !order.TotalAmount().Equal(decimal.RequireFromString("30.00")) {
		t.Fatalf("unexpected total %s", order.TotalAmount())
	}
	if order.ShippingCountry != "USA" {
		t.Fatalf("expected default country, got %q", order.ShippingCountry)
	}

	if got := f.stock(t, productA); got != 3 {
		t.Fatalf("stock a not decremented: %d", got)
	}
	if got := f.stock(t, productB); got != 0 {
		t.Fatalf("stock b not decremented: %d", got)
	}

	reloaded, err := f.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if len(reloaded.Items) != 0 {
		t.Fatalf("cart not cleared, %d lines left", len(reloaded.Items))
	}

	if len(f.dispatcher.createdOrders) != 1 {
		t.Fatalf("expected order created notification, got %d", len(f.dispatcher.createdOrders))
	}
}

func TestExecuteEmptyCart(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()

	_, err := f.svc.Execute(context.Background(), userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteInsufficientStockRollsEverythingBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	productA := f.seedProduct(t, "alpha", "10.00", 5, true)
	productB := f.seedProduct(t, "beta", "2.50", 1, true)
	f.seedCart(t, userID, map[uuid.UUID]int{productA: 2, productB: 3})

	_, err := f.svc.Execute(ctx, userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected stock conflict, got %v", err)
	}

	// nothing committed: stock, cart and orders are untouched
	if got := f.stock(t, productA); got != 5 {
		t.Fatalf("stock a must roll back, got %d", got)
	}
	reloaded, err := f.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		t.Fatalf("reload cart: %v", err)
	}
	if len(reloaded.Items) != 2 {
		t.Fatalf("cart must survive failed checkout, got %d lines", len(reloaded.Items))
	}
	var count int64
	if err := f.db.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 0 {
		t.Fatal("no order may exist after failed checkout")
	}
	if len(f.dispatcher.createdOrders) != 0 {
		t.Fatal("no notification expected after failed checkout")
	}
}

func TestExecuteInactiveProduct(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := f.seedProduct(t, "alpha", "10.00", 5, true)
	f.seedCart(t, userID, map[uuid.UUID]int{productID: 1})

	// product deactivates between add-to-cart and checkout
	if err := f.db.Model(&models.Product{}).Where("id = ?", productID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate product: %v", err)
	}

	_, err := f.svc.Execute(ctx, userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := f.stock(t, productID); got != 5 {
		t.Fatalf("stock must be untouched, got %d", got)
	}
}

func TestExecuteCompetingCheckoutsNeverOversell(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	firstUser := uuid.New()
	secondUser := uuid.New()
	productID := f.seedProduct(t, "alpha", "10.00", 5, true)
	f.seedCart(t, firstUser, map[uuid.UUID]int{productID: 3})
	f.seedCart(t, secondUser, map[uuid.UUID]int{productID: 3})

	input := Input{ShippingAddress: "1 Main St", ShippingCity: "Springfield"}

	if _, err := f.svc.Execute(ctx, firstUser, input); err != nil {
		t.Fatalf("first checkout: %v", err)
	}

	// 2 units left; the competing demand for 3 must lose in full
	_, err := f.svc.Execute(ctx, secondUser, input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected stock conflict for second checkout, got %v", err)
	}

	if got := f.stock(t, productID); got != 2 {
		t.Fatalf("expected stock 2, got %d", got)
	}
	var count int64
	if err := f.db.Model(&models.Order{}).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one order, got %d", count)
	}
	reloaded, err := f.cartRepo.FindByUser(ctx, secondUser)
	if err != nil {
		t.Fatalf("reload losing cart: %v", err)
	}
	if len(reloaded.Items) != 1 {
		t.Fatalf("losing cart must keep its line, got %d", len(reloaded.Items))
	}
}

func TestExecuteProductRemovedFromCatalog(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := f.seedProduct(t, "alpha", "10.00", 5, true)
	f.seedCart(t, userID, map[uuid.UUID]int{productID: 1})

	// product pulled from the catalog between add-to-cart and checkout
	if err := f.db.Delete(&models.Product{}, "id = ?", productID).Error; err != nil {
		t.Fatalf("delete product: %v", err)
	}

	_, err := f.svc.Execute(ctx, userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExecuteUsesPriceSnapshotNotCurrentPrice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	productID := f.seedProduct(t, "alpha", "10.00", 5, true)
	f.seedCart(t, userID, map[uuid.UUID]int{productID: 1})

	// price raise after the line was added must not affect the order
	if err := f.db.Model(&models.Product{}).Where("id = ?", productID).Update("price", "99.00").Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	order, err := f.svc.Execute(ctx, userID, Input{
		ShippingAddress: "1 Main St",
		ShippingCity:    "Springfield",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !order.Items[0].Price.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("expected snapshot price, got %s", order.Items[0].Price)
	}
}

func TestExecuteMissingShippingFields(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	userID := uuid.New()

	_, err := f.svc.Execute(context.Background(), userID, Input{ShippingCity: "Springfield"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for address, got %v", err)
	}

	_, err = f.svc.Execute(context.Background(), userID, Input{ShippingAddress: "1 Main St"})
	typed = pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error for city, got %v", err)
	}
}
