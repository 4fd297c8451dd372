package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()

	matches, err := filepath.Glob(filepath.Join("migrations", pattern))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no migration matching %q", pattern)
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestInventoryMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_inventory_items.sql")

	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS inventory_items",
		"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE",
		"CHECK (available_qty >= 0)",
		"DROP TABLE IF EXISTS inventory_items",
	})
}

func TestCartsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_carts_tables.sql")

	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS carts",
		"CHECK ((user_id IS NULL) <> (session_token IS NULL))",
		"CREATE TABLE IF NOT EXISTS cart_items",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_cart_product ON cart_items (cart_id, product_id)",
		"CHECK (quantity > 0)",
	})
}

func TestOrdersMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_orders_tables.sql")

	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CREATE INDEX IF NOT EXISTS idx_orders_user_created",
		"CREATE TABLE IF NOT EXISTS order_items",
		"FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE SET NULL",
	})
}

func TestPaymentsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_payments_table.sql")

	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS payments",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_order_id",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_gateway_intent_id",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
	})
}
