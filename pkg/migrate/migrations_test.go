package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
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

func TestInventoryMigrationGuardsCounters(t *testing.T) {
	content := readMigration(t, "create_inventory")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS inventory_units",
		"CHECK (quantity_on_hand - quantity_reserved >= 0)",
		"CHECK (quantity_after = quantity_before + delta)",
		"CHECK (reserved_after = reserved_before + reserved_delta)",
		"BEFORE UPDATE OR DELETE ON inventory_ledger_entries",
		"CHECK (status IN ('pending','fulfilled','released','expired'))",
		"DROP TABLE IF EXISTS inventory_units",
	})
}

func TestOrdersMigrationReconcilesTotals(t *testing.T) {
	content := readMigration(t, "create_orders")
	assertContains(t, content, []string{
		"order_reference text NOT NULL UNIQUE",
		"transaction_reference text UNIQUE",
		"CHECK (total = subtotal + shipping_fee + tax - discount)",
		"CHECK (refunded_amount >= 0 AND refunded_amount <= total)",
		"CREATE TABLE IF NOT EXISTS order_status_history",
		"DROP TABLE IF EXISTS orders",
	})
}

func TestPaymentsMigrationDedupesWebhooks(t *testing.T) {
	content := readMigration(t, "create_payments")
	assertContains(t, content, []string{
		"UNIQUE (transaction_reference, event_type)",
		"order_id uuid NOT NULL UNIQUE",
		"CHECK (amount_refunded >= 0 AND amount_refunded <= amount_requested)",
		"CHECK (side IN ('platform','business'))",
		"DROP TABLE IF EXISTS payment_webhook_events",
	})
}

func TestEveryMigrationHasDownSection(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) < 5 {
		t.Fatalf("expected at least 5 migrations, got %d", len(matches))
	}
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		content := string(data)
		if !strings.Contains(content, "-- +goose Up") || !strings.Contains(content, "-- +goose Down") {
			t.Errorf("%s is missing goose annotations", filepath.Base(path))
		}
	}
}

func TestWebhookReplayFlagMigration(t *testing.T) {
	content := readMigration(t, "add_webhook_needs_attention")
	assertContains(t, content, []string{
		"ADD COLUMN IF NOT EXISTS needs_attention boolean NOT NULL DEFAULT false",
		"DROP COLUMN IF EXISTS needs_attention",
	})
}
