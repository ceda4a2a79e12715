package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMigrationsDirValidates(t *testing.T) {
	count, err := ValidateDir("migrations")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if count < 4 {
		t.Fatalf("expected at least 4 migrations, got %d", count)
	}
}

func TestEmbeddedMigrationsMatchSourceDir(t *testing.T) {
	embeddedCount, err := ValidateFS(Embedded())
	if err != nil {
		t.Fatalf("validate embedded: %v", err)
	}
	diskCount, err := ValidateDir("migrations")
	if err != nil {
		t.Fatalf("validate dir: %v", err)
	}
	if embeddedCount != diskCount {
		t.Fatalf("embedded set has %d migrations, directory has %d", embeddedCount, diskCount)
	}
}

func TestSourceSelection(t *testing.T) {
	if _, err := Source(""); err != nil {
		t.Fatalf("empty dir should select embedded set: %v", err)
	}
	if _, err := Source(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected missing dir to fail")
	}
}

func TestParseVersion(t *testing.T) {
	if v, err := ParseVersion("20260301091000"); err != nil || v != 20260301091000 {
		t.Fatalf("unexpected parse result %d %v", v, err)
	}
	for _, bad := range []string{"", "2026", "2026030109100x", "00000000000000"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestRunRequiresDB(t *testing.T) {
	if _, err := Run(context.Background(), nil, Embedded(), "up"); err == nil {
		t.Fatalf("expected nil db to fail")
	}
}

func TestOrdersMigrationCarriesInvariants(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_create_orders.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected one orders migration, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CREATE TABLE IF NOT EXISTS orders",
		"CONSTRAINT orders_delivery_address_check",
		"CHECK (status IN ('pending', 'paid', 'shipped', 'delivered', 'cancelled'))",
		"FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE",
		"CHECK (quantity > 0)",
		"DROP TABLE IF EXISTS orders",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	path, err := createSQLMigrationAt(dir, " Add Order Notes! ", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if filepath.Base(path) != "20260301120000_add_order_notes.sql" {
		t.Fatalf("unexpected filename %s", filepath.Base(path))
	}
	if _, err := createSQLMigrationAt(dir, "add order notes", now); err == nil {
		t.Fatalf("expected duplicate migration to fail")
	}
	if count, err := ValidateDir(dir); err != nil || count != 1 {
		t.Fatalf("generated migration should validate: count=%d err=%v", count, err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "orders.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ValidateDir(dir); err == nil {
		t.Fatalf("expected invalid filename to fail")
	}
}
