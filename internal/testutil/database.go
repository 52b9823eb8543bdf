package testutil

import (
	"context"
	"testing"

	"r2mig/internal/database"
	"r2mig/internal/database/migrations"
	"r2mig/internal/r2mig"
)

// ReceiptBaseURL prefixes object keys to form receipt_url values.
const ReceiptBaseURL = "https://receipts.example.com/"

// NewTestDatabase creates a new in-memory SQLite database migrated to the
// latest schema. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SeedExpense inserts an expense whose receipt_url points at key (or has no
// receipt when key is empty) and returns its ID.
func SeedExpense(t *testing.T, db *database.SQLiteDatabase, userID int64, key string) int64 {
	t.Helper()

	url := ""
	if key != "" {
		url = ReceiptBaseURL + key
	}
	e, err := db.CreateExpense(context.Background(), userID, url)
	if err != nil {
		t.Fatalf("SeedExpense() error = %v", err)
	}
	return e.ID
}

// SeedReceipt stores data at key and inserts an expense owned by userID
// referencing it. Returns the expense ID.
func SeedReceipt(t *testing.T, db *database.SQLiteDatabase, store r2mig.ObjectStore, userID int64, key string, data []byte) int64 {
	t.Helper()

	if err := store.Put(context.Background(), key, data, "image/jpeg"); err != nil {
		t.Fatalf("SeedReceipt() put %s: %v", key, err)
	}
	return SeedExpense(t, db, userID, key)
}

// ReceiptURL reads back an expense's receipt_url.
func ReceiptURL(t *testing.T, db *database.SQLiteDatabase, expenseID int64) string {
	t.Helper()

	u, err := db.ReceiptURL(context.Background(), expenseID)
	if err != nil {
		t.Fatalf("ReceiptURL(%d) error = %v", expenseID, err)
	}
	return u
}
