package r2mig

import (
	"context"
	"time"

	"r2mig/internal/database/sqlc"
)

// Database is the migration engine's view of the expense database. The
// SQLite implementation lives in internal/database.
type Database interface {
	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// Expense receipts

	// FindReceiptOwner returns the lowest-id expense whose receipt_url
	// contains key, and how many distinct users reference it.
	// Returns nil when no row matches.
	FindReceiptOwner(ctx context.Context, key string) (*ReceiptOwner, error)

	// ListLegacyReceiptURLs returns expenses whose receipt_url still points
	// at the flat receipts/ layout.
	ListLegacyReceiptURLs(ctx context.Context) ([]sqlc.ListLegacyReceiptURLsRow, error)

	// ListReceiptURLs returns every expense with a non-empty receipt_url.
	ListReceiptURLs(ctx context.Context) ([]sqlc.ListReceiptURLsRow, error)

	// UpdateReceiptURLs rewrites each row in one transaction, guarded on the
	// old value, and re-reads it. A non-nil error means the whole batch was
	// rolled back.
	UpdateReceiptURLs(ctx context.Context, items []URLUpdateItem, at time.Time) ([]URLUpdateOutcome, error)

	// GetReceiptStatistics counts rows by receipt_url layout.
	GetReceiptStatistics(ctx context.Context) (*DatabaseStatistics, error)

	// Migration log

	// CreateMigrationLogEntry inserts a new row in status started.
	CreateMigrationLogEntry(ctx context.Context, entry NewMigrationLog) (*sqlc.MigrationLog, error)

	// UpdateMigrationLogStatus applies update after validating the status
	// transition against the stored row.
	UpdateMigrationLogStatus(ctx context.Context, id int64, update MigrationLogUpdate) (*sqlc.MigrationLog, error)

	// GetMigrationLog returns ErrMigrationNotFound for unknown ids.
	GetMigrationLog(ctx context.Context, id int64) (*sqlc.MigrationLog, error)

	// ListMigrationLogs returns the most recent rows first.
	ListMigrationLogs(ctx context.Context, limit int) ([]*sqlc.MigrationLog, error)

	// FindUnfinishedMigration returns the newest row of migrationType that is
	// started, in_progress or paused and not finalized, or nil.
	FindUnfinishedMigration(ctx context.Context, migrationType string) (*sqlc.MigrationLog, error)

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(ctx context.Context, destPath string) error

	// Close closes the database connection.
	Close() error
}

// ReceiptOwner is the result of resolving an object key to a user.
type ReceiptOwner struct {
	ExpenseID     int64
	UserID        int64
	DistinctUsers int64
}

// URLUpdateOutcome is the per-row result of UpdateReceiptURLs.
type URLUpdateOutcome struct {
	ExpenseID int64
	Updated   bool
	Verified  bool
	Err       error
}

// NewMigrationLog holds the fields set when a run starts.
type NewMigrationLog struct {
	MigrationType string
	TotalItems    int64
	CreatedBy     string
	Metadata      map[string]any
	StartedAt     time.Time
}

// LogCounts are the progress counters on a migration_log row.
type LogCounts struct {
	Processed int64
	Success   int64
	Errors    int64
}

// MigrationLogUpdate describes one mutation of a migration_log row. Zero
// values keep the stored field.
type MigrationLogUpdate struct {
	Status       string
	Counts       *LogCounts
	ErrorDetails []string
	Metadata     map[string]any // merged into the stored metadata
	Finalize     bool           // sets completed_at
	At           time.Time
}

// Receipt-layout statistics over the expense table.
type DatabaseStatistics struct {
	TotalExpenses  int64 `json:"total_expenses"`
	WithReceiptURL int64 `json:"with_receipt_url"`
	LegacyURLs     int64 `json:"legacy_urls"`
	UserURLs       int64 `json:"user_urls"`
}

// Consistent reports whether every receipt_url is classified as exactly one
// of legacy or per-user.
func (s *DatabaseStatistics) Consistent() bool {
	return s.LegacyURLs+s.UserURLs == s.WithReceiptURL
}
