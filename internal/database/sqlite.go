package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"r2mig/internal/database/migrations"
	"r2mig/internal/database/sqlc"
	"r2mig/internal/jsonutil"
	"r2mig/internal/r2mig"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// errRowChanged is reported when the guarded UPDATE matched no row.
var errRowChanged = errors.New("receipt_url changed since detection or row missing")

// SQLiteDatabase implements r2mig.Database on the desktop app's SQLite file.
type SQLiteDatabase struct {
	db      *sql.DB
	queries *sqlc.Queries
	path    string
}

// NewSQLiteDatabase opens path, which can be a file path or ":memory:".
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
		path:    path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing connection opened with
// OpenConnection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:      db,
		queries: sqlc.New(db),
	}
}

// OpenConnection opens and configures a SQLite connection.
// The pool is limited to one connection: SQLite serializes writers anyway,
// and an in-memory database exists only on the connection that created it.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// WAL lets `migrate status` read while a run is writing; the busy
		// timeout covers pause/stop writes from a second process.
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

func (s *SQLiteDatabase) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Expense receipts

// escapeLike escapes LIKE wildcards so a key matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *SQLiteDatabase) FindReceiptOwner(ctx context.Context, key string) (*r2mig.ReceiptOwner, error) {
	// LIKE is case-insensitive in SQLite; instr keeps the match exact.
	pattern := "%" + escapeLike(key) + "%"

	row, err := s.queries.FindReceiptOwner(ctx, sqlc.FindReceiptOwnerParams{Pattern: pattern, Key: key})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding receipt owner for %s: %w", key, err)
	}

	users, err := s.queries.CountReceiptOwners(ctx, sqlc.CountReceiptOwnersParams{Pattern: pattern, Key: key})
	if err != nil {
		return nil, fmt.Errorf("counting receipt owners for %s: %w", key, err)
	}

	return &r2mig.ReceiptOwner{ExpenseID: row.ID, UserID: row.UserID, DistinctUsers: users}, nil
}

func (s *SQLiteDatabase) ListLegacyReceiptURLs(ctx context.Context) ([]sqlc.ListLegacyReceiptURLsRow, error) {
	rows, err := s.queries.ListLegacyReceiptURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing legacy receipt urls: %w", err)
	}
	return rows, nil
}

func (s *SQLiteDatabase) ListReceiptURLs(ctx context.Context) ([]sqlc.ListReceiptURLsRow, error) {
	rows, err := s.queries.ListReceiptURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing receipt urls: %w", err)
	}
	return rows, nil
}

// UpdateReceiptURLs applies every rewrite inside one transaction. Each row is
// updated only while it still holds OldURL and is then read back.
func (s *SQLiteDatabase) UpdateReceiptURLs(ctx context.Context, items []r2mig.URLUpdateItem, at time.Time) ([]r2mig.URLUpdateOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	updatedAt := r2mig.FormatTimestamp(at)
	outcomes := make([]r2mig.URLUpdateOutcome, 0, len(items))

	for _, item := range items {
		out := r2mig.URLUpdateOutcome{ExpenseID: item.ExpenseID}

		n, err := qtx.UpdateReceiptURL(ctx, sqlc.UpdateReceiptURLParams{
			NewUrl:    sql.NullString{String: item.NewURL, Valid: true},
			UpdatedAt: updatedAt,
			ID:        item.ExpenseID,
			OldUrl:    sql.NullString{String: item.OldURL, Valid: true},
		})
		switch {
		case err != nil:
			out.Err = fmt.Errorf("updating receipt url: %w", err)
		case n == 0:
			out.Err = errRowChanged
		default:
			out.Updated = true
			got, err := qtx.GetReceiptURL(ctx, item.ExpenseID)
			if err != nil {
				out.Err = fmt.Errorf("re-reading receipt url: %w", err)
			} else if !got.Valid || got.String != item.NewURL {
				out.Err = fmt.Errorf("receipt url is %q after update, want %q", got.String, item.NewURL)
			} else {
				out.Verified = true
			}
		}
		outcomes = append(outcomes, out)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return outcomes, nil
}

func (s *SQLiteDatabase) GetReceiptStatistics(ctx context.Context) (*r2mig.DatabaseStatistics, error) {
	row, err := s.queries.GetReceiptStatistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading receipt statistics: %w", err)
	}
	return &r2mig.DatabaseStatistics{
		TotalExpenses:  row.TotalExpenses,
		WithReceiptURL: row.WithReceiptUrl,
		LegacyURLs:     row.LegacyUrls,
		UserURLs:       row.UserUrls,
	}, nil
}

// CreateExpense inserts an expense row. The migration never creates
// expenses; this is for seeding fixtures and local databases.
func (s *SQLiteDatabase) CreateExpense(ctx context.Context, userID int64, receiptURL string) (*sqlc.Expense, error) {
	now := r2mig.FormatTimestamp(time.Now())
	e, err := s.queries.InsertExpense(ctx, sqlc.InsertExpenseParams{
		UserID:      userID,
		Description: "receipt",
		ExpenseDate: now[:10],
		ReceiptUrl:  sql.NullString{String: receiptURL, Valid: receiptURL != ""},
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("creating expense: %w", err)
	}
	return &e, nil
}

// ReceiptURL returns the stored receipt_url for an expense.
func (s *SQLiteDatabase) ReceiptURL(ctx context.Context, expenseID int64) (string, error) {
	u, err := s.queries.GetReceiptURL(ctx, expenseID)
	if err != nil {
		return "", fmt.Errorf("reading receipt url: %w", err)
	}
	return u.String, nil
}

// Migration log

func (s *SQLiteDatabase) CreateMigrationLogEntry(ctx context.Context, entry r2mig.NewMigrationLog) (*sqlc.MigrationLog, error) {
	metadata, err := encodeJSON(entry.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	startedAt := entry.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	ts := r2mig.FormatTimestamp(startedAt)

	row, err := s.queries.InsertMigrationLog(ctx, sqlc.InsertMigrationLogParams{
		MigrationType: entry.MigrationType,
		Status:        r2mig.StatusStarted,
		TotalItems:    entry.TotalItems,
		CreatedBy:     entry.CreatedBy,
		StartedAt:     sql.NullString{String: ts, Valid: true},
		Metadata:      metadata,
		UpdatedAt:     ts,
	})
	if err != nil {
		return nil, fmt.Errorf("creating migration log: %w", err)
	}
	return &row, nil
}

// UpdateMigrationLogStatus reads the current row, validates the requested
// change and writes it, all in one transaction.
func (s *SQLiteDatabase) UpdateMigrationLogStatus(ctx context.Context, id int64, update r2mig.MigrationLogUpdate) (*sqlc.MigrationLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)

	cur, err := qtx.GetMigrationLog(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("migration %d: %w", id, r2mig.ErrMigrationNotFound)
		}
		return nil, fmt.Errorf("loading migration log: %w", err)
	}
	if r2mig.IsFinalized(&cur) {
		return nil, fmt.Errorf("migration %d: %w", id, r2mig.ErrLogFinalized)
	}

	status := cur.Status
	if update.Status != "" {
		if err := r2mig.ValidateTransition(cur.Status, update.Status); err != nil {
			return nil, err
		}
		status = update.Status
	}
	if update.Finalize && !r2mig.IsTerminalStatus(status) {
		return nil, fmt.Errorf("%w: cannot finalize in status %s", r2mig.ErrInvalidTransition, status)
	}
	if (status == r2mig.StatusCompleted || status == r2mig.StatusFailed) && !update.Finalize {
		return nil, fmt.Errorf("%w: %s requires completion time", r2mig.ErrInvalidTransition, status)
	}

	at := update.At
	if at.IsZero() {
		at = time.Now()
	}

	params := sqlc.UpdateMigrationLogParams{
		Status:         status,
		ProcessedItems: cur.ProcessedItems,
		SuccessCount:   cur.SuccessCount,
		ErrorCount:     cur.ErrorCount,
		ErrorDetails:   cur.ErrorDetails,
		CompletedAt:    cur.CompletedAt,
		Metadata:       cur.Metadata,
		UpdatedAt:      r2mig.FormatTimestamp(at),
		ID:             id,
	}
	if c := update.Counts; c != nil {
		params.ProcessedItems = c.Processed
		params.SuccessCount = c.Success
		params.ErrorCount = c.Errors
	}
	if update.ErrorDetails != nil {
		if params.ErrorDetails, err = encodeJSON(update.ErrorDetails); err != nil {
			return nil, fmt.Errorf("encoding error details: %w", err)
		}
	}
	if len(update.Metadata) > 0 {
		md, err := r2mig.LogMetadata(&cur)
		if err != nil {
			return nil, err
		}
		for k, v := range update.Metadata {
			md[k] = v
		}
		if params.Metadata, err = encodeJSON(md); err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
	}
	if update.Finalize {
		params.CompletedAt = sql.NullString{String: r2mig.FormatTimestamp(at), Valid: true}
	}

	if err := qtx.UpdateMigrationLog(ctx, params); err != nil {
		return nil, fmt.Errorf("updating migration log: %w", err)
	}
	row, err := qtx.GetMigrationLog(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reloading migration log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return &row, nil
}

func (s *SQLiteDatabase) GetMigrationLog(ctx context.Context, id int64) (*sqlc.MigrationLog, error) {
	row, err := s.queries.GetMigrationLog(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("migration %d: %w", id, r2mig.ErrMigrationNotFound)
		}
		return nil, fmt.Errorf("loading migration log: %w", err)
	}
	return &row, nil
}

func (s *SQLiteDatabase) ListMigrationLogs(ctx context.Context, limit int) ([]*sqlc.MigrationLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.queries.ListMigrationLogs(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing migration logs: %w", err)
	}

	result := make([]*sqlc.MigrationLog, len(rows))
	for i := range rows {
		result[i] = &rows[i]
	}
	return result, nil
}

func (s *SQLiteDatabase) FindUnfinishedMigration(ctx context.Context, migrationType string) (*sqlc.MigrationLog, error) {
	row, err := s.queries.FindUnfinishedMigrationLog(ctx, migrationType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding unfinished migration: %w", err)
	}
	return &row, nil
}

// encodeJSON stores nil as NULL.
func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := jsonutil.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// MigrateUp applies pending schema migrations.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// SchemaStatus reports the applied and latest schema versions.
func (s *SQLiteDatabase) SchemaStatus() (*migrations.Status, error) {
	return migrations.ReadStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ r2mig.Database = (*SQLiteDatabase)(nil)
