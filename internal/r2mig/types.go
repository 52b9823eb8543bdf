package r2mig

import "time"

// Item is one object to relocate.
type Item struct {
	OldPath      string
	NewPath      string
	UserID       int64
	FileSize     int64
	LastModified time.Time
}

// NewItem builds an Item, deriving NewPath from oldPath and userID.
func NewItem(info ObjectInfo, userID int64) (Item, error) {
	newPath, err := ConvertPath(info.Key, userID)
	if err != nil {
		return Item{}, err
	}
	return Item{
		OldPath:      info.Key,
		NewPath:      newPath,
		UserID:       userID,
		FileSize:     info.Size,
		LastModified: info.LastModified,
	}, nil
}

// Result summarizes one BatchProcessor run.
type Result struct {
	TotalItems   int
	SuccessCount int
	ErrorCount   int
	Errors       []string
	Duration     time.Duration
	Cancelled    bool

	// Migrated lists the items whose copy, verify and delete all succeeded.
	Migrated []Item
}

// Processed is the number of items that reached a terminal outcome.
func (r *Result) Processed() int { return r.SuccessCount + r.ErrorCount }

// URLUpdateItem is one receipt_url rewrite.
type URLUpdateItem struct {
	ExpenseID int64
	OldURL    string
	NewURL    string
}

// DatabaseUpdateResult summarizes UpdateReceiptURLsBatch.
type DatabaseUpdateResult struct {
	UpdatedCount  int           `json:"updated_count"`
	FailedCount   int           `json:"failed_count"`
	VerifiedCount int           `json:"verified_count"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"-"`
}

// Progress is a point-in-time view of a run.
type Progress struct {
	TotalItems               int64         `json:"total_items"`
	ProcessedItems           int64         `json:"processed_items"`
	SuccessCount             int64         `json:"success_count"`
	ErrorCount               int64         `json:"error_count"`
	InFlight                 int64         `json:"in_flight"`
	CurrentStatus            string        `json:"current_status"`
	EstimatedRemainingTime   time.Duration `json:"estimated_remaining_time_ns"`
	ThroughputItemsPerSecond float64       `json:"throughput_items_per_second"`
}

// StatusReport is returned by MigrationService.Status.
type StatusReport struct {
	IsRunning          bool     `json:"is_running"`
	CurrentMigrationID int64    `json:"current_migration_id"`
	Progress           Progress `json:"progress"`
}

// StartOptions configures one call to MigrationService.Start.
type StartOptions struct {
	DryRun    bool
	BatchSize int
	CreatedBy string

	// Started, when set, receives the migration_log id as soon as the row
	// exists, so callers can wire signal handling to Pause/Stop.
	Started func(logID int64)
}

// StartResult is the operator-facing outcome of a run.
type StartResult struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	MigrationLogID int64    `json:"migration_log_id"`
	DryRun         bool     `json:"dry_run"`
	TotalItems     int      `json:"total_items"`
	SuccessCount   int      `json:"success_count"`
	ErrorCount     int      `json:"error_count"`
	DurationMS     int64    `json:"duration_ms"`
	Errors         []string `json:"errors,omitempty"`

	// Estimate is only filled for dry runs.
	Estimate *Estimate `json:"estimate,omitempty"`

	// URLUpdate is nil for dry runs and runs that failed before the
	// database was touched.
	URLUpdate *DatabaseUpdateResult `json:"url_update,omitempty"`
}

// Estimate describes what a real run would do.
type Estimate struct {
	Items    int   `json:"items"`
	Bytes    int64 `json:"bytes"`
	URLRows  int   `json:"url_rows"`
	Orphaned int   `json:"orphaned"`
	Excluded int   `json:"excluded"`
}

// IntegrityReport is returned by ValidateIntegrity.
type IntegrityReport struct {
	Success              bool     `json:"success"`
	DatabaseReceiptCount int64    `json:"database_receipt_count"`
	R2FileCount          int64    `json:"r2_file_count"`
	OrphanedFiles        int64    `json:"orphaned_files"`
	CorruptedFiles       int64    `json:"corrupted_files"`
	Warnings             []string `json:"warnings"`
	Errors               []string `json:"errors"`
}
