package r2mig

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is returned by ObjectStore implementations when a key
	// does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrMigrationNotFound is returned when a migration_log row does not exist.
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the row's current status.
	ErrInvalidTransition = errors.New("invalid migration status transition")

	// ErrLogFinalized is returned when updating a row that already has
	// completed_at set.
	ErrLogFinalized = errors.New("migration log already finalized")

	// ErrChecksumMismatch is returned when a copied object does not hash to
	// the same value as its source.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// ErrorKind classifies failures for reporting.
type ErrorKind string

const (
	KindUnknown              ErrorKind = "unknown"
	KindPreValidation        ErrorKind = "pre_validation"
	KindTargetIdentification ErrorKind = "target_identification"
	KindDatabaseUpdate       ErrorKind = "database_update"
	KindTransfer             ErrorKind = "transfer"
	KindIntegrity            ErrorKind = "integrity"
	KindConcurrency          ErrorKind = "concurrency"
	KindPathFormat           ErrorKind = "path_format"
)

// PreValidationError means the store or database was not usable; the run
// aborts before anything is written.
type PreValidationError struct {
	Check string
	Err   error
}

func (e *PreValidationError) Error() string {
	return fmt.Sprintf("pre-validation %s: %v", e.Check, e.Err)
}

func (e *PreValidationError) Unwrap() error { return e.Err }

// TargetIdentificationError means the legacy listing failed. No partial
// target list is ever returned alongside it.
type TargetIdentificationError struct {
	Stage string
	Err   error
}

func (e *TargetIdentificationError) Error() string {
	return fmt.Sprintf("identifying targets (%s): %v", e.Stage, e.Err)
}

func (e *TargetIdentificationError) Unwrap() error { return e.Err }

// DatabaseUpdateError covers backup, receipt_url rewrite and migration_log
// write failures. ExpenseID is zero when the error is not row-specific.
type DatabaseUpdateError struct {
	Op        string
	ExpenseID int64
	Err       error
}

func (e *DatabaseUpdateError) Error() string {
	if e.ExpenseID != 0 {
		return fmt.Sprintf("database %s (expense %d): %v", e.Op, e.ExpenseID, e.Err)
	}
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseUpdateError) Unwrap() error { return e.Err }

// Transfer stages.
const (
	StageRead   = "read"
	StageCopy   = "copy"
	StageVerify = "verify"
	StageDelete = "delete"
)

// TransferError is a per-item failure. It is recorded on the Result and never
// aborts the batch.
type TransferError struct {
	Key      string
	Stage    string
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Stage, e.Key, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IntegrityError is a failed post-migration check.
type IntegrityError struct {
	Check string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check %s: %v", e.Check, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Concurrency error reasons.
const (
	ReasonInvalidLimit   = "invalid_limit"
	ReasonAlreadyRunning = "already_running"
	ReasonNotRunning     = "not_running"
)

// ConcurrencyError reports misuse of the run lifecycle: a zero concurrency
// limit, or a second run while one is active.
type ConcurrencyError struct {
	Reason      string
	ActiveLogID int64
	Detail      string
}

func (e *ConcurrencyError) Error() string {
	switch e.Reason {
	case ReasonAlreadyRunning:
		return fmt.Sprintf("migration %d is already running (stop it with `r2mig migrate stop %d`)", e.ActiveLogID, e.ActiveLogID)
	case ReasonNotRunning:
		if e.ActiveLogID == 0 {
			return "no migration is running in this process"
		}
		return fmt.Sprintf("migration %d is not running in this process", e.ActiveLogID)
	}
	if e.Detail != "" {
		return fmt.Sprintf("concurrency: %s: %s", e.Reason, e.Detail)
	}
	return "concurrency: " + e.Reason
}

// KindOf maps err to its ErrorKind by walking the wrap chain.
func KindOf(err error) ErrorKind {
	var (
		pre   *PreValidationError
		tgt   *TargetIdentificationError
		dbu   *DatabaseUpdateError
		xfer  *TransferError
		integ *IntegrityError
		conc  *ConcurrencyError
		path  *PathFormatError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pre):
		return KindPreValidation
	case errors.As(err, &tgt):
		return KindTargetIdentification
	case errors.As(err, &dbu):
		return KindDatabaseUpdate
	case errors.As(err, &xfer):
		return KindTransfer
	case errors.As(err, &integ):
		return KindIntegrity
	case errors.As(err, &conc):
		return KindConcurrency
	case errors.As(err, &path):
		return KindPathFormat
	}
	return KindUnknown
}

// IsRetryable reports whether a store operation that failed with err is
// worth another attempt.
func IsRetryable(err error) bool {
	var path *PathFormatError
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrObjectNotFound),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &path):
		return false
	}
	return true
}
