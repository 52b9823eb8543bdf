package r2mig

import (
	"fmt"

	"r2mig/internal/database/sqlc"
	"r2mig/internal/jsonutil"
)

// MigrationType identifies rows written by this engine in migration_log.
const MigrationType = "r2_user_directory"

// migration_log.status values.
const (
	StatusStarted    = "started"
	StatusInProgress = "in_progress"
	StatusPaused     = "paused"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

var transitions = map[string][]string{
	StatusStarted:    {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
	StatusPaused:     {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
}

// IsTerminalStatus reports whether no further status change is allowed.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ValidateTransition checks that a row in status from may move to status to.
// Rewriting the same status is allowed so counters can be refreshed.
func ValidateTransition(from, to string) error {
	if from == to {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsFinalized reports whether the row's owning run has written its final
// counts.
func IsFinalized(log *sqlc.MigrationLog) bool {
	return log.CompletedAt.Valid
}

// LogMetadata decodes the metadata column. A NULL column yields an empty map.
func LogMetadata(log *sqlc.MigrationLog) (map[string]any, error) {
	md := map[string]any{}
	if !log.Metadata.Valid || log.Metadata.String == "" {
		return md, nil
	}
	if err := jsonutil.Unmarshal([]byte(log.Metadata.String), &md); err != nil {
		return nil, fmt.Errorf("decoding migration metadata: %w", err)
	}
	return md, nil
}

// LogErrorDetails decodes the error_details column.
func LogErrorDetails(log *sqlc.MigrationLog) ([]string, error) {
	if !log.ErrorDetails.Valid || log.ErrorDetails.String == "" {
		return nil, nil
	}
	var details []string
	if err := jsonutil.Unmarshal([]byte(log.ErrorDetails.String), &details); err != nil {
		return nil, fmt.Errorf("decoding migration error details: %w", err)
	}
	return details, nil
}
