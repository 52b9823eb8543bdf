package r2mig

import (
	"database/sql"
	"errors"
	"testing"

	"r2mig/internal/database/sqlc"
)

func TestValidateTransition(t *testing.T) {
	allowed := map[string][]string{
		StatusStarted:    {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
		StatusInProgress: {StatusPaused, StatusCompleted, StatusFailed, StatusCancelled},
		StatusPaused:     {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	}
	all := []string{StatusStarted, StatusInProgress, StatusPaused, StatusCompleted, StatusFailed, StatusCancelled}

	for _, from := range all {
		for _, to := range all {
			want := from == to
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			err := ValidateTransition(from, to)
			if want && err != nil {
				t.Errorf("ValidateTransition(%s, %s) error = %v, want allowed", from, to, err)
			}
			if !want && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition(%s, %s) error = %v, want ErrInvalidTransition", from, to, err)
			}
		}
	}
}

func TestIsTerminalStatus(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		if !IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%s) = false", s)
		}
	}
	for _, s := range []string{StatusStarted, StatusInProgress, StatusPaused} {
		if IsTerminalStatus(s) {
			t.Errorf("IsTerminalStatus(%s) = true", s)
		}
	}
}

func TestLogColumns(t *testing.T) {
	row := &sqlc.MigrationLog{
		Metadata:     sql.NullString{String: `{"run_id":"r-1","batch_size":100}`, Valid: true},
		ErrorDetails: sql.NullString{String: `["copy receipts/a.png failed"]`, Valid: true},
	}

	md, err := LogMetadata(row)
	if err != nil {
		t.Fatalf("LogMetadata() error = %v", err)
	}
	if md["run_id"] != "r-1" {
		t.Errorf("run_id = %v, want r-1", md["run_id"])
	}

	details, err := LogErrorDetails(row)
	if err != nil {
		t.Fatalf("LogErrorDetails() error = %v", err)
	}
	if len(details) != 1 {
		t.Errorf("LogErrorDetails() = %v, want one entry", details)
	}

	empty := &sqlc.MigrationLog{}
	if md, err := LogMetadata(empty); err != nil || len(md) != 0 {
		t.Errorf("LogMetadata(NULL) = %v, %v; want empty map", md, err)
	}
	if IsFinalized(empty) {
		t.Error("IsFinalized() = true without completed_at")
	}

	bad := &sqlc.MigrationLog{Metadata: sql.NullString{String: "{", Valid: true}}
	if _, err := LogMetadata(bad); err == nil {
		t.Error("LogMetadata() expected error for malformed json")
	}
}
