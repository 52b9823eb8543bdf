package r2mig

import (
	"time"

	"github.com/google/uuid"
)

// JST is the zone migration_log timestamps are written in.
var JST = time.FixedZone("JST", 9*60*60)

// Clock abstracts time retrieval so run durations and log timestamps are
// deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// IDGenerator produces run IDs and probe object names.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }

// FormatTimestamp renders t as RFC3339 in JST, the format stored in
// migration_log.started_at and completed_at.
func FormatTimestamp(t time.Time) string {
	return t.In(JST).Format(time.RFC3339)
}

// ParseTimestamp is the inverse of FormatTimestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
