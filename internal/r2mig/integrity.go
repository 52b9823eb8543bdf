package r2mig

import (
	"context"
	"fmt"
)

// maxReportedProblems caps how many individual problems are listed in an
// IntegrityReport; the counters stay exact.
const maxReportedProblems = 50

// ValidateIntegrity cross-checks receipt_url references against the bucket.
// Objects under receipts/ or users/ that no row references are orphaned.
// References to missing or empty objects are corrupted and reported as
// errors. Layout inconsistencies and leftover legacy data are warnings.
func (s *MigrationService) ValidateIntegrity(ctx context.Context) (*IntegrityReport, error) {
	stats, err := s.updater.GetDatabaseStatistics(ctx)
	if err != nil {
		return nil, &IntegrityError{Check: "statistics", Err: err}
	}
	rows, err := s.db.ListReceiptURLs(ctx)
	if err != nil {
		return nil, &IntegrityError{Check: "receipt_urls", Err: err}
	}
	legacy, err := s.store.List(ctx, LegacyPrefix)
	if err != nil {
		return nil, &IntegrityError{Check: "list_legacy", Err: err}
	}
	users, err := s.store.List(ctx, UserPrefix)
	if err != nil {
		return nil, &IntegrityError{Check: "list_users", Err: err}
	}

	sizes := make(map[string]int64, len(legacy)+len(users))
	for _, o := range legacy {
		sizes[o.Key] = o.Size
	}
	for _, o := range users {
		sizes[o.Key] = o.Size
	}

	report := &IntegrityReport{
		DatabaseReceiptCount: stats.WithReceiptURL,
		R2FileCount:          int64(len(sizes)),
		Warnings:             []string{},
		Errors:               []string{},
	}

	referenced := make(map[string]struct{}, len(rows))
	unrecognized := 0
	for _, row := range rows {
		_, key, ok := SplitReceiptURL(row.ReceiptUrl.String)
		if !ok {
			unrecognized++
			continue
		}
		referenced[key] = struct{}{}

		size, exists := sizes[key]
		switch {
		case !exists:
			report.CorruptedFiles++
			report.addError(fmt.Sprintf("expense %d references missing object %s", row.ID, key))
		case size == 0:
			report.CorruptedFiles++
			report.addError(fmt.Sprintf("expense %d references empty object %s", row.ID, key))
		}
	}

	for key := range sizes {
		if _, ok := referenced[key]; !ok {
			report.OrphanedFiles++
		}
	}

	if !stats.Consistent() {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"receipt url layout counts disagree: legacy %d + user %d != %d with receipt url",
			stats.LegacyURLs, stats.UserURLs, stats.WithReceiptURL))
	}
	if unrecognized > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d receipt urls do not contain a receipt key", unrecognized))
	}
	if stats.LegacyURLs > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d expenses still use legacy receipt urls", stats.LegacyURLs))
	}
	if len(legacy) > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d objects remain under %s", len(legacy), LegacyPrefix))
	}
	if report.OrphanedFiles > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d objects are not referenced by any expense", report.OrphanedFiles))
	}
	if report.CorruptedFiles > int64(maxReportedProblems) {
		report.Errors = append(report.Errors, fmt.Sprintf("... and %d more", report.CorruptedFiles-int64(maxReportedProblems)))
	}

	report.Success = len(report.Errors) == 0
	return report, nil
}

func (r *IntegrityReport) addError(msg string) {
	if len(r.Errors) < maxReportedProblems {
		r.Errors = append(r.Errors, msg)
	}
}
