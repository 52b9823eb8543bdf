package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"r2mig/internal/config"
	"r2mig/internal/database/sqlc"
	"r2mig/internal/r2mig"
)

func printConfig(w io.Writer, cfg *config.Config) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Base Dir:\t%s\n", cfg.BaseDir)
	fmt.Fprintf(tw, "Log Dir:\t%s\n", cfg.LogDir)
	fmt.Fprintf(tw, "Database:\t%s %s\n", cfg.Database.Type, cfg.Database.Path)
	switch cfg.Store.Type {
	case "s3":
		fmt.Fprintf(tw, "Store:\ts3 bucket=%s endpoint=%s\n", cfg.Store.Bucket, cfg.Store.Endpoint)
		creds := "default chain"
		if cfg.Store.AccessKeyID != "" {
			creds = "static (" + cfg.Store.AccessKeyID + ")"
		}
		fmt.Fprintf(tw, "Credentials:\t%s\n", creds)
	case "filesystem":
		fmt.Fprintf(tw, "Store:\tfilesystem %s\n", cfg.Store.Root)
	default:
		fmt.Fprintf(tw, "Store:\t%s\n", cfg.Store.Type)
	}
	fmt.Fprintf(tw, "Backups:\tenabled=%t encrypt=%t dir=%s\n", cfg.Backup.Enabled, cfg.Backup.Encrypt, cfg.Backup.Dir)
	m := cfg.Migration
	fmt.Fprintf(tw, "Batch Size:\t%d\n", m.BatchSize)
	fmt.Fprintf(tw, "Concurrency:\t%d\n", m.MaxConcurrency)
	fmt.Fprintf(tw, "Retries:\t%d (%s..%s)\n", m.RetryAttempts, m.RetryBaseDelay, m.RetryMaxDelay)
	if len(m.Exclude) > 0 {
		fmt.Fprintf(tw, "Exclude:\t%s\n", strings.Join(m.Exclude, ", "))
	}
	tw.Flush()
}

func printStartResult(w io.Writer, res *r2mig.StartResult) {
	fmt.Fprintln(w, res.Message)
	if res.MigrationLogID != 0 {
		fmt.Fprintf(w, "Migration ID: %d\n", res.MigrationLogID)
	}
	if e := res.Estimate; e != nil {
		fmt.Fprintf(w, "Objects:      %s (%s)\n", humanize.Comma(int64(e.Items)), humanize.IBytes(uint64(e.Bytes)))
		fmt.Fprintf(w, "URL rows:     %s\n", humanize.Comma(int64(e.URLRows)))
		fmt.Fprintf(w, "Orphaned:     %s\n", humanize.Comma(int64(e.Orphaned)))
		fmt.Fprintf(w, "Excluded:     %s\n", humanize.Comma(int64(e.Excluded)))
		return
	}
	if res.TotalItems > 0 || res.SuccessCount > 0 {
		fmt.Fprintf(w, "Succeeded:    %s of %s\n", humanize.Comma(int64(res.SuccessCount)), humanize.Comma(int64(res.TotalItems)))
		fmt.Fprintf(w, "Failed:       %s\n", humanize.Comma(int64(res.ErrorCount)))
	}
	if u := res.URLUpdate; u != nil {
		fmt.Fprintf(w, "URLs updated: %s (%s verified, %s failed)\n",
			humanize.Comma(int64(u.UpdatedCount)), humanize.Comma(int64(u.VerifiedCount)), humanize.Comma(int64(u.FailedCount)))
	}
	fmt.Fprintf(w, "Duration:     %s\n", (time.Duration(res.DurationMS) * time.Millisecond).String())
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ! %s\n", e)
	}
}

func printStatus(w io.Writer, report *r2mig.StatusReport, row *sqlc.MigrationLog) {
	p := report.Progress
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Migration:\t%d\n", report.CurrentMigrationID)
	fmt.Fprintf(tw, "Status:\t%s\n", p.CurrentStatus)
	fmt.Fprintf(tw, "Running:\t%t\n", report.IsRunning)
	fmt.Fprintf(tw, "Progress:\t%s / %s (%s)\n", humanize.Comma(p.ProcessedItems), humanize.Comma(p.TotalItems), percent(p.ProcessedItems, p.TotalItems))
	fmt.Fprintf(tw, "Succeeded:\t%s\n", humanize.Comma(p.SuccessCount))
	fmt.Fprintf(tw, "Failed:\t%s\n", humanize.Comma(p.ErrorCount))
	if p.ThroughputItemsPerSecond > 0 {
		fmt.Fprintf(tw, "Throughput:\t%s items/s\n", humanize.FormatFloat("#,###.##", p.ThroughputItemsPerSecond))
	}
	if report.IsRunning && p.EstimatedRemainingTime > 0 {
		fmt.Fprintf(tw, "Remaining:\t~%s\n", p.EstimatedRemainingTime.Truncate(time.Second))
	}
	fmt.Fprintf(tw, "Started:\t%s\n", row.StartedAt.String)
	if row.CompletedAt.Valid {
		fmt.Fprintf(tw, "Completed:\t%s\n", row.CompletedAt.String)
	}
	fmt.Fprintf(tw, "Created By:\t%s\n", row.CreatedBy)
	tw.Flush()

	if details, err := r2mig.LogErrorDetails(row); err == nil && len(details) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		for _, d := range details {
			fmt.Fprintf(w, "  %s\n", d)
		}
	}
}

func printHistory(w io.Writer, logs []*sqlc.MigrationLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDURATION\tTOTAL\tOK\tFAILED\tBY")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID,
			l.Status,
			l.StartedAt.String,
			duration(l),
			humanize.Comma(l.TotalItems),
			humanize.Comma(l.SuccessCount),
			humanize.Comma(l.ErrorCount),
			l.CreatedBy,
		)
	}
	tw.Flush()
}

func duration(l *sqlc.MigrationLog) string {
	if !l.StartedAt.Valid || !l.CompletedAt.Valid {
		return "-"
	}
	start, err := r2mig.ParseTimestamp(l.StartedAt.String)
	if err != nil {
		return "-"
	}
	end, err := r2mig.ParseTimestamp(l.CompletedAt.String)
	if err != nil {
		return "-"
	}
	return end.Sub(start).Truncate(time.Second).String()
}

func printIntegrity(w io.Writer, r *r2mig.IntegrityReport) {
	result := "OK"
	if !r.Success {
		result = "PROBLEMS FOUND"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Result:\t%s\n", result)
	fmt.Fprintf(tw, "Receipt URLs:\t%s\n", humanize.Comma(r.DatabaseReceiptCount))
	fmt.Fprintf(tw, "Objects:\t%s\n", humanize.Comma(r.R2FileCount))
	fmt.Fprintf(tw, "Orphaned:\t%s\n", humanize.Comma(r.OrphanedFiles))
	fmt.Fprintf(tw, "Missing/empty:\t%s\n", humanize.Comma(r.CorruptedFiles))
	tw.Flush()
	for _, s := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", s)
	}
	for _, s := range r.Errors {
		fmt.Fprintf(w, "error: %s\n", s)
	}
}

func printStats(w io.Writer, s *r2mig.DatabaseStatistics) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "Expenses:\t%s\n", humanize.Comma(s.TotalExpenses))
	fmt.Fprintf(tw, "With receipt:\t%s\n", humanize.Comma(s.WithReceiptURL))
	fmt.Fprintf(tw, "Legacy layout:\t%s (%s)\n", humanize.Comma(s.LegacyURLs), percent(s.LegacyURLs, s.WithReceiptURL))
	fmt.Fprintf(tw, "Per-user layout:\t%s (%s)\n", humanize.Comma(s.UserURLs), percent(s.UserURLs, s.WithReceiptURL))
	tw.Flush()
	if !s.Consistent() {
		fmt.Fprintln(w, "warning: some receipt URLs match neither layout")
	}
}

func percent(n, total int64) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
}

// confirm asks a yes/no question on the terminal. Without a terminal it
// refuses rather than guessing.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, errors.New("stdin is not a terminal: pass --yes to confirm")
	}
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// readPassphrase reads a passphrase without echo. Outside a terminal it
// falls back to R2MIG_PASSPHRASE.
func readPassphrase(prompt string, twice bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		if p := os.Getenv("R2MIG_PASSPHRASE"); p != "" {
			return p, nil
		}
		return "", errors.New("stdin is not a terminal: set R2MIG_PASSPHRASE")
	}

	fmt.Fprint(os.Stderr, prompt)
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if !twice {
		return string(first), nil
	}

	fmt.Fprint(os.Stderr, "Repeat: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passphrases do not match")
	}
	return string(first), nil
}
