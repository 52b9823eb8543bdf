package r2mig

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultURLBatchSize is how many receipt_url rows are rewritten per
// transaction.
const DefaultURLBatchSize = 100

// DatabaseUpdater keeps expenses.receipt_url in step with relocated objects.
type DatabaseUpdater struct {
	db      Database
	store   ObjectStore
	logger  Logger
	metrics Metrics
	clock   Clock
}

func NewDatabaseUpdater(db Database, store ObjectStore, logger Logger, metrics Metrics, clock Clock) *DatabaseUpdater {
	if logger == nil {
		logger = NewNopLogger()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &DatabaseUpdater{db: db, store: store, logger: logger, metrics: metrics, clock: clock}
}

// legacyURL is a detected row with its URL split around the object key.
type legacyURL struct {
	URLUpdateItem
	prefix string
	key    string
}

func (u *DatabaseUpdater) detect(ctx context.Context) ([]legacyURL, error) {
	rows, err := u.db.ListLegacyReceiptURLs(ctx)
	if err != nil {
		return nil, &DatabaseUpdateError{Op: "detect", Err: err}
	}

	out := make([]legacyURL, 0, len(rows))
	for _, row := range rows {
		if !row.ReceiptUrl.Valid {
			continue
		}
		prefix, key, ok := SplitReceiptURL(row.ReceiptUrl.String)
		if !ok || !IsLegacyKey(key) {
			continue
		}
		newKey, err := ConvertPath(key, row.UserID)
		if err != nil {
			u.logger.Warn("cannot convert receipt url", "expense_id", row.ID, "url", row.ReceiptUrl.String, "error", err)
			continue
		}
		out = append(out, legacyURL{
			URLUpdateItem: URLUpdateItem{
				ExpenseID: row.ID,
				OldURL:    row.ReceiptUrl.String,
				NewURL:    prefix + newKey,
			},
			prefix: prefix,
			key:    key,
		})
	}
	return out, nil
}

// DetectLegacyURLs returns a rewrite for every expense whose receipt_url
// still uses the flat layout. It never writes.
func (u *DatabaseUpdater) DetectLegacyURLs(ctx context.Context) ([]URLUpdateItem, error) {
	detected, err := u.detect(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]URLUpdateItem, len(detected))
	for i, d := range detected {
		items[i] = d.URLUpdateItem
	}
	return items, nil
}

// EstimateURLUpdates counts the rows a real run would consider rewriting.
func (u *DatabaseUpdater) EstimateURLUpdates(ctx context.Context) (int, error) {
	detected, err := u.detect(ctx)
	if err != nil {
		return 0, err
	}
	return len(detected), nil
}

// PlanURLUpdates selects the legacy rows that can be rewritten now: rows
// whose object was moved in this run (using the item's actual destination),
// and rows whose object is already gone from receipts/ but present at the
// converted key, which an earlier interrupted run left behind.
func (u *DatabaseUpdater) PlanURLUpdates(ctx context.Context, migrated []Item) ([]URLUpdateItem, error) {
	detected, err := u.detect(ctx)
	if err != nil {
		return nil, err
	}

	moved := make(map[string]Item, len(migrated))
	for _, it := range migrated {
		moved[it.OldPath] = it
	}

	var plan []URLUpdateItem
	for _, d := range detected {
		if it, ok := moved[d.key]; ok {
			plan = append(plan, URLUpdateItem{ExpenseID: d.ExpenseID, OldURL: d.OldURL, NewURL: d.prefix + it.NewPath})
			continue
		}
		if u.store == nil {
			continue
		}
		relocated, err := u.alreadyRelocated(ctx, d)
		if err != nil {
			u.logger.Warn("checking object location", "expense_id", d.ExpenseID, "key", d.key, "error", err)
			continue
		}
		if relocated {
			plan = append(plan, d.URLUpdateItem)
		}
	}
	return plan, nil
}

func (u *DatabaseUpdater) alreadyRelocated(ctx context.Context, d legacyURL) (bool, error) {
	if _, err := u.store.Stat(ctx, d.key); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrObjectNotFound) {
		return false, err
	}
	_, newKey, _ := SplitReceiptURL(d.NewURL)
	if _, err := u.store.Stat(ctx, newKey); err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UpdateReceiptURLsBatch rewrites items in transactions of batchSize rows.
// Each row is updated only if it still holds OldURL, then re-read to confirm
// it holds NewURL. Row failures are counted and never stop the batch.
func (u *DatabaseUpdater) UpdateReceiptURLsBatch(ctx context.Context, items []URLUpdateItem, batchSize int) DatabaseUpdateResult {
	if batchSize <= 0 {
		batchSize = DefaultURLBatchSize
	}
	start := u.clock.Now()
	var res DatabaseUpdateResult

	for offset := 0; offset < len(items); offset += batchSize {
		chunk := items[offset:min(offset+batchSize, len(items))]

		outcomes, err := u.db.UpdateReceiptURLs(ctx, chunk, u.clock.Now())
		if err != nil {
			res.FailedCount += len(chunk)
			res.Errors = append(res.Errors, (&DatabaseUpdateError{Op: "update_batch", Err: err}).Error())
			u.logger.Error("receipt url batch rolled back", "rows", len(chunk), "error", err)
			continue
		}

		for _, o := range outcomes {
			// An update that does not read back is a failure, not an update.
			if o.Updated && o.Verified {
				res.UpdatedCount++
				res.VerifiedCount++
				continue
			}
			res.FailedCount++
			err := o.Err
			if err == nil {
				err = fmt.Errorf("row not verified")
			}
			res.Errors = append(res.Errors, (&DatabaseUpdateError{Op: "update", ExpenseID: o.ExpenseID, Err: err}).Error())
		}
	}

	res.Duration = u.clock.Now().Sub(start)
	u.metrics.URLsUpdated(OutcomeSuccess, res.VerifiedCount)
	u.metrics.URLsUpdated(OutcomeFailed, res.FailedCount)
	u.logger.Info("receipt urls updated",
		"updated", res.UpdatedCount, "verified", res.VerifiedCount, "failed", res.FailedCount,
		"duration", res.Duration.Truncate(time.Millisecond))
	return res
}

// GetDatabaseStatistics counts expenses by receipt layout.
func (u *DatabaseUpdater) GetDatabaseStatistics(ctx context.Context) (*DatabaseStatistics, error) {
	stats, err := u.db.GetReceiptStatistics(ctx)
	if err != nil {
		return nil, &DatabaseUpdateError{Op: "statistics", Err: err}
	}
	return stats, nil
}
