package r2mig

import (
	"context"
)

// TargetSummary counts what IdentifyTargets saw while listing.
type TargetSummary struct {
	Listed     int   `json:"listed"`
	Targets    int   `json:"targets"`
	NotLegacy  int   `json:"not_legacy"`
	Excluded   int   `json:"excluded"`
	Orphaned   int   `json:"orphaned"`
	Ambiguous  int   `json:"ambiguous"`
	Duplicates int   `json:"duplicates"`
	Invalid    int   `json:"invalid"`
	TotalBytes int64 `json:"total_bytes"`
}

// TargetIdentifier turns the legacy listing into migration items by
// resolving each object's owner from the expense table.
type TargetIdentifier struct {
	store   ObjectStore
	db      Database
	exclude *ExcludeMatcher
	logger  Logger
}

func NewTargetIdentifier(store ObjectStore, db Database, exclude *ExcludeMatcher, logger Logger) *TargetIdentifier {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &TargetIdentifier{store: store, db: db, exclude: exclude, logger: logger}
}

// IdentifyTargets lists receipts/ and returns one Item per object with a
// resolvable owner, unique by OldPath. Objects no expense references are
// skipped with a warning. Any listing or lookup failure returns a
// *TargetIdentificationError and no items.
func (t *TargetIdentifier) IdentifyTargets(ctx context.Context) ([]Item, *TargetSummary, error) {
	objects, err := t.store.List(ctx, LegacyPrefix)
	if err != nil {
		return nil, nil, &TargetIdentificationError{Stage: "list", Err: err}
	}

	summary := &TargetSummary{Listed: len(objects)}
	seen := make(map[string]struct{}, len(objects))
	items := make([]Item, 0, len(objects))

	for _, obj := range objects {
		if _, dup := seen[obj.Key]; dup {
			summary.Duplicates++
			continue
		}
		seen[obj.Key] = struct{}{}

		if !IsLegacyKey(obj.Key) {
			summary.NotLegacy++
			continue
		}
		if t.exclude.Match(obj.Key) {
			summary.Excluded++
			t.logger.Debug("excluded object", "key", obj.Key)
			continue
		}

		owner, err := t.db.FindReceiptOwner(ctx, obj.Key)
		if err != nil {
			return nil, nil, &TargetIdentificationError{Stage: "owner_lookup", Err: err}
		}
		if owner == nil {
			summary.Orphaned++
			t.logger.Warn("skipping object with no owning expense", "key", obj.Key, "size", obj.Size)
			continue
		}
		if owner.DistinctUsers > 1 {
			summary.Ambiguous++
			t.logger.Warn("object referenced by several users, using first match",
				"key", obj.Key, "user_id", owner.UserID, "expense_id", owner.ExpenseID, "users", owner.DistinctUsers)
		}

		item, err := NewItem(obj, owner.UserID)
		if err != nil {
			summary.Invalid++
			t.logger.Warn("skipping object with unusable owner", "key", obj.Key, "error", err)
			continue
		}
		items = append(items, item)
		summary.TotalBytes += obj.Size
	}

	summary.Targets = len(items)
	t.logger.Info("targets identified",
		"listed", summary.Listed, "targets", summary.Targets,
		"orphaned", summary.Orphaned, "excluded", summary.Excluded)
	return items, summary, nil
}
