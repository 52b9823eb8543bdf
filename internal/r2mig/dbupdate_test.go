package r2mig_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"r2mig/internal/r2mig"
	"r2mig/internal/testutil"
)

type urlMetrics struct {
	r2mig.NopMetrics

	mu   sync.Mutex
	urls map[string]int
}

func (m *urlMetrics) URLsUpdated(outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.urls == nil {
		m.urls = map[string]int{}
	}
	m.urls[outcome] += n
}

func TestDatabaseUpdater_DetectLegacyURLs(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	a := testutil.SeedExpense(t, db, 7, "receipts/a.jpg")
	b := testutil.SeedExpense(t, db, 9, "receipts/2025/b.png")
	testutil.SeedExpense(t, db, 7, "users/7/receipts/c.jpg")
	testutil.SeedExpense(t, db, 7, "")

	u := r2mig.NewDatabaseUpdater(db, nil, nil, nil, testutil.FixedClock())
	got, err := u.DetectLegacyURLs(context.Background())
	if err != nil {
		t.Fatalf("DetectLegacyURLs() error = %v", err)
	}

	want := []r2mig.URLUpdateItem{
		{ExpenseID: a, OldURL: testutil.ReceiptBaseURL + "receipts/a.jpg", NewURL: testutil.ReceiptBaseURL + "users/7/receipts/a.jpg"},
		{ExpenseID: b, OldURL: testutil.ReceiptBaseURL + "receipts/2025/b.png", NewURL: testutil.ReceiptBaseURL + "users/9/receipts/2025/b.png"},
	}
	if len(got) != len(want) {
		t.Fatalf("DetectLegacyURLs() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	// Detection never writes.
	if url := testutil.ReceiptURL(t, db, a); url != testutil.ReceiptBaseURL+"receipts/a.jpg" {
		t.Errorf("receipt_url changed to %q", url)
	}
}

func TestDatabaseUpdater_PlanURLUpdates(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	mem := testutil.NewTestStore()

	moved := testutil.SeedExpense(t, db, 7, "receipts/moved.jpg")
	testutil.SeedReceipt(t, db, mem, 7, "receipts/pending.jpg", []byte("p"))
	// Left behind by an interrupted run: object moved, row not rewritten.
	leftover := testutil.SeedExpense(t, db, 9, "receipts/leftover.jpg")
	if err := mem.Put(ctx, "users/9/receipts/leftover.jpg", []byte("l"), ""); err != nil {
		t.Fatal(err)
	}
	testutil.SeedExpense(t, db, 4, "receipts/lost.jpg")

	migrated := []r2mig.Item{{OldPath: "receipts/moved.jpg", NewPath: "users/7/receipts/moved.jpg", UserID: 7}}

	u := r2mig.NewDatabaseUpdater(db, mem, nil, nil, testutil.FixedClock())
	plan, err := u.PlanURLUpdates(ctx, migrated)
	if err != nil {
		t.Fatalf("PlanURLUpdates() error = %v", err)
	}

	byID := make(map[int64]r2mig.URLUpdateItem, len(plan))
	for _, p := range plan {
		byID[p.ExpenseID] = p
	}
	if len(byID) != 2 {
		t.Fatalf("PlanURLUpdates() = %+v, want the moved and leftover rows", plan)
	}
	if got := byID[moved].NewURL; got != testutil.ReceiptBaseURL+"users/7/receipts/moved.jpg" {
		t.Errorf("moved NewURL = %q", got)
	}
	if got := byID[leftover].NewURL; got != testutil.ReceiptBaseURL+"users/9/receipts/leftover.jpg" {
		t.Errorf("leftover NewURL = %q", got)
	}
}

func TestDatabaseUpdater_UpdateReceiptURLsBatch(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	a := testutil.SeedExpense(t, db, 7, "receipts/a.jpg")
	b := testutil.SeedExpense(t, db, 7, "receipts/b.jpg")
	c := testutil.SeedExpense(t, db, 8, "receipts/c.jpg")

	m := &urlMetrics{}
	u := r2mig.NewDatabaseUpdater(db, nil, nil, m, testutil.FixedClock())

	items := []r2mig.URLUpdateItem{
		{ExpenseID: a, OldURL: testutil.ReceiptBaseURL + "receipts/a.jpg", NewURL: testutil.ReceiptBaseURL + "users/7/receipts/a.jpg"},
		// Stale: the row no longer holds this value.
		{ExpenseID: b, OldURL: testutil.ReceiptBaseURL + "receipts/other.jpg", NewURL: testutil.ReceiptBaseURL + "users/7/receipts/other.jpg"},
		{ExpenseID: c, OldURL: testutil.ReceiptBaseURL + "receipts/c.jpg", NewURL: testutil.ReceiptBaseURL + "users/8/receipts/c.jpg"},
	}
	res := u.UpdateReceiptURLsBatch(ctx, items, 2)

	if res.UpdatedCount != 2 || res.VerifiedCount != 2 || res.FailedCount != 1 {
		t.Errorf("result = %+v, want 2 updated, 2 verified, 1 failed", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "expense") {
		t.Errorf("Errors = %v", res.Errors)
	}

	if got := testutil.ReceiptURL(t, db, a); got != items[0].NewURL {
		t.Errorf("a receipt_url = %q", got)
	}
	if got := testutil.ReceiptURL(t, db, b); got != testutil.ReceiptBaseURL+"receipts/b.jpg" {
		t.Errorf("stale row rewritten to %q", got)
	}
	if got := testutil.ReceiptURL(t, db, c); got != items[2].NewURL {
		t.Errorf("c receipt_url = %q", got)
	}

	if m.urls[r2mig.OutcomeSuccess] != 2 || m.urls[r2mig.OutcomeFailed] != 1 {
		t.Errorf("url metrics = %v", m.urls)
	}
}

// unverifiedDB reports every row as written but not read back.
type unverifiedDB struct {
	r2mig.Database
}

func (unverifiedDB) UpdateReceiptURLs(_ context.Context, items []r2mig.URLUpdateItem, _ time.Time) ([]r2mig.URLUpdateOutcome, error) {
	out := make([]r2mig.URLUpdateOutcome, len(items))
	for i, item := range items {
		out[i] = r2mig.URLUpdateOutcome{ExpenseID: item.ExpenseID, Updated: true}
	}
	return out, nil
}

func TestDatabaseUpdater_UnverifiedRowCountsAsFailed(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	a := testutil.SeedExpense(t, db, 7, "receipts/a.jpg")

	m := &urlMetrics{}
	u := r2mig.NewDatabaseUpdater(unverifiedDB{db}, nil, nil, m, testutil.FixedClock())
	res := u.UpdateReceiptURLsBatch(context.Background(), []r2mig.URLUpdateItem{
		{ExpenseID: a, OldURL: testutil.ReceiptBaseURL + "receipts/a.jpg", NewURL: testutil.ReceiptBaseURL + "users/7/receipts/a.jpg"},
	}, 10)

	if res.UpdatedCount != 0 || res.VerifiedCount != 0 || res.FailedCount != 1 {
		t.Errorf("result = %+v, want 0 updated, 0 verified, 1 failed", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "not verified") {
		t.Errorf("Errors = %v", res.Errors)
	}
	if m.urls[r2mig.OutcomeSuccess] != 0 || m.urls[r2mig.OutcomeFailed] != 1 {
		t.Errorf("url metrics = %v", m.urls)
	}
}

func TestDatabaseUpdater_UpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewTestDatabase(t)
	a := testutil.SeedExpense(t, db, 7, "receipts/a.jpg")

	u := r2mig.NewDatabaseUpdater(db, nil, nil, nil, testutil.NewStubClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	items, err := u.DetectLegacyURLs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res := u.UpdateReceiptURLsBatch(ctx, items, 0); res.VerifiedCount != 1 {
		t.Fatalf("first update = %+v", res)
	}

	again, err := u.DetectLegacyURLs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("DetectLegacyURLs() after update = %+v, want none", again)
	}
	if got := testutil.ReceiptURL(t, db, a); got != testutil.ReceiptBaseURL+"users/7/receipts/a.jpg" {
		t.Errorf("receipt_url = %q", got)
	}
}

func TestDatabaseUpdater_GetDatabaseStatistics(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	testutil.SeedExpense(t, db, 7, "receipts/a.jpg")
	testutil.SeedExpense(t, db, 7, "users/7/receipts/b.jpg")
	testutil.SeedExpense(t, db, 8, "users/8/receipts/c.jpg")
	testutil.SeedExpense(t, db, 8, "")

	stats, err := r2mig.NewDatabaseUpdater(db, nil, nil, nil, nil).GetDatabaseStatistics(context.Background())
	if err != nil {
		t.Fatalf("GetDatabaseStatistics() error = %v", err)
	}
	want := r2mig.DatabaseStatistics{TotalExpenses: 4, WithReceiptURL: 3, LegacyURLs: 1, UserURLs: 2}
	if *stats != want {
		t.Errorf("GetDatabaseStatistics() = %+v, want %+v", *stats, want)
	}
	if !stats.Consistent() {
		t.Error("Consistent() = false")
	}
}
