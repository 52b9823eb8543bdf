package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"r2mig/internal/backup"
	"r2mig/internal/database"
	"r2mig/internal/r2mig"
	"r2mig/internal/testutil"
)

func TestManager_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("plaintext backup is a usable database", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		testutil.SeedExpense(t, db, 7, "receipts/1/a.jpg")
		dir := t.TempDir()

		m := backup.NewManager(db, dir, nil, testutil.FixedClock(), r2mig.NewNopLogger())
		path, err := m.Create(ctx, "run-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if filepath.Dir(path) != dir {
			t.Errorf("backup written to %s, want inside %s", path, dir)
		}
		if !strings.Contains(filepath.Base(path), "run-1") {
			t.Errorf("backup name %q does not carry the label", filepath.Base(path))
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("backup mode = %o, want 600", perm)
		}

		restored, err := database.NewSQLiteDatabase(path)
		if err != nil {
			t.Fatalf("opening backup: %v", err)
		}
		defer restored.Close()
		stats, err := restored.GetReceiptStatistics(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.LegacyURLs != 1 {
			t.Errorf("backup stats = %+v, want one legacy url", stats)
		}
	})

	t.Run("encrypted backup replaces plaintext and decrypts", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		testutil.SeedExpense(t, db, 7, "receipts/1/a.jpg")
		dir := t.TempDir()
		enc := testutil.NewTestEncryptor()

		m := backup.NewManager(db, dir, enc, testutil.FixedClock(), nil)
		path, err := m.Create(ctx, "run-2")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if !strings.HasSuffix(path, ".db.age") {
			t.Fatalf("encrypted backup path = %s, want .db.age suffix", path)
		}
		if _, err := os.Stat(strings.TrimSuffix(path, ".age")); !os.IsNotExist(err) {
			t.Errorf("plaintext backup left behind: %v", err)
		}

		dc, err := enc.Unlock("")
		if err != nil {
			t.Fatal(err)
		}
		out := filepath.Join(t.TempDir(), "restored.db")
		if err := backup.DecryptFile(dc, path, out); err != nil {
			t.Fatalf("DecryptFile() error = %v", err)
		}

		restored, err := database.NewSQLiteDatabase(out)
		if err != nil {
			t.Fatalf("opening decrypted backup: %v", err)
		}
		defer restored.Close()
		stats, err := restored.GetReceiptStatistics(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if stats.TotalExpenses != 1 {
			t.Errorf("decrypted stats = %+v", stats)
		}
	})

	t.Run("two backups in the same second get distinct labels", func(t *testing.T) {
		db := testutil.NewTestDatabase(t)
		dir := t.TempDir()
		m := backup.NewManager(db, dir, nil, testutil.FixedClock(), nil)

		a, err := m.Create(ctx, "run-a")
		if err != nil {
			t.Fatal(err)
		}
		b, err := m.Create(ctx, "run-b")
		if err != nil {
			t.Fatal(err)
		}
		if a == b {
			t.Errorf("backups share a path: %s", a)
		}
	})
}

func TestDecryptFile_RefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.age")
	dst := filepath.Join(dir, "out.db")
	if err := os.WriteFile(src, []byte("R2MIGENCdata"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("keep"), 0600); err != nil {
		t.Fatal(err)
	}

	dc, _ := testutil.NewTestEncryptor().Unlock("")
	if err := backup.DecryptFile(dc, src, dst); err == nil {
		t.Fatal("DecryptFile() should refuse an existing output file")
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "keep" {
		t.Errorf("existing file overwritten: %q", got)
	}
}
