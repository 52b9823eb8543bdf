package store

import (
	"context"
	"errors"
	"testing"

	"r2mig/internal/r2mig"
)

// exerciseStore runs the behaviour every ObjectStore must share.
func exerciseStore(t *testing.T, s r2mig.ObjectStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "receipts/missing.jpg")
		if !errors.Is(err, r2mig.ErrObjectNotFound) {
			t.Errorf("Get() error = %v, want ErrObjectNotFound", err)
		}
	})

	t.Run("put get stat", func(t *testing.T) {
		if err := s.Put(ctx, "receipts/1/a.jpg", []byte("hello"), "image/jpeg"); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		got, err := s.Get(ctx, "receipts/1/a.jpg")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if string(got) != "hello" {
			t.Errorf("Get() = %q, want hello", got)
		}
		info, err := s.Stat(ctx, "receipts/1/a.jpg")
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if info.Size != 5 || info.Key != "receipts/1/a.jpg" {
			t.Errorf("Stat() = %+v", info)
		}
	})

	t.Run("copy leaves source in place", func(t *testing.T) {
		if err := s.Put(ctx, "receipts/2/b.pdf", []byte("pdf-bytes"), ""); err != nil {
			t.Fatal(err)
		}
		if err := s.Copy(ctx, "receipts/2/b.pdf", "users/9/receipts/2/b.pdf"); err != nil {
			t.Fatalf("Copy() error = %v", err)
		}
		got, err := s.Get(ctx, "users/9/receipts/2/b.pdf")
		if err != nil {
			t.Fatalf("Get(copy) error = %v", err)
		}
		if string(got) != "pdf-bytes" {
			t.Errorf("copy = %q", got)
		}
		if _, err := s.Stat(ctx, "receipts/2/b.pdf"); err != nil {
			t.Errorf("source gone after Copy(): %v", err)
		}
	})

	t.Run("copy missing source", func(t *testing.T) {
		err := s.Copy(ctx, "receipts/nope.jpg", "users/1/receipts/nope.jpg")
		if !errors.Is(err, r2mig.ErrObjectNotFound) {
			t.Errorf("Copy() error = %v, want ErrObjectNotFound", err)
		}
	})

	t.Run("list by prefix", func(t *testing.T) {
		objs, err := s.List(ctx, "receipts/")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		keys := map[string]bool{}
		for _, o := range objs {
			keys[o.Key] = true
		}
		if !keys["receipts/1/a.jpg"] || !keys["receipts/2/b.pdf"] {
			t.Errorf("List(receipts/) = %v", objs)
		}
		if keys["users/9/receipts/2/b.pdf"] {
			t.Error("List(receipts/) returned a users/ key")
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		if err := s.Delete(ctx, "receipts/1/a.jpg"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if err := s.Delete(ctx, "receipts/1/a.jpg"); err != nil {
			t.Errorf("second Delete() error = %v", err)
		}
		if _, err := s.Stat(ctx, "receipts/1/a.jpg"); !errors.Is(err, r2mig.ErrObjectNotFound) {
			t.Errorf("Stat() after delete error = %v", err)
		}
	})

	t.Run("validate setup", func(t *testing.T) {
		if err := s.ValidateSetup(ctx); err != nil {
			t.Errorf("ValidateSetup() error = %v", err)
		}
	})
}
