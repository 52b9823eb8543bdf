package store

import (
	"context"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, "k", []byte("abc"), ""); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "k")
	got[0] = 'X'

	again, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored data mutated through Get() result: %q", again)
	}
}

func TestMemoryStore_ListSorted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, k := range []string{"receipts/3", "receipts/1", "receipts/2"} {
		if err := s.Put(ctx, k, []byte(k), ""); err != nil {
			t.Fatal(err)
		}
	}

	objs, err := s.List(ctx, "receipts/")
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"receipts/1", "receipts/2", "receipts/3"} {
		if objs[i].Key != want {
			t.Errorf("objs[%d] = %q, want %q", i, objs[i].Key, want)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}
