package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"r2mig/internal/r2mig"
	"r2mig/internal/store"
)

// NewTestStore creates a new in-memory object store for testing.
func NewTestStore() *store.MemoryStore {
	return store.NewMemoryStore()
}

// ErrInjected is returned by FaultyStore for scripted failures.
var ErrInjected = errors.New("injected transient failure")

// FaultyStore wraps a store and fails operations on demand.
// Operation names are "list", "get", "put", "copy", "delete" and "stat";
// copy failures and counts are keyed by the source key.
type FaultyStore struct {
	r2mig.ObjectStore

	mu       sync.Mutex
	failures map[string]int
	always   map[string]bool
	corrupt  map[string]bool
	calls    map[string]int
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner r2mig.ObjectStore) *FaultyStore {
	return &FaultyStore{
		ObjectStore: inner,
		failures:    make(map[string]int),
		always:      make(map[string]bool),
		corrupt:     make(map[string]bool),
		calls:       make(map[string]int),
	}
}

func opKey(op, key string) string { return op + " " + key }

// FailNext makes the next n calls of op on key fail with ErrInjected.
func (f *FaultyStore) FailNext(op, key string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[opKey(op, key)] = n
}

// FailAlways makes every call of op on key fail.
func (f *FaultyStore) FailAlways(op, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.always[opKey(op, key)] = true
}

// CorruptCopiesTo makes Copy write altered bytes when dst is the destination.
func (f *FaultyStore) CorruptCopiesTo(dst string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrupt[dst] = true
}

// Calls returns how many times op was invoked on key.
func (f *FaultyStore) Calls(op, key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[opKey(op, key)]
}

func (f *FaultyStore) check(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := opKey(op, key)
	f.calls[k]++
	if f.always[k] {
		return fmt.Errorf("%s %s: %w", op, key, ErrInjected)
	}
	if f.failures[k] > 0 {
		f.failures[k]--
		return fmt.Errorf("%s %s: %w", op, key, ErrInjected)
	}
	return nil
}

func (f *FaultyStore) List(ctx context.Context, prefix string) ([]r2mig.ObjectInfo, error) {
	if err := f.check("list", prefix); err != nil {
		return nil, err
	}
	return f.ObjectStore.List(ctx, prefix)
}

func (f *FaultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.check("get", key); err != nil {
		return nil, err
	}
	return f.ObjectStore.Get(ctx, key)
}

func (f *FaultyStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := f.check("put", key); err != nil {
		return err
	}
	return f.ObjectStore.Put(ctx, key, data, contentType)
}

func (f *FaultyStore) Copy(ctx context.Context, src, dst string) error {
	if err := f.check("copy", src); err != nil {
		return err
	}
	f.mu.Lock()
	corrupt := f.corrupt[dst]
	f.mu.Unlock()
	if !corrupt {
		return f.ObjectStore.Copy(ctx, src, dst)
	}
	data, err := f.ObjectStore.Get(ctx, src)
	if err != nil {
		return err
	}
	return f.ObjectStore.Put(ctx, dst, append(data, "corrupted"...), "")
}

func (f *FaultyStore) Delete(ctx context.Context, key string) error {
	if err := f.check("delete", key); err != nil {
		return err
	}
	return f.ObjectStore.Delete(ctx, key)
}

func (f *FaultyStore) Stat(ctx context.Context, key string) (*r2mig.ObjectInfo, error) {
	if err := f.check("stat", key); err != nil {
		return nil, err
	}
	return f.ObjectStore.Stat(ctx, key)
}

// RecordingStore wraps a store and records every mutating call.
type RecordingStore struct {
	r2mig.ObjectStore

	mu        sync.Mutex
	mutations []string
}

func NewRecordingStore(inner r2mig.ObjectStore) *RecordingStore {
	return &RecordingStore{ObjectStore: inner}
}

func (r *RecordingStore) record(m string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, m)
}

// Mutations returns the recorded calls, e.g. "copy a -> b", "delete a".
func (r *RecordingStore) Mutations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.mutations...)
}

// Reset forgets recorded calls.
func (r *RecordingStore) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = nil
}

func (r *RecordingStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	r.record("put " + key)
	return r.ObjectStore.Put(ctx, key, data, contentType)
}

func (r *RecordingStore) Copy(ctx context.Context, src, dst string) error {
	r.record("copy " + src + " -> " + dst)
	return r.ObjectStore.Copy(ctx, src, dst)
}

func (r *RecordingStore) Delete(ctx context.Context, key string) error {
	r.record("delete " + key)
	return r.ObjectStore.Delete(ctx, key)
}

// GateStore blocks Get calls on keys under Prefix until the test lets them
// through, so tests can hold items in flight. It tracks how many gated
// calls were waiting at once.
type GateStore struct {
	r2mig.ObjectStore
	Prefix string

	entered chan string
	release chan struct{}
	open    chan struct{}
	once    sync.Once

	waiting atomic.Int64
	peak    atomic.Int64
}

// NewGateStore gates reads of keys starting with prefix.
func NewGateStore(inner r2mig.ObjectStore, prefix string) *GateStore {
	return &GateStore{
		ObjectStore: inner,
		Prefix:      prefix,
		entered:     make(chan string, 1024),
		release:     make(chan struct{}),
		open:        make(chan struct{}),
	}
}

func (g *GateStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, g.Prefix) {
		n := g.waiting.Add(1)
		for {
			p := g.peak.Load()
			if n <= p || g.peak.CompareAndSwap(p, n) {
				break
			}
		}
		g.entered <- key
		select {
		case <-g.release:
		case <-g.open:
		case <-ctx.Done():
			g.waiting.Add(-1)
			return nil, ctx.Err()
		}
		g.waiting.Add(-1)
	}
	return g.ObjectStore.Get(ctx, key)
}

// WaitEntered waits until n gated calls have arrived and returns their keys.
func (g *GateStore) WaitEntered(t *testing.T, n int) []string {
	t.Helper()

	keys := make([]string, 0, n)
	timeout := time.After(5 * time.Second)
	for len(keys) < n {
		select {
		case k := <-g.entered:
			keys = append(keys, k)
		case <-timeout:
			t.Fatalf("WaitEntered: got %d gated calls, want %d", len(keys), n)
		}
	}
	return keys
}

// AssertNoneEntered fails if a gated call arrives within d.
func (g *GateStore) AssertNoneEntered(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case k := <-g.entered:
		t.Fatalf("unexpected gated call for %s", k)
	case <-time.After(d):
	}
}

// Release lets n waiting calls proceed, one at a time.
func (g *GateStore) Release(n int) {
	for range n {
		g.release <- struct{}{}
	}
}

// Open lets every current and future call through.
func (g *GateStore) Open() {
	g.once.Do(func() { close(g.open) })
}

// Waiting returns the number of calls currently held.
func (g *GateStore) Waiting() int { return int(g.waiting.Load()) }

// Peak returns the most calls held at once.
func (g *GateStore) Peak() int { return int(g.peak.Load()) }
