package r2mig

import (
	"context"
	"strconv"
	"sync"
)

// limiter is a counting semaphore whose capacity can change while permits
// are held. Lowering the limit never interrupts holders; new acquisitions
// wait until the in-flight count drops below it.
type limiter struct {
	mu       sync.Mutex
	limit    int
	inFlight int
	peak     int
	changed  chan struct{} // closed and replaced on release or limit change
}

func newLimiter(limit int) (*limiter, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return &limiter{limit: limit, changed: make(chan struct{})}, nil
}

func checkLimit(n int) error {
	if n <= 0 {
		return &ConcurrencyError{Reason: ReasonInvalidLimit, Detail: "max concurrency must be at least 1, got " + strconv.Itoa(n)}
	}
	return nil
}

// Acquire takes one permit. It gives up with ErrMigrationCancelled when done
// is closed first.
func (l *limiter) Acquire(ctx context.Context, done <-chan struct{}) error {
	for {
		l.mu.Lock()
		if l.inFlight < l.limit {
			l.inFlight++
			if l.inFlight > l.peak {
				l.peak = l.inFlight
			}
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-done:
			return ErrMigrationCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns one permit.
func (l *limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inFlight--
	l.broadcast()
}

// SetLimit changes the capacity.
func (l *limiter) SetLimit(n int) error {
	if err := checkLimit(n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit = n
	l.broadcast()
	return nil
}

func (l *limiter) broadcast() {
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

func (l *limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// Peak is the highest in-flight count observed.
func (l *limiter) Peak() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peak
}
