package r2mig

import (
	"context"
	"errors"
	"sync"
)

// ErrMigrationCancelled is returned by dispatch waits once a run is cancelled.
var ErrMigrationCancelled = errors.New("migration cancelled")

// flowControl is the pause/resume/cancel state of one run. Pause and resume
// gate dispatch of new items only; cancel is one-way.
type flowControl struct {
	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{} // closed while running, replaced on pause

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newFlowControl() *flowControl {
	resumeCh := make(chan struct{})
	close(resumeCh)
	return &flowControl{
		resumeCh: resumeCh,
		cancelCh: make(chan struct{}),
	}
}

// Pause stops new dispatch until Resume or Cancel. Idempotent.
func (f *flowControl) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paused || f.IsCancelled() {
		return
	}
	f.paused = true
	f.resumeCh = make(chan struct{})
}

// Resume releases a Pause. Idempotent.
func (f *flowControl) Resume() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.paused {
		return
	}
	f.paused = false
	close(f.resumeCh)
}

// Cancel stops all further dispatch. It cannot be undone.
func (f *flowControl) Cancel() {
	f.cancelOnce.Do(func() { close(f.cancelCh) })
}

func (f *flowControl) IsPaused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

func (f *flowControl) IsCancelled() bool {
	select {
	case <-f.cancelCh:
		return true
	default:
		return false
	}
}

// Cancelled is closed once Cancel has been called.
func (f *flowControl) Cancelled() <-chan struct{} { return f.cancelCh }

// Wait blocks while paused. It returns ErrMigrationCancelled if the run is
// cancelled before or during the wait.
func (f *flowControl) Wait(ctx context.Context) error {
	for {
		if f.IsCancelled() {
			return ErrMigrationCancelled
		}
		f.mu.Lock()
		if !f.paused {
			f.mu.Unlock()
			return nil
		}
		ch := f.resumeCh
		f.mu.Unlock()

		select {
		case <-ch:
		case <-f.cancelCh:
			return ErrMigrationCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
