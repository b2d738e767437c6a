package syncer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// Run is a handle on one in-flight execution of a sync
type Run struct {
	syncID int64
	stop   atomic.Bool
	done   chan struct{}

	mu    sync.Mutex
	state *models.SyncState
	err   error
}

func newRun(syncID int64) *Run {
	return &Run{
		syncID: syncID,
		done:   make(chan struct{}),
	}
}

// SyncID returns the id of the sync being run
func (r *Run) SyncID() int64 {
	return r.syncID
}

// Stop asks the run to end as STOPPED at its next checkpoint
func (r *Run) Stop() {
	r.stop.Store(true)
}

// Done is closed once the run reached a terminal status
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run ends and returns its final state. The error is
// only set when the run could not record its outcome normally.
func (r *Run) Wait() (*models.SyncState, error) {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone(), r.err
}

// Checkpoint implements Control. An explicit stop wins over cancellation.
func (r *Run) Checkpoint(ctx context.Context) models.SyncStatus {
	if r.stop.Load() {
		return models.StatusStopped
	}
	if ctx.Err() != nil {
		return models.StatusCancelled
	}
	return ""
}

func (r *Run) finish(state *models.SyncState, err error) {
	r.mu.Lock()
	r.state = state.Clone()
	r.err = err
	r.mu.Unlock()
	close(r.done)
}
