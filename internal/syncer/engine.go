package syncer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

const tracerName = "github.com/Kamar-Folarin/mobile-sync/internal/syncer"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Control is consulted by the engines at every safe checkpoint: between pages
// of a down-sync and between records of an up-sync
type Control interface {
	// Checkpoint returns the terminal status the run must end in, or "" to continue
	Checkpoint(ctx context.Context) models.SyncStatus
}

// Tracker persists state transitions and notifies listeners after each one
type Tracker interface {
	Persist(ctx context.Context, state *models.SyncState) error
	// Committed is called for a state already written inside a local transaction
	Committed(state *models.SyncState)
}

// ProgressFunc receives a copy of the sync state after every persisted transition
type ProgressFunc func(state *models.SyncState)

type contextControl struct{}

func (contextControl) Checkpoint(ctx context.Context) models.SyncStatus {
	if ctx.Err() != nil {
		return models.StatusCancelled
	}
	return ""
}

func checkpoint(ctx context.Context, ctl Control) models.SyncStatus {
	if ctl == nil {
		ctl = contextControl{}
	}
	return ctl.Checkpoint(ctx)
}

// commitWithState applies fn and the resulting sync state in one local
// transaction. state only changes once the transaction has committed.
func commitWithState(ctx context.Context, store db.Store, state *models.SyncState, tracker Tracker,
	fn func(tx db.EntryStore, next *models.SyncState) error) error {
	next := state.Clone()
	err := store.InTx(ctx, func(tx db.EntryStore) error {
		if err := fn(tx, next); err != nil {
			return err
		}
		return tx.UpdateSyncState(ctx, next)
	})
	if err != nil {
		return err
	}

	*state = *next
	tracker.Committed(state)
	return nil
}

// end moves the run into a terminal status and persists it
func end(ctx context.Context, state *models.SyncState, status models.SyncStatus, tracker Tracker) error {
	if err := state.Finish(status, time.Now()); err != nil {
		return err
	}
	return tracker.Persist(ctx, state)
}

// fail ends the run as FAILED with err attached and persists it
func fail(ctx context.Context, state *models.SyncState, cause error, tracker Tracker) error {
	if err := state.Fail(cause, time.Now()); err != nil {
		return err
	}
	return tracker.Persist(ctx, state)
}

func stateAttributes(state *models.SyncState) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64("sync.id", state.ID),
		attribute.String("sync.name", state.Name),
		attribute.String("sync.type", string(state.Type)),
		attribute.String("sync.soup", state.SoupName),
	}
}

type storeTracker struct {
	status    StatusManager
	listeners []ProgressFunc
}

func newTracker(status StatusManager, listeners ...ProgressFunc) *storeTracker {
	t := &storeTracker{status: status}
	for _, l := range listeners {
		if l != nil {
			t.listeners = append(t.listeners, l)
		}
	}
	return t
}

func (t *storeTracker) Persist(ctx context.Context, state *models.SyncState) error {
	if err := t.status.Update(ctx, state); err != nil {
		return err
	}
	t.notify(state)
	return nil
}

func (t *storeTracker) Committed(state *models.SyncState) {
	t.status.Cache(state)
	t.notify(state)
}

func (t *storeTracker) notify(state *models.SyncState) {
	for _, l := range t.listeners {
		l(state.Clone())
	}
}
