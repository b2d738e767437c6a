package syncer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

type outcomeKind int

const (
	outcomeClean outcomeKind = iota
	outcomeDelete
	outcomeConflict
	outcomeFailure
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeClean:
		return "clean"
	case outcomeDelete:
		return "delete"
	case outcomeConflict:
		return "conflict"
	default:
		return "failure"
	}
}

// outcome is what pushing one record means for its local copy
type outcome struct {
	kind     outcomeKind
	recordID string
	response models.Record
	modified int64
	err      error
}

// UpEngine pushes locally created, updated and deleted records to the backend
type UpEngine struct {
	store  db.Store
	source remote.Source
	logger *logrus.Logger
}

// NewUpEngine creates an up-sync engine
func NewUpEngine(store db.Store, source remote.Source, logger *logrus.Logger) *UpEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &UpEngine{
		store:  store,
		source: source,
		logger: logger,
	}
}

// Run pushes every dirty record of the soup in local insertion order. Per-record
// failures are collected on the state and end the run as FAILED once every
// record was attempted.
func (e *UpEngine) Run(ctx context.Context, state *models.SyncState, ctl Control, tracker Tracker) error {
	target, ok := state.Target.(*models.PushUpTarget)
	if !ok || !state.IsUp() {
		return &models.ConfigError{Field: "target", Reason: fmt.Sprintf("of type %q cannot be used by an up-sync", state.Target.Kind())}
	}

	io := context.WithoutCancel(ctx)

	logger := e.logger.WithFields(logrus.Fields{
		"sync_id":     state.ID,
		"sync_name":   state.Name,
		"soup":        state.SoupName,
		"object_type": target.ObjectType,
		"merge_mode":  state.MergeMode(),
	})

	entries, err := e.store.QueryEntries(io, state.SoupName, db.EntryFilter{States: models.DirtyStates})
	if err != nil {
		return fmt.Errorf("failed to read dirty records: %w", err)
	}

	state.TotalSize = len(entries)
	if err := tracker.Persist(io, state); err != nil {
		return err
	}
	logger.WithField("dirty_records", len(entries)).Info("Starting up-sync")

	for i, entry := range entries {
		if status := checkpoint(ctx, ctl); status != "" {
			logger.WithFields(logrus.Fields{"status": status, "processed": i}).Info("Up-sync interrupted")
			return end(io, state, status, tracker)
		}

		result := e.pushRecord(io, state, target, entry)
		if result.kind == outcomeFailure {
			logger.WithError(result.err).WithField("record_id", entry.RecordID).Warn("Failed to sync record")
		} else {
			logger.WithFields(logrus.Fields{
				"record_id": entry.RecordID,
				"outcome":   result.kind.String(),
			}).Debug("Synced record")
		}

		if err := e.apply(io, state, target, entry, result, i+1, tracker); err != nil {
			logger.WithError(err).WithField("record_id", entry.RecordID).Warn("Failed to store sync result")
			failed := outcome{kind: outcomeFailure, recordID: entry.RecordID, err: fmt.Errorf("failed to store sync result: %w", err)}
			if err := e.apply(io, state, target, entry, failed, i+1, tracker); err != nil {
				return fmt.Errorf("failed to apply result for record %s: %w", entry.RecordID, err)
			}
		}
	}

	if n := len(state.Failures); n > 0 {
		logger.WithFields(logrus.Fields{
			"failures":  n,
			"conflicts": len(state.Conflicts),
		}).Warn("Up-sync completed with failures")
		return fail(io, state, fmt.Errorf("%d of %d records failed to sync", n, len(entries)), tracker)
	}

	logger.WithField("conflicts", len(state.Conflicts)).Info("Up-sync completed")
	return end(io, state, models.StatusDone, tracker)
}

func (e *UpEngine) pushRecord(ctx context.Context, state *models.SyncState, target *models.PushUpTarget, entry *models.Entry) outcome {
	ctx, span := tracer().Start(ctx, "syncer.up.record")
	defer span.End()
	span.SetAttributes(stateAttributes(state)...)
	span.SetAttributes(
		attribute.String("record.id", entry.RecordID),
		attribute.String("record.state", string(entry.State)),
	)

	var result outcome
	switch {
	case entry.State.IsDeleted():
		result = e.pushDelete(ctx, state, target, entry)
	case entry.State == models.StateLocallyCreated || models.IsLocalID(entry.RecordID):
		result = e.pushCreate(ctx, state, target, entry)
	default:
		result = e.pushUpdate(ctx, state, target, entry)
	}

	span.SetAttributes(attribute.String("record.outcome", result.kind.String()))
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result
}

func (e *UpEngine) pushDelete(ctx context.Context, state *models.SyncState, target *models.PushUpTarget, entry *models.Entry) outcome {
	id := entry.RecordID
	if models.IsLocalID(id) {
		// never reached the backend
		return outcome{kind: outcomeDelete, recordID: id}
	}

	if state.MergeMode() == models.MergeModeLeaveIfChanged {
		remoteTS, exists, err := e.remoteTimestamp(ctx, target, id)
		if err != nil {
			return outcome{kind: outcomeFailure, recordID: id, err: err}
		}
		if !exists {
			return outcome{kind: outcomeDelete, recordID: id}
		}
		if changedRemotely(entry, remoteTS) {
			return outcome{kind: outcomeConflict, recordID: id}
		}
	}

	err := e.source.Delete(ctx, target.ObjectType, id)
	switch {
	case err == nil, remote.IsNotFound(err):
		return outcome{kind: outcomeDelete, recordID: id}
	case remote.IsConflict(err):
		return outcome{kind: outcomeConflict, recordID: id}
	default:
		return outcome{kind: outcomeFailure, recordID: id, err: fmt.Errorf("failed to delete remote record: %w", err)}
	}
}

func (e *UpEngine) pushCreate(ctx context.Context, state *models.SyncState, target *models.PushUpTarget, entry *models.Entry) outcome {
	payload := target.CreatePayload(entry.Fields, state.Options.FieldList)
	rec, err := e.source.Create(ctx, target.ObjectType, payload)
	if err != nil {
		return outcome{kind: outcomeFailure, recordID: entry.RecordID, err: fmt.Errorf("failed to create remote record: %w", err)}
	}

	id := rec.ID(target.IDFieldName)
	if id == "" {
		return outcome{kind: outcomeFailure, recordID: entry.RecordID, err: fmt.Errorf("remote create returned no %s", target.IDFieldName)}
	}
	return outcome{kind: outcomeClean, recordID: id, response: rec, modified: e.modifiedAt(ctx, target, id, rec)}
}

func (e *UpEngine) pushUpdate(ctx context.Context, state *models.SyncState, target *models.PushUpTarget, entry *models.Entry) outcome {
	id := entry.RecordID
	leaveIfChanged := state.MergeMode() == models.MergeModeLeaveIfChanged

	if leaveIfChanged {
		remoteTS, exists, err := e.remoteTimestamp(ctx, target, id)
		if err != nil {
			return outcome{kind: outcomeFailure, recordID: id, err: err}
		}
		if !exists || changedRemotely(entry, remoteTS) {
			return outcome{kind: outcomeConflict, recordID: id}
		}
	}

	payload := target.UpdatePayload(entry.Fields, state.Options.FieldList)
	rec, err := e.source.Update(ctx, target.ObjectType, id, payload)
	switch {
	case err == nil:
	case remote.IsNotFound(err) && !leaveIfChanged:
		// deleted remotely; the local copy wins
		return e.pushCreate(ctx, state, target, entry)
	case remote.IsNotFound(err), remote.IsConflict(err):
		return outcome{kind: outcomeConflict, recordID: id}
	default:
		return outcome{kind: outcomeFailure, recordID: id, err: fmt.Errorf("failed to update remote record: %w", err)}
	}

	return outcome{kind: outcomeClean, recordID: id, response: rec, modified: e.modifiedAt(ctx, target, id, rec)}
}

// remoteTimestamp fetches the current modification time of a remote record
func (e *UpEngine) remoteTimestamp(ctx context.Context, target *models.PushUpTarget, id string) (int64, bool, error) {
	rec, err := e.source.Retrieve(ctx, target.ObjectType, id, []string{target.IDFieldName, target.ModificationDateFieldName})
	if err != nil {
		if remote.IsNotFound(err) {
			return models.NoTimeStamp, false, nil
		}
		return models.NoTimeStamp, false, fmt.Errorf("failed to fetch remote record: %w", err)
	}
	ts, ok := rec.ModifiedAt(target.ModificationDateFieldName)
	if !ok {
		ts = models.NoTimeStamp
	}
	return ts, true, nil
}

// modifiedAt reads the new remote timestamp from a write response, falling
// back to a fetch when the backend returned no body
func (e *UpEngine) modifiedAt(ctx context.Context, target *models.PushUpTarget, id string, rec models.Record) int64 {
	if ts, ok := rec.ModifiedAt(target.ModificationDateFieldName); ok {
		return ts
	}
	ts, _, err := e.remoteTimestamp(ctx, target, id)
	if err != nil {
		e.logger.WithError(err).WithField("record_id", id).Warn("Failed to read remote modification time")
		return models.NoTimeStamp
	}
	return ts
}

// changedRemotely reports whether the remote copy moved past the one the local
// edit was based on. Records never fetched carry no timestamp to compare.
func changedRemotely(entry *models.Entry, remoteTS int64) bool {
	if entry.ServerModified == models.NoTimeStamp {
		return false
	}
	return remoteTS != entry.ServerModified
}

// apply records the outcome of one push together with the sync state
func (e *UpEngine) apply(ctx context.Context, state *models.SyncState, target *models.PushUpTarget,
	entry *models.Entry, result outcome, processed int, tracker Tracker) error {
	return commitWithState(ctx, e.store, state, tracker, func(tx db.EntryStore, next *models.SyncState) error {
		current, err := tx.GetEntry(ctx, next.SoupName, entry.RecordID)
		if err != nil {
			return err
		}
		// edited again while the push was in flight
		rebase := current != nil && !current.UpdatedAt.Equal(entry.UpdatedAt)

		switch result.kind {
		case outcomeClean:
			if current == nil {
				break
			}
			if result.recordID != current.RecordID {
				folded, err := e.claimRecordID(ctx, tx, current, result.recordID)
				if err != nil {
					return err
				}
				if folded {
					break
				}
			}
			current.RecordID = result.recordID
			current.ServerModified = result.modified
			current.LastError = ""
			if rebase {
				if current.State == models.StateLocallyCreated {
					current.State = models.StateLocallyUpdated
				}
				if current.Fields == nil {
					current.Fields = models.Record{}
				}
				current.Fields[target.IDFieldName] = result.recordID
			} else {
				fields := current.Fields.Clone()
				if fields == nil {
					fields = models.Record{}
				}
				for k, v := range result.response {
					fields[k] = v
				}
				fields[target.IDFieldName] = result.recordID
				current.Fields = fields
				current.State = models.StateClean
			}
			if err := tx.SaveEntry(ctx, current); err != nil {
				return err
			}
		case outcomeDelete:
			if current == nil || (rebase && !current.State.IsDeleted()) {
				break
			}
			if _, err := tx.DeleteEntries(ctx, next.SoupName, []int64{current.EntryID}); err != nil {
				return err
			}
		case outcomeConflict:
			next.AddConflict(result.recordID)
		case outcomeFailure:
			next.AddFailure(result.recordID, result.err)
			if current != nil {
				current.LastError = result.err.Error()
				if err := tx.SaveEntry(ctx, current); err != nil {
					return err
				}
			}
		}

		next.UpdateProgress(processed)
		return nil
	})
}

// claimRecordID frees a server id that a concurrent down-sync already stored
// under another entry. A clean copy is dropped in favour of the pushed entry; a
// copy edited locally in the meantime keeps the id and the pushed entry is
// folded into it. folded reports the latter.
func (e *UpEngine) claimRecordID(ctx context.Context, tx db.EntryStore, current *models.Entry, id string) (folded bool, err error) {
	holder, err := tx.GetEntry(ctx, current.SoupName, id)
	if err != nil {
		return false, err
	}
	if holder == nil || holder.EntryID == current.EntryID {
		return false, nil
	}

	drop := holder.EntryID
	if holder.State.IsDirty() {
		drop = current.EntryID
		folded = true
	}
	if _, err := tx.DeleteEntries(ctx, current.SoupName, []int64{drop}); err != nil {
		return false, err
	}
	e.logger.WithFields(logrus.Fields{
		"soup":      current.SoupName,
		"record_id": id,
		"folded":    folded,
	}).Info("Merged duplicate local copy of created record")
	return folded, nil
}
