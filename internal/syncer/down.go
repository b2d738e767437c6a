package syncer

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Kamar-Folarin/mobile-sync/internal/batch"
	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

// DownEngine fetches remote records page by page into the sync's soup
type DownEngine struct {
	store  db.Store
	source remote.Source
	batch  *batch.Processor
	logger *logrus.Logger
}

// NewDownEngine creates a down-sync engine
func NewDownEngine(store db.Store, source remote.Source, processor *batch.Processor, logger *logrus.Logger) *DownEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DownEngine{
		store:  store,
		source: source,
		batch:  processor,
		logger: logger,
	}
}

// Run executes one run of a RUNNING down-sync until it reaches a terminal
// status. Page failures end the run as FAILED and are not returned; the
// returned error is reserved for local failures the caller must record.
func (e *DownEngine) Run(ctx context.Context, state *models.SyncState, ctl Control, tracker Tracker) error {
	target, ok := state.Target.(models.DownTarget)
	if !ok || !state.IsDown() {
		return &models.ConfigError{Field: "target", Reason: fmt.Sprintf("of type %q cannot be used by a down-sync", state.Target.Kind())}
	}

	// in-flight calls are never interrupted; cancellation is observed at checkpoints
	io := context.WithoutCancel(ctx)

	logger := e.logger.WithFields(logrus.Fields{
		"sync_id":     state.ID,
		"sync_name":   state.Name,
		"soup":        state.SoupName,
		"object_type": target.Object(),
		"since":       state.MaxTimeStamp,
	})
	logger.Info("Starting down-sync")

	switch t := target.(type) {
	case *models.QueryDownTarget:
		return e.runQuery(ctx, io, state, t, ctl, tracker, logger)
	case *models.RefreshDownTarget:
		return e.runRefresh(ctx, io, state, t, ctl, tracker, logger)
	default:
		return &models.ConfigError{Field: "target", Reason: fmt.Sprintf("of type %q is not supported", target.Kind())}
	}
}

func (e *DownEngine) runQuery(ctx, io context.Context, state *models.SyncState, target *models.QueryDownTarget,
	ctl Control, tracker Tracker, logger *logrus.Entry) error {
	spec := remote.QuerySpec{
		ObjectType: target.ObjectType,
		Query:      target.Query,
		Fields:     target.FieldList,
		IDField:    target.IDField(),
		ModField:   target.ModificationField(),
		Since:      state.MaxTimeStamp,
		PageSize:   target.BatchSize(),
	}

	var total int
	err := e.batch.Retry(io, func(c context.Context) error {
		var err error
		total, err = e.source.Count(c, spec)
		return err
	})
	if err != nil {
		logger.WithError(err).Error("Failed to count remote records")
		return fail(io, state, fmt.Errorf("failed to count remote records: %w", err), tracker)
	}

	state.TotalSize = total
	if err := tracker.Persist(io, state); err != nil {
		return err
	}

	processed := 0
	for pageNum := 1; ; pageNum++ {
		if status := checkpoint(ctx, ctl); status != "" {
			logger.WithFields(logrus.Fields{"status": status, "processed": processed}).Info("Down-sync interrupted")
			return end(io, state, status, tracker)
		}

		page, err := e.fetchPage(io, state, spec, pageNum)
		if err != nil {
			logger.WithError(err).WithField("page", pageNum).Error("Failed to fetch page")
			return fail(io, state, fmt.Errorf("failed to fetch page %d: %w", pageNum, err), tracker)
		}

		if err := e.applyPage(io, state, target, page, processed, tracker); err != nil {
			return fmt.Errorf("failed to apply page %d: %w", pageNum, err)
		}
		processed += len(page.Records)

		logger.WithFields(logrus.Fields{
			"page":           pageNum,
			"records":        len(page.Records),
			"processed":      processed,
			"max_time_stamp": state.MaxTimeStamp,
		}).Debug("Applied page")

		if page.Done() || len(page.Records) == 0 {
			break
		}
		spec.Cursor = page.NextCursor
	}

	logger.WithFields(logrus.Fields{"processed": processed, "max_time_stamp": state.MaxTimeStamp}).Info("Down-sync completed")
	return end(io, state, models.StatusDone, tracker)
}

func (e *DownEngine) runRefresh(ctx, io context.Context, state *models.SyncState, target *models.RefreshDownTarget,
	ctl Control, tracker Tracker, logger *logrus.Entry) error {
	entries, err := e.store.QueryEntries(io, state.SoupName, db.EntryFilter{})
	if err != nil {
		return fmt.Errorf("failed to read cached records: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !models.IsLocalID(entry.RecordID) {
			ids = append(ids, entry.RecordID)
		}
	}

	state.TotalSize = len(ids)
	if err := tracker.Persist(io, state); err != nil {
		return err
	}

	processed := 0
	for chunkNum, chunk := range batch.Chunk(ids, target.BatchSize()) {
		spec := remote.QuerySpec{
			ObjectType: target.ObjectType,
			Fields:     target.FieldList,
			IDs:        chunk,
			IDField:    target.IDField(),
			ModField:   target.ModificationField(),
			Since:      models.NoTimeStamp,
			PageSize:   len(chunk),
		}

		for pageNum := 1; ; pageNum++ {
			if status := checkpoint(ctx, ctl); status != "" {
				logger.WithFields(logrus.Fields{"status": status, "processed": processed}).Info("Refresh interrupted")
				return end(io, state, status, tracker)
			}

			page, err := e.fetchPage(io, state, spec, pageNum)
			if err != nil {
				logger.WithError(err).WithField("chunk", chunkNum+1).Error("Failed to refresh records")
				return fail(io, state, fmt.Errorf("failed to refresh chunk %d: %w", chunkNum+1, err), tracker)
			}

			if err := e.applyPage(io, state, target, page, processed, tracker); err != nil {
				return fmt.Errorf("failed to apply chunk %d: %w", chunkNum+1, err)
			}
			processed += len(page.Records)

			if page.Done() || len(page.Records) == 0 {
				break
			}
			spec.Cursor = page.NextCursor
		}
	}

	logger.WithField("processed", processed).Info("Refresh completed")
	return end(io, state, models.StatusDone, tracker)
}

func (e *DownEngine) fetchPage(ctx context.Context, state *models.SyncState, spec remote.QuerySpec, pageNum int) (*remote.Page, error) {
	ctx, span := tracer().Start(ctx, "syncer.down.page")
	defer span.End()
	span.SetAttributes(stateAttributes(state)...)
	span.SetAttributes(attribute.Int("page", pageNum))

	var page *remote.Page
	err := e.batch.Retry(ctx, func(c context.Context) error {
		var err error
		page, err = e.source.Query(c, spec)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(page.Records)))
	return page, nil
}

// applyPage upserts a fetched page and advances maxTimeStamp in one transaction.
// Records with a pending local change are left untouched.
//
// Until the last page, the watermark stays one millisecond below the page
// maximum: the next page may still hold records sharing that timestamp, and a
// run resumed after a stop must fetch them again.
func (e *DownEngine) applyPage(ctx context.Context, state *models.SyncState, target models.DownTarget,
	page *remote.Page, processedBefore int, tracker Tracker) error {
	idField := target.IDField()
	modField := target.ModificationField()

	pageMax := page.MaxTimeStamp
	if computed := remote.MaxTimeStamp(page.Records, modField); computed > pageMax {
		pageMax = computed
	}
	if !page.Done() && pageMax > 0 {
		pageMax--
	}

	return commitWithState(ctx, e.store, state, tracker, func(tx db.EntryStore, next *models.SyncState) error {
		for _, rec := range page.Records {
			id := rec.ID(idField)
			if id == "" {
				e.logger.WithFields(logrus.Fields{"sync_id": next.ID, "id_field": idField}).Warn("Skipping record without id")
				continue
			}

			ts, ok := rec.ModifiedAt(modField)
			if !ok {
				ts = models.NoTimeStamp
			}
			entry := &models.Entry{
				SoupName:       next.SoupName,
				RecordID:       id,
				SyncID:         next.ID,
				State:          models.StateClean,
				ServerModified: ts,
				Fields:         rec,
			}
			saved, err := tx.SaveRemoteEntry(ctx, entry)
			if err != nil {
				return err
			}
			if !saved {
				e.logger.WithFields(logrus.Fields{"sync_id": next.ID, "record_id": id}).Debug("Kept locally modified record")
			}
		}

		next.AdvanceMaxTimeStamp(pageMax)
		next.UpdateProgress(processedBefore + len(page.Records))
		return nil
	})
}

// CleanGhosts deletes the CLEAN records of the soup that no longer exist
// remotely and returns how many were removed
func (e *DownEngine) CleanGhosts(ctx context.Context, state *models.SyncState) (int, error) {
	target, ok := state.Target.(models.DownTarget)
	if !ok || !state.IsDown() {
		return 0, &models.ConfigError{Field: "syncType", Reason: fmt.Sprintf("%s cannot clean ghosts", state.Type)}
	}

	ctx, span := tracer().Start(ctx, "syncer.down.clean_ghosts")
	defer span.End()
	span.SetAttributes(stateAttributes(state)...)

	logger := e.logger.WithFields(logrus.Fields{
		"sync_id": state.ID,
		"soup":    state.SoupName,
	})

	entries, err := e.store.QueryEntries(ctx, state.SoupName, db.EntryFilter{States: []models.LocalState{models.StateClean}})
	if err != nil {
		return 0, fmt.Errorf("failed to read cached records: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, entry.RecordID)
	}

	var ghosts []string
	for _, chunk := range batch.Chunk(ids, e.batch.Config().Size) {
		var existing map[string]bool
		err := e.batch.Retry(ctx, func(c context.Context) error {
			var err error
			existing, err = e.source.Exists(c, target.Object(), chunk)
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("failed to check remote existence: %w", err)
		}
		for _, id := range chunk {
			if !existing[id] {
				ghosts = append(ghosts, id)
			}
		}
	}

	if len(ghosts) == 0 {
		logger.Info("No ghost records found")
		return 0, nil
	}

	var removed int64
	err = e.store.InTx(ctx, func(tx db.EntryStore) error {
		// re-read so records edited since the existence check are kept
		current, err := tx.QueryEntries(ctx, state.SoupName, db.EntryFilter{
			RecordIDs: ghosts,
			States:    []models.LocalState{models.StateClean},
		})
		if err != nil {
			return err
		}
		entryIDs := make([]int64, 0, len(current))
		for _, entry := range current {
			entryIDs = append(entryIDs, entry.EntryID)
		}
		removed, err = tx.DeleteEntries(ctx, state.SoupName, entryIDs)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete ghost records: %w", err)
	}

	span.SetAttributes(attribute.Int64("ghosts", removed))
	logger.WithField("removed", removed).Info("Removed ghost records")
	return int(removed), nil
}
