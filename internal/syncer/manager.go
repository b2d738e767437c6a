package syncer

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"

	"github.com/Kamar-Folarin/mobile-sync/internal/batch"
	"github.com/Kamar-Folarin/mobile-sync/internal/config"
	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/errors"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

type engine interface {
	Run(ctx context.Context, state *models.SyncState, ctl Control, tracker Tracker) error
}

// Manager owns the registry of named syncs and allows at most one run per sync id
type Manager struct {
	status   *StatusManagerImpl
	down     *DownEngine
	up       *UpEngine
	config   *config.SyncConfig
	logger   *logrus.Logger
	progress []ProgressFunc

	mu     sync.Mutex
	active map[int64]*Run
	wg     sync.WaitGroup
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithProgress registers a callback invoked after every persisted transition of any run
func WithProgress(fn ProgressFunc) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.progress = append(m.progress, fn)
		}
	}
}

// NewManager creates a sync manager over a local store and a remote source
func NewManager(store db.Store, source remote.Source, cfg *config.SyncConfig, logger *logrus.Logger, opts ...ManagerOption) *Manager {
	if cfg == nil {
		cfg = config.DefaultSyncConfig()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &Manager{
		status: NewStatusManager(store),
		down:   NewDownEngine(store, source, batch.NewProcessor(&cfg.BatchConfig), logger),
		up:     NewUpEngine(store, source, logger),
		config: cfg,
		logger: logger,
		active: make(map[int64]*Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSyncDown registers a new down-sync in status NEW
func (m *Manager) CreateSyncDown(ctx context.Context, target models.Target, options *models.SyncOptions, soupName, name string) (*models.SyncState, error) {
	return m.CreateSync(ctx, models.SyncTypeDown, target, options, soupName, name)
}

// CreateSyncUp registers a new up-sync in status NEW
func (m *Manager) CreateSyncUp(ctx context.Context, target models.Target, options *models.SyncOptions, soupName, name string) (*models.SyncState, error) {
	return m.CreateSync(ctx, models.SyncTypeUp, target, options, soupName, name)
}

// CreateSync validates the configuration and name uniqueness and persists a NEW sync
func (m *Manager) CreateSync(ctx context.Context, syncType models.SyncType, target models.Target,
	options *models.SyncOptions, soupName, name string) (*models.SyncState, error) {
	state, err := models.NewSyncState(syncType, target, options, soupName, name)
	if err != nil {
		return nil, errors.NewValidationError(err.Error(), err)
	}
	return m.register(ctx, state)
}

func (m *Manager) register(ctx context.Context, state *models.SyncState) (*models.SyncState, error) {
	if state.Name != "" {
		exists, err := m.HasSyncWithName(ctx, state.Name)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.NewValidationError(fmt.Sprintf("sync with name %q already exists", state.Name), nil)
		}
	}

	if err := m.status.Create(ctx, state); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"sync_id":   state.ID,
		"sync_name": state.Name,
		"sync_type": state.Type,
		"soup":      state.SoupName,
	}).Info("Created sync")
	return state.Clone(), nil
}

// SyncDown creates a down-sync and runs it to completion
func (m *Manager) SyncDown(ctx context.Context, target models.Target, options *models.SyncOptions,
	soupName, name string, progress ProgressFunc) (*models.SyncState, error) {
	state, err := m.CreateSyncDown(ctx, target, options, soupName, name)
	if err != nil {
		return nil, err
	}
	return m.ReSync(ctx, state.ID, progress)
}

// SyncUp creates an up-sync and runs it to completion
func (m *Manager) SyncUp(ctx context.Context, target models.Target, options *models.SyncOptions,
	soupName, name string, progress ProgressFunc) (*models.SyncState, error) {
	state, err := m.CreateSyncUp(ctx, target, options, soupName, name)
	if err != nil {
		return nil, err
	}
	return m.ReSync(ctx, state.ID, progress)
}

// GetSyncStatus returns the current state of a sync
func (m *Manager) GetSyncStatus(ctx context.Context, id int64) (*models.SyncState, error) {
	return m.status.Get(ctx, id)
}

// GetSyncStatusByName returns the current state of a named sync
func (m *Manager) GetSyncStatusByName(ctx context.Context, name string) (*models.SyncState, error) {
	return m.status.GetByName(ctx, name)
}

// ListSyncs returns every registered sync ordered by id
func (m *Manager) ListSyncs(ctx context.Context) ([]*models.SyncState, error) {
	return m.status.List(ctx)
}

// HasSyncWithName reports whether a sync is registered under name
func (m *Manager) HasSyncWithName(ctx context.Context, name string) (bool, error) {
	_, err := m.status.GetByName(ctx, name)
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// IsRunning reports whether a run of the sync is in flight
func (m *Manager) IsRunning(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}

// Start begins a run of the sync and returns without waiting for it. The run
// observes ctx at its checkpoints and ends as CANCELLED once ctx is done.
func (m *Manager) Start(ctx context.Context, id int64, progress ProgressFunc) (*Run, error) {
	run, err := m.acquire(id)
	if err != nil {
		return nil, err
	}

	state, err := m.status.Get(ctx, id)
	if err != nil {
		m.release(run)
		if errors.IsNotFound(err) {
			return nil, errors.NewFailedToStartError(err)
		}
		return nil, err
	}

	tracker := newTracker(m.status, append(append([]ProgressFunc(nil), m.progress...), progress)...)
	io := context.WithoutCancel(ctx)

	if state.Status == models.StatusRunning {
		// left behind by a run that did not finish in this process
		if err := end(io, state, models.StatusStopped, tracker); err != nil {
			m.release(run)
			return nil, errors.NewFailedToStartError(err)
		}
	}
	if err := state.Begin(time.Now()); err != nil {
		m.release(run)
		return nil, errors.NewFailedToStartError(err)
	}
	if err := tracker.Persist(io, state); err != nil {
		m.release(run)
		return nil, errors.NewFailedToStartError(err)
	}

	m.logger.WithFields(logrus.Fields{
		"sync_id":   state.ID,
		"sync_name": state.Name,
		"sync_type": state.Type,
	}).Info("Started sync")

	m.wg.Add(1)
	go m.execute(ctx, run, state, tracker)
	return run, nil
}

// StartByName begins a run of the named sync
func (m *Manager) StartByName(ctx context.Context, name string, progress ProgressFunc) (*Run, error) {
	state, err := m.status.GetByName(ctx, name)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewFailedToStartError(err)
		}
		return nil, err
	}
	return m.Start(ctx, state.ID, progress)
}

// ReSync runs the sync and blocks until it reaches a terminal status
func (m *Manager) ReSync(ctx context.Context, id int64, progress ProgressFunc) (*models.SyncState, error) {
	run, err := m.Start(ctx, id, progress)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// ReSyncByName runs the named sync and blocks until it reaches a terminal status
func (m *Manager) ReSyncByName(ctx context.Context, name string, progress ProgressFunc) (*models.SyncState, error) {
	run, err := m.StartByName(ctx, name, progress)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// Stop asks the run of a sync to end at its next checkpoint. It reports
// whether a run was in flight.
func (m *Manager) Stop(id int64) bool {
	m.mu.Lock()
	run, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		run.Stop()
	}
	return ok
}

// StopAll stops every in-flight run and waits for them to end or for ctx to be done
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	for _, run := range m.active {
		run.Stop()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop all syncs: %w", ctx.Err())
	}
}

// CleanResyncGhosts removes the locally cached records of a down-sync that no
// longer exist remotely and returns how many were removed
func (m *Manager) CleanResyncGhosts(ctx context.Context, id int64) (int, error) {
	state, err := m.status.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	if !state.IsDown() {
		return 0, errors.NewValidationError(fmt.Sprintf("sync %d is not a down-sync", id), nil)
	}

	run, err := m.acquire(id)
	if err != nil {
		return 0, err
	}
	defer func() {
		m.release(run)
		run.finish(state, nil)
	}()

	removed, err := m.down.CleanGhosts(ctx, state)
	if err != nil {
		m.logger.WithError(err).WithField("sync_id", id).Error("Failed to clean ghost records")
		return 0, err
	}
	return removed, nil
}

// RecoverInterrupted marks syncs left RUNNING by a previous process as STOPPED
// so they can be resumed
func (m *Manager) RecoverInterrupted(ctx context.Context) (int, error) {
	states, err := m.status.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, state := range states {
		if state.Status != models.StatusRunning || m.IsRunning(state.ID) {
			continue
		}
		if err := state.Finish(models.StatusStopped, time.Now()); err != nil {
			return recovered, err
		}
		if err := m.status.Update(ctx, state); err != nil {
			return recovered, err
		}
		m.logger.WithFields(logrus.Fields{
			"sync_id":   state.ID,
			"sync_name": state.Name,
		}).Warn("Recovered interrupted sync as stopped")
		recovered++
	}
	return recovered, nil
}

// SetupSyncs registers the definitions whose names are not taken yet and
// returns how many were created. Existing syncs are left untouched.
func (m *Manager) SetupSyncs(ctx context.Context, defs *config.SyncDefinitions) (int, error) {
	if defs == nil {
		return 0, nil
	}

	created := 0
	for _, def := range defs.Syncs {
		exists, err := m.HasSyncWithName(ctx, def.SyncName)
		if err != nil {
			return created, err
		}
		if exists {
			m.logger.WithField("sync_name", def.SyncName).Debug("Sync already exists, skipping")
			continue
		}

		state, err := def.Build()
		if err != nil {
			return created, errors.NewValidationError(err.Error(), err)
		}
		if _, err := m.register(ctx, state); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// ResyncAll runs every registered sync, up-syncs first so pending local edits
// reach the backend before fresh data is pulled. Syncs already running are skipped.
func (m *Manager) ResyncAll(ctx context.Context) error {
	states, err := m.status.List(ctx)
	if err != nil {
		return err
	}

	var ups, downs []int64
	for _, state := range states {
		if state.IsUp() {
			ups = append(ups, state.ID)
		} else {
			downs = append(downs, state.ID)
		}
	}

	processor := batch.NewProcessor(&config.BatchConfig{Workers: m.config.MaxConcurrentSyncs})
	var errs []error
	for _, ids := range [][]int64{ups, downs} {
		err := processor.ForEach(ctx, len(ids), func(ctx context.Context, i int) error {
			state, err := m.ReSync(ctx, ids[i], nil)
			if err != nil {
				if errors.IsSyncInProgress(err) {
					return nil
				}
				return fmt.Errorf("sync %d: %w", ids[i], err)
			}
			if state.Status != models.StatusDone {
				m.logger.WithFields(logrus.Fields{
					"sync_id": state.ID,
					"status":  state.Status,
					"error":   state.Error,
				}).Warn("Scheduled sync did not complete")
			}
			return nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// acquire claims the single run slot of a sync id
func (m *Manager) acquire(id int64) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, running := m.active[id]; running {
		return nil, errors.NewFailedToStartError(errors.NewSyncInProgressError(id))
	}
	run := newRun(id)
	m.active[id] = run
	return run, nil
}

func (m *Manager) release(run *Run) {
	m.mu.Lock()
	if m.active[run.syncID] == run {
		delete(m.active, run.syncID)
	}
	m.mu.Unlock()
}

func (m *Manager) engineFor(state *models.SyncState) engine {
	if state.IsUp() {
		return m.up
	}
	return m.down
}

func (m *Manager) execute(ctx context.Context, run *Run, state *models.SyncState, tracker Tracker) {
	defer m.wg.Done()

	ctx, span := tracer().Start(ctx, "syncer.run")
	defer span.End()
	span.SetAttributes(stateAttributes(state)...)

	logger := m.logger.WithFields(logrus.Fields{
		"sync_id":   state.ID,
		"sync_name": state.Name,
		"sync_type": state.Type,
	})

	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("sync %d panicked: %v", state.ID, r)
			m.recordFailure(ctx, state, runErr, tracker, logger)
		}
		if runErr != nil {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}

		// free the slot before waiters wake up so they can start the next run
		m.release(run)
		run.finish(state, runErr)

		logger.WithFields(logrus.Fields{
			"status":         state.Status,
			"progress":       state.Progress,
			"total_size":     state.TotalSize,
			"max_time_stamp": state.MaxTimeStamp,
			"conflicts":      len(state.Conflicts),
			"failures":       len(state.Failures),
		}).Info("Sync finished")
	}()

	runErr = m.engineFor(state).Run(ctx, state, run, tracker)
	if runErr != nil {
		m.recordFailure(ctx, state, runErr, tracker, logger)
	}
}

// recordFailure leaves the state FAILED after an error the engine could not
// record itself
func (m *Manager) recordFailure(ctx context.Context, state *models.SyncState, cause error, tracker Tracker, logger *logrus.Entry) {
	logger.WithError(cause).Error("Sync failed")

	if !state.Status.IsTerminal() {
		if err := state.Fail(cause, time.Now()); err != nil {
			logger.WithError(err).Error("Failed to mark sync as failed")
			return
		}
	}
	if err := tracker.Persist(context.WithoutCancel(ctx), state); err != nil {
		logger.WithError(err).Error("Failed to persist failed sync state")
	}
}
