package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/errors"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

// StatusManager is the registry of sync states, backed by the local store
type StatusManager interface {
	Get(ctx context.Context, id int64) (*models.SyncState, error)
	GetByName(ctx context.Context, name string) (*models.SyncState, error)
	Create(ctx context.Context, state *models.SyncState) error
	Update(ctx context.Context, state *models.SyncState) error
	// Cache records a state that was already written inside a local transaction
	Cache(state *models.SyncState)
	List(ctx context.Context) ([]*models.SyncState, error)
}

// StatusManagerImpl implements the StatusManager interface. Callers always
// receive copies, never the cached values.
type StatusManagerImpl struct {
	store db.Store
	mu    sync.RWMutex
	cache map[int64]*models.SyncState
	names map[string]int64
}

// NewStatusManager creates a new status manager
func NewStatusManager(store db.Store) *StatusManagerImpl {
	return &StatusManagerImpl{
		store: store,
		cache: make(map[int64]*models.SyncState),
		names: make(map[string]int64),
	}
}

// Get retrieves the sync state with the given id
func (m *StatusManagerImpl) Get(ctx context.Context, id int64) (*models.SyncState, error) {
	m.mu.RLock()
	if state, exists := m.cache[id]; exists {
		m.mu.RUnlock()
		return state.Clone(), nil
	}
	m.mu.RUnlock()

	state, err := m.store.GetSyncState(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	if state == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("sync %d does not exist", id), nil)
	}

	m.Cache(state)
	return state, nil
}

// GetByName retrieves the sync state with the given name
func (m *StatusManagerImpl) GetByName(ctx context.Context, name string) (*models.SyncState, error) {
	m.mu.RLock()
	id, exists := m.names[name]
	m.mu.RUnlock()
	if exists {
		return m.Get(ctx, id)
	}

	state, err := m.store.GetSyncStateByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state by name: %w", err)
	}
	if state == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("sync %q does not exist", name), nil)
	}

	m.Cache(state)
	return state, nil
}

// Create persists a new sync state and assigns its id
func (m *StatusManagerImpl) Create(ctx context.Context, state *models.SyncState) error {
	if state == nil {
		return errors.NewValidationError("sync state cannot be nil", nil)
	}
	if err := m.store.CreateSyncState(ctx, state); err != nil {
		return fmt.Errorf("failed to create sync state: %w", err)
	}
	m.Cache(state)
	return nil
}

// Update persists the sync state
func (m *StatusManagerImpl) Update(ctx context.Context, state *models.SyncState) error {
	if state == nil {
		return errors.NewValidationError("sync state cannot be nil", nil)
	}
	if state.ID == 0 {
		return errors.NewValidationError("sync state has no id", nil)
	}

	if err := m.store.UpdateSyncState(ctx, state); err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}

	m.Cache(state)
	return nil
}

func (m *StatusManagerImpl) Cache(state *models.SyncState) {
	m.mu.Lock()
	m.cache[state.ID] = state.Clone()
	if state.Name != "" {
		m.names[state.Name] = state.ID
	}
	m.mu.Unlock()
}

// List retrieves all sync states ordered by id
func (m *StatusManagerImpl) List(ctx context.Context) ([]*models.SyncState, error) {
	states, err := m.store.ListSyncStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states: %w", err)
	}

	m.mu.Lock()
	for i, state := range states {
		// a run may have moved past what was just read
		if cached, exists := m.cache[state.ID]; exists {
			states[i] = cached.Clone()
			continue
		}
		m.cache[state.ID] = state.Clone()
		if state.Name != "" {
			m.names[state.Name] = state.ID
		}
	}
	m.mu.Unlock()

	return states, nil
}
