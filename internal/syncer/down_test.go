package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/mobile-sync/internal/batch"
	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

// MockSource is a mock implementation of remote.Source
type MockSource struct {
	mock.Mock
}

func (m *MockSource) Count(ctx context.Context, spec remote.QuerySpec) (int, error) {
	args := m.Called(ctx, spec)
	return args.Int(0), args.Error(1)
}

func (m *MockSource) Query(ctx context.Context, spec remote.QuerySpec) (*remote.Page, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*remote.Page), args.Error(1)
}

func (m *MockSource) Retrieve(ctx context.Context, objectType, id string, fields []string) (models.Record, error) {
	args := m.Called(ctx, objectType, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.Record), args.Error(1)
}

func (m *MockSource) Create(ctx context.Context, objectType string, fields models.Record) (models.Record, error) {
	args := m.Called(ctx, objectType, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.Record), args.Error(1)
}

func (m *MockSource) Update(ctx context.Context, objectType, id string, fields models.Record) (models.Record, error) {
	args := m.Called(ctx, objectType, id, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.Record), args.Error(1)
}

func (m *MockSource) Delete(ctx context.Context, objectType, id string) error {
	args := m.Called(ctx, objectType, id)
	return args.Error(0)
}

func (m *MockSource) Exists(ctx context.Context, objectType string, ids []string) (map[string]bool, error) {
	args := m.Called(ctx, objectType, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]bool), args.Error(1)
}

func TestDownSync_PreservesDirtyRecords(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 5)

	state := env.syncDown(t, "accounts", models.MergeModeOverwrite)

	updatedID := recs[0].ID("Id")
	deletedID := recs[1].ID("Id")
	_, err := env.store.UpdateLocal(ctx, testSoup, updatedID, models.Record{"Name": "Local edit"})
	require.NoError(t, err)
	require.NoError(t, env.store.DeleteLocal(ctx, testSoup, deletedID))

	for _, id := range []string{updatedID, deletedID, recs[2].ID("Id")} {
		_, err := env.source.Touch(testObjectType, id, models.Record{"Name": "Remote edit"})
		require.NoError(t, err)
	}

	final, err := env.manager.ReSync(ctx, state.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, final.Status)

	updated, err := env.store.GetEntry(ctx, testSoup, updatedID)
	require.NoError(t, err)
	assert.Equal(t, models.StateLocallyUpdated, updated.State)
	assert.Equal(t, "Local edit", updated.Fields["Name"])

	deleted, err := env.store.GetEntry(ctx, testSoup, deletedID)
	require.NoError(t, err)
	assert.Equal(t, models.StateLocallyDeleted, deleted.State)

	clean, err := env.store.GetEntry(ctx, testSoup, recs[2].ID("Id"))
	require.NoError(t, err)
	assert.Equal(t, models.StateClean, clean.State)
	assert.Equal(t, "Remote edit", clean.Fields["Name"])
}

func TestDownSync_PageFailureKeepsCommittedPages(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 10)

	// the second page starts at offset testPageSize
	env.source.FailOn("query", "4", errors.New("backend unavailable"))

	state, err := env.manager.SyncDown(ctx, queryTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "backend unavailable")
	assert.Equal(t, timestampOf(t, recs[testPageSize-1])-1, state.MaxTimeStamp)
	assert.Equal(t, 1+testSyncConfig().BatchConfig.MaxRetries, env.source.Calls("query")-1)

	count, err := env.store.CountEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, testPageSize, count)

	env.source.ClearFailures()
	resumed, err := env.manager.ReSync(ctx, state.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, resumed.Status)
	assert.Empty(t, resumed.Error)
	assert.GreaterOrEqual(t, resumed.MaxTimeStamp, state.MaxTimeStamp)

	count, err = env.store.CountEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 10, count)
}

func TestDownSync_CountFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	source := new(MockSource)
	source.On("Count", mock.Anything, mock.Anything).Return(0, errors.New("connection refused"))

	manager := NewManager(env.store, source, testSyncConfig(), env.logger)
	state, err := manager.SyncDown(ctx, queryTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "failed to count remote records")
	assert.Equal(t, models.NoTimeStamp, state.MaxTimeStamp)

	source.AssertNumberOfCalls(t, "Count", 1+testSyncConfig().BatchConfig.MaxRetries)
	source.AssertNotCalled(t, "Query", mock.Anything, mock.Anything)
}

func TestDownSync_UsesServerMaxTimeStamp(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	source := new(MockSource)
	source.On("Count", mock.Anything, mock.MatchedBy(func(spec remote.QuerySpec) bool {
		return spec.Since == models.NoTimeStamp
	})).Return(1, nil)
	source.On("Query", mock.Anything, mock.Anything).Return(&remote.Page{
		Records: []models.Record{
			{"Id": "001", "Name": "Acme", "LastModifiedDate": "2024-03-20T10:30:00.000Z"},
		},
		TotalSize:    1,
		MaxTimeStamp: 1900000000000,
	}, nil)

	manager := NewManager(env.store, source, testSyncConfig(), env.logger)
	state, err := manager.SyncDown(ctx, queryTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, state.Status)
	assert.Equal(t, int64(1900000000000), state.MaxTimeStamp)

	entry, err := env.store.GetEntry(ctx, testSoup, "001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, state.ID, entry.SyncID)
	assert.Equal(t, "Acme", entry.Fields["Name"])
	source.AssertExpectations(t)
}

func TestDownSync_RefreshTarget(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 5)

	env.syncDown(t, "accounts", models.MergeModeOverwrite)
	_, err := env.source.Touch(testObjectType, recs[2].ID("Id"), models.Record{"Name": "Renamed"})
	require.NoError(t, err)
	env.source.Put(testObjectType, models.Record{"Name": "Not cached"})

	target, err := models.NewRefreshDownTarget(testObjectType, "Id", "Name")
	require.NoError(t, err)
	target.PageSize = 2

	state, err := env.manager.SyncDown(ctx, target, syncOptions(t, models.MergeModeOverwrite), testSoup, "refresh", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, state.Status)
	assert.Equal(t, 5, state.TotalSize)

	entry, err := env.store.GetEntry(ctx, testSoup, recs[2].ID("Id"))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", entry.Fields["Name"])

	count, err := env.store.CountEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 5, count, "refresh never pulls records that are not cached")
}

func TestDownEngine_CleanGhostsChunks(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 5)

	state := env.syncDown(t, "accounts", models.MergeModeOverwrite)
	env.source.Remove(testObjectType, recs[0].ID("Id"))
	env.source.Remove(testObjectType, recs[4].ID("Id"))
	env.source.ResetCounters()

	cfg := testSyncConfig().BatchConfig
	cfg.Size = 2
	engine := NewDownEngine(env.store, env.source, batch.NewProcessor(&cfg), env.logger)

	removed, err := engine.CleanGhosts(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 3, env.source.Calls("exists"))

	count, err := env.store.CountEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDownSync_PermanentErrorsAreNotRetried(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	env.seedAccounts(t, 3)

	env.source.FailOn("count", "", remote.NewRemoteError(http.StatusBadRequest, "malformed query", nil))

	state, err := env.manager.SyncDown(ctx, queryTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Contains(t, state.Error, "malformed query")
	assert.Equal(t, 1, env.source.Calls("count"))
	assert.Zero(t, env.source.Calls("query"))
}

func TestDownSync_ResumeKeepsRecordsSharingTheWatermark(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	const ts = int64(1710930600000)
	first := models.Record{"Id": "001", "Name": "Acme", "LastModifiedDate": models.FormatTimestamp(ts - 10)}
	boundary := models.Record{"Id": "002", "Name": "Globex", "LastModifiedDate": models.FormatTimestamp(ts)}
	tied := models.Record{"Id": "003", "Name": "Initech", "LastModifiedDate": models.FormatTimestamp(ts)}

	source := new(MockSource)
	source.On("Count", mock.Anything, mock.Anything).Return(3, nil)
	source.On("Query", mock.Anything, mock.MatchedBy(func(spec remote.QuerySpec) bool {
		return spec.Since == models.NoTimeStamp && spec.Cursor == ""
	})).Return(&remote.Page{Records: []models.Record{first, boundary}, TotalSize: 3, NextCursor: "2"}, nil)
	source.On("Query", mock.Anything, mock.MatchedBy(func(spec remote.QuerySpec) bool {
		return spec.Cursor == "2"
	})).Return(nil, errors.New("backend unavailable"))

	manager := NewManager(env.store, source, testSyncConfig(), env.logger)
	state, err := manager.SyncDown(ctx, queryTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, ts-1, state.MaxTimeStamp, "a page that is not the last holds the watermark below its maximum")

	// the backend only returns records strictly newer than the watermark
	source.On("Query", mock.Anything, mock.MatchedBy(func(spec remote.QuerySpec) bool {
		return spec.Since == ts-1 && spec.Cursor == ""
	})).Return(&remote.Page{Records: []models.Record{boundary, tied}, TotalSize: 2}, nil)

	resumed, err := manager.ReSync(ctx, state.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, resumed.Status)
	assert.Equal(t, ts, resumed.MaxTimeStamp)

	entry, err := env.store.GetEntry(ctx, testSoup, "003")
	require.NoError(t, err)
	require.NotNil(t, entry, "the record tied with the watermark on the next page is not skipped")
	assert.Equal(t, "Initech", entry.Fields["Name"])

	count, err := env.store.CountEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
