package syncer

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/mobile-sync/internal/db"
	"github.com/Kamar-Folarin/mobile-sync/internal/models"
	"github.com/Kamar-Folarin/mobile-sync/internal/remote"
)

func pushTarget(t *testing.T) *models.PushUpTarget {
	target, err := models.NewPushUpTarget(testObjectType, nil, nil)
	require.NoError(t, err)
	return target
}

func dirtyCount(t *testing.T, store db.Store) int {
	count, err := store.CountEntries(context.Background(), testSoup, db.EntryFilter{States: models.DirtyStates})
	require.NoError(t, err)
	return count
}

func TestUpSync_Overwrite(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 3)
	env.syncDown(t, "accounts", models.MergeModeOverwrite)

	updatedID := recs[0].ID("Id")
	deletedID := recs[1].ID("Id")
	_, err := env.store.UpdateLocal(ctx, testSoup, updatedID, models.Record{"Name": "Updated"})
	require.NoError(t, err)
	require.NoError(t, env.store.DeleteLocal(ctx, testSoup, deletedID))
	created, err := env.store.CreateLocal(ctx, testSoup, models.Record{"Name": "Created", "Industry": "Retail"})
	require.NoError(t, err)
	require.True(t, models.IsLocalID(created.RecordID))

	// the remote copy moved on; OVERWRITE pushes regardless
	_, err = env.source.Touch(testObjectType, updatedID, models.Record{"Industry": "Media"})
	require.NoError(t, err)

	state, err := env.manager.SyncUp(ctx, pushTarget(t), syncOptions(t, models.MergeModeOverwrite, "Name", "Industry"), testSoup, "push", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, state.Status)
	assert.Equal(t, 3, state.TotalSize)
	assert.Equal(t, 100, state.Progress)
	assert.Empty(t, state.Conflicts)
	assert.Empty(t, state.Failures)
	assert.Zero(t, dirtyCount(t, env.store))
	assert.Zero(t, env.source.Calls("retrieve"), "overwrite never checks the remote copy first")

	remoteUpdated, ok := env.source.Get(testObjectType, updatedID)
	require.True(t, ok)
	assert.Equal(t, "Updated", remoteUpdated["Name"])

	_, ok = env.source.Get(testObjectType, deletedID)
	assert.False(t, ok)

	local, err := env.store.GetEntry(ctx, testSoup, created.RecordID)
	require.NoError(t, err)
	assert.Nil(t, local, "the local id is replaced by the server id")

	entries, err := env.store.QueryEntries(ctx, testSoup, db.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	var serverCreated *models.Entry
	for _, e := range entries {
		if e.Fields["Name"] == "Created" {
			serverCreated = e
		}
	}
	require.NotNil(t, serverCreated)
	assert.False(t, models.IsLocalID(serverCreated.RecordID))
	assert.Equal(t, serverCreated.RecordID, serverCreated.Fields["Id"])
	assert.NotEqual(t, models.NoTimeStamp, serverCreated.ServerModified)

	remoteCreated, ok := env.source.Get(testObjectType, serverCreated.RecordID)
	require.True(t, ok)
	assert.Equal(t, "Retail", remoteCreated["Industry"])

	t.Run("second run does nothing", func(t *testing.T) {
		env.source.ResetCounters()
		again, err := env.manager.ReSync(ctx, state.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, models.StatusDone, again.Status)
		assert.Equal(t, 0, again.TotalSize)
		for _, op := range []string{"create", "update", "delete", "retrieve"} {
			assert.Zero(t, env.source.Calls(op), op)
		}
	})
}

func TestUpSync_LeaveIfChanged(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 4)
	env.syncDown(t, "accounts", models.MergeModeLeaveIfChanged)

	changedUpdate := recs[0].ID("Id")
	changedDelete := recs[1].ID("Id")
	unchanged := recs[2].ID("Id")
	goneRemotely := recs[3].ID("Id")

	_, err := env.store.UpdateLocal(ctx, testSoup, changedUpdate, models.Record{"Name": "Local"})
	require.NoError(t, err)
	require.NoError(t, env.store.DeleteLocal(ctx, testSoup, changedDelete))
	_, err = env.store.UpdateLocal(ctx, testSoup, unchanged, models.Record{"Name": "Local"})
	require.NoError(t, err)
	_, err = env.store.UpdateLocal(ctx, testSoup, goneRemotely, models.Record{"Name": "Local"})
	require.NoError(t, err)

	_, err = env.source.Touch(testObjectType, changedUpdate, models.Record{"Name": "Remote"})
	require.NoError(t, err)
	_, err = env.source.Touch(testObjectType, changedDelete, models.Record{"Name": "Remote"})
	require.NoError(t, err)
	env.source.Remove(testObjectType, goneRemotely)

	state, err := env.manager.SyncUp(ctx, pushTarget(t), syncOptions(t, models.MergeModeLeaveIfChanged, "Name"), testSoup, "push", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, state.Status, "conflicts do not fail the run")
	assert.ElementsMatch(t, []string{changedUpdate, changedDelete, goneRemotely}, state.Conflicts)
	assert.Empty(t, state.Failures)

	for id, want := range map[string]models.LocalState{
		changedUpdate: models.StateLocallyUpdated,
		changedDelete: models.StateLocallyDeleted,
		goneRemotely:  models.StateLocallyUpdated,
		unchanged:     models.StateClean,
	} {
		entry, err := env.store.GetEntry(ctx, testSoup, id)
		require.NoError(t, err)
		require.NotNil(t, entry, id)
		assert.Equal(t, want, entry.State, id)
	}

	remoteChanged, ok := env.source.Get(testObjectType, changedUpdate)
	require.True(t, ok)
	assert.Equal(t, "Remote", remoteChanged["Name"])

	remoteUnchanged, ok := env.source.Get(testObjectType, unchanged)
	require.True(t, ok)
	assert.Equal(t, "Local", remoteUnchanged["Name"])
}

func TestUpSync_PartialFailure(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	recs := env.seedAccounts(t, 3)
	env.syncDown(t, "accounts", models.MergeModeOverwrite)

	failing := recs[0].ID("Id")
	for _, rec := range recs {
		_, err := env.store.UpdateLocal(ctx, testSoup, rec.ID("Id"), models.Record{"Name": "Local"})
		require.NoError(t, err)
	}
	env.source.FailOn("update", failing, errors.New("backend unavailable"))

	state, err := env.manager.SyncUp(ctx, pushTarget(t), syncOptions(t, models.MergeModeOverwrite, "Name"), testSoup, "push", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, state.Status)
	assert.Equal(t, "1 of 3 records failed to sync", state.Error)
	require.Len(t, state.Failures, 1)
	assert.Equal(t, failing, state.Failures[0].RecordID)
	assert.Contains(t, state.Failures[0].Message, "backend unavailable")
	assert.Empty(t, state.Conflicts)

	entry, err := env.store.GetEntry(ctx, testSoup, failing)
	require.NoError(t, err)
	assert.Equal(t, models.StateLocallyUpdated, entry.State)
	assert.Contains(t, entry.LastError, "backend unavailable")

	for _, rec := range recs[1:] {
		entry, err := env.store.GetEntry(ctx, testSoup, rec.ID("Id"))
		require.NoError(t, err)
		assert.Equal(t, models.StateClean, entry.State, "successful pushes are kept")
	}

	env.source.ClearFailures()
	retried, err := env.manager.ReSync(ctx, state.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, retried.Status)
	assert.Equal(t, 1, retried.TotalSize)
	assert.Empty(t, retried.Failures)
	assert.Zero(t, dirtyCount(t, env.store))
}

func TestUpSync_RemoteEdgeCases(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		mode       models.MergeMode
		setup      func(t *testing.T, env *testEnv, id string)
		setupMock  func(source *MockSource, id string)
		wantState  models.LocalState
		wantExists bool
		conflicts  int
	}{
		{
			name: "update of a remotely deleted record re-creates it under overwrite",
			mode: models.MergeModeOverwrite,
			setup: func(t *testing.T, env *testEnv, id string) {
				_, err := env.store.UpdateLocal(ctx, testSoup, id, models.Record{"Name": "Local"})
				require.NoError(t, err)
			},
			setupMock: func(source *MockSource, id string) {
				source.On("Update", mock.Anything, testObjectType, id, mock.Anything).
					Return(nil, remote.NewRemoteError(http.StatusNotFound, "gone", nil))
				source.On("Create", mock.Anything, testObjectType, mock.Anything).
					Return(models.Record{"Id": "new-001", "Name": "Local", "LastModifiedDate": "2024-03-20T10:30:00.000Z"}, nil)
			},
			wantState:  models.StateClean,
			wantExists: true,
		},
		{
			name: "remote 404 on delete counts as deleted",
			mode: models.MergeModeOverwrite,
			setup: func(t *testing.T, env *testEnv, id string) {
				require.NoError(t, env.store.DeleteLocal(ctx, testSoup, id))
			},
			setupMock: func(source *MockSource, id string) {
				source.On("Delete", mock.Anything, testObjectType, id).
					Return(remote.NewRemoteError(http.StatusNotFound, "gone", nil))
			},
			wantExists: false,
		},
		{
			name: "precondition failure is a conflict",
			mode: models.MergeModeOverwrite,
			setup: func(t *testing.T, env *testEnv, id string) {
				_, err := env.store.UpdateLocal(ctx, testSoup, id, models.Record{"Name": "Local"})
				require.NoError(t, err)
			},
			setupMock: func(source *MockSource, id string) {
				source.On("Update", mock.Anything, testObjectType, id, mock.Anything).
					Return(nil, remote.NewRemoteError(http.StatusPreconditionFailed, "changed", nil))
			},
			wantState:  models.StateLocallyUpdated,
			wantExists: true,
			conflicts:  1,
		},
		{
			name: "update without response body fetches the new timestamp",
			mode: models.MergeModeOverwrite,
			setup: func(t *testing.T, env *testEnv, id string) {
				_, err := env.store.UpdateLocal(ctx, testSoup, id, models.Record{"Name": "Local"})
				require.NoError(t, err)
			},
			setupMock: func(source *MockSource, id string) {
				source.On("Update", mock.Anything, testObjectType, id, mock.Anything).Return(nil, nil)
				source.On("Retrieve", mock.Anything, testObjectType, id, mock.Anything).
					Return(models.Record{"Id": id, "LastModifiedDate": "2024-03-20T10:30:00.000Z"}, nil)
			},
			wantState:  models.StateClean,
			wantExists: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			recs := env.seedAccounts(t, 1)
			env.syncDown(t, "accounts", tt.mode)
			id := recs[0].ID("Id")
			tt.setup(t, env, id)

			source := new(MockSource)
			tt.setupMock(source, id)
			manager := NewManager(env.store, source, testSyncConfig(), env.logger)

			state, err := manager.SyncUp(ctx, pushTarget(t), syncOptions(t, tt.mode, "Name"), testSoup, "push", nil)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDone, state.Status, state.Error)
			assert.Len(t, state.Conflicts, tt.conflicts)
			source.AssertExpectations(t)

			entries, err := env.store.QueryEntries(ctx, testSoup, db.EntryFilter{})
			require.NoError(t, err)
			if !tt.wantExists {
				assert.Empty(t, entries)
				return
			}
			require.Len(t, entries, 1)
			assert.Equal(t, tt.wantState, entries[0].State)
			if tt.wantState == models.StateClean {
				assert.NotEqual(t, models.NoTimeStamp, entries[0].ServerModified)
			}
		})
	}
}

func TestUpSync_LocalOnlyDelete(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	created, err := env.store.CreateLocal(ctx, testSoup, models.Record{"Name": "Draft"})
	require.NoError(t, err)
	_, err = env.store.UpdateLocal(ctx, testSoup, created.RecordID, models.Record{"Name": "Draft 2"})
	require.NoError(t, err)

	// still LOCALLY_CREATED, so the delete just drops the row
	require.NoError(t, env.store.DeleteLocal(ctx, testSoup, created.RecordID))
	assert.Zero(t, dirtyCount(t, env.store))

	state, err := env.manager.SyncUp(ctx, pushTarget(t), syncOptions(t, models.MergeModeOverwrite), testSoup, "push", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, state.Status)
	assert.Zero(t, env.source.Calls("create"))
	assert.Zero(t, env.source.Calls("delete"))
}

func TestUpSync_StopBetweenRecords(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.store.CreateLocal(ctx, testSoup, models.Record{"Name": "Draft"})
		require.NoError(t, err)
	}

	target := pushTarget(t)
	state, err := env.manager.CreateSyncUp(ctx, target, syncOptions(t, models.MergeModeOverwrite, "Name"), testSoup, "push")
	require.NoError(t, err)

	stopAfterFirst := func(s *models.SyncState) {
		if s.Status == models.StatusRunning && s.Progress > 0 {
			env.manager.Stop(s.ID)
		}
	}

	stopped, err := env.manager.ReSync(ctx, state.ID, stopAfterFirst)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stopped.Status)
	assert.Equal(t, 1, env.source.Len(testObjectType))
	assert.Equal(t, 2, dirtyCount(t, env.store))

	resumed, err := env.manager.ReSync(ctx, state.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, resumed.Status)
	assert.Equal(t, 2, resumed.TotalSize)
	assert.Equal(t, 3, env.source.Len(testObjectType))
	assert.Zero(t, dirtyCount(t, env.store))
}

// racingSource stores every record it creates in the local soup before
// answering, as a down-sync running between the push and its commit would
type racingSource struct {
	remote.Source
	store      db.Store
	editPulled bool
	creates    int
}

func (s *racingSource) Create(ctx context.Context, objectType string, fields models.Record) (models.Record, error) {
	rec, err := s.Source.Create(ctx, objectType, fields)
	if err != nil {
		return nil, err
	}
	s.creates++

	id := rec.ID("Id")
	if _, err := s.store.SaveRemoteEntry(ctx, &models.Entry{SoupName: testSoup, RecordID: id, State: models.StateClean, Fields: rec}); err != nil {
		return nil, err
	}
	if s.editPulled {
		if _, err := s.store.UpdateLocal(ctx, testSoup, id, models.Record{"Phone": "555"}); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func TestUpSync_CreateRacingDownSync(t *testing.T) {
	tests := []struct {
		name       string
		editPulled bool
		wantState  models.LocalState
	}{
		{name: "pulled copy is clean", wantState: models.StateClean},
		{name: "pulled copy was edited", editPulled: true, wantState: models.StateLocallyUpdated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			ctx := context.Background()

			for _, name := range []string{"Draft A", "Draft B"} {
				_, err := env.store.CreateLocal(ctx, testSoup, models.Record{"Name": name})
				require.NoError(t, err)
			}

			source := &racingSource{Source: env.source, store: env.store, editPulled: tt.editPulled}
			manager := NewManager(env.store, source, testSyncConfig(), env.logger)

			state, err := manager.SyncUp(ctx, pushTarget(t), syncOptions(t, models.MergeModeOverwrite, "Name"), testSoup, "push", nil)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDone, state.Status, state.Error)
			assert.Empty(t, state.Failures)
			assert.Equal(t, 2, source.creates, "a colliding record does not stop the run")
			assert.Equal(t, 2, env.source.Len(testObjectType))

			entries, err := env.store.QueryEntries(ctx, testSoup, db.EntryFilter{})
			require.NoError(t, err)
			require.Len(t, entries, 2, "one local copy per created record")
			for _, e := range entries {
				assert.False(t, models.IsLocalID(e.RecordID), e.RecordID)
				assert.Equal(t, tt.wantState, e.State, e.RecordID)
			}

			again, err := manager.ReSync(ctx, state.ID, nil)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDone, again.Status)
			assert.Equal(t, 2, source.creates, "nothing is created twice")
		})
	}
}

func TestUpSync_DeletedAfterUpdate(t *testing.T) {
	tests := []struct {
		name         string
		mode         models.MergeMode
		remoteEdit   bool
		wantConflict bool
	}{
		{name: "overwrite", mode: models.MergeModeOverwrite, remoteEdit: true},
		{name: "leave if changed, remote unchanged", mode: models.MergeModeLeaveIfChanged},
		{name: "leave if changed, remote edited", mode: models.MergeModeLeaveIfChanged, remoteEdit: true, wantConflict: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			ctx := context.Background()
			recs := env.seedAccounts(t, 1)
			env.syncDown(t, "accounts", tt.mode)

			id := recs[0].ID("Id")
			_, err := env.store.UpdateLocal(ctx, testSoup, id, models.Record{"Name": "Local"})
			require.NoError(t, err)
			require.NoError(t, env.store.DeleteLocal(ctx, testSoup, id))
			if tt.remoteEdit {
				_, err := env.source.Touch(testObjectType, id, models.Record{"Name": "Remote"})
				require.NoError(t, err)
			}
			env.source.ResetCounters()

			state, err := env.manager.SyncUp(ctx, pushTarget(t), syncOptions(t, tt.mode, "Name"), testSoup, "push", nil)
			require.NoError(t, err)
			assert.Equal(t, models.StatusDone, state.Status)
			assert.Empty(t, state.Failures)
			assert.Zero(t, env.source.Calls("update"), "the pending update is never pushed")

			entry, err := env.store.GetEntry(ctx, testSoup, id)
			require.NoError(t, err)
			_, existsRemotely := env.source.Get(testObjectType, id)

			if tt.wantConflict {
				assert.Equal(t, []string{id}, state.Conflicts)
				assert.True(t, existsRemotely)
				require.NotNil(t, entry)
				assert.Equal(t, models.StateLocallyDeletedAndUpdated, entry.State)
				return
			}

			assert.Empty(t, state.Conflicts)
			assert.Equal(t, 1, env.source.Calls("delete"))
			assert.False(t, existsRemotely)
			assert.Nil(t, entry)
		})
	}
}
