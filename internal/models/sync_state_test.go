package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDownState(t *testing.T) *SyncState {
	target, err := NewQueryDownTarget("Account", "Industry = 'Tech'", "Id", "Name", "LastModifiedDate")
	require.NoError(t, err)
	options, err := NewSyncOptions(MergeModeLeaveIfChanged)
	require.NoError(t, err)
	state, err := NewSyncState(SyncTypeDown, target, options, "accounts", "accountsDown")
	require.NoError(t, err)
	return state
}

func TestNewSyncState(t *testing.T) {
	t.Run("new down sync starts in NEW", func(t *testing.T) {
		state := newDownState(t)
		assert.Equal(t, StatusNew, state.Status)
		assert.Equal(t, NoTimeStamp, state.MaxTimeStamp)
		assert.Equal(t, -1, state.TotalSize)
		assert.True(t, state.IsDown())
	})

	t.Run("down target rejected on up sync", func(t *testing.T) {
		target, err := NewQueryDownTarget("Account", "Name != null")
		require.NoError(t, err)
		options, err := NewSyncOptions(MergeModeOverwrite)
		require.NoError(t, err)

		_, err = NewSyncState(SyncTypeUp, target, options, "accounts", "")
		require.Error(t, err)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr))
		assert.Equal(t, "target", cfgErr.Field)
	})

	t.Run("soup name required", func(t *testing.T) {
		target, err := NewPushUpTarget("Account", nil, nil)
		require.NoError(t, err)
		options, err := NewSyncOptions(MergeModeOverwrite)
		require.NoError(t, err)

		_, err = NewSyncState(SyncTypeUp, target, options, "", "")
		assert.Error(t, err)
	})
}

func TestSyncStateTransitions(t *testing.T) {
	now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)

	t.Run("full run", func(t *testing.T) {
		state := newDownState(t)
		require.NoError(t, state.Begin(now))
		assert.Equal(t, StatusRunning, state.Status)
		assert.Equal(t, now, state.StartTime)

		state.TotalSize = 10
		state.UpdateProgress(5)
		assert.Equal(t, 50, state.Progress)
		state.UpdateProgress(10)
		assert.Equal(t, 99, state.Progress)

		require.NoError(t, state.Finish(StatusDone, now.Add(time.Minute)))
		assert.Equal(t, 100, state.Progress)
		assert.Equal(t, now.Add(time.Minute), state.EndTime)
	})

	t.Run("progress never goes backwards", func(t *testing.T) {
		state := newDownState(t)
		require.NoError(t, state.Begin(now))
		state.TotalSize = 10
		state.UpdateProgress(6)
		state.TotalSize = 100
		state.UpdateProgress(7)
		assert.Equal(t, 60, state.Progress)
	})

	t.Run("no transition skips RUNNING", func(t *testing.T) {
		state := newDownState(t)
		err := state.Finish(StatusDone, now)
		var trErr *TransitionError
		require.True(t, errors.As(err, &trErr))
		assert.Equal(t, StatusNew, trErr.From)
		assert.Equal(t, StatusNew, state.Status)
	})

	t.Run("terminal states resume", func(t *testing.T) {
		for _, terminal := range []SyncStatus{StatusDone, StatusFailed, StatusStopped, StatusCancelled} {
			state := newDownState(t)
			require.NoError(t, state.Begin(now))
			require.NoError(t, state.Finish(terminal, now))
			assert.NoError(t, state.Begin(now), "resume from %s", terminal)
		}
	})

	t.Run("fail keeps error", func(t *testing.T) {
		state := newDownState(t)
		require.NoError(t, state.Begin(now))
		require.NoError(t, state.Fail(errors.New("store unavailable"), now))
		assert.Equal(t, StatusFailed, state.Status)
		assert.Equal(t, "store unavailable", state.Error)

		require.NoError(t, state.Begin(now))
		assert.Empty(t, state.Error)
	})

	t.Run("max timestamp never decreases", func(t *testing.T) {
		state := newDownState(t)
		state.AdvanceMaxTimeStamp(200)
		state.AdvanceMaxTimeStamp(100)
		assert.Equal(t, int64(200), state.MaxTimeStamp)
	})
}

func TestSyncStateJSON(t *testing.T) {
	state := newDownState(t)
	state.ID = 7
	require.NoError(t, state.Begin(time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)))
	state.AddConflict("001")

	data, err := json.Marshal(state)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	target := raw["target"].(map[string]interface{})
	assert.Equal(t, "query", target["type"])
	assert.Equal(t, "syncDown", raw["type"])

	var decoded SyncState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, state.ID, decoded.ID)
	assert.Equal(t, state.Target, decoded.Target)
	assert.Equal(t, state.Options, decoded.Options)
	assert.Equal(t, []string{"001"}, decoded.Conflicts)
	assert.True(t, state.StartTime.Equal(decoded.StartTime))
}

func TestDecodeTarget(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		target, err := DecodeTarget([]byte(`{"type":"query","objectType":"Account","query":"Name != null"}`))
		require.NoError(t, err)
		q, ok := target.(*QueryDownTarget)
		require.True(t, ok)
		assert.Equal(t, DefaultIDField, q.IDField())
		assert.Equal(t, DefaultModificationField, q.ModificationField())
		assert.Equal(t, DefaultPageSize, q.BatchSize())
	})

	t.Run("missing query fails fast", func(t *testing.T) {
		_, err := DecodeTarget([]byte(`{"type":"query","objectType":"Account"}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required")
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := DecodeTarget([]byte(`{"type":"mru","objectType":"Account"}`))
		assert.Error(t, err)
	})

	t.Run("refresh needs fields", func(t *testing.T) {
		_, err := DecodeTarget([]byte(`{"type":"refresh","objectType":"Account"}`))
		assert.Error(t, err)
	})
}

func TestDecodeOptions(t *testing.T) {
	_, err := DecodeOptions([]byte(`{}`))
	assert.Error(t, err, "merge mode is never defaulted")

	_, err = DecodeOptions([]byte(`{"mergeMode":"MERGE"}`))
	assert.Error(t, err)

	opts, err := DecodeOptions([]byte(`{"mergeMode":"LEAVE_IF_CHANGED","fieldList":["Name"]}`))
	require.NoError(t, err)
	assert.Equal(t, MergeModeLeaveIfChanged, opts.MergeMode)
	assert.Equal(t, []string{"Name"}, opts.FieldList)
}

func TestParseTimestamp(t *testing.T) {
	ms := time.Date(2024, 3, 20, 10, 30, 0, 123000000, time.UTC).UnixMilli()

	for name, value := range map[string]interface{}{
		"rfc3339 millis": "2024-03-20T10:30:00.123Z",
		"salesforce":     "2024-03-20T10:30:00.123+0000",
		"epoch float":    float64(ms),
		"epoch string":   "1710930600123",
		"formatted":      FormatTimestamp(ms),
	} {
		got, ok := ParseTimestamp(value)
		assert.True(t, ok, name)
		assert.Equal(t, ms, got, name)
	}

	_, ok := ParseTimestamp("yesterday")
	assert.False(t, ok)
	_, ok = ParseTimestamp(nil)
	assert.False(t, ok)
}

func TestRecordPick(t *testing.T) {
	rec := Record{"Id": "001", "Name": "Acme", "Phone": "555", "LastModifiedDate": "x"}

	assert.Equal(t, Record{"Name": "Acme"}, rec.Pick([]string{"Name", "Id"}, "Id"))
	assert.Equal(t, Record{"Name": "Acme", "Phone": "555"}, rec.Pick(nil, "Id", "LastModifiedDate"))
	assert.True(t, IsLocalID(NewLocalID()))
	assert.False(t, IsLocalID("001"))
}
