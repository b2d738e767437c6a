package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kamar-Folarin/mobile-sync/internal/models"
)

const (
	testDefinitionsJSON = `{
  "syncs": [
    {
      "syncType": "syncDown",
      "syncName": "accountsDown",
      "soupName": "accounts",
      "target": {"type": "query", "objectType": "Account", "query": "Name != null", "fieldList": ["Id", "Name"]},
      "options": {"mergeMode": "OVERWRITE"}
    },
    {
      "syncType": "syncUp",
      "syncName": "accountsUp",
      "soupName": "accounts",
      "target": {"type": "push", "objectType": "Account", "createFieldlist": ["Name"]},
      "options": {"mergeMode": "LEAVE_IF_CHANGED", "fieldList": ["Name"]}
    }
  ]
}`

	testDefinitionsYAML = `syncs:
  - syncType: syncDown
    syncName: contactsDown
    soupName: contacts
    target:
      type: query
      objectType: Contact
      query: "AccountId != null"
      pageSize: 50
    options:
      mergeMode: LEAVE_IF_CHANGED
`
)

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "")
		t.Setenv("SYNC_INTERVAL_MINUTES", "")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "sqlite3", cfg.DBDriver)
		assert.Equal(t, time.Hour, cfg.SyncInterval)
		assert.Equal(t, 3, cfg.Sync.BatchConfig.MaxRetries)
		assert.Equal(t, 2.0, cfg.Remote.RateLimit.RetryMultiplier)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("SYNC_INTERVAL_MINUTES", "5")
		t.Setenv("SYNC_PAGE_RETRIES", "1")
		t.Setenv("SYNC_RETRY_DELAY_MS", "10")
		t.Setenv("REMOTE_TOKEN", "secret")
		t.Setenv("REMOTE_RETRY_MULTIPLIER", "1.5")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "postgres", cfg.DBDriver)
		assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
		assert.Equal(t, 1, cfg.Sync.BatchConfig.MaxRetries)
		assert.Equal(t, 10*time.Millisecond, cfg.Sync.BatchConfig.RetryDelay)
		assert.Equal(t, "secret", cfg.Remote.Token)
		assert.Equal(t, 1.5, cfg.Remote.RateLimit.RetryMultiplier)
	})

	t.Run("invalid retry multiplier", func(t *testing.T) {
		t.Setenv("REMOTE_RETRY_MULTIPLIER", "fast")
		_, err := Load()
		assert.ErrorContains(t, err, "REMOTE_RETRY_MULTIPLIER")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DB_DRIVER", "mysql")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadSyncDefinitions(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		defs, err := LoadSyncDefinitions(writeFile(t, "syncs.json", testDefinitionsJSON))
		require.NoError(t, err)
		require.Len(t, defs.Syncs, 2)

		down, err := defs.Syncs[0].Build()
		require.NoError(t, err)
		assert.Equal(t, "accountsDown", down.Name)
		assert.Equal(t, models.StatusNew, down.Status)

		up, err := defs.Syncs[1].Build()
		require.NoError(t, err)
		assert.Equal(t, models.MergeModeLeaveIfChanged, up.MergeMode())
		assert.True(t, up.IsUp())
	})

	t.Run("yaml", func(t *testing.T) {
		defs, err := LoadSyncDefinitions(writeFile(t, "syncs.yaml", testDefinitionsYAML))
		require.NoError(t, err)
		require.Len(t, defs.Syncs, 1)

		state, err := defs.Syncs[0].Build()
		require.NoError(t, err)
		target, ok := state.Target.(*models.QueryDownTarget)
		require.True(t, ok)
		assert.Equal(t, 50, target.PageSize)
		assert.Equal(t, "contacts", state.SoupName)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := LoadSyncDefinitions(writeFile(t, "syncs.toml", "syncs = []"))
		assert.Error(t, err)
	})

	t.Run("duplicate names", func(t *testing.T) {
		_, err := ParseSyncDefinitions([]byte(`{"syncs":[{"syncName":"a"},{"syncName":"a"}]}`))
		assert.Error(t, err)
	})

	t.Run("invalid definition fails at build", func(t *testing.T) {
		defs, err := ParseSyncDefinitions([]byte(`{"syncs":[{"syncType":"syncDown","syncName":"bad","soupName":"s","target":{"type":"query","objectType":"Account"},"options":{"mergeMode":"OVERWRITE"}}]}`))
		require.NoError(t, err)
		_, err = defs.Syncs[0].Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "query is required")
	})
}
