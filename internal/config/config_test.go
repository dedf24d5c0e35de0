package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sql", cfg.Ledger.Backend)
	assert.True(t, cfg.Ledger.CacheEnabled)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.CacheTTL)
	assert.Equal(t, "ledger.transaction.applied", cfg.Kafka.Topic.TransactionApplied)
	assert.Equal(t, 100*time.Millisecond, cfg.Jobs.OutboxInterval)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: sqlite
  dsn: "file::memory:"
ledger:
  backend: redis
  cache_ttl: 30s
  accounts:
    - { id: 1, limit: 1000 }
    - { id: 2, limit: 500, balance: -100 }
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Ledger.Backend)
	assert.Equal(t, 30*time.Second, cfg.Ledger.CacheTTL)
	require.Len(t, cfg.Ledger.Accounts, 2)
	assert.Equal(t, AccountConfig{ID: 2, Limit: 500, Balance: -100}, cfg.Ledger.Accounts[1])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BANKLEDGER_SERVER_PORT", "9999")
	t.Setenv("BANKLEDGER_DATABASE_DSN", "postgres://u:p@db:5432/dev")
	t.Setenv("BANKLEDGER_DATABASE_DRIVER", "postgres")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/dev", cfg.Database.DSN)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"backend":          "ledger:\n  backend: mongo\n",
		"driver":           "database:\n  driver: oracle\n",
		"broken invariant": "ledger:\n  accounts:\n    - { id: 1, limit: 10, balance: -11 }\n",
		"duplicate":        "ledger:\n  accounts:\n    - { id: 1, limit: 10 }\n    - { id: 1, limit: 20 }\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
