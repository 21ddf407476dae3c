package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.DLQ.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.DLQ.BaseDelay)
	assert.Equal(t, 7, cfg.DLQ.RetentionDays)
	assert.Equal(t, 4, cfg.DLQ.Concurrency)
	assert.Equal(t, "dlq.db", cfg.SQLite.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "host=localhost user=dlq dbname=dlq")
	t.Setenv("DLQ_MAX_RETRIES", "3")
	t.Setenv("DLQ_BASE_DELAY", "90s")
	t.Setenv("WORKER_BATCH_SIZE", "25")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "host=localhost user=dlq dbname=dlq", cfg.Postgres.DSN)
	assert.Equal(t, 3, cfg.DLQ.MaxRetries)
	assert.Equal(t, 90*time.Second, cfg.DLQ.BaseDelay)
	assert.Equal(t, 25, cfg.Worker.BatchSize)
}

func TestLoad_EmptyEnvDisablesBackends(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("ELASTIC_URL", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Elastic.URL)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq.yaml")
	content := "database:\n  driver: sqlite\nsqlite:\n  path: /tmp/dlq-test.db\ndlq:\n  retention_days: 14\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/dlq-test.db", cfg.SQLite.Path)
	assert.Equal(t, 14, cfg.DLQ.RetentionDays)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("stalled threshold within handler timeout", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("DLQ_HANDLER_TIMEOUT", "30s")
		t.Setenv("WORKER_STALLED_AFTER", "30s")

		_, err := Load()
		assert.ErrorContains(t, err, "worker.stalled_after")
	})

	t.Run("missing postgres dsn", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "postgres")
		t.Setenv("POSTGRES_DSN", "")

		_, err := Load()
		assert.ErrorContains(t, err, "postgres.dsn is required")
	})

	t.Run("zero max retries", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "sqlite")
		t.Setenv("DLQ_MAX_RETRIES", "0")

		_, err := Load()
		assert.ErrorContains(t, err, "dlq.max_retries")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("DATABASE_DRIVER", "mysql")

		_, err := Load()
		assert.ErrorContains(t, err, "unsupported database.driver")
	})
}
