package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirdesai22/dlq-service/internal/config"
	"github.com/sirdesai22/dlq-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", ConnectTimeout: time.Second},
		SQLite:   config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "dlq.db")},
	}
}

func TestConnectAndMigrate(t *testing.T) {
	ctx := context.Background()
	gdb, err := Connect(ctx, sqliteConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	require.NoError(t, Migrate(ctx, gdb))
	require.NoError(t, Migrate(ctx, gdb), "second migration must be a no-op")

	m := gdb.Migrator()
	assert.True(t, m.HasTable(&models.Entry{}))
	assert.True(t, m.HasIndex(&models.Entry{}, "idx_dlq_status"))
	assert.True(t, m.HasIndex(&models.Entry{}, "idx_dlq_next_retry"))
	assert.True(t, m.HasIndex(&models.Entry{}, "idx_dlq_target"))
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := Connect(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}
