package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/encodarr/internal/config"
	"github.com/jmylchreest/encodarr/internal/models"
)

func sqliteConfig(dsn string) config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             dsn,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "warn",
	}
}

func TestNew_SQLite(t *testing.T) {
	db, err := New(sqliteConfig(filepath.Join(t.TempDir(), "encodarr.db")), nil)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestDB_Migrate(t *testing.T) {
	db, err := New(sqliteConfig(":memory:"), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()), "migrating twice is a no-op")

	assert.True(t, db.Migrator().HasTable(&models.TranscodingInfo{}))
	assert.True(t, db.Migrator().HasIndex(&models.TranscodingInfo{}, "DeviceID"))
}

func TestDB_Close(t *testing.T) {
	db, err := New(sqliteConfig(":memory:"), nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDialectorFor(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		d, err := dialectorFor(config.DatabaseConfig{Driver: driver, DSN: "dsn"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}
}

func TestGormLogLevel(t *testing.T) {
	tests := map[string]logger.LogLevel{
		"silent":  logger.Silent,
		"error":   logger.Error,
		"warn":    logger.Warn,
		"info":    logger.Info,
		"":        logger.Warn,
		"unknown": logger.Warn,
	}
	for in, want := range tests {
		assert.Equal(t, want, gormLogLevel(in), in)
	}
}
