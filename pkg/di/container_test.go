package di

import (
	"context"
	"path/filepath"
	"testing"

	"duo-chat/backend/internal/repository"
	"duo-chat/backend/pkg/cache"
	"duo-chat/backend/pkg/config"
	"duo-chat/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.JWT.Secret = "container-test-secret"
	cfg.Blob.Driver = "local"
	cfg.Blob.LocalDir = filepath.Join(t.TempDir(), "uploads")
	cfg.Cache.RedisURL = ""
	cfg.Vault.Enabled = false
	return cfg
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestNewWiresSQLStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "sql"

	c, err := New(context.Background(), cfg, testDB(t), logger.Discard())
	require.NoError(t, err)
	defer c.Close()

	assert.IsType(t, &repository.GormMessageRepository{}, c.Messages)
	assert.IsType(t, &cache.Memory{}, c.Cache)
	assert.NotNil(t, c.LocalBlobs)
	assert.NotNil(t, c.Gateway)
	assert.NotNil(t, c.MessageRouter)

	c.Health.RunChecks(context.Background())
	status := c.Health.GetStatus()
	require.Contains(t, status, "database")
	assert.Equal(t, "up", string(status["database"].Status))
	assert.Contains(t, status, "websocket")
	assert.True(t, c.Health.IsSystemHealthy())
}

func TestNewWiresBadgerStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "badger"
	cfg.Store.BadgerDir = filepath.Join(t.TempDir(), "badger")
	cfg.Cache.Enabled = false

	c, err := New(context.Background(), cfg, testDB(t), logger.Discard())
	require.NoError(t, err)

	assert.IsType(t, &repository.BadgerMessageRepository{}, c.Messages)
	assert.Nil(t, c.Cache)

	c.Health.RunChecks(context.Background())
	assert.Contains(t, c.Health.GetStatus(), "message_store")

	require.NoError(t, c.Close())
}

func TestNewRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg := testConfig(t)
	cfg.JWT.Secret = ""

	_, err := New(context.Background(), cfg, testDB(t), logger.Discard())
	assert.ErrorContains(t, err, "JWT secret")
}

func TestNewRejectsUnknownDrivers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "cassandra"
	_, err := New(context.Background(), cfg, testDB(t), logger.Discard())
	assert.ErrorContains(t, err, "unsupported message store driver")

	cfg = testConfig(t)
	cfg.Blob.Driver = "ftp"
	_, err = New(context.Background(), cfg, testDB(t), logger.Discard())
	assert.ErrorContains(t, err, "unsupported blob driver")
}
