package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "test-secret")
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("SCHEDULER_BATCH_SIZE", "50")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "test-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 50, cfg.Scheduler.BatchSize)
	assert.Equal(t, "@every 20s", cfg.Scheduler.WalletSync)
	assert.Equal(t, "ledger-events", cfg.Kafka.Topic)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "postgres://mlm:@db.internal:5432/mlm?sslmode=disable", cfg.Database.DSN())
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
auth:
  jwt_secret: file-secret
admin:
  ids: [42]
  user_ids: ["a1"]
kafka:
  brokers: ["localhost:9092"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(7))
	assert.True(t, cfg.IsAdminUser("a1"))
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.IsChatAllowed(99))
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
