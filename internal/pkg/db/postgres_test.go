package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/config"
)

func TestPoolConfig_Defaults(t *testing.T) {
	pc, err := poolConfig(&config.DatabaseConfig{Host: "localhost", Port: 5432, User: "u", Name: "n", PoolSize: 2})
	require.NoError(t, err)

	assert.EqualValues(t, 2, pc.MaxConns)
	assert.EqualValues(t, 1, pc.MinConns, "at least one warm connection")
	assert.Equal(t, 10*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.Equal(t, 30*time.Minute, pc.MaxConnIdleTime)
}

func TestPoolConfig_Overrides(t *testing.T) {
	pc, err := poolConfig(&config.DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Name: "n", PoolSize: 40,
		ConnectTimeout: 3 * time.Second, MaxConnLifetime: time.Minute, MaxConnIdleTime: time.Second,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 10, pc.MinConns)
	assert.Equal(t, "db", pc.ConnConfig.Host)
	assert.EqualValues(t, 5433, pc.ConnConfig.Port)
	assert.Equal(t, 3*time.Second, pc.ConnConfig.ConnectTimeout)
	assert.Equal(t, time.Minute, pc.MaxConnLifetime)
	assert.Equal(t, time.Second, pc.MaxConnIdleTime)
}
