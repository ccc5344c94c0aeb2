package db_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mlm-platform/internal/pkg/db"
	"mlm-platform/internal/pkg/db/dbtest"
)

func TestStatCollector(t *testing.T) {
	pool := dbtest.Setup(t)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(db.NewStatCollector(pool.Stat)))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 5)
	for _, mf := range mfs {
		if mf.GetName() == "db_pool_max_conns" {
			assert.EqualValues(t, pool.Config().MaxConns, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
