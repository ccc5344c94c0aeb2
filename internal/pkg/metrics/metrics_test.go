package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestRecorders(t *testing.T) {
	m := New()

	m.RecordAward("REFERRAL_DIRECT", decimal.NewFromInt(500))
	m.RecordAward("REFERRAL_DIRECT", decimal.RequireFromString("0.5"))
	m.RecordSkip("NOT_QUALIFIED")
	m.RecordTransfer()
	m.ObserveJob("wallet_sync", time.Now(), errors.New("boom"))

	body := scrape(t, m)
	assert.Contains(t, body, `referral_awards_total{income_type="REFERRAL_DIRECT"} 2`)
	assert.Contains(t, body, `referral_amount_total{income_type="REFERRAL_DIRECT"} 500.5`)
	assert.Contains(t, body, `referral_skips_total{reason="NOT_QUALIFIED"} 1`)
	assert.Contains(t, body, `job_runs_total{job="wallet_sync",result="error"} 1`)
	assert.Contains(t, body, "transfers_total 1")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAward("REFERRAL_LEVEL", decimal.NewFromInt(1))
		m.RecordTransfer()
		m.ObserveHTTP("GET", "/", "200", time.Millisecond)
	})
}

func TestNewUsesIsolatedRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
