// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics groups every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ReferralAwardsTotal *prometheus.CounterVec
	ReferralAmountTotal *prometheus.CounterVec
	ReferralSkipsTotal  *prometheus.CounterVec

	LedgerPostingsTotal *prometheus.CounterVec
	WithdrawalsTotal    *prometheus.CounterVec
	TransfersTotal      prometheus.Counter
	RenewalsTotal       *prometheus.CounterVec

	JobRunsTotal    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	WalletsRepaired prometheus.Counter
}

// New creates the instruments on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ReferralAwardsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_awards_total",
			Help: "Referral income credits applied",
		}, []string{"income_type"}),
		ReferralAmountTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_amount_total",
			Help: "Referral income credited, in rupees",
		}, []string{"income_type"}),
		ReferralSkipsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "referral_skips_total",
			Help: "Uplines skipped during referral processing",
		}, []string{"reason"}),

		LedgerPostingsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_postings_total",
			Help: "Ledger entries written",
		}, []string{"direction", "source_type"}),
		WithdrawalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "withdrawals_total",
			Help: "Withdrawal state changes",
		}, []string{"status"}),
		TransfersTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "transfers_total",
			Help: "Completed member transfers",
		}),
		RenewalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "cap_renewals_total",
			Help: "Cap renewals applied",
		}, []string{"method"}),

		JobRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Scheduled job runs",
		}, []string{"job", "result"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Scheduled job duration",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"job"}),
		WalletsRepaired: f.NewCounter(prometheus.CounterOpts{
			Name: "wallets_repaired_total",
			Help: "Wallet balances corrected to the ledger sum",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAward counts one referral credit.
func (m *Metrics) RecordAward(incomeType string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.ReferralAwardsTotal.WithLabelValues(incomeType).Inc()
	m.ReferralAmountTotal.WithLabelValues(incomeType).Add(amount.InexactFloat64())
}

// RecordSkip counts one skipped upline.
func (m *Metrics) RecordSkip(reason string) {
	if m == nil {
		return
	}
	m.ReferralSkipsTotal.WithLabelValues(reason).Inc()
}

// RecordPosting counts one ledger entry.
func (m *Metrics) RecordPosting(direction, sourceType string) {
	if m == nil {
		return
	}
	m.LedgerPostingsTotal.WithLabelValues(direction, sourceType).Inc()
}

// RecordWithdrawal counts a withdrawal entering status.
func (m *Metrics) RecordWithdrawal(status string) {
	if m == nil {
		return
	}
	m.WithdrawalsTotal.WithLabelValues(status).Inc()
}

// RecordTransfer counts a completed transfer.
func (m *Metrics) RecordTransfer() {
	if m == nil {
		return
	}
	m.TransfersTotal.Inc()
}

// RecordRenewal counts a renewal.
func (m *Metrics) RecordRenewal(method string) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(method).Inc()
}

// RecordWalletRepaired counts a wallet whose balance was corrected.
func (m *Metrics) RecordWalletRepaired() {
	if m == nil {
		return
	}
	m.WalletsRepaired.Inc()
}

// ObserveJob records a scheduled job run.
func (m *Metrics) ObserveJob(job string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRunsTotal.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, path, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
