// Package settings models the admin-tunable configuration documents
// (features, payouts, programs, referral income, renewals, withdrawals,
// transfers). A Snapshot is fetched once per invocation and passed down so
// every decision in a request sees the same configuration.
package settings

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
)

// Document keys as stored in the admin_settings table.
const (
	KeyFeatures       = "features"
	KeyPayouts        = "payouts"
	KeyPrograms       = "programs"
	KeyReferralIncome = "referralIncome"
	KeyRenewals       = "renewals"
	KeyWithdrawals    = "withdrawals"
	KeyTransfers      = "transfers"
)

// Keys returns every known document key.
func Keys() []string {
	return []string{KeyFeatures, KeyPayouts, KeyPrograms, KeyReferralIncome, KeyRenewals, KeyWithdrawals, KeyTransfers}
}

// Features holds global on/off switches.
type Features struct {
	ReferralIncomeEnabled    bool `json:"referralIncomeEnabled"`
	SponsorActivationEnabled bool `json:"sponsorActivationEnabled"`
	TransfersEnabled         bool `json:"transfersEnabled"`
	WithdrawalsEnabled       bool `json:"withdrawalsEnabled"`
	RenewalsEnabled          bool `json:"renewalsEnabled"`
	SignupRequiresReferral   bool `json:"signupRequiresReferral"`
}

// LevelBand maps an inclusive level range to the percent of the level-income
// pool paid at each level inside the range.
type LevelBand struct {
	LevelFrom int             `json:"levelFrom"`
	LevelTo   int             `json:"levelTo"`
	Percent   decimal.Decimal `json:"percent"`
}

// Width is the number of levels covered by the band.
func (b LevelBand) Width() int {
	return b.LevelTo - b.LevelFrom + 1
}

// QualificationMode selects how the direct-referral requirement is computed.
type QualificationMode string

const (
	// QualifyFlat requires MinDirects active directs for every level in the band.
	QualifyFlat QualificationMode = "flat"
	// QualifyRatio requires one direct per LevelsPerDirect levels of depth.
	QualifyRatio QualificationMode = "ratio"
)

// QualificationRule is the direct-referral requirement for a band of levels.
type QualificationRule struct {
	LevelFrom       int               `json:"levelFrom"`
	LevelTo         int               `json:"levelTo"`
	Mode            QualificationMode `json:"mode"`
	MinDirects      int               `json:"minDirects"`
	LevelsPerDirect int               `json:"levelsPerDirect"`
}

// ReferralIncome configures the direct bonus and level income tables.
type ReferralIncome struct {
	DirectReferralPercent  decimal.Decimal     `json:"directReferralPercent"`
	LevelIncomePoolPercent decimal.Decimal     `json:"levelIncomePoolPercent"`
	MaxLevels              int                 `json:"maxLevels"`
	Levels                 []LevelBand         `json:"levels"`
	Qualification          []QualificationRule `json:"qualification"`
	CountActiveDirectsOnly bool                `json:"countActiveDirectsOnly"`
	CircularCheckHops      int                 `json:"circularCheckHops"`
}

// LevelPercent returns the pool percent configured for level.
func (r ReferralIncome) LevelPercent(level int) (decimal.Decimal, bool) {
	for _, b := range r.Levels {
		if level >= b.LevelFrom && level <= b.LevelTo {
			return b.Percent, true
		}
	}
	return decimal.Zero, false
}

// WeightedLevelTotal sums band percents weighted by band width.
func (r ReferralIncome) WeightedLevelTotal() decimal.Decimal {
	total := decimal.Zero
	for _, b := range r.Levels {
		total = total.Add(b.Percent.Mul(decimal.NewFromInt(int64(b.Width()))))
	}
	return total
}

// RequiredDirects returns how many direct referrals an upline needs to
// receive income at level. Levels without a rule need none.
func (r ReferralIncome) RequiredDirects(level int) int {
	for _, q := range r.Qualification {
		if level < q.LevelFrom || level > q.LevelTo {
			continue
		}
		switch q.Mode {
		case QualifyRatio:
			if q.LevelsPerDirect <= 0 {
				return 0
			}
			return (level + q.LevelsPerDirect - 1) / q.LevelsPerDirect
		default:
			return q.MinDirects
		}
	}
	return 0
}

// CapAction is what happens when a user's cumulative earnings reach the cap.
type CapAction string

const (
	CapStopEarnings     CapAction = "STOP_EARNINGS"
	CapBlockWithdrawals CapAction = "BLOCK_WITHDRAWALS"
	CapStopBoth         CapAction = "STOP_BOTH"
)

// StopsEarnings reports whether credits past the cap are rejected.
func (a CapAction) StopsEarnings() bool {
	return a == CapStopEarnings || a == CapStopBoth
}

// BlocksWithdrawals reports whether reaching the cap blocks withdrawals.
func (a CapAction) BlocksWithdrawals() bool {
	return a == CapBlockWithdrawals || a == CapStopBoth
}

// Valid reports whether a is a known cap action.
func (a CapAction) Valid() bool {
	return a == CapStopEarnings || a == CapBlockWithdrawals || a == CapStopBoth
}

// Plan is a purchasable activation package.
type Plan struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Program   model.Program   `json:"program"`
	MinAmount decimal.Decimal `json:"minAmount"`
	// MaxAmount of zero means no upper bound.
	MaxAmount decimal.Decimal `json:"maxAmount"`
}

// Accepts reports whether amount is inside the plan range.
func (p Plan) Accepts(amount decimal.Decimal) bool {
	if amount.LessThan(p.MinAmount) {
		return false
	}
	if p.MaxAmount.IsPositive() && amount.GreaterThan(p.MaxAmount) {
		return false
	}
	return true
}

// InvestorProgram configures the investor earnings cap.
type InvestorProgram struct {
	CapMultiplier decimal.Decimal `json:"capMultiplier"`
}

// LeaderProgram configures the leader earnings cap.
type LeaderProgram struct {
	CapMultiplier decimal.Decimal `json:"capMultiplier"`
	BaseAmount    decimal.Decimal `json:"baseAmount"`
}

// Programs holds plans and cap parameters.
type Programs struct {
	Plans                   []Plan          `json:"plans"`
	Investor                InvestorProgram `json:"investor"`
	Leader                  LeaderProgram   `json:"leader"`
	CapAction               CapAction       `json:"capAction"`
	GraceLimit              decimal.Decimal `json:"graceLimit"`
	ActivationDeadlineHours int             `json:"activationDeadlineHours"`
	SponsorMustBeUpline     bool            `json:"sponsorMustBeUpline"`
}

// Plan looks up a plan by id.
func (p Programs) Plan(id string) (Plan, bool) {
	for _, pl := range p.Plans {
		if pl.ID == id {
			return pl, true
		}
	}
	return Plan{}, false
}

// ResetMode controls the earnings baseline after a renewal.
type ResetMode string

const (
	ResetZero        ResetMode = "zero"
	ResetCarryExcess ResetMode = "carry_excess"
)

// Renewals configures cap renewal.
type Renewals struct {
	FeePercent     decimal.Decimal       `json:"feePercent"`
	ResetMode      ResetMode             `json:"resetMode"`
	AllowedMethods []model.RenewalMethod `json:"allowedMethods"`
}

// Allows reports whether a renewal method is enabled.
func (r Renewals) Allows(m model.RenewalMethod) bool {
	for _, a := range r.AllowedMethods {
		if a == m {
			return true
		}
	}
	return false
}

// Withdrawals configures limits, fees and verification requirements.
type Withdrawals struct {
	MinWithdrawal       decimal.Decimal      `json:"minWithdrawal"`
	MaxWithdrawal       decimal.Decimal      `json:"maxWithdrawal"`
	FeeType             model.FeeType        `json:"feeType"`
	AdminChargesPercent decimal.Decimal      `json:"adminChargesPercent"`
	FlatFee             decimal.Decimal      `json:"flatFee"`
	RequireKYC          bool                 `json:"requireKyc"`
	RequireBankVerified bool                 `json:"requireBankVerified"`
	Methods             []model.PayoutMethod `json:"methods"`
	MaxPerDay           int                  `json:"maxPerDay"`
	MaxPerWeek          int                  `json:"maxPerWeek"`
	MaxPerMonth         int                  `json:"maxPerMonth"`
	CooldownMinutes     int                  `json:"cooldownMinutes"`
}

// AllowsMethod reports whether a payout method is enabled.
func (w Withdrawals) AllowsMethod(m model.PayoutMethod) bool {
	for _, a := range w.Methods {
		if a == m {
			return true
		}
	}
	return false
}

// Payouts is the payout schedule window.
type Payouts struct {
	AllowedWeekdays []string `json:"allowedWeekdays"`
	WindowStartHour int      `json:"windowStartHour"`
	WindowEndHour   int      `json:"windowEndHour"`
	Timezone        string   `json:"timezone"`
}

// InWindow reports whether t falls inside the payout schedule.
func (p Payouts) InWindow(t time.Time) bool {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if len(p.AllowedWeekdays) > 0 {
		allowed := false
		for _, d := range p.AllowedWeekdays {
			if wd, ok := parseWeekday(d); ok && wd == local.Weekday() {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	h := local.Hour()
	return h >= p.WindowStartHour && h < p.WindowEndHour
}

// Transfers configures member-to-member transfers.
type Transfers struct {
	MinAmount                decimal.Decimal `json:"minAmount"`
	MaxAmount                decimal.Decimal `json:"maxAmount"`
	FeeType                  model.FeeType   `json:"feeType"`
	FeeValue                 decimal.Decimal `json:"feeValue"`
	TransferCooldownMinutes  int             `json:"transferCooldownMinutes"`
	MaxPerDay                int             `json:"maxPerDay"`
	RequireRecipientVerified bool            `json:"requireRecipientVerified"`
	BlockWhenCapReached      bool            `json:"blockWhenCapReached"`
}

// Snapshot is the full configuration seen by one invocation.
type Snapshot struct {
	Features       Features       `json:"features"`
	Payouts        Payouts        `json:"payouts"`
	Programs       Programs       `json:"programs"`
	ReferralIncome ReferralIncome `json:"referralIncome"`
	Renewals       Renewals       `json:"renewals"`
	Withdrawals    Withdrawals    `json:"withdrawals"`
	Transfers      Transfers      `json:"transfers"`
}

// section returns a pointer to the snapshot field that stores key.
func (s *Snapshot) section(key string) (any, error) {
	switch key {
	case KeyFeatures:
		return &s.Features, nil
	case KeyPayouts:
		return &s.Payouts, nil
	case KeyPrograms:
		return &s.Programs, nil
	case KeyReferralIncome:
		return &s.ReferralIncome, nil
	case KeyRenewals:
		return &s.Renewals, nil
	case KeyWithdrawals:
		return &s.Withdrawals, nil
	case KeyTransfers:
		return &s.Transfers, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// Apply decodes a stored document over the matching section. Fields absent
// from the document keep their current (default) values.
func (s *Snapshot) Apply(key string, raw []byte) error {
	target, err := s.section(key)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode %s settings: %w", key, err)
	}
	return nil
}

// Section encodes one section for storage or display.
func (s *Snapshot) Section(key string) ([]byte, error) {
	target, err := s.section(key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(target)
}

// FromDocuments builds a snapshot from stored documents on top of Defaults.
// Missing documents are simply not present in docs.
func FromDocuments(docs map[string][]byte) (*Snapshot, error) {
	snap := Defaults()
	for _, key := range Keys() {
		raw, ok := docs[key]
		if !ok {
			continue
		}
		if err := snap.Apply(key, raw); err != nil {
			return nil, err
		}
	}
	return &snap, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return wd, ok
}
