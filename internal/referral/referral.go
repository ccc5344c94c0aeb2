// Package referral plans referral income for an activation: the direct
// referral bonus to the immediate upline and level income up the chain.
// Planning is pure; the caller credits the awards one beneficiary at a time.
package referral

import (
	"errors"

	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/settings"
)

// DirectLevel is the distribution level used for the direct referral bonus.
const DirectLevel = 0

// Reasons reported for rejected activations and skipped uplines.
const (
	ReasonInvalidAmount      = "INVALID_AMOUNT"
	ReasonActivatorInactive  = "ACTIVATOR_NOT_ACTIVE"
	ReasonLeaderActivation   = "LEADER_ACTIVATION"
	ReasonIncomeDisabled     = "REFERRAL_INCOME_DISABLED"
	ReasonSelfReferral       = "SELF_REFERRAL"
	ReasonCircularReferral   = "CIRCULAR_REFERRAL"
	ReasonInvalidLevelConfig = "INVALID_LEVEL_CONFIG"
	ReasonNoUpline           = "NO_UPLINE"

	ReasonNotActiveInvestor = "NOT_ACTIVE_INVESTOR"
	ReasonNotQualified      = "NOT_QUALIFIED"
	ReasonNoLevelPercent    = "NO_LEVEL_PERCENT"
	ReasonZeroAmount        = "ZERO_AMOUNT"
	ReasonCapReached        = "CAP_REACHED"
	ReasonAlreadyProcessed  = "ALREADY_PROCESSED"
)

// ErrRejected is wrapped by RejectionError.
var ErrRejected = errors.New("activation not eligible for referral income")

// RejectionError explains why no income at all is paid for an activation.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return ErrRejected.Error() + ": " + e.Reason
}

func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Activator is the member whose activation triggers income.
type Activator struct {
	ID         string
	Status     model.UserStatus
	Program    model.Program
	ReferrerID *string
}

// Upline is one ancestor of the activator. Chain[0] is level 1.
type Upline struct {
	ID            string
	Status        model.UserStatus
	Program       model.Program
	ActiveDirects int
	TotalDirects  int
}

// earnsInvestorIncome reports whether u is an active member of the
// investor program. Leaders never receive referral or level income.
func (u Upline) earnsInvestorIncome() bool {
	return u.Status == model.StatusActiveInvestor && u.Program == model.ProgramInvestor
}

// Input is everything the planner needs.
type Input struct {
	ActivationID string
	Amount       decimal.Decimal
	Program      model.Program
	Activator    Activator
	Chain        []Upline
	Enabled      bool
	Config       settings.ReferralIncome
}

// Award is one credit to be applied.
type Award struct {
	BeneficiaryID string           `json:"beneficiaryId"`
	Level         int              `json:"level"`
	IncomeType    model.SourceType `json:"incomeType"`
	Percent       decimal.Decimal  `json:"percent"`
	Amount        decimal.Decimal  `json:"amount"`
}

// Skip records an upline that received nothing and why.
type Skip struct {
	BeneficiaryID string `json:"beneficiaryId"`
	Level         int    `json:"level"`
	Reason        string `json:"reason"`
}

// Result is the output of Plan.
type Result struct {
	Awards []Award
	Skips  []Skip
}

var hundred = decimal.NewFromInt(100)

// Round rounds a money amount half-up to paise.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// DirectAmount is amount × directPercent / 100.
func DirectAmount(amount decimal.Decimal, cfg settings.ReferralIncome) decimal.Decimal {
	return Round(amount.Mul(cfg.DirectReferralPercent).Div(hundred))
}

// LevelAmount is amount × poolPercent/100 × levelPercent/100.
func LevelAmount(amount, levelPercent decimal.Decimal, cfg settings.ReferralIncome) decimal.Decimal {
	pool := amount.Mul(cfg.LevelIncomePoolPercent).Div(hundred)
	return Round(pool.Mul(levelPercent).Div(hundred))
}

// Check validates the activation before any upline is considered.
func Check(in Input) error {
	reject := func(reason string) error { return &RejectionError{Reason: reason} }

	if !in.Amount.IsPositive() {
		return reject(ReasonInvalidAmount)
	}
	if in.Program == model.ProgramLeader || in.Activator.Program == model.ProgramLeader {
		return reject(ReasonLeaderActivation)
	}
	if in.Activator.Status != model.StatusActiveInvestor {
		return reject(ReasonActivatorInactive)
	}
	if !in.Enabled {
		return reject(ReasonIncomeDisabled)
	}
	if in.Activator.ReferrerID != nil && *in.Activator.ReferrerID == in.Activator.ID {
		return reject(ReasonSelfReferral)
	}
	if circular(in) {
		return reject(ReasonCircularReferral)
	}
	if err := settings.ValidateReferralIncome(in.Config); err != nil {
		return reject(ReasonInvalidLevelConfig)
	}
	if len(in.Chain) == 0 {
		return reject(ReasonNoUpline)
	}
	return nil
}

func circular(in Input) bool {
	hops := in.Config.CircularCheckHops
	seen := map[string]bool{in.Activator.ID: true}
	for i, u := range in.Chain {
		if hops > 0 && i >= hops {
			break
		}
		if seen[u.ID] {
			return true
		}
		seen[u.ID] = true
	}
	return false
}

// Plan computes the awards for an activation. It returns a RejectionError
// when the activation pays no referral income at all.
func Plan(in Input) (Result, error) {
	if err := Check(in); err != nil {
		return Result{}, err
	}

	var res Result
	cfg := in.Config

	direct := in.Chain[0]
	switch {
	case !direct.earnsInvestorIncome():
		res.skip(direct.ID, DirectLevel, ReasonNotActiveInvestor)
	default:
		amt := DirectAmount(in.Amount, cfg)
		if amt.IsPositive() {
			res.Awards = append(res.Awards, Award{
				BeneficiaryID: direct.ID,
				Level:         DirectLevel,
				IncomeType:    model.SourceReferralDirect,
				Percent:       cfg.DirectReferralPercent,
				Amount:        amt,
			})
		} else {
			res.skip(direct.ID, DirectLevel, ReasonZeroAmount)
		}
	}

	for i, u := range in.Chain {
		level := i + 1
		if level > cfg.MaxLevels {
			break
		}
		if !u.earnsInvestorIncome() {
			res.skip(u.ID, level, ReasonNotActiveInvestor)
			continue
		}
		directs := u.TotalDirects
		if cfg.CountActiveDirectsOnly {
			directs = u.ActiveDirects
		}
		if directs < cfg.RequiredDirects(level) {
			res.skip(u.ID, level, ReasonNotQualified)
			continue
		}
		pct, ok := cfg.LevelPercent(level)
		if !ok {
			res.skip(u.ID, level, ReasonNoLevelPercent)
			continue
		}
		amt := LevelAmount(in.Amount, pct, cfg)
		if !amt.IsPositive() {
			res.skip(u.ID, level, ReasonZeroAmount)
			continue
		}
		res.Awards = append(res.Awards, Award{
			BeneficiaryID: u.ID,
			Level:         level,
			IncomeType:    model.SourceReferralLevel,
			Percent:       pct,
			Amount:        amt,
		})
	}
	return res, nil
}

func (r *Result) skip(id string, level int, reason string) {
	r.Skips = append(r.Skips, Skip{BeneficiaryID: id, Level: level, Reason: reason})
}

// Total sums all award amounts.
func (r Result) Total() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Awards {
		total = total.Add(a.Amount)
	}
	return total
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (string, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}
