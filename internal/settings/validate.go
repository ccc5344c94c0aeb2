package settings

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
)

// Validation errors.
var (
	ErrUnknownKey         = errors.New("unknown settings key")
	ErrInvalidLevelConfig = errors.New("invalid level config")
	ErrInvalidSettings    = errors.New("invalid settings")
)

var hundred = decimal.NewFromInt(100)

// ValidateReferralIncome checks the level and qualification tables.
func ValidateReferralIncome(r ReferralIncome) error {
	if r.MaxLevels < 1 {
		return fmt.Errorf("%w: maxLevels must be at least 1", ErrInvalidLevelConfig)
	}
	if r.DirectReferralPercent.IsNegative() || r.DirectReferralPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: directReferralPercent out of range", ErrInvalidLevelConfig)
	}
	if r.LevelIncomePoolPercent.IsNegative() || r.LevelIncomePoolPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: levelIncomePoolPercent out of range", ErrInvalidLevelConfig)
	}
	if len(r.Levels) == 0 {
		return fmt.Errorf("%w: no level bands", ErrInvalidLevelConfig)
	}

	prevTo := 0
	for i, b := range r.Levels {
		if b.LevelFrom < 1 || b.LevelTo > r.MaxLevels || b.LevelFrom > b.LevelTo {
			return fmt.Errorf("%w: band %d (%d-%d) outside 1..%d", ErrInvalidLevelConfig, i, b.LevelFrom, b.LevelTo, r.MaxLevels)
		}
		if b.LevelFrom <= prevTo {
			return fmt.Errorf("%w: band %d overlaps or is out of order", ErrInvalidLevelConfig, i)
		}
		if b.Percent.IsNegative() {
			return fmt.Errorf("%w: band %d has negative percent", ErrInvalidLevelConfig, i)
		}
		prevTo = b.LevelTo
	}
	if total := r.WeightedLevelTotal(); !total.Equal(hundred) {
		return fmt.Errorf("%w: level percents sum to %s, want 100", ErrInvalidLevelConfig, total.String())
	}

	prevTo = 0
	for i, q := range r.Qualification {
		if q.LevelFrom < 1 || q.LevelFrom > q.LevelTo {
			return fmt.Errorf("%w: qualification %d has bad range", ErrInvalidLevelConfig, i)
		}
		if q.LevelFrom <= prevTo {
			return fmt.Errorf("%w: qualification %d overlaps or is out of order", ErrInvalidLevelConfig, i)
		}
		switch q.Mode {
		case QualifyFlat:
			if q.MinDirects < 0 {
				return fmt.Errorf("%w: qualification %d has negative minDirects", ErrInvalidLevelConfig, i)
			}
		case QualifyRatio:
			if q.LevelsPerDirect < 1 {
				return fmt.Errorf("%w: qualification %d needs levelsPerDirect >= 1", ErrInvalidLevelConfig, i)
			}
		default:
			return fmt.Errorf("%w: qualification %d has unknown mode %q", ErrInvalidLevelConfig, i, q.Mode)
		}
		prevTo = q.LevelTo
	}
	if r.CircularCheckHops < 1 {
		return fmt.Errorf("%w: circularCheckHops must be positive", ErrInvalidLevelConfig)
	}
	return nil
}

// ValidatePrograms checks plans and cap parameters.
func ValidatePrograms(p Programs) error {
	seen := make(map[string]bool, len(p.Plans))
	for _, pl := range p.Plans {
		if pl.ID == "" || seen[pl.ID] {
			return fmt.Errorf("%w: duplicate or empty plan id %q", ErrInvalidSettings, pl.ID)
		}
		seen[pl.ID] = true
		if !pl.Program.Valid() {
			return fmt.Errorf("%w: plan %s has unknown program", ErrInvalidSettings, pl.ID)
		}
		if !pl.MinAmount.IsPositive() {
			return fmt.Errorf("%w: plan %s minAmount must be positive", ErrInvalidSettings, pl.ID)
		}
		if pl.MaxAmount.IsPositive() && pl.MaxAmount.LessThan(pl.MinAmount) {
			return fmt.Errorf("%w: plan %s min > max", ErrInvalidSettings, pl.ID)
		}
	}
	if !p.Investor.CapMultiplier.IsPositive() || !p.Leader.CapMultiplier.IsPositive() {
		return fmt.Errorf("%w: cap multipliers must be positive", ErrInvalidSettings)
	}
	if !p.Leader.BaseAmount.IsPositive() {
		return fmt.Errorf("%w: leader baseAmount must be positive", ErrInvalidSettings)
	}
	if !p.CapAction.Valid() {
		return fmt.Errorf("%w: unknown capAction %q", ErrInvalidSettings, p.CapAction)
	}
	if p.GraceLimit.IsNegative() {
		return fmt.Errorf("%w: graceLimit must not be negative", ErrInvalidSettings)
	}
	if p.ActivationDeadlineHours < 0 {
		return fmt.Errorf("%w: activationDeadlineHours must not be negative", ErrInvalidSettings)
	}
	return nil
}

// ValidateWithdrawals checks withdrawal limits and fees.
func ValidateWithdrawals(w Withdrawals) error {
	if !w.MinWithdrawal.IsPositive() || w.MaxWithdrawal.LessThan(w.MinWithdrawal) {
		return fmt.Errorf("%w: withdrawal min > max", ErrInvalidSettings)
	}
	if err := validateFee(w.FeeType, w.AdminChargesPercent, w.FlatFee); err != nil {
		return err
	}
	for _, m := range w.Methods {
		if m != model.PayoutBank && m != model.PayoutUPI {
			return fmt.Errorf("%w: unknown payout method %q", ErrInvalidSettings, m)
		}
	}
	if w.MaxPerDay < 0 || w.MaxPerWeek < 0 || w.MaxPerMonth < 0 || w.CooldownMinutes < 0 {
		return fmt.Errorf("%w: withdrawal limits must not be negative", ErrInvalidSettings)
	}
	return nil
}

// ValidateTransfers checks transfer limits and fees.
func ValidateTransfers(t Transfers) error {
	if !t.MinAmount.IsPositive() || t.MaxAmount.LessThan(t.MinAmount) {
		return fmt.Errorf("%w: transfer min > max", ErrInvalidSettings)
	}
	if err := validateFee(t.FeeType, t.FeeValue, t.FeeValue); err != nil {
		return err
	}
	if t.MaxPerDay < 0 || t.TransferCooldownMinutes < 0 {
		return fmt.Errorf("%w: transfer limits must not be negative", ErrInvalidSettings)
	}
	return nil
}

func validateFee(ft model.FeeType, percent, flat decimal.Decimal) error {
	switch ft {
	case model.FeePercent:
		if percent.IsNegative() || percent.GreaterThan(hundred) {
			return fmt.Errorf("%w: fee percent out of range", ErrInvalidSettings)
		}
	case model.FeeFlat:
		if flat.IsNegative() {
			return fmt.Errorf("%w: flat fee must not be negative", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown fee type %q", ErrInvalidSettings, ft)
	}
	return nil
}

// ValidatePayouts checks the payout window.
func ValidatePayouts(p Payouts) error {
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("%w: invalid timezone %q", ErrInvalidSettings, p.Timezone)
	}
	if p.WindowStartHour < 0 || p.WindowEndHour > 24 || p.WindowStartHour >= p.WindowEndHour {
		return fmt.Errorf("%w: payout window %d-%d", ErrInvalidSettings, p.WindowStartHour, p.WindowEndHour)
	}
	for _, d := range p.AllowedWeekdays {
		if _, ok := parseWeekday(d); !ok {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalidSettings, d)
		}
	}
	return nil
}

// ValidateRenewals checks renewal parameters.
func ValidateRenewals(r Renewals) error {
	if r.FeePercent.IsNegative() {
		return fmt.Errorf("%w: renewal feePercent must not be negative", ErrInvalidSettings)
	}
	if r.ResetMode != ResetZero && r.ResetMode != ResetCarryExcess {
		return fmt.Errorf("%w: unknown resetMode %q", ErrInvalidSettings, r.ResetMode)
	}
	return nil
}

// Validate checks every section of the snapshot.
func (s *Snapshot) Validate() error {
	return s.ValidateSection(Keys()...)
}

// ValidateSection checks only the named sections.
func (s *Snapshot) ValidateSection(keys ...string) error {
	for _, key := range keys {
		var err error
		switch key {
		case KeyFeatures:
		case KeyPayouts:
			err = ValidatePayouts(s.Payouts)
		case KeyPrograms:
			err = ValidatePrograms(s.Programs)
		case KeyReferralIncome:
			err = ValidateReferralIncome(s.ReferralIncome)
		case KeyRenewals:
			err = ValidateRenewals(s.Renewals)
		case KeyWithdrawals:
			err = ValidateWithdrawals(s.Withdrawals)
		case KeyTransfers:
			err = ValidateTransfers(s.Transfers)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
