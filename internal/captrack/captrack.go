// Package captrack decides whether an income credit fits under a user's
// earnings cap. It is pure: callers load the user's state inside their
// transaction and apply the resulting Decision themselves.
package captrack

import (
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/settings"
)

// Outcome of a cap evaluation.
type Outcome int

const (
	// Allow credits the full amount; the cap is not reached.
	Allow Outcome = iota
	// AllowAndReach credits the full amount and marks the cap reached.
	AllowAndReach
	// Reject refuses the whole credit.
	Reject
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case AllowAndReach:
		return "allow_and_reach"
	case Reject:
		return "reject"
	}
	return "unknown"
}

// State is the cap-relevant part of a user.
type State struct {
	Program          model.Program
	ActivationAmount decimal.Decimal
	Cumulative       decimal.Decimal
	CapStatus        model.CapStatus
}

// StateOf extracts the cap state of a user.
func StateOf(u *model.User) State {
	return State{
		Program:          u.Program,
		ActivationAmount: u.ActivationAmount,
		Cumulative:       u.CumulativeEligibleEarnings,
		CapStatus:        u.CapStatus,
	}
}

// Policy is the cap configuration in force for one evaluation.
type Policy struct {
	InvestorMultiplier decimal.Decimal
	LeaderMultiplier   decimal.Decimal
	LeaderBaseAmount   decimal.Decimal
	Action             settings.CapAction
	Grace              decimal.Decimal
}

// PolicyFrom builds a Policy from the programs settings.
func PolicyFrom(p settings.Programs) Policy {
	return Policy{
		InvestorMultiplier: p.Investor.CapMultiplier,
		LeaderMultiplier:   p.Leader.CapMultiplier,
		LeaderBaseAmount:   p.Leader.BaseAmount,
		Action:             p.CapAction,
		Grace:              p.GraceLimit,
	}
}

// Base returns the amount the cap multiplier applies to.
func (p Policy) Base(s State) decimal.Decimal {
	if s.Program == model.ProgramLeader {
		return p.LeaderBaseAmount
	}
	return s.ActivationAmount
}

// Cap returns base × multiplier for the user's program.
func (p Policy) Cap(s State) decimal.Decimal {
	if s.Program == model.ProgramLeader {
		return p.LeaderBaseAmount.Mul(p.LeaderMultiplier)
	}
	return s.ActivationAmount.Mul(p.InvestorMultiplier)
}

// Decision is the result of Evaluate.
type Decision struct {
	Outcome Outcome
	Cap     decimal.Decimal
	// NewCumulative is the cumulative earnings after an allowed credit.
	NewCumulative decimal.Decimal
	// BlockWithdrawals is set when the cap is (or stays) reached under an
	// action that blocks withdrawals.
	BlockWithdrawals bool
	// capHit marks a rejected credit that leaves the user at the cap.
	capHit bool
}

// Credited reports whether the credit may be applied.
func (d Decision) Credited() bool {
	return d.Outcome != Reject
}

// Reached reports whether the user is at the cap after the decision,
// including a credit rejected because it would overshoot it.
func (d Decision) Reached() bool {
	return d.Outcome == AllowAndReach || d.capHit
}

// Evaluate decides whether credit can be added to the user's cumulative
// eligible earnings. Credits are never split: a credit that would overshoot
// the cap plus grace is rejected whole under the stop actions.
func Evaluate(s State, credit decimal.Decimal, p Policy) Decision {
	limit := p.Cap(s)
	next := s.Cumulative.Add(credit)
	d := Decision{Cap: limit, NewCumulative: s.Cumulative}

	atCap := s.CapStatus == model.CapReached || (limit.IsPositive() && s.Cumulative.GreaterThanOrEqual(limit))
	if atCap {
		if p.Action.StopsEarnings() {
			d.Outcome = Reject
			d.capHit = true
			d.BlockWithdrawals = p.Action.BlocksWithdrawals()
			return d
		}
		d.Outcome = AllowAndReach
		d.NewCumulative = next
		d.BlockWithdrawals = true
		return d
	}

	switch {
	case next.LessThan(limit):
		d.Outcome = Allow
		d.NewCumulative = next
	case next.LessThanOrEqual(limit.Add(p.Grace)):
		d.Outcome = AllowAndReach
		d.NewCumulative = next
		d.BlockWithdrawals = p.Action.BlocksWithdrawals()
	case p.Action.StopsEarnings():
		// Earnings stop here: a partial credit is never paid.
		d.Outcome = Reject
		d.capHit = true
		d.BlockWithdrawals = p.Action.BlocksWithdrawals()
	default:
		d.Outcome = AllowAndReach
		d.NewCumulative = next
		d.BlockWithdrawals = true
	}
	return d
}

// Remaining is how much more the user can earn before reaching the cap.
func Remaining(s State, p Policy) decimal.Decimal {
	left := p.Cap(s).Sub(s.Cumulative)
	if left.IsNegative() {
		return decimal.Zero
	}
	return left
}

// Renewal is the earnings state after a cap renewal.
type Renewal struct {
	Fee         decimal.Decimal
	NewBaseline decimal.Decimal
}

// Renew computes the renewal fee and the cumulative earnings baseline that
// replaces the current total.
func Renew(s State, p Policy, r settings.Renewals) Renewal {
	fee := p.Base(s).Mul(r.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
	baseline := decimal.Zero
	if r.ResetMode == settings.ResetCarryExcess {
		if excess := s.Cumulative.Sub(p.Cap(s)); excess.IsPositive() {
			baseline = excess
		}
	}
	return Renewal{Fee: fee, NewBaseline: baseline}
}
