// Package service provides business logic implementations.
package service

import (
	"errors"

	"mlm-platform/internal/repository"
)

// Errors shared by several services. The ledger sentinels are the
// repository's own values so errors.Is works across both layers.
var (
	ErrInsufficientFunds = repository.ErrInsufficientFunds
	ErrInvalidAmount     = repository.ErrInvalidAmount
	ErrUserNotFound      = repository.ErrUserNotFound

	ErrCapReached      = errors.New("earnings cap reached")
	ErrSelfTransfer    = errors.New("cannot transfer to self")
	ErrForbidden       = errors.New("operation not permitted")
	ErrFeatureDisabled = errors.New("feature disabled")
)

// Reason codes returned to clients.
const (
	ReasonInsufficientFunds = "INSUFFICIENT_FUNDS"
	ReasonCapReached        = "CAP_REACHED"

	ReasonFeatureDisabled         = "FEATURE_DISABLED"
	ReasonInvalidAmount           = "INVALID_AMOUNT"
	ReasonAmountBelowMinimum      = "AMOUNT_BELOW_MINIMUM"
	ReasonAmountAboveMaximum      = "AMOUNT_ABOVE_MAXIMUM"
	ReasonMethodNotAllowed        = "METHOD_NOT_ALLOWED"
	ReasonPayoutDetailsIncomplete = "PAYOUT_DETAILS_INCOMPLETE"
	ReasonUserNotActive           = "USER_NOT_ACTIVE"
	ReasonKYCRequired             = "KYC_REQUIRED"
	ReasonBankNotVerified         = "BANK_NOT_VERIFIED"
	ReasonOutsidePayoutWindow     = "OUTSIDE_PAYOUT_WINDOW"
	ReasonCooldownActive          = "COOLDOWN_ACTIVE"
	ReasonDailyLimit              = "DAILY_LIMIT_REACHED"
	ReasonWeeklyLimit             = "WEEKLY_LIMIT_REACHED"
	ReasonMonthlyLimit            = "MONTHLY_LIMIT_REACHED"
	ReasonRecipientNotFound       = "RECIPIENT_NOT_FOUND"
	ReasonRecipientNotVerified    = "RECIPIENT_NOT_VERIFIED"
	ReasonSelfTransfer            = "SELF_TRANSFER"
	ReasonInvalidReferralCode     = "INVALID_REFERRAL_CODE"
	ReasonReferralRequired        = "REFERRAL_CODE_REQUIRED"
	ReasonInactiveReferrer        = "REFERRER_NOT_ACTIVE"
	ReasonUnknownPlan             = "UNKNOWN_PLAN"
	ReasonPlanAmountMismatch      = "PLAN_AMOUNT_MISMATCH"
	ReasonAlreadyActive           = "ALREADY_ACTIVE"
	ReasonSponsorNotActive        = "SPONSOR_NOT_ACTIVE"
	ReasonSponsorNotUpline        = "SPONSOR_NOT_IN_UPLINE"
	ReasonSelfSponsor             = "SELF_SPONSOR"
	ReasonCapNotReached           = "CAP_NOT_REACHED"
	ReasonRenewalMethod           = "RENEWAL_METHOD_NOT_ALLOWED"
	ReasonMissingReference        = "MISSING_REFERENCE"
	ReasonCircularUpline          = "CIRCULAR_UPLINE"
	ReasonInvalidSettings         = "INVALID_SETTINGS"
	ReasonInvalidInput            = "INVALID_INPUT"
)

// ValidationError rejects a request for a specific, user-visible reason.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return e.Reason + ": " + e.Detail
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

func invalidf(reason, detail string) error {
	return &ValidationError{Reason: reason, Detail: detail}
}

// ReasonOf maps err to the reason code shown to clients. ok is false for
// unexpected errors.
func ReasonOf(err error) (reason string, ok bool) {
	var ve *ValidationError
	switch {
	case err == nil:
		return "", false
	case errors.As(err, &ve):
		return ve.Reason, true
	case errors.Is(err, ErrInsufficientFunds):
		return ReasonInsufficientFunds, true
	case errors.Is(err, ErrCapReached):
		return ReasonCapReached, true
	case errors.Is(err, ErrInvalidAmount):
		return ReasonInvalidAmount, true
	case errors.Is(err, ErrSelfTransfer):
		return ReasonSelfTransfer, true
	case errors.Is(err, ErrFeatureDisabled):
		return ReasonFeatureDisabled, true
	}
	return "", false
}
