package service

import (
	"strings"

	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
	"mlm-platform/internal/settings"
)

var hundred = decimal.NewFromInt(100)

// splitFee returns the fee and net for gross. Percent fees are rounded to
// paise; a flat fee never exceeds gross. gross always equals net + fee.
func splitFee(gross decimal.Decimal, feeType model.FeeType, percent, flat decimal.Decimal) (fee, net decimal.Decimal) {
	switch feeType {
	case model.FeeFlat:
		fee = flat
	default:
		fee = gross.Mul(percent).Div(hundred).Round(2)
	}
	if fee.IsNegative() {
		fee = decimal.Zero
	}
	if fee.GreaterThan(gross) {
		fee = gross
	}
	return fee, gross.Sub(fee)
}

// WithdrawalFee computes the admin charge on a withdrawal.
func WithdrawalFee(gross decimal.Decimal, cfg settings.Withdrawals) (fee, net decimal.Decimal) {
	return splitFee(gross, cfg.FeeType, cfg.AdminChargesPercent, cfg.FlatFee)
}

// TransferFee computes the platform fee on a member transfer.
func TransferFee(amount decimal.Decimal, cfg settings.Transfers) (fee, net decimal.Decimal) {
	return splitFee(amount, cfg.FeeType, cfg.FeeValue, cfg.FeeValue)
}

// PayoutDetailsComplete reports whether details carry everything method needs.
func PayoutDetailsComplete(method model.PayoutMethod, d model.PayoutDetails) bool {
	filled := func(v string) bool { return strings.TrimSpace(v) != "" }
	switch method {
	case model.PayoutBank:
		return filled(d.AccountHolder) && filled(d.AccountNumber) && filled(d.IFSC)
	case model.PayoutUPI:
		return filled(d.UPIID)
	}
	return false
}
