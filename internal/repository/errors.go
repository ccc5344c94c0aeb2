// Package repository provides data access layer implementations.
package repository

import "errors"

// Common errors for repository operations.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrActivationNotFound = errors.New("activation not found")
	ErrWithdrawalNotFound = errors.New("withdrawal not found")
	ErrRenewalNotFound    = errors.New("renewal not found")
	ErrSettingNotFound    = errors.New("setting not found")

	ErrUserExists        = errors.New("user already registered")
	ErrEmailTaken        = errors.New("email already registered")
	ErrReferralCodeTaken = errors.New("referral code already in use")
	ErrTelegramLinked    = errors.New("telegram account already linked")
	ErrPaymentRefUsed    = errors.New("payment reference already used")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrStatusConflict    = errors.New("status changed concurrently")
)
