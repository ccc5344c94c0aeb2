// Package model defines the data models for the MLM platform ledger.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Program is the membership program a user signs up for.
type Program string

const (
	ProgramInvestor Program = "investor"
	ProgramLeader   Program = "leader"
)

// Valid reports whether p is a known program.
func (p Program) Valid() bool {
	return p == ProgramInvestor || p == ProgramLeader
}

// UserStatus is the lifecycle status of a member account.
type UserStatus string

const (
	StatusPendingActivation UserStatus = "PENDING_ACTIVATION"
	StatusActiveInvestor    UserStatus = "ACTIVE_INVESTOR"
	StatusActiveLeader      UserStatus = "ACTIVE_LEADER"
	StatusAutoBlocked       UserStatus = "AUTO_BLOCKED"
	StatusBlocked           UserStatus = "blocked"
)

// IsActive reports whether the status is one of the two activated states.
func (s UserStatus) IsActive() bool {
	return s == StatusActiveInvestor || s == StatusActiveLeader
}

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	switch s {
	case StatusPendingActivation, StatusActiveInvestor, StatusActiveLeader, StatusAutoBlocked, StatusBlocked:
		return true
	}
	return false
}

// ActiveStatusFor returns the activated status for a program.
func ActiveStatusFor(p Program) UserStatus {
	if p == ProgramLeader {
		return StatusActiveLeader
	}
	return StatusActiveInvestor
}

// CapStatus tracks whether a user has hit the earnings cap.
type CapStatus string

const (
	CapActive  CapStatus = "ACTIVE"
	CapReached CapStatus = "CAP_REACHED"
)

// KYCStatus is the know-your-customer verification state.
type KYCStatus string

const (
	KYCNone     KYCStatus = "none"
	KYCPending  KYCStatus = "pending"
	KYCVerified KYCStatus = "verified"
)

// User represents a member account and its position in the referral tree.
type User struct {
	ID                         string          `db:"id" json:"id"`
	Email                      string          `db:"email" json:"email"`
	Name                       string          `db:"name" json:"name"`
	ReferralCode               string          `db:"referral_code" json:"referralCode"`
	ReferrerID                 *string         `db:"referrer_id" json:"referrerId"`
	Program                    Program         `db:"program" json:"program"`
	Status                     UserStatus      `db:"status" json:"status"`
	CumulativeEligibleEarnings decimal.Decimal `db:"cumulative_eligible_earnings" json:"cumulativeEligibleEarnings"`
	CapStatus                  CapStatus       `db:"cap_status" json:"capStatus"`
	WithdrawalsBlocked         bool            `db:"withdrawals_blocked" json:"withdrawalsBlocked"`
	ActivationAmount           decimal.Decimal `db:"activation_amount" json:"activationAmount"`
	ActivatedAt                *time.Time      `db:"activated_at" json:"activatedAt"`
	KYCStatus                  KYCStatus       `db:"kyc_status" json:"kycStatus"`
	BankVerified               bool            `db:"bank_verified" json:"bankVerified"`
	EmailVerified              bool            `db:"email_verified" json:"emailVerified"`
	TelegramID                 *int64          `db:"telegram_id" json:"telegramId"`
	RenewalCount               int             `db:"renewal_count" json:"renewalCount"`
	CreatedAt                  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt                  time.Time       `db:"updated_at" json:"updatedAt"`
}

// Wallet holds a user's spendable balance.
type Wallet struct {
	UserID           string          `db:"user_id" json:"userId"`
	AvailableBalance decimal.Decimal `db:"available_balance" json:"availableBalance"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// Direction of a ledger entry.
type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// SourceType categorises what caused a balance change.
type SourceType string

const (
	SourceReferralDirect   SourceType = "REFERRAL_DIRECT"
	SourceReferralLevel    SourceType = "REFERRAL_LEVEL"
	SourceROI              SourceType = "ROI"
	SourceWithdrawal       SourceType = "WITHDRAWAL"
	SourceWithdrawalRefund SourceType = "WITHDRAWAL_REFUND"
	SourceTransferOut      SourceType = "TRANSFER_OUT"
	SourceTransferIn       SourceType = "TRANSFER_IN"
	SourceActivation       SourceType = "ACTIVATION"
	SourceRenewal          SourceType = "RENEWAL"
	SourceAdminAdjustment  SourceType = "ADMIN_ADJUSTMENT"
)

// CountsTowardCap reports whether income of this type accrues against the earnings cap.
func (s SourceType) CountsTowardCap() bool {
	return s == SourceReferralDirect || s == SourceReferralLevel || s == SourceROI
}

// LedgerEntry is one immutable balance movement.
type LedgerEntry struct {
	ID           int64           `db:"id" json:"id"`
	UserID       string          `db:"user_id" json:"userId"`
	Direction    Direction       `db:"direction" json:"direction"`
	Amount       decimal.Decimal `db:"amount" json:"amount"`
	SourceType   SourceType      `db:"source_type" json:"sourceType"`
	SourceID     string          `db:"source_id" json:"sourceId"`
	BalanceAfter decimal.Decimal `db:"balance_after" json:"balanceAfter"`
	Description  *string         `db:"description" json:"description"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
}

// Signed returns the entry amount with the sign of its direction.
func (e *LedgerEntry) Signed() decimal.Decimal {
	if e.Direction == Debit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// FundingSource says who paid for an activation.
type FundingSource string

const (
	FundedBySponsor FundingSource = "sponsor"
	FundedByGateway FundingSource = "gateway"
	FundedByWallet  FundingSource = "wallet"
	FundedByAdmin   FundingSource = "admin"
)

// ReferralStatus tracks whether an activation's referral income has been distributed.
type ReferralStatus string

const (
	ReferralPending       ReferralStatus = "pending"
	ReferralProcessed     ReferralStatus = "processed"
	ReferralFailed        ReferralStatus = "failed"
	ReferralNotApplicable ReferralStatus = "not_applicable"
)

// Activation is the immutable record of a funded package purchase.
type Activation struct {
	ID                  string          `db:"id" json:"id"`
	UserID              string          `db:"user_id" json:"userId"`
	PlanID              string          `db:"plan_id" json:"planId"`
	Program             Program         `db:"program" json:"program"`
	Amount              decimal.Decimal `db:"amount" json:"amount"`
	FundedBy            FundingSource   `db:"funded_by" json:"fundedBy"`
	SponsorID           *string         `db:"sponsor_id" json:"sponsorId"`
	PaymentRef          *string         `db:"payment_ref" json:"paymentRef"`
	ReferralStatus      ReferralStatus  `db:"referral_status" json:"referralStatus"`
	ReferralProcessedAt *time.Time      `db:"referral_processed_at" json:"referralProcessedAt"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
}

// Distribution is one referral-income award: at most one per
// (activation, beneficiary, level). Level 0 is the direct referral bonus.
type Distribution struct {
	ID            int64           `db:"id" json:"id"`
	ActivationID  string          `db:"activation_id" json:"activationId"`
	BeneficiaryID string          `db:"beneficiary_id" json:"beneficiaryId"`
	Level         int             `db:"level" json:"level"`
	IncomeType    SourceType      `db:"income_type" json:"incomeType"`
	Percent       decimal.Decimal `db:"percent" json:"percent"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}

// WithdrawalStatus is the withdrawal state machine.
type WithdrawalStatus string

const (
	WithdrawalRequested   WithdrawalStatus = "requested"
	WithdrawalUnderReview WithdrawalStatus = "under_review"
	WithdrawalApproved    WithdrawalStatus = "approved"
	WithdrawalPaid        WithdrawalStatus = "paid"
	WithdrawalRejected    WithdrawalStatus = "rejected"
)

// PayoutMethod is how a withdrawal is disbursed.
type PayoutMethod string

const (
	PayoutBank PayoutMethod = "bank"
	PayoutUPI  PayoutMethod = "upi"
)

// PayoutDetails carries the destination account of a withdrawal.
type PayoutDetails struct {
	AccountHolder string `json:"accountHolder,omitempty"`
	AccountNumber string `json:"accountNumber,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	BankName      string `json:"bankName,omitempty"`
	UPIID         string `json:"upiId,omitempty"`
}

// FeeType selects percent or flat fee computation.
type FeeType string

const (
	FeePercent FeeType = "percent"
	FeeFlat    FeeType = "flat"
)

// Withdrawal is a payout request. GrossAmount is debited at request time;
// NetAmount is disbursed and FeeAmount retained, GrossAmount = NetAmount + FeeAmount.
type Withdrawal struct {
	ID            string           `db:"id" json:"id"`
	UserID        string           `db:"user_id" json:"userId"`
	GrossAmount   decimal.Decimal  `db:"gross_amount" json:"grossAmount"`
	FeeAmount     decimal.Decimal  `db:"fee_amount" json:"feeAmount"`
	NetAmount     decimal.Decimal  `db:"net_amount" json:"netAmount"`
	FeeType       FeeType          `db:"fee_type" json:"feeType"`
	Method        PayoutMethod     `db:"method" json:"method"`
	PayoutDetails PayoutDetails    `db:"payout_details" json:"payoutDetails"`
	Status        WithdrawalStatus `db:"status" json:"status"`
	ReviewedBy    *string          `db:"reviewed_by" json:"reviewedBy"`
	Reason        *string          `db:"reason" json:"reason"`
	CreatedAt     time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time        `db:"updated_at" json:"updatedAt"`
	PaidAt        *time.Time       `db:"paid_at" json:"paidAt"`
}

// Transfer is a completed wallet-to-wallet transfer between members.
type Transfer struct {
	ID          string          `db:"id" json:"id"`
	SenderID    string          `db:"sender_id" json:"senderId"`
	RecipientID string          `db:"recipient_id" json:"recipientId"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	Fee         decimal.Decimal `db:"fee" json:"fee"`
	NetAmount   decimal.Decimal `db:"net_amount" json:"netAmount"`
	Note        *string         `db:"note" json:"note"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

// RenewalMethod says how a cap renewal was paid for.
type RenewalMethod string

const (
	RenewalByAdmin   RenewalMethod = "admin"
	RenewalBySponsor RenewalMethod = "sponsor"
	RenewalByWallet  RenewalMethod = "wallet"
	RenewalByGateway RenewalMethod = "gateway"
)

// Renewal records a CAP_REACHED -> ACTIVE transition.
type Renewal struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"userId"`
	Method           RenewalMethod   `db:"method" json:"method"`
	Reference        string          `db:"reference" json:"reference"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	PayerID          *string         `db:"payer_id" json:"payerId"`
	PreviousEarnings decimal.Decimal `db:"previous_earnings" json:"previousEarnings"`
	NewBaseline      decimal.Decimal `db:"new_baseline" json:"newBaseline"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
}

// IncomeSummary is a per-source total used by member reports.
type IncomeSummary struct {
	SourceType SourceType      `db:"source_type" json:"sourceType"`
	Total      decimal.Decimal `db:"total" json:"total"`
	Count      int64           `db:"count" json:"count"`
}

// UplineMember is one ancestor in a user's referral chain with the direct
// referral counts used for qualification. Depth 1 is the direct referrer.
type UplineMember struct {
	Depth         int        `db:"depth" json:"depth"`
	ID            string     `db:"id" json:"id"`
	Status        UserStatus `db:"status" json:"status"`
	Program       Program    `db:"program" json:"program"`
	ActiveDirects int        `db:"active_directs" json:"activeDirects"`
	TotalDirects  int        `db:"total_directs" json:"totalDirects"`
}
