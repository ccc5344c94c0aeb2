package settings

import (
	"github.com/shopspring/decimal"

	"mlm-platform/internal/model"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// Defaults returns the snapshot used when no documents are stored.
func Defaults() Snapshot {
	return Snapshot{
		Features: Features{
			ReferralIncomeEnabled:    true,
			SponsorActivationEnabled: true,
			TransfersEnabled:         true,
			WithdrawalsEnabled:       true,
			RenewalsEnabled:          true,
			SignupRequiresReferral:   true,
		},
		Payouts: Payouts{
			AllowedWeekdays: []string{},
			WindowStartHour: 0,
			WindowEndHour:   24,
			Timezone:        "Asia/Kolkata",
		},
		Programs: Programs{
			Plans: []Plan{
				{ID: "starter", Name: "Starter", Program: model.ProgramInvestor, MinAmount: d(1000), MaxAmount: d(9999)},
				{ID: "growth", Name: "Growth", Program: model.ProgramInvestor, MinAmount: d(10000), MaxAmount: d(99999)},
				{ID: "premium", Name: "Premium", Program: model.ProgramInvestor, MinAmount: d(100000), MaxAmount: decimal.Zero},
				{ID: "leader", Name: "Leader", Program: model.ProgramLeader, MinAmount: d(10000), MaxAmount: d(10000)},
			},
			Investor:                InvestorProgram{CapMultiplier: d(2)},
			Leader:                  LeaderProgram{CapMultiplier: d(3), BaseAmount: d(10000)},
			CapAction:               CapStopEarnings,
			GraceLimit:              decimal.Zero,
			ActivationDeadlineHours: 168,
			SponsorMustBeUpline:     true,
		},
		ReferralIncome: ReferralIncome{
			DirectReferralPercent:  d(5),
			LevelIncomePoolPercent: d(10),
			MaxLevels:              23,
			Levels: []LevelBand{
				{LevelFrom: 1, LevelTo: 1, Percent: d(20)},
				{LevelFrom: 2, LevelTo: 3, Percent: d(10)},
				{LevelFrom: 4, LevelTo: 13, Percent: d(4)},
				{LevelFrom: 14, LevelTo: 23, Percent: d(2)},
			},
			Qualification: []QualificationRule{
				{LevelFrom: 1, LevelTo: 3, Mode: QualifyFlat, MinDirects: 0},
				{LevelFrom: 4, LevelTo: 13, Mode: QualifyFlat, MinDirects: 2},
				{LevelFrom: 14, LevelTo: 23, Mode: QualifyFlat, MinDirects: 3},
			},
			CountActiveDirectsOnly: true,
			CircularCheckHops:      50,
		},
		Renewals: Renewals{
			FeePercent: d(100),
			ResetMode:  ResetZero,
			AllowedMethods: []model.RenewalMethod{
				model.RenewalByAdmin, model.RenewalBySponsor, model.RenewalByWallet, model.RenewalByGateway,
			},
		},
		Withdrawals: Withdrawals{
			MinWithdrawal:       d(500),
			MaxWithdrawal:       d(50000),
			FeeType:             model.FeePercent,
			AdminChargesPercent: d(10),
			FlatFee:             decimal.Zero,
			RequireKYC:          true,
			RequireBankVerified: true,
			Methods:             []model.PayoutMethod{model.PayoutBank, model.PayoutUPI},
			MaxPerDay:           1,
			MaxPerWeek:          3,
			MaxPerMonth:         10,
			CooldownMinutes:     60,
		},
		Transfers: Transfers{
			MinAmount:                d(100),
			MaxAmount:                d(100000),
			FeeType:                  model.FeePercent,
			FeeValue:                 decimal.Zero,
			TransferCooldownMinutes:  30,
			MaxPerDay:                5,
			RequireRecipientVerified: true,
			BlockWhenCapReached:      true,
		},
	}
}
