package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/repository"
	"mlm-platform/internal/service"
)

// LinkVerifier validates the one-time link tokens issued by the web app.
type LinkVerifier interface {
	ParseLink(token string) (string, error)
}

// AccountHandler handles member account commands.
type AccountHandler struct {
	accounts Accounts
	reports  Reports
	links    LinkVerifier
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts Accounts, reports Reports, links LinkVerifier) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		reports:  reports,
		links:    links,
	}
}

// HandleStart handles /start. With a link token it attaches the Telegram
// account to the member the token was issued for.
// Format: /start <link-token>
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	sender := c.Sender()
	if sender == nil {
		return nil
	}

	args := c.Args()
	if len(args) == 0 {
		if u, err := h.accounts.GetByTelegramID(ctx, sender.ID); err == nil {
			return c.Reply(fmt.Sprintf("👋 Welcome back, %s!\n\n%s", u.Name, helpText))
		}
		return c.Reply(msgNotLinked)
	}

	userID, err := h.links.ParseLink(strings.TrimSpace(args[0]))
	if err != nil {
		return c.Reply("❌ This link has expired or is invalid. Generate a new one in the web app.")
	}

	err = h.accounts.LinkTelegram(ctx, userID, sender.ID)
	switch {
	case errors.Is(err, repository.ErrTelegramLinked):
		return c.Reply("❌ This Telegram account is already linked to another member")
	case errors.Is(err, repository.ErrUserNotFound):
		return c.Reply("❌ Member account not found")
	case err != nil:
		log.Error().Err(err).Str("user_id", userID).Int64("telegram_id", sender.ID).Msg("Failed to link Telegram account")
		return c.Reply("❌ Linking failed, please try again later")
	}

	return c.Reply("✅ Telegram linked! You will now receive credit notifications.\n\n" + helpText)
}

const helpText = "Available commands:\n" +
	"/balance - wallet balance\n" +
	"/income - income summary\n" +
	"/cap - earnings cap progress\n" +
	"/transfer <email> <amount> - send funds to a member"

// HandleBalance handles the /balance command.
func (h *AccountHandler) HandleBalance(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	u, err := member(ctx, c, h.accounts)
	if u == nil {
		return err
	}
	summary, err := h.reports.Me(ctx, u.ID)
	if err != nil {
		return c.Reply(reasonText(err))
	}
	return c.Reply(fmt.Sprintf("💰 Available balance: %s", money(summary.Balance)))
}

// HandleIncome handles the /income command.
func (h *AccountHandler) HandleIncome(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	u, err := member(ctx, c, h.accounts)
	if u == nil {
		return err
	}
	report, err := h.reports.Income(ctx, u.ID, 5)
	if err != nil {
		return c.Reply(reasonText(err))
	}
	return c.Reply(formatIncome(report))
}

func formatIncome(report *service.IncomeReport) string {
	if len(report.Totals) == 0 {
		return "📈 No income yet"
	}
	var b strings.Builder
	b.WriteString("📈 Income\n━━━━━━━━━━━━━━━\n")
	for _, t := range report.Totals {
		fmt.Fprintf(&b, "%s: %s (%d)\n", t.SourceType, money(t.Total), t.Count)
	}
	if len(report.Recent) > 0 {
		b.WriteString("━━━━━━━━━━━━━━━\nRecent:\n")
		for _, d := range report.Recent {
			fmt.Fprintf(&b, "L%d %s %s\n", d.Level, d.IncomeType, money(d.Amount))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// HandleCap handles the /cap command.
func (h *AccountHandler) HandleCap(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	u, err := member(ctx, c, h.accounts)
	if u == nil {
		return err
	}
	summary, err := h.reports.Me(ctx, u.ID)
	if err != nil {
		return c.Reply(reasonText(err))
	}
	return c.Reply(formatCap(summary))
}

func formatCap(s *service.MemberSummary) string {
	u := s.User
	text := fmt.Sprintf(
		"🎯 Earnings cap\n"+
			"━━━━━━━━━━━━━━━\n"+
			"Earned: %s\n"+
			"Cap: %s\n"+
			"Remaining: %s\n"+
			"Status: %s\n"+
			"Renewals: %d",
		money(u.CumulativeEligibleEarnings), money(s.Cap), money(s.Remaining), u.CapStatus, u.RenewalCount,
	)
	if u.WithdrawalsBlocked {
		text += "\n⛔ Withdrawals blocked until renewal"
	}
	return text
}
