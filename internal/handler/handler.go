// Package handler provides Telegram member bot command handlers.
package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/model"
	"mlm-platform/internal/repository"
	"mlm-platform/internal/service"
)

// commandTimeout bounds the service calls behind one bot command.
const commandTimeout = 30 * time.Second

// Accounts resolves and links Telegram accounts.
type Accounts interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	LinkTelegram(ctx context.Context, userID string, telegramID int64) error
}

// Reports answers read-only member queries.
type Reports interface {
	Me(ctx context.Context, userID string) (*service.MemberSummary, error)
	Income(ctx context.Context, userID string, limit int) (*service.IncomeReport, error)
}

const msgNotLinked = "🔗 Your Telegram account is not linked yet.\n" +
	"Open the web app, choose \"Link Telegram\" and send the /start command it shows you."

// member resolves the platform member behind the sender. When the account
// is not linked it replies with instructions and returns nil.
func member(ctx context.Context, c tele.Context, accounts Accounts) (*model.User, error) {
	sender := c.Sender()
	if sender == nil {
		return nil, nil
	}
	u, err := accounts.GetByTelegramID(ctx, sender.ID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, c.Reply(msgNotLinked)
	}
	if err != nil {
		log.Error().Err(err).Int64("telegram_id", sender.ID).Msg("Failed to resolve member")
		return nil, c.Reply("❌ Something went wrong, please try again later")
	}
	return u, nil
}

// money renders an amount in rupees with two decimals.
func money(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// reasonText turns a service rejection into a member-facing line.
func reasonText(err error) string {
	reason, ok := service.ReasonOf(err)
	if !ok {
		return "❌ Something went wrong, please try again later"
	}
	switch reason {
	case service.ReasonInsufficientFunds:
		return "❌ Insufficient balance"
	case service.ReasonCapReached:
		return "⛔ Your earnings cap is reached. Renew your cap to continue."
	case service.ReasonFeatureDisabled:
		return "⛔ This feature is currently disabled"
	case service.ReasonRecipientNotFound:
		return "❌ No member with that email"
	case service.ReasonCooldownActive:
		return "⏳ Please wait before making another transfer"
	}
	return fmt.Sprintf("❌ Request rejected: %s", reason)
}
