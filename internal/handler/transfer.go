package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/lock"
)

// Transfers sends wallet funds between members.
type Transfers interface {
	CreateUserTransfer(ctx context.Context, senderID, recipientEmail string, amount decimal.Decimal, note string) (*model.Transfer, error)
}

// TransferHandler handles the /transfer command.
type TransferHandler struct {
	accounts  Accounts
	transfers Transfers
	userLock  *lock.KeyedLock
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(accounts Accounts, transfers Transfers, userLock *lock.KeyedLock) *TransferHandler {
	return &TransferHandler{
		accounts:  accounts,
		transfers: transfers,
		userLock:  userLock,
	}
}

// HandleTransfer handles the /transfer command.
// Format: /transfer <email> <amount> [note...]
func (h *TransferHandler) HandleTransfer(c tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	args := c.Args()
	if len(args) < 2 {
		return c.Reply("❌ Usage: /transfer <email> <amount>\nExample: /transfer alice@example.com 500")
	}
	email := strings.TrimSpace(args[0])
	amount, err := decimal.NewFromString(args[1])
	if err != nil || !amount.IsPositive() {
		return c.Reply("❌ Amount must be a positive number")
	}
	note := strings.Join(args[2:], " ")

	u, err := member(ctx, c, h.accounts)
	if u == nil {
		return err
	}

	if !h.userLock.TryLock(u.ID) {
		return c.Reply("⏳ Another request is in progress, please retry")
	}
	defer h.userLock.Unlock(u.ID)

	t, err := h.transfers.CreateUserTransfer(ctx, u.ID, email, amount, note)
	if err != nil {
		log.Info().Err(err).Str("user_id", u.ID).Str("recipient", email).Msg("Bot transfer rejected")
		return c.Reply(reasonText(err))
	}

	return c.Reply(fmt.Sprintf(
		"✅ Transfer sent\n\n"+
			"To: %s\n"+
			"Amount: %s\n"+
			"Fee: %s\n"+
			"Received: %s",
		email, money(t.Amount), money(t.Fee), money(t.NetAmount),
	))
}
