package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"mlm-platform/internal/model"
	"mlm-platform/internal/pkg/events"
	"mlm-platform/internal/repository"
)

// Notifier is an events.Publisher that forwards every event to the next
// publisher and queues the ones members are told about in Telegram.
// A full queue drops notifications; the ledger is the record, not the chat.
type Notifier struct {
	next  events.Publisher
	queue chan events.Event
}

// NewNotifier wraps next with a notification queue of the given size.
func NewNotifier(next events.Publisher, size int) *Notifier {
	if next == nil {
		next = events.NopPublisher{}
	}
	return &Notifier{next: next, queue: make(chan events.Event, size)}
}

// Publish queues notifiable events and forwards all of them.
func (n *Notifier) Publish(ctx context.Context, evs ...events.Event) error {
	for _, e := range evs {
		if !notifiable(e) {
			continue
		}
		select {
		case n.queue <- e:
		default:
			log.Warn().Str("user_id", e.UserID).Str("type", e.Type).Msg("Notification queue full, dropping")
		}
	}
	return n.next.Publish(ctx, evs...)
}

// Close closes the next publisher.
func (n *Notifier) Close() error {
	return n.next.Close()
}

func notifiable(e events.Event) bool {
	return e.Type == events.TypeWalletCredited || e.Type == events.TypeWithdrawalStatusChanged
}

// UserLookup resolves the Telegram account of a member.
type UserLookup interface {
	Get(ctx context.Context, userID string) (*model.User, error)
}

// Sender delivers a Telegram message. *tele.Bot satisfies it.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Deliver sends queued notifications until ctx is done. Members without a
// linked Telegram account are skipped.
func (n *Notifier) Deliver(ctx context.Context, users UserLookup, sender Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.queue:
			if err := deliver(ctx, users, sender, e); err != nil {
				log.Warn().Err(err).Str("user_id", e.UserID).Str("type", e.Type).Msg("Failed to deliver notification")
			}
		}
	}
}

func deliver(ctx context.Context, users UserLookup, sender Sender, e events.Event) error {
	u, err := users.Get(ctx, e.UserID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.TelegramID == nil {
		return nil
	}
	_, err = sender.Send(&tele.User{ID: *u.TelegramID}, notificationText(e))
	return err
}

func notificationText(e events.Event) string {
	switch e.Type {
	case events.TypeWalletCredited:
		text := fmt.Sprintf("💰 Credited ₹%s (%s)", e.Amount.StringFixed(2), sourceLabel(e.SourceType))
		if e.Balance != nil {
			text += fmt.Sprintf("\nBalance: ₹%s", e.Balance.StringFixed(2))
		}
		return text
	case events.TypeWithdrawalStatusChanged:
		return fmt.Sprintf("🏦 Withdrawal of ₹%s is now %s", e.Amount.StringFixed(2), e.Status)
	}
	return e.Type
}

func sourceLabel(sourceType string) string {
	switch model.SourceType(sourceType) {
	case model.SourceReferralDirect:
		return "direct referral bonus"
	case model.SourceReferralLevel:
		return "level income"
	case model.SourceTransferIn:
		return "transfer received"
	case model.SourceWithdrawalRefund:
		return "withdrawal refund"
	case model.SourceAdminAdjustment:
		return "admin adjustment"
	}
	return sourceType
}
