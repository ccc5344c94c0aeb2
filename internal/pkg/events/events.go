// Package events publishes ledger and withdrawal domain events to Kafka.
package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

// Event types carried on the ledger topic.
const (
	TypeWalletCredited          = "wallet.credited"
	TypeWalletDebited           = "wallet.debited"
	TypeWithdrawalStatusChanged = "withdrawal.status_changed"
	TypeReferralProcessed       = "referral.processed"
)

// Event is the envelope written to the topic. UserID is also the message
// key so one member's events stay ordered within a partition.
type Event struct {
	Type       string           `json:"type"`
	UserID     string           `json:"user_id"`
	Amount     decimal.Decimal  `json:"amount"`
	SourceType string           `json:"source_type,omitempty"`
	SourceID   string           `json:"source_id,omitempty"`
	Status     string           `json:"status,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// WalletMoved builds a credited/debited event for a ledger entry.
func WalletMoved(credit bool, userID string, amount, balance decimal.Decimal, sourceType, sourceID string) Event {
	typ := TypeWalletDebited
	if credit {
		typ = TypeWalletCredited
	}
	return Event{
		Type:       typ,
		UserID:     userID,
		Amount:     amount,
		SourceType: sourceType,
		SourceID:   sourceID,
		Balance:    &balance,
		OccurredAt: time.Now().UTC(),
	}
}

// WithdrawalChanged builds a withdrawal status event.
func WithdrawalChanged(userID, withdrawalID, status string, gross decimal.Decimal) Event {
	return Event{
		Type:       TypeWithdrawalStatusChanged,
		UserID:     userID,
		Amount:     gross,
		SourceType: "WITHDRAWAL",
		SourceID:   withdrawalID,
		Status:     status,
		OccurredAt: time.Now().UTC(),
	}
}

// ReferralProcessed builds the event emitted once an activation's income run finishes.
func ReferralProcessed(activatorID, activationID string, total decimal.Decimal) Event {
	return Event{
		Type:       TypeReferralProcessed,
		UserID:     activatorID,
		Amount:     total,
		SourceID:   activationID,
		Status:     "processed",
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// KafkaPublisher writes events to a single topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Encode turns events into Kafka messages keyed by user id.
func Encode(events ...Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		v, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.UserID),
			Value: v,
			Time:  e.OccurredAt,
		})
	}
	return msgs, nil
}

// Publish writes events in one batch.
func (k *KafkaPublisher) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs, err := Encode(events...)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}

// NopPublisher discards events. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// New returns a Kafka publisher, or a no-op one when brokers is empty.
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		log.Info().Msg("Kafka brokers not configured, ledger events disabled")
		return NopPublisher{}
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("Ledger events enabled")
	return NewKafkaPublisher(brokers, topic)
}

// Emit publishes after a committed transaction. Delivery failures are logged
// and never undo the committed write.
func Emit(ctx context.Context, p Publisher, events ...Event) {
	if p == nil || len(events) == 0 {
		return
	}
	if err := p.Publish(ctx, events...); err != nil {
		log.Warn().Err(err).Int("count", len(events)).Msg("Failed to publish ledger events")
	}
}
