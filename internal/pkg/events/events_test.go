package events

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KeysByUser(t *testing.T) {
	e := WalletMoved(true, "user-1", decimal.NewFromInt(500), decimal.NewFromInt(1500), "REFERRAL_DIRECT", "act-1")

	msgs, err := Encode(e)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("user-1"), msgs[0].Key)
	assert.Equal(t, e.OccurredAt, msgs[0].Time)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, TypeWalletCredited, decoded["type"])
	assert.Equal(t, "500", decoded["amount"])
	assert.Equal(t, "1500", decoded["balance"])
	assert.Equal(t, "act-1", decoded["source_id"])
}

func TestWithdrawalChanged_OmitsBalance(t *testing.T) {
	e := WithdrawalChanged("user-1", "wd-1", "paid", decimal.NewFromInt(1000))

	msgs, err := Encode(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, "paid", decoded["status"])
	assert.NotContains(t, decoded, "balance")
}

func TestNew_WithoutBrokersIsNop(t *testing.T) {
	p := New(nil, "ledger-events")
	_, ok := p.(NopPublisher)
	assert.True(t, ok)
	assert.NoError(t, p.Publish(context.Background(), ReferralProcessed("u", "a", decimal.Zero)))
	assert.NoError(t, p.Close())
}

func TestEmit_NilPublisher(t *testing.T) {
	assert.NotPanics(t, func() {
		Emit(context.Background(), nil, ReferralProcessed("u", "a", decimal.Zero))
	})
}
