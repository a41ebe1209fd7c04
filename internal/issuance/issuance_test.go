package issuance

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-rewards/internal/models"
)

func TestBankCreditsAndSupply(t *testing.T) {
	b := NewBank()
	alice, bob := models.Address{1}, models.Address{2}
	ctx := context.Background()

	require.NoError(t, b.Issue(ctx, alice, 500, models.TxID{1}))
	require.NoError(t, b.Issue(ctx, alice, 0, models.TxID{2}))
	require.NoError(t, b.Issue(ctx, bob, 20, models.TxID{3}))

	require.Equal(t, uint64(500), b.BalanceOf(alice).Uint64())
	require.Equal(t, uint64(20), b.BalanceOf(bob).Uint64())
	require.Equal(t, uint64(520), b.TotalSupply().Uint64())
	require.Equal(t, 3, b.Credits())
}

func TestBankFailNext(t *testing.T) {
	b := NewBank()
	boom := errors.New("boom")
	b.FailNext(boom)
	require.ErrorIs(t, b.Issue(context.Background(), models.Address{1}, 10, models.TxID{}), boom)
	require.True(t, b.TotalSupply().IsZero())
	require.NoError(t, b.Issue(context.Background(), models.Address{1}, 10, models.TxID{}))
}

func TestBankSupplyKeepsGrowingPastUint64(t *testing.T) {
	b := NewBank()
	ctx := context.Background()
	require.NoError(t, b.Issue(ctx, models.Address{1}, math.MaxUint64, models.TxID{1}))
	require.NoError(t, b.Issue(ctx, models.Address{2}, math.MaxUint64, models.TxID{2}))
	require.False(t, b.TotalSupply().IsUint64())
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaIssuerWritesInstruction(t *testing.T) {
	w := &fakeWriter{}
	k := &KafkaIssuer{writer: w, timeout: time.Second}
	tx := models.TxID{0xab}
	require.NoError(t, k.Issue(context.Background(), models.Address{9}, 1234, tx))
	require.Len(t, w.msgs, 1)
	require.Equal(t, tx.Bytes(), w.msgs[0].Key)

	var got Instruction
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, tx, got.TransactionID)
	require.Equal(t, models.Address{9}, got.Recipient)
	require.Equal(t, "1234", got.Quantity)
}

func TestKafkaIssuerPropagatesWriteError(t *testing.T) {
	k := &KafkaIssuer{writer: &fakeWriter{err: errors.New("leader not available")}, timeout: time.Second}
	require.Error(t, k.Issue(context.Background(), models.Address{9}, 1, models.TxID{}))
}
