package issuance

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-rewards/internal/models"
)

// Instruction is the message consumed by the token program that performs the
// actual on-chain credit.
type Instruction struct {
	TransactionID models.TxID    `json:"tx_id"`
	Recipient     models.Address `json:"recipient"`
	Quantity      string         `json:"quantity"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaIssuer hands issuance instructions to the token program through a
// topic. A mint only succeeds once the write is acknowledged by all in-sync
// replicas.
type KafkaIssuer struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaIssuer(brokers []string, topic string) *KafkaIssuer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaIssuer{writer: w, timeout: 5 * time.Second}
}

func (k *KafkaIssuer) Issue(ctx context.Context, recipient models.Address, quantity uint64, txID models.TxID) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	b, err := json.Marshal(Instruction{
		TransactionID: txID,
		Recipient:     recipient,
		Quantity:      strconv.FormatUint(quantity, 10),
	})
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: txID.Bytes(), Value: b})
}

func (k *KafkaIssuer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
