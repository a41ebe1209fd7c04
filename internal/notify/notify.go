// Package notify pushes mint receipts to riders. Delivery is best effort:
// a failed notification never affects the mint it describes.
package notify

import (
	"context"
	"log/slog"

	"github.com/example/ride-rewards/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, receipt models.MintReceipt) error
}

// Multi fans a receipt out to every notifier and logs the ones that fail.
type Multi struct {
	notifiers []Notifier
	log       *slog.Logger
}

func NewMulti(log *slog.Logger, notifiers ...Notifier) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{notifiers: notifiers, log: log}
}

func (m *Multi) Notify(ctx context.Context, receipt models.MintReceipt) error {
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, receipt); err != nil {
			m.log.Warn("receipt notification failed",
				"tx_id", receipt.TransactionID.Hex(),
				"recipient", receipt.Recipient.String(),
				"err", err)
		}
	}
	return nil
}
