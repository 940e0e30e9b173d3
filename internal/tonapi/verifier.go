package tonapi

import (
	"context"
	"log/slog"
	"math"

	"github.com/payplanhq/payplan/internal/storage"
)

// amountTolerance absorbs float rounding when matching unique micro-amounts
const amountTolerance = 0.0001

// Verifier checks whether an activation payment actually landed on the
// service wallet. A transfer matches when its amount equals the payment's
// unique micro-amount, or when its comment carries the payment ID.
type Verifier struct {
	client    *Client
	walletRaw string
	limit     int
	log       *slog.Logger
}

// NewVerifier creates a Verifier for the given service wallet
func NewVerifier(client *Client, serviceWalletAddr string, log *slog.Logger) *Verifier {
	return &Verifier{
		client:    client,
		walletRaw: NormalizeAddress(serviceWalletAddr),
		limit:     50,
		log:       log,
	}
}

// Verify looks the submitted transaction up by hash first, then falls back to
// scanning recent incoming transfers to the service wallet
func (v *Verifier) Verify(ctx context.Context, payment *storage.Payment) (bool, error) {
	if payment.TransactionID != "" {
		event, err := v.client.GetEventByHash(ctx, payment.TransactionID)
		if err != nil {
			// The hash may be malformed or not yet indexed; the wallet scan
			// below still gets a chance to find the transfer
			v.log.Warn("event lookup by hash failed",
				"payment_id", payment.ID,
				"tx", payment.TransactionID,
				"error", err,
			)
		} else if v.eventMatches(event, payment) {
			return true, nil
		}
	}

	events, err := v.client.GetEvents(ctx, v.walletRaw, v.limit)
	if err != nil {
		return false, err
	}

	for i := range events {
		if v.eventMatches(&events[i], payment) {
			return true, nil
		}
	}

	return false, nil
}

// eventMatches reports whether the event carries a transfer to the service
// wallet for the payment's unique amount, or one whose comment names the
// payment ID
func (v *Verifier) eventMatches(event *Event, payment *storage.Payment) bool {
	if event.IsScam {
		return false
	}

	for _, action := range event.Actions {
		if action.Type != "TonTransfer" || action.TonTransfer == nil {
			continue
		}

		tt := action.TonTransfer
		if NormalizeAddress(tt.Recipient.Address) != v.walletRaw {
			continue
		}

		amount := NanoToTON(tt.Amount)
		if math.Abs(amount-payment.UniqueAmount) < amountTolerance || tt.Comment == payment.ID {
			v.log.Info("matched on-chain transfer",
				"payment_id", payment.ID,
				"event_id", event.EventID,
				"amount", amount,
				"sender", ShortAddr(tt.Sender.Address, 6),
			)
			return true
		}
	}

	return false
}
