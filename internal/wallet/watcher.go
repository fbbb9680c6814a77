package wallet

import (
	"context"
	"time"
)

// SettlementWatcher polls an invoice until it settles, expires, or the caller
// cancels. The ticker is always released, whatever the exit path.
type SettlementWatcher struct {
	Provider Provider
	Interval time.Duration
}

// Wait blocks until the invoice leaves the pending state. It returns the
// terminal state, or an error on cancellation or provider failure.
func (w SettlementWatcher) Wait(ctx context.Context, paymentHash string) (InvoiceState, error) {
	interval := w.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := w.Provider.LookupInvoice(ctx, paymentHash)
		if err != nil {
			return "", err
		}
		if state != StatePending {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
