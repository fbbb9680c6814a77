// Package wallet wraps the Lightning wallet behind a provider contract:
// create invoice, look up settlement state, send payment.
package wallet

import (
	"context"
	"fmt"
)

// InvoiceState is the settlement state of an invoice.
type InvoiceState string

const (
	StatePending InvoiceState = "pending"
	StateSettled InvoiceState = "settled"
	StateExpired InvoiceState = "expired"
)

// Invoice is a freshly created payment request.
type Invoice struct {
	PaymentRequest string `json:"payment_request"`
	PaymentHash    string `json:"payment_hash"`
}

// Payment is the proof of a completed outgoing payment.
type Payment struct {
	Preimage string `json:"preimage"`
}

// Provider is the wallet contract. SendPayment is not safe to retry blindly;
// callers must surface failures instead of re-attempting.
type Provider interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error)
	LookupInvoice(ctx context.Context, paymentHash string) (InvoiceState, error)
	SendPayment(ctx context.Context, paymentRequest string) (Payment, error)
}

// ProviderError wraps any failure talking to the wallet service.
type ProviderError struct {
	Op  string
	Err error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("wallet %s: %v", e.Op, e.Err)
}

func (e ProviderError) Unwrap() error { return e.Err }
