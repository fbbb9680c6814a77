package wallet

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedProvider struct {
	states []InvoiceState
	err    error
	calls  int
}

func (p *scriptedProvider) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	return Invoice{}, errors.New("not implemented")
}

func (p *scriptedProvider) SendPayment(ctx context.Context, paymentRequest string) (Payment, error) {
	return Payment{}, errors.New("not implemented")
}

func (p *scriptedProvider) LookupInvoice(ctx context.Context, paymentHash string) (InvoiceState, error) {
	if p.err != nil {
		return "", p.err
	}
	i := p.calls
	p.calls++
	if i >= len(p.states) {
		i = len(p.states) - 1
	}
	return p.states[i], nil
}

func TestWaitReturnsOnSettled(t *testing.T) {
	p := &scriptedProvider{states: []InvoiceState{StatePending, StatePending, StateSettled}}
	w := SettlementWatcher{Provider: p, Interval: time.Millisecond}
	state, err := w.Wait(context.Background(), "hash")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if state != StateSettled {
		t.Fatalf("state = %s", state)
	}
	if p.calls != 3 {
		t.Fatalf("lookups = %d, want 3", p.calls)
	}
}

func TestWaitReturnsOnExpired(t *testing.T) {
	p := &scriptedProvider{states: []InvoiceState{StateExpired}}
	w := SettlementWatcher{Provider: p, Interval: time.Millisecond}
	state, err := w.Wait(context.Background(), "hash")
	if err != nil || state != StateExpired {
		t.Fatalf("state=%s err=%v", state, err)
	}
}

func TestWaitHonorsCancellation(t *testing.T) {
	p := &scriptedProvider{states: []InvoiceState{StatePending}}
	ctx, cancel := context.WithCancel(context.Background())
	w := SettlementWatcher{Provider: p, Interval: time.Hour}
	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(ctx, "hash")
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after cancel")
	}
}

func TestWaitSurfacesProviderError(t *testing.T) {
	boom := ProviderError{Op: "lookup_invoice", Err: errors.New("down")}
	p := &scriptedProvider{err: boom}
	w := SettlementWatcher{Provider: p, Interval: time.Millisecond}
	_, err := w.Wait(context.Background(), "hash")
	var pe ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}

func TestParseNWC(t *testing.T) {
	sk := "5ee1c8000000000000000000000000000000000000000000000000000000beef"
	uri := "nostr+walletconnect://b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4?relay=wss://relay.getalby.com/v1&secret=" + sk
	c, err := ParseNWC(uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.relayURL != "wss://relay.getalby.com/v1" {
		t.Fatalf("relay = %s", c.relayURL)
	}
	if c.walletPubkey != "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4" {
		t.Fatalf("wallet pubkey = %s", c.walletPubkey)
	}
	if c.clientPubkey == "" {
		t.Fatal("client pubkey not derived")
	}
}

func TestParseNWCRejectsBadURIs(t *testing.T) {
	cases := []string{
		"lndconnect://host",
		"nostr+walletconnect://",
		"nostr+walletconnect://abc?relay=wss://r",
		"nostr+walletconnect://abc?secret=beef",
	}
	for _, uri := range cases {
		if _, err := ParseNWC(uri); err == nil {
			t.Fatalf("expected error for %s", uri)
		}
	}
}
