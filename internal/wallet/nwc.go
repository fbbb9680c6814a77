package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// Nostr Wallet Connect event kinds.
const (
	kindNWCRequest  = 23194
	kindNWCResponse = 23195
)

// NWCClient speaks Nostr Wallet Connect against the wallet service's relay.
// Requests are NIP-04-encrypted kind-23194 events; the wallet answers with
// kind-23195 events referencing the request id.
type NWCClient struct {
	walletPubkey string
	clientSecret string
	clientPubkey string
	relayURL     string
	shared       []byte
	Timeout      time.Duration

	mu    sync.Mutex
	relay *nostr.Relay
}

// ParseNWC builds a client from a nostr+walletconnect:// URI.
func ParseNWC(uri string) (*NWCClient, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse wallet uri: %w", err)
	}
	if u.Scheme != "nostr+walletconnect" {
		return nil, fmt.Errorf("unexpected wallet uri scheme %q", u.Scheme)
	}
	walletPub := u.Host
	if walletPub == "" {
		walletPub = u.Opaque
	}
	if walletPub == "" {
		return nil, errors.New("wallet uri missing wallet pubkey")
	}
	q := u.Query()
	relayURL := q.Get("relay")
	secret := q.Get("secret")
	if relayURL == "" || secret == "" {
		return nil, errors.New("wallet uri requires relay and secret parameters")
	}
	clientPub, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("wallet uri secret: %w", err)
	}
	shared, err := nip04.ComputeSharedSecret(walletPub, secret)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	return &NWCClient{
		walletPubkey: walletPub,
		clientSecret: secret,
		clientPubkey: clientPub,
		relayURL:     relayURL,
		shared:       shared,
		Timeout:      15 * time.Second,
	}, nil
}

type nwcRequest struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

type nwcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type nwcResponse struct {
	ResultType string          `json:"result_type"`
	Error      *nwcError       `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

func (c *NWCClient) connect(ctx context.Context) (*nostr.Relay, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil && c.relay.IsConnected() {
		return c.relay, nil
	}
	r, err := nostr.RelayConnect(ctx, c.relayURL)
	if err != nil {
		return nil, err
	}
	c.relay = r
	return r, nil
}

// call publishes one request and waits for the matching response.
func (c *NWCClient) call(ctx context.Context, method string, params map[string]any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	r, err := c.connect(ctx)
	if err != nil {
		return ProviderError{Op: method, Err: err}
	}

	payload, err := json.Marshal(nwcRequest{Method: method, Params: params})
	if err != nil {
		return ProviderError{Op: method, Err: err}
	}
	content, err := nip04.Encrypt(string(payload), c.shared)
	if err != nil {
		return ProviderError{Op: method, Err: err}
	}
	req := nostr.Event{
		PubKey:    c.clientPubkey,
		CreatedAt: nostr.Timestamp(time.Now().Unix()),
		Kind:      kindNWCRequest,
		Tags:      nostr.Tags{{"p", c.walletPubkey}},
		Content:   content,
	}
	if err := req.Sign(c.clientSecret); err != nil {
		return ProviderError{Op: method, Err: err}
	}

	sub, err := r.Subscribe(ctx, nostr.Filters{{
		Kinds:   []int{kindNWCResponse},
		Authors: []string{c.walletPubkey},
		Tags:    nostr.TagMap{"e": []string{req.ID}},
	}})
	if err != nil {
		return ProviderError{Op: method, Err: err}
	}
	defer sub.Unsub()

	if err := r.Publish(ctx, req); err != nil {
		return ProviderError{Op: method, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return ProviderError{Op: method, Err: ctx.Err()}
		case ev, ok := <-sub.Events:
			if !ok {
				return ProviderError{Op: method, Err: errors.New("response stream closed")}
			}
			if ev == nil {
				continue
			}
			plain, err := nip04.Decrypt(ev.Content, c.shared)
			if err != nil {
				continue
			}
			var resp nwcResponse
			if err := json.Unmarshal([]byte(plain), &resp); err != nil {
				continue
			}
			if resp.Error != nil {
				return ProviderError{Op: method, Err: fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)}
			}
			if result != nil && len(resp.Result) > 0 {
				if err := json.Unmarshal(resp.Result, result); err != nil {
					return ProviderError{Op: method, Err: err}
				}
			}
			return nil
		}
	}
}

type makeInvoiceResult struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
}

func (c *NWCClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	var res makeInvoiceResult
	err := c.call(ctx, "make_invoice", map[string]any{
		"amount":      amountSats * 1000, // msats on the wire
		"description": memo,
	}, &res)
	if err != nil {
		return Invoice{}, err
	}
	return Invoice{PaymentRequest: res.Invoice, PaymentHash: res.PaymentHash}, nil
}

type lookupInvoiceResult struct {
	State     string `json:"state"`
	SettledAt int64  `json:"settled_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (c *NWCClient) LookupInvoice(ctx context.Context, paymentHash string) (InvoiceState, error) {
	var res lookupInvoiceResult
	err := c.call(ctx, "lookup_invoice", map[string]any{"payment_hash": paymentHash}, &res)
	if err != nil {
		return "", err
	}
	switch res.State {
	case "settled":
		return StateSettled, nil
	case "expired":
		return StateExpired, nil
	case "pending":
		return StatePending, nil
	}
	// Older wallets omit state; derive it from the timestamps.
	if res.SettledAt > 0 {
		return StateSettled, nil
	}
	if res.ExpiresAt > 0 && time.Now().Unix() > res.ExpiresAt {
		return StateExpired, nil
	}
	return StatePending, nil
}

type payInvoiceResult struct {
	Preimage string `json:"preimage"`
}

func (c *NWCClient) SendPayment(ctx context.Context, paymentRequest string) (Payment, error) {
	var res payInvoiceResult
	err := c.call(ctx, "pay_invoice", map[string]any{"invoice": paymentRequest}, &res)
	if err != nil {
		return Payment{}, err
	}
	return Payment{Preimage: res.Preimage}, nil
}

// Close drops the relay connection.
func (c *NWCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil {
		c.relay.Close()
		c.relay = nil
	}
}
