// Package relay wraps a set of Nostr relay endpoints behind the gateway the
// rest of the app talks to: one-shot fetch with cross-relay dedup, publish
// that succeeds when any relay accepts, and fan-in subscriptions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// RetryPolicy bounds per-relay retries on transient fetch failures.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Pool manages connections to the configured relays.
type Pool struct {
	urls  []string
	Retry RetryPolicy

	mu     sync.Mutex
	relays map[string]*nostr.Relay
}

func New(urls []string) *Pool {
	return &Pool{
		urls:   urls,
		Retry:  RetryPolicy{Attempts: 3, Backoff: 500 * time.Millisecond},
		relays: map[string]*nostr.Relay{},
	}
}

// Connect dials every configured relay. It succeeds if at least one relay is
// reachable; a total failure returns ConnectionError. Safe to call again to
// pick up relays that were down earlier.
func (p *Pool) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for _, url := range p.urls {
		if r, ok := p.relays[url]; ok && r.IsConnected() {
			continue
		}
		r, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			log.Printf("relay %s unreachable: %v", url, err)
			lastErr = err
			continue
		}
		p.relays[url] = r
	}
	if len(p.relays) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no relays configured")
		}
		return ConnectionError{Err: lastErr}
	}
	return nil
}

func (p *Pool) connected() []*nostr.Relay {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*nostr.Relay, 0, len(p.relays))
	for _, r := range p.relays {
		out = append(out, r)
	}
	return out
}

// FetchByFilter runs a one-shot query against every connected relay and
// returns the union of results with duplicates removed by event id. Individual
// relay failures are tolerated; only a total failure is an error.
func (p *Pool) FetchByFilter(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	relays := p.connected()
	if len(relays) == 0 {
		return nil, ConnectionError{Err: errors.New("not connected")}
	}

	type result struct {
		events []*nostr.Event
		err    error
	}
	results := make(chan result, len(relays))
	for _, r := range relays {
		go func(r *nostr.Relay) {
			evs, err := p.queryWithRetry(ctx, r, filter)
			results <- result{events: evs, err: err}
		}(r)
	}

	seen := map[string]bool{}
	var out []nostr.Event
	failures := 0
	var lastErr error
	for range relays {
		res := <-results
		if res.err != nil {
			failures++
			lastErr = res.err
			continue
		}
		for _, ev := range res.events {
			if ev == nil || seen[ev.ID] {
				continue
			}
			seen[ev.ID] = true
			out = append(out, *ev)
		}
	}
	if failures == len(relays) {
		return nil, ConnectionError{Err: lastErr}
	}
	return out, nil
}

func (p *Pool) queryWithRetry(ctx context.Context, r *nostr.Relay, filter nostr.Filter) ([]*nostr.Event, error) {
	attempts := p.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.Retry.Backoff * time.Duration(i)):
			}
		}
		evs, err := r.QuerySync(ctx, filter)
		if err == nil {
			return evs, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("query %s: %w", r.URL, lastErr)
}

// Publish sends the signed event to every connected relay and succeeds when
// at least one accepts it.
func (p *Pool) Publish(ctx context.Context, ev nostr.Event) error {
	relays := p.connected()
	if len(relays) == 0 {
		return PublishError{EventID: ev.ID, Err: errors.New("not connected")}
	}
	accepted := 0
	var lastErr error
	for _, r := range relays {
		if err := r.Publish(ctx, ev); err != nil {
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return PublishError{EventID: ev.ID, Err: lastErr}
	}
	return nil
}

// Subscribe opens a streaming subscription on every connected relay and fans
// the events into onEvent, deduplicated by id across relays. Delivery stops
// silently if every relay drops; callers needing guarantees must resubscribe.
// The returned cancel is idempotent.
func (p *Pool) Subscribe(ctx context.Context, filter nostr.Filter, onEvent func(nostr.Event)) (func(), error) {
	relays := p.connected()
	if len(relays) == 0 {
		return nil, ConnectionError{Err: errors.New("not connected")}
	}
	subCtx, cancel := context.WithCancel(ctx)

	var mu sync.Mutex
	seen := map[string]bool{}
	deliver := func(ev nostr.Event) {
		mu.Lock()
		dup := seen[ev.ID]
		seen[ev.ID] = true
		mu.Unlock()
		if !dup {
			onEvent(ev)
		}
	}

	started := 0
	for _, r := range relays {
		sub, err := r.Subscribe(subCtx, nostr.Filters{filter})
		if err != nil {
			log.Printf("subscribe %s: %v", r.URL, err)
			continue
		}
		started++
		go func(sub *nostr.Subscription) {
			defer sub.Unsub()
			for {
				select {
				case <-subCtx.Done():
					return
				case ev, ok := <-sub.Events:
					if !ok {
						return
					}
					if ev != nil {
						deliver(*ev)
					}
				}
			}
		}(sub)
	}
	if started == 0 {
		cancel()
		return nil, ConnectionError{Err: errors.New("no relay accepted subscription")}
	}

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// Close tears down every relay connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, r := range p.relays {
		r.Close()
		delete(p.relays, url)
	}
}
