package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func filterForTest() nostr.Filter {
	return nostr.Filter{Kinds: []int{5109}, Limit: 1}
}

func eventForTest() nostr.Event {
	return nostr.Event{ID: "deadbeef", Kind: 5109}
}

func TestConnectNoRelaysIsConnectionError(t *testing.T) {
	p := New(nil)
	err := p.Connect(context.Background())
	var ce ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}

func TestFetchBeforeConnectFails(t *testing.T) {
	p := New([]string{"wss://relay.invalid"})
	_, err := p.FetchByFilter(context.Background(), filterForTest())
	var ce ConnectionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConnectionError", err)
	}
}

func TestPublishBeforeConnectFails(t *testing.T) {
	p := New([]string{"wss://relay.invalid"})
	err := p.Publish(context.Background(), eventForTest())
	var pe PublishError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PublishError", err)
	}
}

func TestErrorsUnwrap(t *testing.T) {
	inner := errors.New("boom")
	if !errors.Is(ConnectionError{Err: inner}, inner) {
		t.Fatal("ConnectionError does not unwrap")
	}
	if !errors.Is(PublishError{EventID: "x", Err: inner}, inner) {
		t.Fatal("PublishError does not unwrap")
	}
}
