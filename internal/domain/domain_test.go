package domain

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestStatusAdvanceNeverDemotes(t *testing.T) {
	s := StatusCompleted
	if got := s.Advance(StatusBidding); got != StatusCompleted {
		t.Fatalf("completed demoted to %s", got)
	}
	s = StatusBidding
	if got := s.Advance(StatusWorking); got != StatusWorking {
		t.Fatalf("expected working, got %s", got)
	}
	if got := StatusWorking.Advance(StatusWorking); got != StatusWorking {
		t.Fatalf("self-advance changed status to %s", got)
	}
}

func TestTagValueFirstMatchWins(t *testing.T) {
	ev := nostr.Event{Tags: nostr.Tags{
		{"e", "first"},
		{"amount", "150"},
		{"e", "second"},
	}}
	if got := TagValue(ev, "e"); got != "first" {
		t.Fatalf("TagValue(e) = %q, want first", got)
	}
	if got := TagValue(ev, "amount"); got != "150" {
		t.Fatalf("TagValue(amount) = %q", got)
	}
	if got := TagValue(ev, "missing"); got != "" {
		t.Fatalf("TagValue(missing) = %q, want empty", got)
	}
	// malformed single-element tag is skipped
	ev = nostr.Event{Tags: nostr.Tags{{"e"}}}
	if got := Reference(ev); got != "" {
		t.Fatalf("Reference on bare tag = %q", got)
	}
}

func TestLastActivity(t *testing.T) {
	agg := TaskAggregate{
		Task: Task{Event: nostr.Event{CreatedAt: 100}},
		Bid:  &Bid{Event: nostr.Event{CreatedAt: 300}},
		Work: &Work{Event: nostr.Event{CreatedAt: 200}},
	}
	if got := agg.LastActivity(); got != 300 {
		t.Fatalf("LastActivity = %d, want 300", got)
	}
	agg.Bid = nil
	if got := agg.LastActivity(); got != 200 {
		t.Fatalf("LastActivity = %d, want 200", got)
	}
}

func TestParseActions(t *testing.T) {
	content := `{"actions":[{"type":"click","x":50,"y":25},{"type":"drag","start":{"x":0,"y":0},"end":{"x":100,"y":100}}]}`
	actions, err := ParseActions(content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("got %d actions", len(actions))
	}
	if actions[0].Type != ActionClick || actions[0].X != 50 {
		t.Fatalf("unexpected first action: %+v", actions[0])
	}
	if actions[1].Start == nil || actions[1].End.X != 100 {
		t.Fatalf("unexpected drag action: %+v", actions[1])
	}
}

func TestParseActionsRejectsBadInput(t *testing.T) {
	cases := []string{
		`not json`,
		`{"actions":[{"type":"teleport","x":1,"y":1}]}`,
		`{"actions":[{"type":"click","x":150,"y":10}]}`,
		`{"actions":[{"type":"drag","start":{"x":1,"y":1}}]}`,
	}
	for _, c := range cases {
		if _, err := ParseActions(c); err == nil {
			t.Fatalf("expected error for %s", c)
		}
	}
}
