package engine

import (
	"strings"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
)

func TestClassifyPrefersTags(t *testing.T) {
	ev := nostr.Event{
		ID:   "deadbeefcafe0000",
		Kind: domain.KindTask,
		Tags: nostr.Tags{
			{"title", "Tagged title"},
			{"description", "Tagged description"},
			{"image", "https://example.com/a.png"},
			{"max_price", "500"},
		},
		Content: `{"title": "Content title"}`,
	}
	view := Classify(ev)
	if view.Title != "Tagged title" {
		t.Fatalf("title = %q", view.Title)
	}
	if view.Description != "Tagged description" {
		t.Fatalf("description = %q", view.Description)
	}
	if view.Image != "https://example.com/a.png" {
		t.Fatalf("image = %q", view.Image)
	}
	if view.MaxPrice != 500 {
		t.Fatalf("max price = %d", view.MaxPrice)
	}
}

func TestClassifyFallsBackToContentJSON(t *testing.T) {
	ev := nostr.Event{
		ID:      "deadbeefcafe0000",
		Kind:    domain.KindTask,
		Content: `{"name": "From JSON", "desc": "json description"}`,
	}
	view := Classify(ev)
	if view.Title != "From JSON" {
		t.Fatalf("title = %q", view.Title)
	}
	if view.Description != "json description" {
		t.Fatalf("description = %q", view.Description)
	}
}

func TestClassifyUsesShortContentAsTitle(t *testing.T) {
	ev := nostr.Event{
		ID:      "deadbeefcafe0000",
		Kind:    domain.KindTask,
		Content: "Short title",
	}
	if got := Classify(ev).Title; got != "Short title" {
		t.Fatalf("title = %q", got)
	}
}

func TestClassifyLongContentGetsPlaceholderTitle(t *testing.T) {
	ev := nostr.Event{
		ID:      "deadbeefcafe0000",
		Kind:    domain.KindTask,
		Content: strings.Repeat("x", 80),
	}
	view := Classify(ev)
	if view.Title != "Task deadbeef..." {
		t.Fatalf("title = %q", view.Title)
	}
	// Long free text still serves as the description.
	if view.Description != ev.Content {
		t.Fatalf("description = %q", view.Description)
	}
}

func TestClassifyEmptyEventGetsPlaceholder(t *testing.T) {
	ev := nostr.Event{ID: "deadbeefcafe0000", Kind: domain.KindTask}
	view := Classify(ev)
	if view.Title != "Task deadbeef..." {
		t.Fatalf("title = %q", view.Title)
	}
	if view.Description != "" || view.Image != "" || view.MaxPrice != 0 {
		t.Fatalf("view = %+v, want empty optionals", view)
	}
}

func TestClassifySwallowsMalformedJSON(t *testing.T) {
	// Broken JSON is never an error; the chain falls through to the raw
	// content, which still serves as a title when short enough.
	short := nostr.Event{
		ID:      "deadbeefcafe0000",
		Kind:    domain.KindTask,
		Content: `{"title": "broken`,
	}
	if got := Classify(short).Title; got != short.Content {
		t.Fatalf("title = %q, want raw content", got)
	}

	long := nostr.Event{
		ID:      "deadbeefcafe0000",
		Kind:    domain.KindTask,
		Content: `{"title": "broken, and padded well past the short-content cutoff`,
	}
	if got := Classify(long).Title; got != "Task deadbeef..." {
		t.Fatalf("title = %q, want placeholder", got)
	}
}

func TestParseSats(t *testing.T) {
	cases := map[string]int64{
		"150":   150,
		" 42 ":  42,
		"":      0,
		"many":  0,
		"-10":   0,
		"1.5":   0,
		"10000": 10000,
	}
	for in, want := range cases {
		if got := parseSats(in); got != want {
			t.Fatalf("parseSats(%q) = %d, want %d", in, got, want)
		}
	}
}
