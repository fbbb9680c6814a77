package engine

import (
	"reflect"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
)

func taskEvent(id string, createdAt nostr.Timestamp, tags ...nostr.Tag) nostr.Event {
	return nostr.Event{
		ID:        id,
		Kind:      domain.KindTask,
		CreatedAt: createdAt,
		Tags:      tags,
	}
}

func bidEvent(id, taskID string, createdAt nostr.Timestamp, extra ...nostr.Tag) nostr.Event {
	tags := append(nostr.Tags{{"e", taskID}}, extra...)
	return nostr.Event{
		ID:        id,
		Kind:      domain.KindBid,
		CreatedAt: createdAt,
		Tags:      tags,
	}
}

func workEvent(id, taskID string, createdAt nostr.Timestamp) nostr.Event {
	return nostr.Event{
		ID:        id,
		Kind:      domain.KindWork,
		CreatedAt: createdAt,
		Tags:      nostr.Tags{{"e", taskID}, {"format", "text"}},
		Content:   "done",
	}
}

func TestCorrelateBidAgainstResolvedTaskIsWorking(t *testing.T) {
	task := taskEvent("abc123", 100, nostr.Tag{"title", "Caption this"})
	bid := bidEvent("bid1", "abc123", 110, nostr.Tag{"amount", "150"})

	aggs := Correlate([]nostr.Event{bid}, nil, indexByID([]nostr.Event{task}))
	if len(aggs) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(aggs))
	}
	agg := aggs[0]
	if agg.Task.Title != "Caption this" {
		t.Fatalf("title = %q", agg.Task.Title)
	}
	if agg.Status != domain.StatusWorking {
		t.Fatalf("status = %s, want working", agg.Status)
	}
	if agg.BidAmount != 150 {
		t.Fatalf("amount = %d, want 150", agg.BidAmount)
	}
}

func TestCorrelateWorkForcesCompleted(t *testing.T) {
	task := taskEvent("abc123", 100)
	bid := bidEvent("bid1", "abc123", 110, nostr.Tag{"amount", "150"})
	work := workEvent("work1", "abc123", 120)

	// Order of arrival must not matter.
	first := Correlate([]nostr.Event{bid}, []nostr.Event{work}, indexByID([]nostr.Event{task}))
	second := Correlate([]nostr.Event{bid}, []nostr.Event{work}, indexByID([]nostr.Event{task}))
	if first[0].Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", first[0].Status)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("correlation is not deterministic across passes")
	}
}

func TestCorrelateWorkWithoutBidIsCompleted(t *testing.T) {
	task := taskEvent("t1", 100)
	work := workEvent("work1", "t1", 120)

	aggs := Correlate(nil, []nostr.Event{work}, indexByID([]nostr.Event{task}))
	if len(aggs) != 1 || aggs[0].Status != domain.StatusCompleted {
		t.Fatalf("aggs = %+v, want single completed", aggs)
	}
}

func TestCorrelateRedeliveredEventsChangeNothing(t *testing.T) {
	task := taskEvent("t1", 100)
	bid := bidEvent("bid1", "t1", 110, nostr.Tag{"amount", "150"})
	work := workEvent("work1", "t1", 120)

	once := Correlate([]nostr.Event{bid}, []nostr.Event{work}, indexByID([]nostr.Event{task}))
	// A relay redelivering the same events must yield the identical set.
	twice := Correlate([]nostr.Event{bid, bid}, []nostr.Event{work, work}, indexByID([]nostr.Event{task, task}))
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("redelivery changed the result:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestCorrelateDuplicateBidsLastWriteWins(t *testing.T) {
	task := taskEvent("t1", 100)
	older := bidEvent("bid1", "t1", 110, nostr.Tag{"amount", "100"})
	newer := bidEvent("bid2", "t1", 115, nostr.Tag{"amount", "250"})

	aggs := Correlate([]nostr.Event{older, newer}, nil, indexByID([]nostr.Event{task}))
	if aggs[0].BidAmount != 250 {
		t.Fatalf("amount = %d, want 250 from last bid", aggs[0].BidAmount)
	}
}

func TestCorrelateDropsDanglingReferences(t *testing.T) {
	bid := bidEvent("bid1", "missing-task", 110, nostr.Tag{"amount", "50"})
	work := workEvent("work1", "also-missing", 120)

	aggs := Correlate([]nostr.Event{bid}, []nostr.Event{work}, map[string]nostr.Event{})
	if len(aggs) != 0 {
		t.Fatalf("aggregates = %d, want 0", len(aggs))
	}
}

func TestCorrelateIncludesBareTasks(t *testing.T) {
	task := taskEvent("t1", 100, nostr.Tag{"title", "Untouched"})

	aggs := Correlate(nil, nil, indexByID([]nostr.Event{task}))
	if len(aggs) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(aggs))
	}
	if aggs[0].Status != domain.StatusBidding || aggs[0].Bid != nil {
		t.Fatalf("bare task should sit at bidding with no bid, got %+v", aggs[0])
	}
}

func TestCorrelateSortsByLastActivityDesc(t *testing.T) {
	tasks := []nostr.Event{
		taskEvent("t-old", 100),
		taskEvent("t-mid", 200),
		taskEvent("t-new", 300),
	}

	aggs := Correlate(nil, nil, indexByID(tasks))
	got := []nostr.Timestamp{}
	for _, agg := range aggs {
		got = append(got, agg.LastActivity())
	}
	want := []nostr.Timestamp{300, 200, 100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestCorrelateBidActivityBumpsSortOrder(t *testing.T) {
	tasks := []nostr.Event{
		taskEvent("t1", 100),
		taskEvent("t2", 200),
	}
	// A fresh bid on the older task makes it the most recently active.
	bid := bidEvent("bid1", "t1", 500, nostr.Tag{"amount", "10"})

	aggs := Correlate([]nostr.Event{bid}, nil, indexByID(tasks))
	if aggs[0].Task.ID() != "t1" {
		t.Fatalf("first = %s, want t1", aggs[0].Task.ID())
	}
}

func TestParseBidAmountFallsBackToZero(t *testing.T) {
	cases := []struct {
		name string
		tags nostr.Tags
	}{
		{"absent", nostr.Tags{{"e", "t1"}}},
		{"non-numeric", nostr.Tags{{"e", "t1"}, {"amount", "lots"}}},
		{"negative", nostr.Tags{{"e", "t1"}, {"amount", "-5"}}},
	}
	for _, tc := range cases {
		bid, ok := parseBid(nostr.Event{Kind: domain.KindBid, Tags: tc.tags})
		if !ok {
			t.Fatalf("%s: bid rejected", tc.name)
		}
		if bid.Amount != 0 {
			t.Fatalf("%s: amount = %d, want 0", tc.name, bid.Amount)
		}
	}
}

func TestParseWorkDegradesBadActionsToText(t *testing.T) {
	ev := nostr.Event{
		Kind:    domain.KindWork,
		Tags:    nostr.Tags{{"e", "t1"}, {"format", "json"}},
		Content: `{"actions": [{"type": "teleport"}]}`,
	}
	work, ok := parseWork(ev)
	if !ok {
		t.Fatal("work rejected")
	}
	if work.Format != domain.WorkFormatText {
		t.Fatalf("format = %s, want text fallback", work.Format)
	}
	if work.Instructions != ev.Content {
		t.Fatal("raw content not preserved as instructions")
	}
	if len(work.Actions) != 0 {
		t.Fatalf("actions = %v, want none", work.Actions)
	}
}

func TestParseWorkKeepsValidActions(t *testing.T) {
	ev := nostr.Event{
		Kind:    domain.KindWork,
		Tags:    nostr.Tags{{"e", "t1"}, {"format", "json"}},
		Content: `{"actions": [{"type": "click", "x": 50, "y": 25}]}`,
	}
	work, ok := parseWork(ev)
	if !ok {
		t.Fatal("work rejected")
	}
	if len(work.Actions) != 1 || work.Actions[0].Type != domain.ActionClick {
		t.Fatalf("actions = %+v", work.Actions)
	}
}
