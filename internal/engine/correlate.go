package engine

import (
	"log"
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
)

// parseBid lifts a kind-7000 event into a bid. An event without a task
// reference is malformed and dropped by the caller.
func parseBid(ev nostr.Event) (domain.Bid, bool) {
	ref := domain.Reference(ev)
	if ref == "" {
		return domain.Bid{}, false
	}
	return domain.Bid{
		Event:   ev,
		TaskID:  ref,
		Amount:  parseSats(domain.TagValue(ev, "amount")),
		Invoice: domain.TagValue(ev, "bolt11"),
	}, true
}

// parseWork lifts a kind-6109 event into a work submission. JSON-format
// content that fails to parse degrades to free text rather than erroring.
func parseWork(ev nostr.Event) (domain.Work, bool) {
	ref := domain.Reference(ev)
	if ref == "" {
		return domain.Work{}, false
	}
	w := domain.Work{
		Event:  ev,
		TaskID: ref,
		Format: domain.TagValue(ev, "format"),
	}
	if w.Format == domain.WorkFormatJSON {
		actions, err := domain.ParseActions(ev.Content)
		if err == nil {
			w.Actions = actions
			return w, true
		}
		log.Printf("work %s: unusable action list, falling back to text: %v", ev.ID, err)
		w.Format = domain.WorkFormatText
	}
	w.Instructions = ev.Content
	return w, true
}

// Correlate groups bid and work events under their referenced task and
// derives each aggregate's status:
//
//  1. bids open an aggregate at bidding (duplicates for one task are
//     last-write-wins in the event store's return order — relay order is not
//     causal, so this is a documented source of nondeterminism);
//  2. work attaches and forces completed, whether or not a bid was seen;
//  3. a resolved task plus a bid without work means the bid was accepted,
//     upgrading bidding to working;
//  4. aggregates whose task was never observed are dropped.
//
// The pass is idempotent: re-feeding an event it has already seen produces an
// identical result. Output is sorted most-recently-active first.
func Correlate(bids, works []nostr.Event, tasksByID map[string]nostr.Event) []domain.TaskAggregate {
	pending := map[string]*domain.TaskAggregate{}
	order := []string{}

	get := func(taskID string) *domain.TaskAggregate {
		if agg, ok := pending[taskID]; ok {
			return agg
		}
		agg := &domain.TaskAggregate{Status: domain.StatusBidding}
		pending[taskID] = agg
		order = append(order, taskID)
		return agg
	}

	for _, ev := range bids {
		bid, ok := parseBid(ev)
		if !ok {
			log.Printf("bid %s: no task reference, dropped", ev.ID)
			continue
		}
		agg := get(bid.TaskID)
		b := bid
		agg.Bid = &b
		agg.BidAmount = bid.Amount
		agg.Invoice = bid.Invoice
	}

	for _, ev := range works {
		work, ok := parseWork(ev)
		if !ok {
			log.Printf("work %s: no task reference, dropped", ev.ID)
			continue
		}
		agg := get(work.TaskID)
		w := work
		agg.Work = &w
		agg.Status = agg.Status.Advance(domain.StatusCompleted)
	}

	out := make([]domain.TaskAggregate, 0, len(order))
	for _, taskID := range order {
		agg := pending[taskID]
		taskEv, ok := tasksByID[taskID]
		if !ok {
			continue // dangling reference
		}
		agg.Task = taskFromEvent(taskEv)
		if agg.Status == domain.StatusBidding && agg.Bid != nil && agg.Work == nil {
			agg.Status = agg.Status.Advance(domain.StatusWorking)
		}
		out = append(out, *agg)
	}

	// Tasks with no bids or work still belong in the view.
	for taskID, taskEv := range tasksByID {
		if _, seen := pending[taskID]; seen {
			continue
		}
		out = append(out, domain.TaskAggregate{
			Task:   taskFromEvent(taskEv),
			Status: domain.StatusBidding,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastActivity() > out[j].LastActivity()
	})
	return out
}
