// Package engine turns disjoint relay event streams into task-centric view
// models and builds the signed events for user actions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
	"unstuck/internal/signer"
)

// EventStore is the gateway contract the engine consumes (implemented by
// relay.Pool).
type EventStore interface {
	FetchByFilter(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
	Publish(ctx context.Context, ev nostr.Event) error
	Subscribe(ctx context.Context, filter nostr.Filter, onEvent func(nostr.Event)) (func(), error)
}

var ErrNotFound = errors.New("not found")

// ProfileResolver looks up display metadata for a pubkey (implemented by
// session.Session with its memoizing cache).
type ProfileResolver interface {
	Profile(ctx context.Context, pubkey string) (domain.Profile, error)
}

type Engine struct {
	Store      EventStore
	Signer     signer.Signer
	Profiles   ProfileResolver
	FetchLimit int
	Now        func() time.Time
}

func New(store EventStore, sg signer.Signer) Engine {
	return Engine{
		Store:      store,
		Signer:     sg,
		FetchLimit: 50,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Load fetches tasks, bids and work submissions concurrently, then correlates
// them into the sorted aggregate view. Aggregates are rebuilt wholesale on
// every call.
func (e Engine) Load(ctx context.Context) ([]domain.TaskAggregate, error) {
	var (
		wg            sync.WaitGroup
		tasks, bids   []nostr.Event
		works         []nostr.Event
		taskErr, bErr error
		wErr          error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		tasks, taskErr = e.Store.FetchByFilter(ctx, nostr.Filter{Kinds: domain.TaskKinds, Limit: e.FetchLimit})
	}()
	go func() {
		defer wg.Done()
		bids, bErr = e.Store.FetchByFilter(ctx, nostr.Filter{Kinds: []int{domain.KindBid}, Limit: e.FetchLimit})
	}()
	go func() {
		defer wg.Done()
		works, wErr = e.Store.FetchByFilter(ctx, nostr.Filter{Kinds: []int{domain.KindWork}, Limit: e.FetchLimit})
	}()
	wg.Wait()
	for _, err := range []error{taskErr, bErr, wErr} {
		if err != nil {
			return nil, err
		}
	}
	aggs := Correlate(bids, works, indexByID(tasks))
	e.attachProfiles(ctx, aggs)
	return aggs, nil
}

// attachProfiles resolves each distinct task author once, concurrently.
// Lookup failures leave the aggregate without a profile; the view stays
// renderable either way.
func (e Engine) attachProfiles(ctx context.Context, aggs []domain.TaskAggregate) {
	if e.Profiles == nil {
		return
	}
	authors := map[string]*domain.Profile{}
	for _, agg := range aggs {
		if agg.Task.Author() != "" {
			authors[agg.Task.Author()] = nil
		}
	}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for pubkey := range authors {
		wg.Add(1)
		go func(pubkey string) {
			defer wg.Done()
			p, err := e.Profiles.Profile(ctx, pubkey)
			if err != nil {
				return
			}
			mu.Lock()
			authors[pubkey] = &p
			mu.Unlock()
		}(pubkey)
	}
	wg.Wait()
	for i := range aggs {
		aggs[i].AuthorProfile = authors[aggs[i].Task.Author()]
	}
}

// LoadOne fetches a single task and everything referencing it.
func (e Engine) LoadOne(ctx context.Context, taskID string) (domain.TaskAggregate, error) {
	tasks, err := e.Store.FetchByFilter(ctx, nostr.Filter{IDs: []string{taskID}, Kinds: domain.TaskKinds})
	if err != nil {
		return domain.TaskAggregate{}, err
	}
	if len(tasks) == 0 {
		return domain.TaskAggregate{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	refs, err := e.Store.FetchByFilter(ctx, nostr.Filter{
		Kinds: []int{domain.KindBid, domain.KindWork},
		Tags:  nostr.TagMap{"e": []string{taskID}},
	})
	if err != nil {
		return domain.TaskAggregate{}, err
	}
	var bids, works []nostr.Event
	for _, ev := range refs {
		switch ev.Kind {
		case domain.KindBid:
			bids = append(bids, ev)
		case domain.KindWork:
			works = append(works, ev)
		}
	}
	aggs := Correlate(bids, works, indexByID(tasks[:1]))
	for _, agg := range aggs {
		if agg.Task.ID() == taskID {
			return agg, nil
		}
	}
	return domain.TaskAggregate{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
}

// Watch streams every marketplace event kind while a view is open. The
// subscription may stop silently if all relays drop; cancel via the returned
// handle.
func (e Engine) Watch(ctx context.Context, onEvent func(nostr.Event)) (func(), error) {
	kinds := append(append([]int{}, domain.TaskKinds...),
		domain.KindBid, domain.KindWork, domain.KindZapReceipt)
	return e.Store.Subscribe(ctx, nostr.Filter{Kinds: kinds}, onEvent)
}

// WatchAggregates re-correlates the full view after each incoming event and
// hands the fresh aggregates to onChange. Serialized: a slow onChange simply
// delays the next rebuild.
func (e Engine) WatchAggregates(ctx context.Context, onChange func([]domain.TaskAggregate)) (func(), error) {
	var mu sync.Mutex
	return e.Watch(ctx, func(nostr.Event) {
		mu.Lock()
		defer mu.Unlock()
		aggs, err := e.Load(ctx)
		if err != nil {
			return
		}
		onChange(aggs)
	})
}

// ConfirmsAcceptance reports whether a zap receipt confirms the given pending
// bid: it must reference the same task. This is the secondary acceptance
// signal; the bid-plus-task rule in Correlate already derives working.
func ConfirmsAcceptance(receipt nostr.Event, bid domain.Bid) bool {
	return receipt.Kind == domain.KindZapReceipt && domain.Reference(receipt) == bid.TaskID
}

// TaskPostOptions are parameters for posting a task.
type TaskPostOptions struct {
	Title       string
	Description string
	Image       string
	MaxPrice    int64
}

// PostTask signs and publishes a task posting.
func (e Engine) PostTask(ctx context.Context, opts TaskPostOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	tags := nostr.Tags{{"title", opts.Title}}
	if opts.Description != "" {
		tags = append(tags, nostr.Tag{"description", opts.Description})
	}
	if opts.Image != "" {
		tags = append(tags, nostr.Tag{"image", opts.Image})
	}
	if opts.MaxPrice > 0 {
		tags = append(tags, nostr.Tag{"max_price", strconv.FormatInt(opts.MaxPrice, 10)})
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(e.now().Unix()),
		Kind:      domain.KindTask,
		Tags:      tags,
		Content:   opts.Description,
	}
	if err := e.sign(&ev); err != nil {
		return domain.Task{}, err
	}
	if err := e.Store.Publish(ctx, ev); err != nil {
		return domain.Task{}, err
	}
	return taskFromEvent(ev), nil
}

// BidOptions are parameters for placing a bid on a task.
type BidOptions struct {
	TaskID     string
	TaskAuthor string
	Amount     int64
	Invoice    string
}

// PlaceBid signs and publishes a bid referencing the task.
func (e Engine) PlaceBid(ctx context.Context, opts BidOptions) (domain.Bid, error) {
	if opts.TaskID == "" {
		return domain.Bid{}, errors.New("task id is required")
	}
	if opts.Amount <= 0 {
		return domain.Bid{}, errors.New("amount must be positive")
	}
	tags := nostr.Tags{
		{"e", opts.TaskID},
		{"amount", strconv.FormatInt(opts.Amount, 10)},
	}
	if opts.TaskAuthor != "" {
		tags = append(tags, nostr.Tag{"p", opts.TaskAuthor})
	}
	if opts.Invoice != "" {
		tags = append(tags, nostr.Tag{"bolt11", opts.Invoice})
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(e.now().Unix()),
		Kind:      domain.KindBid,
		Tags:      tags,
	}
	if err := e.sign(&ev); err != nil {
		return domain.Bid{}, err
	}
	if err := e.Store.Publish(ctx, ev); err != nil {
		return domain.Bid{}, err
	}
	bid, _ := parseBid(ev)
	return bid, nil
}

// WorkOptions are parameters for submitting work against a task.
type WorkOptions struct {
	TaskID     string
	TaskAuthor string
	Content    string
	Format     string
}

// SubmitWork signs and publishes a work submission. JSON-format content is
// validated before publishing; free text goes out as-is.
func (e Engine) SubmitWork(ctx context.Context, opts WorkOptions) (domain.Work, error) {
	if opts.TaskID == "" {
		return domain.Work{}, errors.New("task id is required")
	}
	if opts.Content == "" {
		return domain.Work{}, errors.New("content is required")
	}
	format := opts.Format
	if format == "" {
		format = domain.WorkFormatText
	}
	if format == domain.WorkFormatJSON {
		if _, err := domain.ParseActions(opts.Content); err != nil {
			return domain.Work{}, err
		}
	}
	tags := nostr.Tags{
		{"e", opts.TaskID},
		{"result", "submission"},
		{"format", format},
	}
	if opts.TaskAuthor != "" {
		tags = append(tags, nostr.Tag{"p", opts.TaskAuthor})
	}
	ev := nostr.Event{
		CreatedAt: nostr.Timestamp(e.now().Unix()),
		Kind:      domain.KindWork,
		Tags:      tags,
		Content:   opts.Content,
	}
	if err := e.sign(&ev); err != nil {
		return domain.Work{}, err
	}
	if err := e.Store.Publish(ctx, ev); err != nil {
		return domain.Work{}, err
	}
	work, _ := parseWork(ev)
	return work, nil
}

func (e Engine) sign(ev *nostr.Event) error {
	if e.Signer == nil {
		return errors.New("not logged in")
	}
	return e.Signer.Sign(ev)
}

func indexByID(events []nostr.Event) map[string]nostr.Event {
	byID := make(map[string]nostr.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}
	return byID
}
