package domain

import (
	"github.com/nbd-wtf/go-nostr"
)

// Event kinds used on the wire. Tasks appear under two kinds because the
// marketplace publishes both DVM-style job requests (5109) and classified
// listings (30006).
const (
	KindProfile    = 0
	KindTask       = 5109
	KindTaskListed = 30006
	KindBid        = 7000
	KindWork       = 6109
	KindZapReceipt = 9735
)

// TaskKinds lists every kind that represents a task posting.
var TaskKinds = []int{KindTask, KindTaskListed}

// Status is the derived lifecycle of a task aggregate. It only ever moves
// forward: bidding -> working -> completed.
type Status string

const (
	StatusBidding   Status = "bidding"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
)

var statusRank = map[Status]int{
	StatusBidding:   0,
	StatusWorking:   1,
	StatusCompleted: 2,
}

// Advance returns the further-along of the two statuses. Events arrive in no
// guaranteed order, so a status is never demoted once derived.
func (s Status) Advance(to Status) Status {
	if statusRank[to] > statusRank[s] {
		return to
	}
	return s
}

// TagValue returns the value of the first tag whose name equals name, or ""
// if absent. Later tags with the same name are ignored.
func TagValue(ev nostr.Event, name string) string {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Reference returns the task id an event points at via its "e" tag.
func Reference(ev nostr.Event) string {
	return TagValue(ev, "e")
}

// Task is a task posting resolved from its event's tags and content.
type Task struct {
	Event       nostr.Event `json:"event"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Image       string      `json:"image,omitempty"`
	MaxPrice    int64       `json:"max_price,omitempty"`
}

func (t Task) ID() string     { return t.Event.ID }
func (t Task) Author() string { return t.Event.PubKey }

// Bid is a kind-7000 event referencing a task.
type Bid struct {
	Event   nostr.Event `json:"event"`
	TaskID  string      `json:"task_id"`
	Amount  int64       `json:"amount"`
	Invoice string      `json:"invoice,omitempty"`
}

// WorkFormat values carried on a work event's "format" tag.
const (
	WorkFormatText = "text"
	WorkFormatJSON = "json"
)

// Work is a kind-6109 event referencing a task. Content is either free-text
// instructions or, when Format is "json", an action list.
type Work struct {
	Event        nostr.Event `json:"event"`
	TaskID       string      `json:"task_id"`
	Format       string      `json:"format,omitempty"`
	Instructions string      `json:"instructions,omitempty"`
	Actions      []Action    `json:"actions,omitempty"`
}

// PaymentReceipt is a kind-9735 zap receipt referencing a task. Its arrival
// against the current user's pending bid signals acceptance.
type PaymentReceipt struct {
	Event  nostr.Event `json:"event"`
	TaskID string      `json:"task_id"`
}

// TaskAggregate is the correlation engine's per-task view model.
type TaskAggregate struct {
	Task          Task     `json:"task"`
	Bid           *Bid     `json:"bid,omitempty"`
	Work          *Work    `json:"work,omitempty"`
	Status        Status   `json:"status"`
	BidAmount     int64    `json:"bid_amount,omitempty"`
	Invoice       string   `json:"invoice,omitempty"`
	AuthorProfile *Profile `json:"author_profile,omitempty"`
}

// LastActivity is the aggregate's sort key: the newest created_at among the
// task and its attached bid/work.
func (a TaskAggregate) LastActivity() nostr.Timestamp {
	latest := a.Task.Event.CreatedAt
	if a.Bid != nil && a.Bid.Event.CreatedAt > latest {
		latest = a.Bid.Event.CreatedAt
	}
	if a.Work != nil && a.Work.Event.CreatedAt > latest {
		latest = a.Work.Event.CreatedAt
	}
	return latest
}

// Profile is kind-0 metadata for a pubkey.
type Profile struct {
	PubKey      string `json:"pubkey"`
	DisplayName string `json:"display_name,omitempty"`
	PictureURL  string `json:"picture_url,omitempty"`
	About       string `json:"about,omitempty"`
}
