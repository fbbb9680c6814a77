package engine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"unstuck/internal/domain"
)

// TagView is the renderable face of a task event, resolved through ordered
// fallback chains. Classification never fails: a task with no usable title
// gets a placeholder synthesized from its id.
type TagView struct {
	Title       string
	Description string
	Image       string
	MaxPrice    int64
}

const shortContentMax = 50

// extractor is one step of a fallback chain; it returns ok=false to pass to
// the next strategy.
type extractor func(ev nostr.Event, body map[string]any) (string, bool)

func fromTag(names ...string) extractor {
	return func(ev nostr.Event, _ map[string]any) (string, bool) {
		for _, name := range names {
			if v := domain.TagValue(ev, name); v != "" {
				return v, true
			}
		}
		return "", false
	}
}

func fromContentField(names ...string) extractor {
	return func(_ nostr.Event, body map[string]any) (string, bool) {
		for _, name := range names {
			if v, ok := body[name].(string); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

func fromShortContent(maxLen int) extractor {
	return func(ev nostr.Event, _ map[string]any) (string, bool) {
		c := strings.TrimSpace(ev.Content)
		if c != "" && len(c) < maxLen {
			return c, true
		}
		return "", false
	}
}

func fromTruncatedContent(maxLen int) extractor {
	return func(ev nostr.Event, _ map[string]any) (string, bool) {
		c := strings.TrimSpace(ev.Content)
		if c == "" {
			return "", false
		}
		if len(c) > maxLen {
			c = c[:maxLen] + "..."
		}
		return c, true
	}
}

func resolve(ev nostr.Event, body map[string]any, chain ...extractor) string {
	for _, step := range chain {
		if v, ok := step(ev, body); ok {
			return v
		}
	}
	return ""
}

// Classify resolves a task event's display fields. Malformed JSON content is
// swallowed; the chains simply fall through to the next strategy.
func Classify(ev nostr.Event) TagView {
	var body map[string]any
	if strings.HasPrefix(strings.TrimSpace(ev.Content), "{") {
		_ = json.Unmarshal([]byte(ev.Content), &body)
	}

	title := resolve(ev, body,
		fromTag("title", "name"),
		fromContentField("title", "name"),
		fromShortContent(shortContentMax),
	)
	if title == "" {
		title = placeholderTitle(ev.ID)
	}

	return TagView{
		Title: title,
		Description: resolve(ev, body,
			fromTag("description", "desc"),
			fromContentField("description", "desc"),
			fromTruncatedContent(200),
		),
		Image: resolve(ev, body,
			fromTag("image", "img"),
			fromContentField("image", "img"),
		),
		MaxPrice: parseSats(resolve(ev, body, fromTag("max_price"), fromContentField("max_price"))),
	}
}

func placeholderTitle(id string) string {
	prefix := id
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return "Task " + prefix + "..."
}

// parseSats parses an integer sat amount; anything unparsable is 0.
func parseSats(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// taskFromEvent builds the domain task with classified display fields.
func taskFromEvent(ev nostr.Event) domain.Task {
	view := Classify(ev)
	return domain.Task{
		Event:       ev,
		Title:       view.Title,
		Description: view.Description,
		Image:       view.Image,
		MaxPrice:    view.MaxPrice,
	}
}
