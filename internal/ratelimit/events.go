package ratelimit

import (
	"time"

	"ag2api-go/internal/constants"
)

// Event is one observability record of an upstream limit response.
type Event struct {
	AccountID  string    `json:"accountId"`
	Timestamp  time.Time `json:"timestamp"`
	HTTPStatus int       `json:"httpStatus"`
	Reason     Reason    `json:"reason"`
	RetrySec   int       `json:"retryAfter"`
	Body       string    `json:"body,omitempty"`
}

// eventRing is a fixed-capacity append-only ring. Callers hold the registry
// lock.
type eventRing struct {
	buf   []Event
	head  int
	count int
}

func newEventRing() *eventRing {
	return &eventRing{buf: make([]Event, constants.RateLimitEventCap)}
}

func (r *eventRing) append(e Event) {
	r.buf[r.head] = e
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns events oldest-first.
func (r *eventRing) snapshot() []Event {
	out := make([]Event, 0, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

func (r *eventRing) clear() {
	r.head = 0
	r.count = 0
}

// Stats summarizes the event log for observability endpoints.
type Stats struct {
	Total      int            `json:"total"`
	LastHour   int            `json:"lastHour"`
	Last24h    int            `json:"last24h"`
	ByReason   map[Reason]int `json:"byReason"`
	ByAccount  map[string]int `json:"byAccount"`
	OldestTime time.Time      `json:"oldestTime,omitempty"`
	LatestTime time.Time      `json:"latestTime,omitempty"`
}

// Events returns a copy of the event log, oldest first.
func (r *Registry) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events.snapshot()
}

// ClearEvents empties the event log.
func (r *Registry) ClearEvents() {
	r.mu.Lock()
	r.events.clear()
	r.mu.Unlock()
}

// EventStats computes counts over the retained events.
func (r *Registry) EventStats() Stats {
	events := r.Events()
	stats := Stats{
		Total:     len(events),
		ByReason:  make(map[Reason]int),
		ByAccount: make(map[string]int),
	}
	if len(events) == 0 {
		return stats
	}
	now := r.nowFunc()()
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	stats.OldestTime = events[0].Timestamp
	stats.LatestTime = events[len(events)-1].Timestamp
	for _, e := range events {
		if e.Timestamp.After(hourAgo) {
			stats.LastHour++
		}
		if e.Timestamp.After(dayAgo) {
			stats.Last24h++
		}
		stats.ByReason[e.Reason]++
		stats.ByAccount[e.AccountID]++
	}
	return stats
}

func (r *Registry) nowFunc() func() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}
