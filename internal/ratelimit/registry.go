package ratelimit

import (
	"math"
	"sync"
	"time"

	"ag2api-go/internal/monitoring"
	log "github.com/sirupsen/logrus"
)

// Reason classifies why an account entered cooldown.
type Reason string

const (
	QuotaExhausted    Reason = "QuotaExhausted"
	RateLimitExceeded Reason = "RateLimitExceeded"
	AccountForbidden  Reason = "AccountForbidden"
	ServerError       Reason = "ServerError"
)

// Record is one live cooldown. At most one exists per account.
type Record struct {
	Until      time.Time
	Reason     Reason
	RetrySec   int
	HTTPStatus int
}

// Registry tracks per-account cooldowns and an append-only event log. All
// methods are safe for concurrent use; reads that observe an expired record
// delete it.
type Registry struct {
	mu      sync.Mutex
	records map[string]Record

	events *eventRing

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]Record),
		events:  newEventRing(),
		now:     time.Now,
	}
}

// Mark computes a cooldown from the upstream response triplet and inserts it,
// overwriting any existing record for the account. It also appends an event.
func (r *Registry) Mark(accountID string, status int, retryAfterHeader, body string) Record {
	reason, seconds := classify(status, retryAfterHeader, body)

	r.mu.Lock()
	rec := Record{
		Until:      r.now().Add(time.Duration(seconds) * time.Second),
		Reason:     reason,
		RetrySec:   seconds,
		HTTPStatus: status,
	}
	r.records[accountID] = rec
	size := len(r.records)
	r.events.append(Event{
		AccountID:  accountID,
		Timestamp:  r.now(),
		HTTPStatus: status,
		Reason:     reason,
		RetrySec:   seconds,
		Body:       truncateBody(body),
	})
	r.mu.Unlock()

	monitoring.RateLimitedAccounts.Set(float64(size))
	monitoring.RateLimitEventsTotal.WithLabelValues(string(reason)).Inc()
	log.WithFields(log.Fields{
		"account": accountID,
		"status":  status,
		"reason":  reason,
		"seconds": seconds,
	}).Warn("account cooled down")
	return rec
}

// IsRateLimited reports whether the account has a live cooldown, purging it
// lazily once expired.
func (r *Registry) IsRateLimited(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[accountID]
	if !ok {
		return false
	}
	if !r.now().Before(rec.Until) {
		delete(r.records, accountID)
		monitoring.RateLimitedAccounts.Set(float64(len(r.records)))
		return false
	}
	return true
}

// RemainingSeconds returns the whole seconds left on the account's cooldown,
// zero when none is live.
func (r *Registry) RemainingSeconds(accountID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[accountID]
	if !ok {
		return 0
	}
	left := rec.Until.Sub(r.now()).Seconds()
	if left <= 0 {
		delete(r.records, accountID)
		monitoring.RateLimitedAccounts.Set(float64(len(r.records)))
		return 0
	}
	return int(math.Ceil(left))
}

// MinWaitSeconds returns the shortest live cooldown across the given
// accounts, or zero when none is cooled down.
func (r *Registry) MinWaitSeconds(accountIDs []string) int {
	min := 0
	for _, id := range accountIDs {
		if s := r.RemainingSeconds(id); s > 0 && (min == 0 || s < min) {
			min = s
		}
	}
	return min
}

// Clear removes the account's cooldown, if any.
func (r *Registry) Clear(accountID string) {
	r.mu.Lock()
	delete(r.records, accountID)
	size := len(r.records)
	r.mu.Unlock()
	monitoring.RateLimitedAccounts.Set(float64(size))
}

// ClearAll drops every cooldown (admin reset).
func (r *Registry) ClearAll() {
	r.mu.Lock()
	r.records = make(map[string]Record)
	r.mu.Unlock()
	monitoring.RateLimitedAccounts.Set(0)
}

// ActiveCount returns the number of live cooldowns.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for id, rec := range r.records {
		if now.Before(rec.Until) {
			n++
		} else {
			delete(r.records, id)
		}
	}
	return n
}

// Get returns the live record for an account.
func (r *Registry) Get(accountID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[accountID]
	if !ok || !r.now().Before(rec.Until) {
		return Record{}, false
	}
	return rec, true
}

// SetNowFunc overrides the clock for tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}
