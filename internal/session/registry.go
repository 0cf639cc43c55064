package session

import (
	"sync"
	"time"

	"ag2api-go/internal/constants"
	"ag2api-go/internal/monitoring"
)

// Binding ties a session fingerprint to the pool account serving it.
type Binding struct {
	SessionID    string    `json:"sessionId"`
	AccountID    string    `json:"accountId"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
	LastUsedAt   time.Time `json:"lastUsedAt"`
	RequestCount int       `json:"requestCount"`
}

// Registry is the sticky-session table. Lookups never mutate; expired
// bindings are skipped on read and removed by CleanupExpired.
type Registry struct {
	mu       sync.Mutex
	bindings map[string]*Binding
	ttl      time.Duration
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
		ttl:      constants.DefaultSessionTTL,
		now:      time.Now,
	}
}

// RecordBinding upserts the binding for sessionID. A changed account rebinds
// the session; either way the usage counters advance.
func (r *Registry) RecordBinding(sessionID, accountID, email string) {
	if sessionID == "" {
		return
	}
	r.mu.Lock()
	now := r.now()
	b, ok := r.bindings[sessionID]
	if !ok || r.expired(b, now) {
		r.bindings[sessionID] = &Binding{
			SessionID:    sessionID,
			AccountID:    accountID,
			Email:        email,
			CreatedAt:    now,
			LastUsedAt:   now,
			RequestCount: 1,
		}
		size := len(r.bindings)
		r.mu.Unlock()
		monitoring.SessionBindings.Set(float64(size))
		return
	}
	if b.AccountID != accountID {
		b.AccountID = accountID
		b.Email = email
	}
	b.LastUsedAt = now
	b.RequestCount++
	r.mu.Unlock()
}

// Lookup returns the live binding for sessionID. Expired entries read as
// missing but stay in the map until CleanupExpired runs.
func (r *Registry) Lookup(sessionID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[sessionID]
	if !ok || r.expired(b, r.now()) {
		return Binding{}, false
	}
	return *b, true
}

// Unbind drops the binding, if any. The pool calls this when the bound
// account is cooled down and the scheduling mode forbids waiting.
func (r *Registry) Unbind(sessionID string) {
	r.mu.Lock()
	delete(r.bindings, sessionID)
	size := len(r.bindings)
	r.mu.Unlock()
	monitoring.SessionBindings.Set(float64(size))
}

// CleanupExpired removes bindings idle past the TTL and returns how many
// were dropped.
func (r *Registry) CleanupExpired() int {
	r.mu.Lock()
	now := r.now()
	removed := 0
	for id, b := range r.bindings {
		if r.expired(b, now) {
			delete(r.bindings, id)
			removed++
		}
	}
	size := len(r.bindings)
	r.mu.Unlock()
	monitoring.SessionBindings.Set(float64(size))
	return removed
}

// Count returns the number of live bindings.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, b := range r.bindings {
		if !r.expired(b, now) {
			n++
		}
	}
	return n
}

// Snapshot copies all live bindings for the monitor surface.
func (r *Registry) Snapshot() []Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := make([]Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		if !r.expired(b, now) {
			out = append(out, *b)
		}
	}
	return out
}

// SetTTL changes the idle eviction window. Existing bindings are judged
// against the new value on their next read.
func (r *Registry) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	r.mu.Lock()
	r.ttl = ttl
	r.mu.Unlock()
}

// TTL returns the current idle eviction window.
func (r *Registry) TTL() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl
}

// SetNowFunc overrides the clock for tests.
func (r *Registry) SetNowFunc(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

func (r *Registry) expired(b *Binding, now time.Time) bool {
	return now.Sub(b.LastUsedAt) >= r.ttl
}
