package memorylimiter

import (
	"context"
	"sync"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
)

// DefaultCooldown is how long a JWKS URI stays blocked after a failed lookup.
const DefaultCooldown = 10 * time.Second

type cooldownState struct {
	until time.Time
	timer *time.Timer
}

// PenaltyBox is an in-memory cooldown registry for JWKS URIs. An entry
// exists only while its URI cools down and removes itself on expiry.
type PenaltyBox struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*cooldownState
	now     func() time.Time
}

// New constructs a penalty box; window <= 0 uses DefaultCooldown.
func New(window time.Duration) *PenaltyBox {
	if window <= 0 {
		window = DefaultCooldown
	}
	return &PenaltyBox{
		window:  window,
		entries: make(map[string]*cooldownState),
		now:     time.Now,
	}
}

// AwaitClearance fails immediately while uri is cooling down. It never waits.
func (p *PenaltyBox) AwaitClearance(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.entries[uri]
	if !ok {
		return nil
	}
	now := p.now()
	if !now.Before(st.until) {
		st.timer.Stop()
		delete(p.entries, uri)
		return nil
	}
	return jwtkit.NewError(jwtkit.KindCooldownActive, "jwks fetch for %s suppressed for another %s", uri, st.until.Sub(now).Round(time.Millisecond))
}

// RecordFailure (re)starts the cooldown for uri.
func (p *PenaltyBox) RecordFailure(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.entries[uri]; ok {
		st.timer.Stop()
	}
	st := &cooldownState{until: p.now().Add(p.window)}
	st.timer = time.AfterFunc(p.window, func() { p.expire(uri, st) })
	p.entries[uri] = st
	return nil
}

// RecordSuccess clears any cooldown for uri.
func (p *PenaltyBox) RecordSuccess(_ context.Context, uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.entries[uri]; ok {
		st.timer.Stop()
		delete(p.entries, uri)
	}
	return nil
}

// Len reports how many URIs are cooling down.
func (p *PenaltyBox) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// expire removes st only if it is still the current entry for uri.
func (p *PenaltyBox) expire(uri string, st *cooldownState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.entries[uri]; ok && cur == st {
		delete(p.entries, uri)
	}
}
