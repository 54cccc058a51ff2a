// Package ratelimit enforces per-recipient and global sliding-window send limits.
//
// State is process-local and starts empty on every restart; several worker
// processes each enforce their own windows.
package ratelimit

import (
	"sync"
	"time"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

const (
	DefaultPerRecipientLimit  = 20
	DefaultPerRecipientWindow = time.Hour
	DefaultGlobalLimit        = 60
	DefaultGlobalWindow       = time.Minute
)

type Config struct {
	PerRecipientLimit  int
	PerRecipientWindow time.Duration
	GlobalLimit        int
	GlobalWindow       time.Duration
}

func DefaultConfig() Config {
	return Config{
		PerRecipientLimit:  DefaultPerRecipientLimit,
		PerRecipientWindow: DefaultPerRecipientWindow,
		GlobalLimit:        DefaultGlobalLimit,
		GlobalWindow:       DefaultGlobalWindow,
	}
}

// Limiter holds the send timestamps of both windows. A limit <= 0 disables that window.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu           sync.Mutex
	perRecipient map[string][]time.Time
	global       []time.Time
}

func New(cfg Config, now func() time.Time) *Limiter {
	if cfg.PerRecipientWindow <= 0 {
		cfg.PerRecipientWindow = DefaultPerRecipientWindow
	}
	if cfg.GlobalWindow <= 0 {
		cfg.GlobalWindow = DefaultGlobalWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		cfg:          cfg,
		now:          now,
		perRecipient: make(map[string][]time.Time),
	}
}

// CheckAllowed reports whether both windows have room for one more send to addr.
func (l *Limiter) CheckAllowed(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowedLocked(model.NormalizeAddress(addr), l.now())
}

// RecordSend counts one send to addr in both windows.
func (l *Limiter) RecordSend(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(model.NormalizeAddress(addr), l.now())
}

// Reserve checks and records in one step, so concurrent callers cannot
// overshoot a window. Cancel the reservation if the send does not happen.
func (l *Limiter) Reserve(addr string) (*Reservation, bool) {
	key := model.NormalizeAddress(addr)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.allowedLocked(key, now) {
		return nil, false
	}
	l.recordLocked(key, now)
	return &Reservation{limiter: l, addr: key, at: now}, true
}

// Cleanup drops timestamps that fell out of their window.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	for addr, ts := range l.perRecipient {
		kept := prune(ts, now.Add(-l.cfg.PerRecipientWindow))
		if len(kept) == 0 {
			delete(l.perRecipient, addr)
			continue
		}
		l.perRecipient[addr] = kept
	}
	l.global = prune(l.global, now.Add(-l.cfg.GlobalWindow))
}

// Stats is a point-in-time view of the windows.
type Stats struct {
	GlobalInWindow    int           `json:"global_in_window"`
	GlobalLimit       int           `json:"global_limit"`
	GlobalWindow      time.Duration `json:"global_window"`
	TrackedRecipients int           `json:"tracked_recipients"`
	At                time.Time     `json:"at"`
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	return Stats{
		GlobalInWindow:    count(l.global, now.Add(-l.cfg.GlobalWindow)),
		GlobalLimit:       l.cfg.GlobalLimit,
		GlobalWindow:      l.cfg.GlobalWindow,
		TrackedRecipients: len(l.perRecipient),
		At:                now,
	}
}

func (l *Limiter) allowedLocked(addr string, now time.Time) bool {
	if l.cfg.PerRecipientLimit > 0 &&
		count(l.perRecipient[addr], now.Add(-l.cfg.PerRecipientWindow)) >= l.cfg.PerRecipientLimit {
		return false
	}
	if l.cfg.GlobalLimit > 0 &&
		count(l.global, now.Add(-l.cfg.GlobalWindow)) >= l.cfg.GlobalLimit {
		return false
	}
	return true
}

func (l *Limiter) recordLocked(addr string, now time.Time) {
	l.perRecipient[addr] = append(l.perRecipient[addr], now)
	l.global = append(l.global, now)
}

// Reservation is a send slot taken by Reserve.
type Reservation struct {
	limiter *Limiter
	addr    string
	at      time.Time
	once    sync.Once
}

// Cancel gives the slot back. Safe to call more than once.
func (r *Reservation) Cancel() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		l := r.limiter
		l.mu.Lock()
		defer l.mu.Unlock()
		l.perRecipient[r.addr] = removeOne(l.perRecipient[r.addr], r.at)
		if len(l.perRecipient[r.addr]) == 0 {
			delete(l.perRecipient, r.addr)
		}
		l.global = removeOne(l.global, r.at)
	})
}

func count(ts []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range ts {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func removeOne(ts []time.Time, at time.Time) []time.Time {
	for i, t := range ts {
		if t.Equal(at) {
			return append(ts[:i], ts[i+1:]...)
		}
	}
	return ts
}
