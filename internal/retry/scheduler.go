// Package retry decides what happens to a message after a failed or deferred send.
package retry

import (
	"time"
)

// DefaultSchedule is the backoff table in seconds, indexed by attempt number - 1.
var DefaultSchedule = []int{250, 500, 1000, 2000, 4000}

const (
	DefaultMaxAttempts        = 5
	DefaultRateLimitDelay     = time.Hour
	DefaultNotApprovedDelay   = 5 * time.Minute
	DefaultMisconfiguredDelay = 5 * time.Minute
)

// Action is the outcome of a failure decision.
type Action int

const (
	// Retry re-queues the message for a later attempt.
	Retry Action = iota
	// Fail marks the message permanently failed.
	Fail
)

func (a Action) String() string {
	if a == Retry {
		return "retry"
	}
	return "fail"
}

// Decision describes the next state after a failed delivery attempt.
type Decision struct {
	Action      Action
	Attempts    int
	Delay       time.Duration
	NextRetryAt time.Time
}

type Config struct {
	MaxAttempts        int
	Schedule           []time.Duration
	RateLimitDelay     time.Duration
	NotApprovedDelay   time.Duration
	MisconfiguredDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:        DefaultMaxAttempts,
		Schedule:           Seconds(DefaultSchedule),
		RateLimitDelay:     DefaultRateLimitDelay,
		NotApprovedDelay:   DefaultNotApprovedDelay,
		MisconfiguredDelay: DefaultMisconfiguredDelay,
	}
}

// Seconds converts a table of seconds to durations.
func Seconds(table []int) []time.Duration {
	out := make([]time.Duration, len(table))
	for i, s := range table {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

type Scheduler struct {
	cfg Config
}

func NewScheduler(cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = def.Schedule
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = def.RateLimitDelay
	}
	if cfg.NotApprovedDelay <= 0 {
		cfg.NotApprovedDelay = def.NotApprovedDelay
	}
	if cfg.MisconfiguredDelay <= 0 {
		cfg.MisconfiguredDelay = def.MisconfiguredDelay
	}
	return &Scheduler{cfg: cfg}
}

func (s *Scheduler) MaxAttempts() int { return s.cfg.MaxAttempts }

// Backoff returns the wait after the given (1-based) failed attempt.
// Attempts past the end of the table reuse its last entry.
func (s *Scheduler) Backoff(attempt int) time.Duration {
	idx := min(max(attempt-1, 0), len(s.cfg.Schedule)-1)
	return s.cfg.Schedule[idx]
}

// OnFailure decides the next state of a message that has completed `attempts`
// attempts before the one that just failed.
func (s *Scheduler) OnFailure(attempts int, retryable bool, now time.Time) Decision {
	n := attempts + 1
	if !retryable || n >= s.cfg.MaxAttempts {
		return Decision{Action: Fail, Attempts: n}
	}
	delay := s.Backoff(n)
	return Decision{Action: Retry, Attempts: n, Delay: delay, NextRetryAt: now.Add(delay)}
}

// RateLimited reschedules without consuming an attempt.
func (s *Scheduler) RateLimited(now time.Time) time.Time {
	return now.Add(s.cfg.RateLimitDelay)
}

// NotApproved reschedules a message whose campaign may not send yet.
func (s *Scheduler) NotApproved(now time.Time) time.Time {
	return now.Add(s.cfg.NotApprovedDelay)
}

// Misconfigured reschedules a message the worker cannot send while degraded.
func (s *Scheduler) Misconfigured(now time.Time) time.Time {
	return now.Add(s.cfg.MisconfiguredDelay)
}
