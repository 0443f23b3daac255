// Package idlecheck implements the periodic idle-tick supervision shared
// by every adaptation/relay loop: a fixed-interval ticker that consults
// a set of watched legs and decides whether the surrounding task should
// quit for inactivity.
package idlecheck

import "time"

// DefaultCheckDuration is used when a caller configures a zero interval.
const DefaultCheckDuration = 60 * time.Second

// MaximumCheckDuration caps an operator-configured interval so a
// misconfigured value cannot silently disable idle supervision.
const MaximumCheckDuration = 5 * time.Minute

// DefaultMaxCount is the number of consecutive all-idle ticks tolerated
// before Supervisor.Tick reports the task should quit.
const DefaultMaxCount = 5

// Leg is anything the supervisor can ask whether it made progress since
// the last tick; streamcopy.Copy and the icap driver's per-leg
// trackers both satisfy this shape.
type Leg interface {
	IsActive() bool
	ResetActive()
}

// Config controls the tick interval and how many consecutive idle ticks
// are tolerated before Supervisor.Tick signals quit.
type Config struct {
	// CheckDuration is the tick interval (config key
	// task_idle_check_duration); 0 uses DefaultCheckDuration, and any
	// value above MaximumCheckDuration is clamped down to it.
	CheckDuration time.Duration
	// MaxCount is the consecutive-idle-tick threshold (config key
	// task_idle_max_count); 0 uses DefaultMaxCount.
	MaxCount int
}

func (c Config) interval() time.Duration {
	d := c.CheckDuration
	if d <= 0 {
		d = DefaultCheckDuration
	}
	if d > MaximumCheckDuration {
		d = MaximumCheckDuration
	}
	return d
}

func (c Config) maxCount() int {
	if c.MaxCount <= 0 {
		return DefaultMaxCount
	}
	return c.MaxCount
}

// Supervisor owns the idle ticker and the consecutive-idle counter for
// one task's set of watched legs. An idle verdict is only reached after
// a tick that observed every leg idle for the tick's entire interval;
// any leg reporting activity resets the counter, since ResetActive is
// called on every leg every tick regardless of the verdict.
type Supervisor struct {
	legs      []Leg
	maxCount  int
	idleCount int
	ticker    *time.Ticker
}

// New starts a Supervisor ticking at cfg's interval, watching legs.
func New(cfg Config, legs ...Leg) *Supervisor {
	return &Supervisor{
		legs:     legs,
		maxCount: cfg.maxCount(),
		ticker:   time.NewTicker(cfg.interval()),
	}
}

// C exposes the underlying ticker channel for the orchestrator's select.
func (s *Supervisor) C() <-chan time.Time { return s.ticker.C }

// Stop releases the underlying ticker. Safe to call once Run's caller
// is done with the Supervisor.
func (s *Supervisor) Stop() { s.ticker.Stop() }

// Tick consults every watched leg, resets each leg's activity flag for
// the next interval, and reports whether the consecutive-idle count has
// reached the configured threshold.
func (s *Supervisor) Tick() (quit bool) {
	allIdle := true
	for _, leg := range s.legs {
		if leg.IsActive() {
			allIdle = false
		}
		leg.ResetActive()
	}

	if allIdle {
		s.idleCount++
	} else {
		s.idleCount = 0
	}
	return s.idleCount >= s.maxCount
}

// IdleCount reports the current consecutive-idle-tick count.
func (s *Supervisor) IdleCount() int { return s.idleCount }
