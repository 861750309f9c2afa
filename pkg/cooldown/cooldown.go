// Package cooldown implements a minimum-interval gate used to throttle
// repeated warnings (the interrupt controller's spurious-interrupt counter)
// so that a flood of identical events produces at most one log line per
// interval.
package cooldown

import "time"

// Cooldown gates events to at most once per Interval. The zero value is not
// armed until Init is called.
type Cooldown struct {
	interval        time.Duration
	nextAllowedTick time.Time
	initialized     bool
}

// New returns a Cooldown with the given interval, ready to use.
func New(interval time.Duration) *Cooldown {
	c := &Cooldown{}
	c.Init(interval)
	return c
}

// Init (re)initializes the cooldown with interval, resetting its schedule.
func (c *Cooldown) Init(interval time.Duration) {
	c.interval = interval
	c.nextAllowedTick = time.Time{}
	c.initialized = true
}

// SetInterval updates the interval without resetting the current schedule.
func (c *Cooldown) SetInterval(interval time.Duration) {
	c.interval = interval
}

// TryArm reports whether the cooldown has expired as of now; if so it arms
// a new window of Interval starting at now and returns true. Only one
// caller per expired window will observe true.
func (c *Cooldown) TryArm(now time.Time) bool {
	if !c.initialized {
		return false
	}
	if now.Before(c.nextAllowedTick) {
		return false
	}
	c.nextAllowedTick = now.Add(c.interval)
	return true
}

// Ready reports whether the cooldown has expired as of now, without arming
// it.
func (c *Cooldown) Ready(now time.Time) bool {
	if !c.initialized {
		return false
	}
	return !now.Before(c.nextAllowedTick)
}

// Remaining returns how long until the cooldown next expires, or 0 if it
// is already ready or uninitialized.
func (c *Cooldown) Remaining(now time.Time) time.Duration {
	if !c.initialized || !now.Before(c.nextAllowedTick) {
		return 0
	}
	return c.nextAllowedTick.Sub(now)
}
