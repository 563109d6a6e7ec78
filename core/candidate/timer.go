package candidate

import "time"

// Countdown is the time box of a module. A zero Limit never expires.
type Countdown struct {
	StartedAt time.Time
	Limit     time.Duration
}

func (c Countdown) Deadline() time.Time {
	return c.StartedAt.Add(c.Limit)
}

func (c Countdown) Expired(now time.Time) bool {
	if c.Limit <= 0 {
		return false
	}
	return !now.Before(c.Deadline())
}

// Remaining is the time left before the deadline, never negative.
func (c Countdown) Remaining(now time.Time) time.Duration {
	if c.Limit <= 0 {
		return 0
	}
	if d := c.Deadline().Sub(now); d > 0 {
		return d
	}
	return 0
}
