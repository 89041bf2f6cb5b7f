package session

import "time"

// Clock abstracts wall-clock access so tests can drive time deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the production wall clock.
var SystemClock Clock = systemClock{}

// Remaining returns the time left until deadline, clamped at zero. It is
// always recomputed from the absolute deadline rather than decremented, so a
// suspended or throttled client can never desynchronize the displayed time
// from the true deadline.
func Remaining(now, deadline time.Time) time.Duration {
	if !now.Before(deadline) {
		return 0
	}
	return deadline.Sub(now)
}
