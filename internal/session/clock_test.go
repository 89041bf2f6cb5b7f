package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemainingClampsAtZero(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, 30*time.Minute, Remaining(deadline.Add(-30*time.Minute), deadline))
	assert.Equal(t, time.Duration(0), Remaining(deadline, deadline))
	assert.Equal(t, time.Duration(0), Remaining(deadline.Add(time.Hour), deadline))
}

func TestRemainingNonIncreasing(t *testing.T) {
	deadline := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	now := deadline.Add(-10 * time.Second)

	prev := Remaining(now, deadline)
	for i := 0; i < 15; i++ {
		now = now.Add(time.Second)
		rem := Remaining(now, deadline)
		assert.LessOrEqual(t, rem, prev)
		assert.GreaterOrEqual(t, rem, time.Duration(0))
		prev = rem
	}
	assert.Equal(t, time.Duration(0), prev)
}
