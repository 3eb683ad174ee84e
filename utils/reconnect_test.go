package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleBackoffOrder(t *testing.T) {
	b := NewScheduleBackoff()

	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, b.NextDelay(), "attempt %d", i+1)
	}
	// Schedule exhausted: the last value is reused.
	assert.Equal(t, 8*time.Second, b.NextDelay())
	assert.Equal(t, 8*time.Second, b.NextDelay())
}

func TestScheduleBackoffReset(t *testing.T) {
	b := NewScheduleBackoff()
	for i := 0; i < 4; i++ {
		b.NextDelay()
	}
	b.Reset()
	assert.Equal(t, 500*time.Millisecond, b.NextDelay())
}

func TestScheduleBackoffCustom(t *testing.T) {
	b := NewScheduleBackoff(time.Millisecond, 2*time.Millisecond)
	assert.Equal(t, time.Millisecond, b.NextDelay())
	assert.Equal(t, 2*time.Millisecond, b.NextDelay())
	assert.Equal(t, 2*time.Millisecond, b.NextDelay())
}
