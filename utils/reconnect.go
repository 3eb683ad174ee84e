package utils

import "time"

type ReconnectStrategy interface {
	NextDelay() time.Duration
	Reset()
}

// ScheduleBackoff walks a fixed ordered list of wait durations. The index
// advances on every consecutive failure and the last entry is reused once
// the schedule is exhausted. Reset returns to the first entry.
type ScheduleBackoff struct {
	schedule []time.Duration
	index    int
}

func NewScheduleBackoff(schedule ...time.Duration) *ScheduleBackoff {
	if len(schedule) == 0 {
		schedule = []time.Duration{
			500 * time.Millisecond,
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
		}
	}
	return &ScheduleBackoff{schedule: schedule}
}

func (b *ScheduleBackoff) NextDelay() time.Duration {
	d := b.schedule[b.index]
	if b.index < len(b.schedule)-1 {
		b.index++
	}
	return d
}

func (b *ScheduleBackoff) Reset() {
	b.index = 0
}
