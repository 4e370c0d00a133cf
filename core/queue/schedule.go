package queue

import (
	"fmt"
	"time"
)

// Schedule computes the next run of a periodic task.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

type intervalSchedule struct {
	interval time.Duration
}

// EveryInterval runs a task every d. Intervals below one second are rounded up.
func EveryInterval(d time.Duration) Schedule {
	if d < time.Second {
		d = time.Second
	}
	return intervalSchedule{interval: d}
}

func (s intervalSchedule) Next(after time.Time) time.Time {
	return after.Add(s.interval)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %s", s.interval)
}
