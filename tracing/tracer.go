package tracing

import "time"

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	StepTask(task Task)
	EndTask(task Task)
}

// A TimeTeller tells the time used to stamp tasks.
type TimeTeller interface {
	Now() time.Time
}

// WallClock is a TimeTeller backed by the system clock.
type WallClock struct{}

// Now returns the current system time.
func (WallClock) Now() time.Time {
	return time.Now()
}
