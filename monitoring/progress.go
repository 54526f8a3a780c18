package monitoring

import (
	"sync"
	"time"
)

// A ProgressBar counts the processes of a run that are running and that have
// finished.
type ProgressBar struct {
	mu         sync.Mutex
	id         string
	name       string
	startTime  time.Time
	total      uint64
	finished   uint64
	inProgress uint64
}

// ProgressInfo is what the monitor reports about a progress bar.
type ProgressInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	Total      uint64    `json:"total"`
	Finished   uint64    `json:"finished"`
	InProgress uint64    `json:"in_progress"`
}

// IncrementInProgress marks amount more items as started.
func (b *ProgressBar) IncrementInProgress(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inProgress += amount
}

// MoveInProgressToFinished marks amount started items as finished.
func (b *ProgressBar) MoveInProgressToFinished(amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if amount > b.inProgress {
		panic("finishing more items than in progress")
	}

	b.inProgress -= amount
	b.finished += amount
}

// Info returns a consistent copy of the counters.
func (b *ProgressBar) Info() ProgressInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	return ProgressInfo{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.startTime,
		Total:      b.total,
		Finished:   b.finished,
		InProgress: b.inProgress,
	}
}
