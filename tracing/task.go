package tracing

import "time"

// A TaskStep represents a milestone in the processing of task
type TaskStep struct {
	Time time.Time `json:"time"`
	What string    `json:"what"`
}

// A Task is a unit of memory-manager work, such as the resolution of a page
// fault or the eviction of a frame.
type Task struct {
	ID        string     `json:"id"`
	ParentID  string     `json:"parent_id"`
	Kind      string     `json:"kind"`
	What      string     `json:"what"`
	Where     string     `json:"where"`
	StartTime time.Time  `json:"start_time"`
	EndTime   time.Time  `json:"end_time"`
	Steps     []TaskStep `json:"steps"`
	Detail    any        `json:"-"`
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// AcceptAll is a TaskFilter that keeps every task.
func AcceptAll(Task) bool { return true }

// HasKind returns a TaskFilter that keeps tasks of the given kind.
func HasKind(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}
