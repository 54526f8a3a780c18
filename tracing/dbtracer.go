package tracing

import (
	"strings"
	"sync"
	"time"

	"github.com/sarchlab/vmcore/datarecording"
)

// TaskTableName is the table that the DBTracer writes finished tasks into.
const TaskTableName = "vm_tasks"

// TaskEntry is a row of the task table.
type TaskEntry struct {
	ID        string  `json:"id" vmcore_data:"unique"`
	ParentID  string  `json:"parent_id" vmcore_data:"index"`
	Kind      string  `json:"kind" vmcore_data:"index"`
	What      string  `json:"what" vmcore_data:"index"`
	Location  string  `json:"location" vmcore_data:"index"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Steps     string  `json:"steps"`
}

// DBTracer is a tracer that can store tasks into a database.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]Task
}

// NewDBTracer creates a new DBTracer and the table it writes to.
func NewDBTracer(
	backend datarecording.DataRecorder,
	timeTeller TimeTeller,
) *DBTracer {
	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      backend,
		tracingTasks: make(map[string]Task),
	}

	backend.CreateTable(TaskTableName, TaskEntry{})

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.Now()
	t.tracingTasks[task.ID] = task
}

// StepTask records a milestone of an in-flight task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = t.timeTeller.Now()
		original.Steps = append(original.Steps, step)
	}

	t.tracingTasks[task.ID] = original
}

// EndTask marks the end of a task and writes it to the backend.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)
	original.EndTime = t.timeTeller.Now()

	t.backend.InsertData(TaskTableName, toTaskTableEntry(original))
}

// Flush writes all buffered tasks to the database.
func (t *DBTracer) Flush() {
	t.backend.Flush()
}

func toTaskTableEntry(task Task) TaskEntry {
	steps := make([]string, 0, len(task.Steps))
	for _, s := range task.Steps {
		steps = append(steps, s.What)
	}

	return TaskEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: toSeconds(task.StartTime),
		EndTime:   toSeconds(task.EndTime),
		Steps:     strings.Join(steps, ","),
	}
}

func toSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
