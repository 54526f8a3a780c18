package tracing

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LogTracer writes finished tasks to a logrus logger. Tasks that reached a
// "failed" step are logged at warning level, the rest at debug level.
type LogTracer struct {
	mu         sync.Mutex
	logger     logrus.FieldLogger
	timeTeller TimeTeller
	inflight   map[string]Task
}

// NewLogTracer creates a LogTracer.
func NewLogTracer(logger logrus.FieldLogger, timeTeller TimeTeller) *LogTracer {
	return &LogTracer{
		logger:     logger,
		timeTeller: timeTeller,
		inflight:   make(map[string]Task),
	}
}

// StartTask remembers the task until it ends.
func (t *LogTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.Now()
	t.inflight[task.ID] = task
}

// StepTask records the step on the in-flight task.
func (t *LogTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.inflight[task.ID]
	if !ok {
		return
	}

	original.Steps = append(original.Steps, task.Steps...)
	t.inflight[task.ID] = original
}

// EndTask logs the task.
func (t *LogTracer) EndTask(task Task) {
	t.mu.Lock()
	original, ok := t.inflight[task.ID]
	delete(t.inflight, task.ID)
	t.mu.Unlock()

	if !ok {
		return
	}

	failed := false
	steps := make([]string, 0, len(original.Steps))
	for _, s := range original.Steps {
		steps = append(steps, s.What)
		if s.What == "failed" {
			failed = true
		}
	}

	entry := t.logger.WithFields(logrus.Fields{
		"id":       original.ID,
		"kind":     original.Kind,
		"what":     original.What,
		"where":    original.Where,
		"steps":    steps,
		"duration": t.timeTeller.Now().Sub(original.StartTime),
	})
	if original.Detail != nil {
		entry = entry.WithField("detail", original.Detail)
	}

	if failed {
		entry.Warn("task failed")
		return
	}

	entry.Debug("task done")
}
