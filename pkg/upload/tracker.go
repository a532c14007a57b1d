// Package upload performs the out-of-band attachment byte transfers
// and tracks their progress.
package upload

import (
	"context"
	"sync"
)

// Status is the lifecycle state of one tracked transfer.
type Status string

const (
	StatusStarted  Status = "started"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
	StatusFinished Status = "finished"
)

// Task is a point-in-time snapshot of one in-flight transfer.
type Task struct {
	AttachmentID string
	Progress     float64
	Status       Status
}

type trackedTask struct {
	task   Task
	cancel context.CancelFunc
}

// Tracker is the short-lived registry of in-flight transfer handles,
// keyed by attachment id. It is the sole owner of the cancel handles;
// callers only ever see Task snapshots.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*trackedTask
}

// NewTracker initializes an empty registry.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*trackedTask)}
}

// Start registers a transfer at progress zero.
func (t *Tracker) Start(attachmentID string, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks[attachmentID] = &trackedTask{
		task:   Task{AttachmentID: attachmentID, Status: StatusStarted},
		cancel: cancel,
	}
}

// Update records a progress fraction in [0,1].
func (t *Tracker) Update(attachmentID string, fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.tasks[attachmentID]; ok {
		entry.task.Progress = fraction
		entry.task.Status = StatusRunning
	}
}

// MarkError flags a transfer that reached terminal failure but has not
// been removed yet.
func (t *Tracker) MarkError(attachmentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.tasks[attachmentID]; ok {
		entry.task.Status = StatusError
	}
}

// Finish removes the entry; terminal success and failure both end
// here.
func (t *Tracker) Finish(attachmentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tasks, attachmentID)
}

// Cancel aborts an in-flight transfer. The abort surfaces through the
// upload's own failure path, which removes the entry.
func (t *Tracker) Cancel(attachmentID string) {
	t.mu.Lock()
	entry, ok := t.tasks[attachmentID]
	t.mu.Unlock()
	if ok && entry.cancel != nil {
		entry.cancel()
	}
}

// Get returns a snapshot of the tracked transfer.
func (t *Tracker) Get(attachmentID string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[attachmentID]
	if !ok {
		return Task{}, false
	}
	return entry.task, true
}

// Len reports the number of in-flight transfers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
