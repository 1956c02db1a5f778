// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package domain

// TaskStatus tracks where a Task is in its lifecycle.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskOutcome tracks the result of a Task once it stops running. Outcome is
// distinct from Status: a task can be Running with an Unknown outcome, or
// Pending after a reclaimed allocation even though it previously ran.
type TaskOutcome string

const (
	TaskOutcomeUnknown TaskOutcome = "unknown"
	TaskOutcomeSuccess TaskOutcome = "success"
	TaskOutcomeFailure TaskOutcome = "failure"
)

// IsTerminal reports whether no further allocation of the owning task should
// ever be attempted.
func (o TaskOutcome) IsTerminal() bool {
	return o == TaskOutcomeSuccess || o == TaskOutcomeFailure
}

// Task is one function-node activation within an invocation.
type Task struct {
	ID                 TaskID
	Namespace          string
	ComputeGraphName   string
	ComputeFnName      string
	InvocationID       string
	KeyComputeGraphVer uint64
	Status             TaskStatus
	Outcome            TaskOutcome
}

// KeyComputeGraphVersion returns the key of the ComputeGraphVersion this
// task was created against.
func (t *Task) KeyComputeGraphVersion() GraphVersionKey {
	return GraphVersionKey{
		Namespace:        t.Namespace,
		ComputeGraphName: t.ComputeGraphName,
		Version:          t.KeyComputeGraphVer,
	}
}

// Clone returns a shallow copy safe to mutate independently of the
// original (Task has no nested reference fields besides value types).
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// UnallocatedTaskID is the secondary-index handle used to dequeue Pending
// tasks without scanning the full task table. It is derived from a Task,
// never constructed independently of one.
type UnallocatedTaskID struct {
	TaskID TaskID
}

// NewUnallocatedTaskID derives the unallocated-index handle for a task.
func NewUnallocatedTaskID(t *Task) UnallocatedTaskID {
	return UnallocatedTaskID{TaskID: t.ID}
}
