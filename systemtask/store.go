// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package systemtask drives bulk replay of a graph's past invocations: the
// "system task executor" of spec.md §4.2. It is a cooperative, single
// system-task-at-a-time loop that feeds bounded batches of invocations into
// the work pipeline and detects completion.
//
// Unlike allocator, which is purely synchronous over an in-memory index,
// Executor is asynchronous: its suspension points are exactly the Store
// calls and the context cancellation that signals shutdown (spec.md §5).
package systemtask

import (
	"context"

	"github.com/hashicorp/graphsched/domain"
)

// MaxPendingTasks bounds how many invocations a single iteration may queue,
// and is the pending count (as reported by Store.GetPendingSystemTasks) at
// or above which the driver backs off (spec.md §3 invariant 5, §4.2).
const MaxPendingTasks = 10

// ReplayInvocationsRequest asks the durable state machine to regenerate
// tasks for a batch of previously executed invocations, under the graph
// version current at request time. Replaying under a new version is what
// causes the regenerated tasks to pick up the new graph definition.
type ReplayInvocationsRequest struct {
	Namespace        string
	ComputeGraphName string
	GraphVersion     uint64
	InvocationIDs    []string
	RestartKey       *string
}

// RemoveSystemTaskRequest asks the durable state machine to delete a
// completed system task.
type RemoveSystemTaskRequest struct {
	Namespace        string
	ComputeGraphName string
}

// UpdateSystemTaskRequest asks the durable state machine to flip a system
// task's waiting_for_running_invocations flag. It is a one-shot
// transition: once true, re-sending it is a no-op from the driver's point
// of view (Store implementations should make it idempotent).
type UpdateSystemTaskRequest struct {
	Namespace                    string
	ComputeGraphName             string
	WaitingForRunningInvocations bool
}

// Store is the durable state machine's read/write surface, as consumed by
// the replay driver (spec.md §6). Its implementation — the persistent log
// layout, the wire format, how graphs compile into task sets — is owned
// entirely by the external collaborator; this package only ever calls
// through the interface.
type Store interface {
	// GetSystemTasks returns up to limit active system tasks. A nil limit
	// returns every system task. The driver only ever asks for the first
	// one (spec.md §4.2: "the design reserves the ability to support
	// concurrent system tasks later; for now only the first is
	// considered").
	GetSystemTasks(ctx context.Context, limit *int) ([]*domain.SystemTask, error)

	// GetPendingSystemTasks returns the current backpressure count the
	// driver must stay under (spec.md §3 invariant 5, §4.2 step 4).
	GetPendingSystemTasks(ctx context.Context) (int, error)

	// GetSystemTask re-reads a single system task by key, used by
	// handleCompletion to observe the latest NumRunningInvocations and
	// WaitingForRunningInvocations after queueing a batch.
	GetSystemTask(ctx context.Context, key domain.SystemTaskKey) (*domain.SystemTask, error)

	// ListInvocations lists invocations of (namespace, graph) starting
	// after restartKey, up to limit items, returning the next restart key
	// (nil once the listing is exhausted).
	ListInvocations(ctx context.Context, namespace, computeGraphName string, restartKey *string, limit int) ([]*domain.Invocation, *string, error)

	// ReplayInvocations emits a request to regenerate tasks for a batch of
	// invocations.
	ReplayInvocations(ctx context.Context, req ReplayInvocationsRequest) error

	// RemoveSystemTask emits a request to delete a completed system task.
	RemoveSystemTask(ctx context.Context, req RemoveSystemTaskRequest) error

	// UpdateSystemTask emits a request to update a system task's
	// waiting_for_running_invocations flag.
	UpdateSystemTask(ctx context.Context, req UpdateSystemTaskRequest) error

	// Watch returns a channel that is closed when something relevant to
	// system tasks changes (a new replay requested, an invocation
	// finished, ...). The driver waits on it between iterations. This
	// mirrors the closed-channel "blocking query" idiom the teacher repo
	// uses throughout for its own watch primitives.
	Watch() <-chan struct{}
}
