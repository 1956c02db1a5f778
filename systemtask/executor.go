// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package systemtask

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/graphsched/domain"
)

// Executor is the replay driver: a single-threaded cooperative loop that
// watches a "system tasks changed" signal and ctx.Done() for shutdown, and
// for each pending system task either queues more invocations (bounded by
// MaxPendingTasks) or marks the task for completion (spec.md §4.2).
type Executor struct {
	store  Store
	logger hclog.Logger

	// maxPendingTasks is the effective backpressure bound; defaults to
	// MaxPendingTasks.
	maxPendingTasks int

	// idleLogInterval, if positive, makes Run emit a heartbeat log line on
	// this cadence while it is blocked waiting for store.Watch() or
	// ctx.Done(). Zero disables it.
	idleLogInterval time.Duration
}

// New builds a replay driver over store.
func New(store Store, logger hclog.Logger) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{
		store:           store,
		logger:          logger.Named("system_task_executor"),
		maxPendingTasks: MaxPendingTasks,
	}
}

// WithMaxPendingTasks overrides the backpressure bound, letting deployments
// tune it (config.Config.MaxPendingSystemTasks) without recompiling. A
// non-positive value is ignored.
func (e *Executor) WithMaxPendingTasks(n int) *Executor {
	if n > 0 {
		e.maxPendingTasks = n
	}
	return e
}

// WithIdleLogInterval sets how often Run logs a heartbeat while blocked
// waiting for work (config.Config.IdleInterval). A non-positive value
// disables the heartbeat.
func (e *Executor) WithIdleLogInterval(d time.Duration) *Executor {
	e.idleLogInterval = d
	return e
}

// Run performs one iteration immediately, then loops: a change on
// store.Watch() wakes it for another iteration, ctx.Done() terminates it.
// An iteration error is logged and the loop continues; it is never fatal
// except shutdown (spec.md §4.2, §7).
func (e *Executor) Run(ctx context.Context) error {
	for {
		if err := e.RunIteration(ctx); err != nil {
			e.logger.Error("error processing system tasks work", "error", err)
		}

		if err := e.waitForWork(ctx); err != nil {
			return err
		}
	}
}

// waitForWork blocks until store.Watch() fires or ctx is done, logging a
// heartbeat every idleLogInterval in between if one is configured.
func (e *Executor) waitForWork(ctx context.Context) error {
	var idle <-chan time.Time
	if e.idleLogInterval > 0 {
		ticker := time.NewTicker(e.idleLogInterval)
		defer ticker.Stop()
		idle = ticker.C
	}

	for {
		select {
		case <-e.store.Watch():
			return nil
		case <-ctx.Done():
			e.logger.Info("system task executor shutting down")
			return ctx.Err()
		case <-idle:
			e.logger.Debug("idle, waiting for system task changes")
		}
	}
}

// RunIteration performs one iteration of the driver loop: read at most one
// active system task, and either idle, hand it to handleCompletion, or
// queue another batch of invocations (spec.md §4.2 "One iteration").
func (e *Executor) RunIteration(ctx context.Context) error {
	limit := 1
	tasks, err := e.store.GetSystemTasks(ctx, &limit)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		e.logger.Debug("no system tasks to process")
		return nil
	}
	task := tasks[0]
	logger := e.logger.With("namespace", task.Namespace, "compute_graph", task.ComputeGraphName)

	if task.WaitingForRunningInvocations {
		return e.handleCompletion(ctx, task.Key())
	}

	pending, err := e.store.GetPendingSystemTasks(ctx)
	if err != nil {
		return err
	}
	if pending >= e.maxPendingTasks {
		logger.Info("max pending tasks reached", "pending_tasks", pending)
		return nil
	}

	allQueued, err := e.queueInvocations(ctx, task, pending)
	if err != nil {
		return err
	}
	if allQueued {
		return e.handleCompletion(ctx, task.Key())
	}
	return nil
}

// queueInvocations lists up to MaxPendingTasks-pending invocations starting
// from task's restart key, emits a single ReplayInvocations request
// carrying the graph's current version, and reports whether the listing
// was exhausted (spec.md §4.2 "queue_invocations"). It is not retried
// within the iteration: a failure here surfaces to RunIteration's caller,
// and the next wakeup will observe the same unchanged restart key.
func (e *Executor) queueInvocations(ctx context.Context, task *domain.SystemTask, pending int) (bool, error) {
	limit := e.maxPendingTasks - pending
	invocations, restartKey, err := e.store.ListInvocations(ctx, task.Namespace, task.ComputeGraphName, task.RestartKey, limit)
	if err != nil {
		return false, err
	}

	e.logger.Info("queueing invocations", "queuing", len(invocations))

	ids := make([]string, len(invocations))
	for i, inv := range invocations {
		ids[i] = inv.ID
	}

	if err := e.store.ReplayInvocations(ctx, ReplayInvocationsRequest{
		Namespace:        task.Namespace,
		ComputeGraphName: task.ComputeGraphName,
		GraphVersion:     task.GraphVersion,
		InvocationIDs:    ids,
		RestartKey:       restartKey,
	}); err != nil {
		return false, err
	}

	return restartKey == nil, nil
}

// handleCompletion re-reads the system task and either removes it (no
// invocations still running) or, the first time through, flips
// waiting_for_running_invocations so the rest of the system knows to
// remove it once the last running invocation finishes (spec.md §4.2
// "handle_completion"). Idempotent if the flag is already set.
func (e *Executor) handleCompletion(ctx context.Context, key domain.SystemTaskKey) error {
	task, err := e.store.GetSystemTask(ctx, key)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	if task.NumRunningInvocations == 0 {
		e.logger.Info("completed", "namespace", key.Namespace, "compute_graph", key.ComputeGraphName)
		return e.store.RemoveSystemTask(ctx, RemoveSystemTaskRequest{
			Namespace:        key.Namespace,
			ComputeGraphName: key.ComputeGraphName,
		})
	}

	e.logger.Info("waiting for all invocations to finish before completing the task",
		"running_invocations", task.NumRunningInvocations)

	if task.WaitingForRunningInvocations {
		return nil
	}
	return e.store.UpdateSystemTask(ctx, UpdateSystemTaskRequest{
		Namespace:                    key.Namespace,
		ComputeGraphName:             key.ComputeGraphName,
		WaitingForRunningInvocations: true,
	})
}
