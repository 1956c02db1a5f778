// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package allocator implements the task placement half of the scheduler:
// given an in-memory index of executors, tasks, and allocations, assign
// unallocated tasks to executors within capacity and allowlist constraints,
// and reclaim allocations when an executor is tombstoned. See spec.md §4.1.
//
// TaskAllocator is purely synchronous over InMemoryState and exposes no
// suspension points (spec.md §5, §9 "Async in the driver, sync in the
// allocator"): it can be called while the caller holds a mutation lock
// around the whole in-memory index without risking deadlock.
package allocator

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/state"
)

// MaxAllocationsPerExecutor bounds how many Allocations a single executor
// may carry at once (spec.md §3 invariant 2).
const MaxAllocationsPerExecutor = 20

// TaskAllocator consumes ChangeType events and produces the
// SchedulerUpdateRequest delta the caller must apply.
type TaskAllocator struct {
	logger hclog.Logger

	// maxAllocationsPerExecutor is the effective per-executor capacity
	// bound; defaults to MaxAllocationsPerExecutor.
	maxAllocationsPerExecutor int
}

// New builds a TaskAllocator. A nil logger falls back to a discarding
// logger so the allocator is usable without ceremony in tests.
func New(logger hclog.Logger) *TaskAllocator {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &TaskAllocator{
		logger:                    logger.Named("task_allocator"),
		maxAllocationsPerExecutor: MaxAllocationsPerExecutor,
	}
}

// WithMaxAllocationsPerExecutor overrides the per-executor capacity bound,
// letting deployments tune it (config.Config.MaxAllocationsPerExecutor)
// without recompiling. A non-positive value is ignored.
func (a *TaskAllocator) WithMaxAllocationsPerExecutor(n int) *TaskAllocator {
	if n > 0 {
		a.maxAllocationsPerExecutor = n
	}
	return a
}

// placementResult is the internal shape schedule_tasks builds up; Invoke
// folds it into the externally-visible SchedulerUpdateRequest.
type placementResult struct {
	newAllocations    []*domain.Allocation
	removeAllocations []*domain.Allocation
	updatedTasks      []*domain.Task
}

// Invoke dispatches a ChangeType event to the allocation or reclamation
// path and returns the resulting delta. The only change kinds handled are
// ExecutorAdded, ExecutorRemoved, and TombStoneExecutor; anything else is a
// structural failure returned to the caller (spec.md §4.1, §7).
func (a *TaskAllocator) Invoke(change domain.ChangeType, s *state.InMemoryState) (*state.SchedulerUpdateRequest, error) {
	switch ev := change.(type) {
	case domain.ExecutorAdded, domain.ExecutorRemoved:
		result, err := a.allocate(s)
		if err != nil {
			return nil, err
		}
		return &state.SchedulerUpdateRequest{
			NewAllocations:    result.newAllocations,
			RemoveAllocations: result.removeAllocations,
			UpdatedTasks:      result.updatedTasks,
		}, nil

	case domain.TombStoneExecutor:
		return a.tombstone(s, ev.ExecutorID), nil

	default:
		a.logger.Error("unhandled change type", "change", fmt.Sprintf("%T", change))
		return nil, fmt.Errorf("unhandled change type: %T", change)
	}
}

// tombstone reclaims every allocation on the given executor without
// reallocating anything. It deliberately does not mutate s directly: the
// Rust original this was distilled from only builds the delta here, leaving
// InMemoryState in sync to the caller applying the returned request (see
// state.InMemoryState.ApplySchedulerUpdate). allocate, by contrast, mutates
// inline because it must see its own earlier allocations within the same
// pass (see allocate's doc comment).
func (a *TaskAllocator) tombstone(s *state.InMemoryState, executorID domain.ExecutorID) *state.SchedulerUpdateRequest {
	txn := s.ReadTxn()
	defer txn.Abort()

	allocations, err := state.AllocationsByExecutor(txn, executorID)
	if err != nil {
		// ReadTxn lookups on a well-formed schema do not fail; treat as no
		// allocations rather than propagating, since this path must not
		// return a per-task/per-executor error (spec.md §7).
		a.logger.Error("failed to list allocations for tombstoned executor", "executor_id", executorID, "error", err)
		allocations = nil
	}

	removeAllocations := make([]*domain.Allocation, 0, len(allocations))
	updatedTasks := make([]*domain.Task, 0, len(allocations))

	for _, alloc := range allocations {
		removeAllocations = append(removeAllocations, alloc)

		task, err := state.GetTask(txn, alloc.TaskID)
		if err != nil || task == nil {
			a.logger.Error("task of allocation not found in indexes", "task_id", alloc.TaskID)
			continue
		}
		reclaimed := task.Clone()
		reclaimed.Status = domain.TaskStatusPending
		updatedTasks = append(updatedTasks, reclaimed)
	}

	return &state.SchedulerUpdateRequest{
		RemoveAllocations: removeAllocations,
		UpdatedTasks:      updatedTasks,
		RemoveExecutors:   []domain.ExecutorID{executorID},
	}
}

// allocate snapshots the unallocated-task index, resolves each id to a
// Task, and hands the live tasks to schedule_tasks. Missing tasks are
// logged and skipped (spec.md §4.1 "allocation pass").
func (a *TaskAllocator) allocate(s *state.InMemoryState) (*placementResult, error) {
	txn := s.WriteTxn()

	unallocatedIDs, err := state.UnallocatedTaskIDs(txn)
	if err != nil {
		txn.Abort()
		return nil, fmt.Errorf("list unallocated tasks: %w", err)
	}

	var tasks []*domain.Task
	for _, id := range unallocatedIDs {
		task, err := state.GetTask(txn, id.TaskID)
		if err != nil {
			txn.Abort()
			return nil, fmt.Errorf("lookup task %s: %w", id.TaskID, err)
		}
		if task == nil {
			a.logger.Error("task not found in indexes for unallocated task", "task_id", id.TaskID)
			continue
		}
		tasks = append(tasks, task)
	}

	if len(tasks) == 0 {
		txn.Abort()
		return &placementResult{}, nil
	}

	result, err := a.scheduleTasks(txn, tasks)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	txn.Commit()
	return result, nil
}

