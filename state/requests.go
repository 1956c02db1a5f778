// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import "github.com/hashicorp/graphsched/domain"

// ReductionTasks is a placeholder for the reduction-task delta a future
// fan-in/aggregation feature would populate. The allocator never produces
// any (spec.md §6): how graphs are compiled into task sets, including any
// reduction step, is out of scope here.
type ReductionTasks struct {
	Tasks []*domain.Task
}

// InvocationStateUpdate is a placeholder for per-invocation state deltas.
// The allocator never produces any either; it exists only so
// SchedulerUpdateRequest's shape matches spec.md §6 in full.
type InvocationStateUpdate struct{}

// SchedulerUpdateRequest is the delta TaskAllocator.Invoke hands back to its
// caller: everything that must be applied, atomically, to the durable state
// machine (spec.md §4.1, §6).
type SchedulerUpdateRequest struct {
	NewAllocations           []*domain.Allocation
	RemoveAllocations        []*domain.Allocation
	UpdatedTasks             []*domain.Task
	UpdatedInvocationsStates []InvocationStateUpdate
	ReductionTasks           ReductionTasks
	RemoveExecutors          []domain.ExecutorID
}

// Empty reports whether this delta has nothing for a caller to apply.
func (r *SchedulerUpdateRequest) Empty() bool {
	return r == nil ||
		(len(r.NewAllocations) == 0 &&
			len(r.RemoveAllocations) == 0 &&
			len(r.UpdatedTasks) == 0 &&
			len(r.RemoveExecutors) == 0)
}

// ApplySchedulerUpdate applies a SchedulerUpdateRequest to this
// InMemoryState. It is the concrete stand-in for the collaborator contract
// spec.md §4.1 describes only abstractly ("mutations ... are reflected back
// through an update request emitted to the durable state machine"); there
// is no durable store in this module; this keeps InMemoryState consistent
// after a TombStoneExecutor delta, which Invoke computes but does not apply
// directly (see TaskAllocator.tombstone's doc comment).
//
// A task transitioning to Pending is re-inserted into the unallocated
// index, matching invariant 1 in spec.md §3.
func (s *InMemoryState) ApplySchedulerUpdate(req *SchedulerUpdateRequest) error {
	if req == nil {
		return nil
	}
	txn := s.WriteTxn()
	defer txn.Abort()

	for _, a := range req.RemoveAllocations {
		if err := DeleteAllocation(txn, a); err != nil {
			return err
		}
	}
	for _, a := range req.NewAllocations {
		if err := InsertAllocation(txn, a); err != nil {
			return err
		}
	}
	for _, t := range req.UpdatedTasks {
		if err := UpsertTask(txn, t); err != nil {
			return err
		}
		if t.Status == domain.TaskStatusPending && !t.Outcome.IsTerminal() {
			if err := InsertUnallocatedTaskID(txn, domain.NewUnallocatedTaskID(t)); err != nil {
				return err
			}
		}
	}
	for _, id := range req.RemoveExecutors {
		if err := RemoveExecutor(txn, id); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}
