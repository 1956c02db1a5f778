// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocator

import (
	"fmt"
	"math/rand"

	"github.com/hashicorp/go-memdb"
	"github.com/hashicorp/go-set/v3"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/state"
)

// scheduleTasks is the capacity-bounded admission loop (spec.md §4.1). It
// processes tasks in the order they were handed in (the order the
// unallocated index yielded them) and mutates txn in place as it goes:
// each successful allocation is inserted, the owning task flipped to
// Running and removed from the unallocated index, before the next task is
// considered, so capacity accounting for later tasks reflects allocations
// made earlier in the same pass.
func (a *TaskAllocator) scheduleTasks(txn *memdb.Txn, tasks []*domain.Task) (*placementResult, error) {
	result := &placementResult{}

	executors, err := state.ListExecutors(txn)
	if err != nil {
		return nil, fmt.Errorf("list executors: %w", err)
	}
	if len(executors) == 0 {
		a.logger.Info("no executors available for task allocation")
		return result, nil
	}

	for _, task := range tasks {
		logger := a.logger.With(
			"task_id", task.ID,
			"namespace", task.Namespace,
			"compute_graph", task.ComputeGraphName,
			"compute_fn", task.ComputeFnName,
			"invocation_id", task.InvocationID,
		)

		if task.Outcome.IsTerminal() {
			logger.Error("task already completed, skipping")
			continue
		}

		eligible, err := eligibleByCapacity(txn, executors, a.maxAllocationsPerExecutor)
		if err != nil {
			return nil, fmt.Errorf("compute capacity-eligible executors: %w", err)
		}

		// Early-break on saturation (spec.md §4.1, §9): capacity is the
		// only coarse gate today, so once no executor has room left there
		// is nothing later tasks in this pass could do either.
		if len(eligible) == 0 {
			logger.Debug("no executors with capacity available for task")
			break
		}

		alloc, err := a.allocateTask(txn, task, eligible)
		if err != nil {
			logger.Error("failed to allocate task, skipping", "error", err)
			continue
		}
		if alloc == nil {
			logger.Debug("no executors available for task")
			continue
		}

		logger.Info("allocated task", "executor_id", alloc.ExecutorID)

		if err := state.InsertAllocation(txn, alloc); err != nil {
			return nil, fmt.Errorf("insert allocation: %w", err)
		}
		running := task.Clone()
		running.Status = domain.TaskStatusRunning
		if err := state.UpsertTask(txn, running); err != nil {
			return nil, fmt.Errorf("update task status: %w", err)
		}
		if err := state.DeleteUnallocatedTaskID(txn, domain.NewUnallocatedTaskID(task)); err != nil {
			return nil, fmt.Errorf("remove unallocated task id: %w", err)
		}

		result.newAllocations = append(result.newAllocations, alloc)
		result.updatedTasks = append(result.updatedTasks, running)
	}

	return result, nil
}

// eligibleByCapacity returns the executors whose current allocation count,
// including allocations made earlier in this pass, is strictly below max.
func eligibleByCapacity(txn *memdb.Txn, executors []*domain.ExecutorMetadata, max int) ([]*domain.ExecutorMetadata, error) {
	out := make([]*domain.ExecutorMetadata, 0, len(executors))
	for _, e := range executors {
		allocs, err := state.AllocationsByExecutor(txn, e.ID)
		if err != nil {
			return nil, err
		}
		if len(allocs) < max {
			out = append(out, e)
		}
	}
	return out, nil
}

// allocateTask resolves the task's compute graph version and node, filters
// the capacity-eligible executors down to the ones allowed to run this
// function, and picks one uniformly at random. A nil result (no error)
// means no eligible executor passed the allowlist filter; that is not a
// failure, just nothing to allocate this round.
func (a *TaskAllocator) allocateTask(txn *memdb.Txn, task *domain.Task, eligible []*domain.ExecutorMetadata) (*domain.Allocation, error) {
	graphVersion, err := state.GetComputeGraphVersion(txn, task.KeyComputeGraphVersion())
	if err != nil {
		return nil, fmt.Errorf("lookup compute graph version: %w", err)
	}
	if graphVersion == nil {
		return nil, fmt.Errorf("compute graph version not found: %s", task.KeyComputeGraphVersion())
	}

	node, ok := graphVersion.Nodes[task.ComputeFnName]
	if !ok {
		return nil, fmt.Errorf("compute fn not found: %s", task.ComputeFnName)
	}

	filtered := filterExecutors(graphVersion, node, eligible)
	if filtered.Size() == 0 {
		return nil, nil
	}

	candidates := filtered.Slice()
	chosen := candidates[rand.Intn(len(candidates))]
	return domain.NewAllocation(task, chosen), nil
}

// filterExecutors returns the eligible-by-capacity executors additionally
// eligible to run node under graphVersion's allowlist rule (spec.md §4.1):
// an executor with no allowlist accepts anything; otherwise some entry in
// its allowlist must match the function, graph, namespace, and (treating a
// missing version as "current version") the graph's current version.
func filterExecutors(graphVersion *domain.ComputeGraphVersion, node *domain.Node, executors []*domain.ExecutorMetadata) *set.Set[domain.ExecutorID] {
	filtered := set.New[domain.ExecutorID](len(executors))
	for _, e := range executors {
		if !e.HasAllowlist() {
			filtered.Insert(e.ID)
			continue
		}
		for _, uri := range e.FunctionAllowlist {
			if funcMatches(uri, graphVersion, node) {
				filtered.Insert(e.ID)
				break
			}
		}
	}
	return filtered
}

func funcMatches(uri domain.FunctionURI, graphVersion *domain.ComputeGraphVersion, node *domain.Node) bool {
	version := graphVersion.Version
	if uri.Version != nil {
		version = *uri.Version
	}
	return uri.ComputeFnName == node.Name &&
		uri.ComputeGraphName == graphVersion.ComputeGraphName &&
		uri.Namespace == graphVersion.Namespace &&
		version == graphVersion.Version
}
