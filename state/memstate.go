// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package state is the snapshot-plus-mutation façade over scheduler-visible
// entities (spec.md §4, "InMemoryState"): executors, tasks, allocations,
// the unallocated-task index, and compute-graph versions. It is backed by
// github.com/hashicorp/go-memdb, the same in-process indexed store the
// teacher repo's own state store is built on.
package state

import (
	"fmt"

	"github.com/hashicorp/go-memdb"

	"github.com/hashicorp/graphsched/domain"
)

// InMemoryState is the process-wide scheduler index. It is a plain value
// passed explicitly to the components that read and mutate it (the
// allocator) rather than an ambient singleton: see spec.md §9 "Global
// mutable state".
type InMemoryState struct {
	db *memdb.MemDB
}

// New builds an empty InMemoryState.
func New() (*InMemoryState, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("build in-memory state schema: %w", err)
	}
	return &InMemoryState{db: db}, nil
}

// ReadTxn opens a read-only transaction. Safe to use concurrently with
// other read-only transactions; never holds the writer lock.
func (s *InMemoryState) ReadTxn() *memdb.Txn {
	return s.db.Txn(false)
}

// WriteTxn opens a read-write transaction. The caller must Commit or Abort
// it; InMemoryState has exactly one writer at a time by convention (the
// allocator's Invoke call), matching spec.md §5's "the allocator has
// exclusive mutable access during invoke (caller-enforced)".
func (s *InMemoryState) WriteTxn() *memdb.Txn {
	return s.db.Txn(true)
}

// --- executors -----------------------------------------------------------

// GetExecutor looks up an executor by id.
func GetExecutor(txn *memdb.Txn, id domain.ExecutorID) (*domain.ExecutorMetadata, error) {
	raw, err := txn.First(tableExecutors, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*domain.ExecutorMetadata), nil
}

// ListExecutors returns every currently registered executor.
func ListExecutors(txn *memdb.Txn) ([]*domain.ExecutorMetadata, error) {
	it, err := txn.Get(tableExecutors, indexID)
	if err != nil {
		return nil, err
	}
	var out []*domain.ExecutorMetadata
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*domain.ExecutorMetadata))
	}
	return out, nil
}

// UpsertExecutor registers or replaces an executor's metadata.
func UpsertExecutor(txn *memdb.Txn, e *domain.ExecutorMetadata) error {
	return txn.Insert(tableExecutors, e)
}

// RemoveExecutor deletes an executor from the executors table. It does not
// touch allocations or tasks: callers reclaim those first (see
// allocator.Invoke's TombStoneExecutor handling).
func RemoveExecutor(txn *memdb.Txn, id domain.ExecutorID) error {
	_, err := txn.DeleteAll(tableExecutors, indexID, string(id))
	return err
}

// --- tasks -----------------------------------------------------------------

// GetTask looks up a task by id.
func GetTask(txn *memdb.Txn, id domain.TaskID) (*domain.Task, error) {
	raw, err := txn.First(tableTasks, indexID, string(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*domain.Task), nil
}

// UpsertTask inserts or replaces a task.
func UpsertTask(txn *memdb.Txn, t *domain.Task) error {
	return txn.Insert(tableTasks, t)
}

// --- allocations -----------------------------------------------------------

// AllocationsByExecutor returns every allocation currently assigned to the
// given executor, via the "executor" secondary index.
func AllocationsByExecutor(txn *memdb.Txn, id domain.ExecutorID) ([]*domain.Allocation, error) {
	it, err := txn.Get(tableAllocations, indexExecutor, string(id))
	if err != nil {
		return nil, err
	}
	var out []*domain.Allocation
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(*domain.Allocation))
	}
	return out, nil
}

// InsertAllocation records a new task-to-executor binding.
func InsertAllocation(txn *memdb.Txn, a *domain.Allocation) error {
	return txn.Insert(tableAllocations, a)
}

// DeleteAllocation removes a task-to-executor binding.
func DeleteAllocation(txn *memdb.Txn, a *domain.Allocation) error {
	return txn.Delete(tableAllocations, a)
}

// --- unallocated task index -------------------------------------------------

// UnallocatedTaskIDs snapshots the full unallocated-task index. The order
// returned is the go-memdb primary-key (task id) iteration order; spec.md
// §4.1 only requires that schedule_tasks process "the order the unallocated
// index yields", not any particular order, so this is sufficient.
func UnallocatedTaskIDs(txn *memdb.Txn) ([]domain.UnallocatedTaskID, error) {
	it, err := txn.Get(tableUnallocatedTasks, indexID)
	if err != nil {
		return nil, err
	}
	var out []domain.UnallocatedTaskID
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(domain.UnallocatedTaskID))
	}
	return out, nil
}

// InsertUnallocatedTaskID adds a task back to (or into) the unallocated
// index. Idempotent: re-inserting an id already present is a no-op replace.
func InsertUnallocatedTaskID(txn *memdb.Txn, id domain.UnallocatedTaskID) error {
	return txn.Insert(tableUnallocatedTasks, id)
}

// DeleteUnallocatedTaskID removes a task from the unallocated index, e.g.
// once it has been allocated.
func DeleteUnallocatedTaskID(txn *memdb.Txn, id domain.UnallocatedTaskID) error {
	_, err := txn.DeleteAll(tableUnallocatedTasks, indexID, string(id.TaskID))
	return err
}

// --- compute graph versions --------------------------------------------------

// GetComputeGraphVersion looks up a graph version by its composite key.
func GetComputeGraphVersion(txn *memdb.Txn, key domain.GraphVersionKey) (*domain.ComputeGraphVersion, error) {
	raw, err := txn.First(tableGraphVersions, indexID, key.Namespace, key.ComputeGraphName, key.Version)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*domain.ComputeGraphVersion), nil
}

// UpsertComputeGraphVersion inserts or replaces a compute graph version.
func UpsertComputeGraphVersion(txn *memdb.Txn, g *domain.ComputeGraphVersion) error {
	return txn.Insert(tableGraphVersions, g)
}
