// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/internal/testfixtures"
	"github.com/hashicorp/graphsched/state"
)

func TestInMemoryState_UpsertAndGetExecutor(t *testing.T) {
	s, err := state.New()
	require.NoError(t, err)

	txn := s.WriteTxn()
	require.NoError(t, state.UpsertExecutor(txn, testfixtures.Executor("exec-a")))
	txn.Commit()

	readTxn := s.ReadTxn()
	got, err := state.GetExecutor(readTxn, "exec-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, domain.ExecutorID("exec-a"), got.ID)

	missing, err := state.GetExecutor(readTxn, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestInMemoryState_AllocationsByExecutor(t *testing.T) {
	s, err := state.New()
	require.NoError(t, err)

	txn := s.WriteTxn()
	require.NoError(t, state.InsertAllocation(txn, &domain.Allocation{TaskID: "t1", ExecutorID: "exec-a"}))
	require.NoError(t, state.InsertAllocation(txn, &domain.Allocation{TaskID: "t2", ExecutorID: "exec-a"}))
	require.NoError(t, state.InsertAllocation(txn, &domain.Allocation{TaskID: "t3", ExecutorID: "exec-b"}))
	txn.Commit()

	readTxn := s.ReadTxn()
	allocs, err := state.AllocationsByExecutor(readTxn, "exec-a")
	require.NoError(t, err)
	require.Len(t, allocs, 2)
}

func TestApplySchedulerUpdate_ReinsertsUnallocatedIndexOnReclaim(t *testing.T) {
	s, err := state.New()
	require.NoError(t, err)

	task := testfixtures.PendingTask(1)
	task.Status = domain.TaskStatusRunning
	alloc := domain.NewAllocation(task, "exec-a")

	txn := s.WriteTxn()
	require.NoError(t, state.UpsertTask(txn, task))
	require.NoError(t, state.InsertAllocation(txn, alloc))
	txn.Commit()

	reclaimed := task.Clone()
	reclaimed.Status = domain.TaskStatusPending

	require.NoError(t, s.ApplySchedulerUpdate(&state.SchedulerUpdateRequest{
		RemoveAllocations: []*domain.Allocation{alloc},
		UpdatedTasks:      []*domain.Task{reclaimed},
		RemoveExecutors:   []domain.ExecutorID{"exec-a"},
	}))

	readTxn := s.ReadTxn()
	ids, err := state.UnallocatedTaskIDs(readTxn)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	require.Equal(t, task.ID, ids[0].TaskID)

	allocs, err := state.AllocationsByExecutor(readTxn, "exec-a")
	require.NoError(t, err)
	require.Empty(t, allocs)

	executor, err := state.GetExecutor(readTxn, "exec-a")
	require.NoError(t, err)
	require.Nil(t, executor)
}

func TestSchedulerUpdateRequest_Empty(t *testing.T) {
	var req *state.SchedulerUpdateRequest
	require.True(t, req.Empty())

	req = &state.SchedulerUpdateRequest{}
	require.True(t, req.Empty())

	req.NewAllocations = []*domain.Allocation{{TaskID: "t1", ExecutorID: "exec-a"}}
	require.False(t, req.Empty())
}
