// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package allocator

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/internal/testfixtures"
	"github.com/hashicorp/graphsched/state"
)

func newState(t *testing.T) *state.InMemoryState {
	t.Helper()
	s, err := state.New()
	require.NoError(t, err)
	return s
}

func seedGraphVersion(t *testing.T, s *state.InMemoryState, gv *domain.ComputeGraphVersion) {
	t.Helper()
	txn := s.WriteTxn()
	require.NoError(t, state.UpsertComputeGraphVersion(txn, gv))
	txn.Commit()
}

func seedExecutor(t *testing.T, s *state.InMemoryState, e *domain.ExecutorMetadata) {
	t.Helper()
	txn := s.WriteTxn()
	require.NoError(t, state.UpsertExecutor(txn, e))
	txn.Commit()
}

func seedUnallocatedTask(t *testing.T, s *state.InMemoryState, task *domain.Task) {
	t.Helper()
	txn := s.WriteTxn()
	require.NoError(t, state.UpsertTask(txn, task))
	require.NoError(t, state.InsertUnallocatedTaskID(txn, domain.NewUnallocatedTaskID(task)))
	txn.Commit()
}

func seedAllocation(t *testing.T, s *state.InMemoryState, a *domain.Allocation) {
	t.Helper()
	txn := s.WriteTxn()
	require.NoError(t, state.InsertAllocation(txn, a))
	txn.Commit()
}

// Scenario 1: no executors, one task -> empty delta.
func TestInvoke_NoExecutors_EmptyDelta(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedUnallocatedTask(t, s, testfixtures.PendingTask(1))

	req, err := New(nil).Invoke(domain.ExecutorRemoved{ExecutorID: "gone"}, s)
	require.NoError(t, err)
	require.True(t, req.Empty())
}

// Scenario 2: single free executor, one pending task -> one new allocation,
// task moved to Running, unallocated index emptied.
func TestInvoke_SingleFreeExecutor_Allocates(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))
	task := testfixtures.PendingTask(1)
	seedUnallocatedTask(t, s, task)

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.Len(t, req.NewAllocations, 1)
	require.Equal(t, domain.ExecutorID("exec-a"), req.NewAllocations[0].ExecutorID)
	require.Len(t, req.UpdatedTasks, 1)
	require.Equal(t, domain.TaskStatusRunning, req.UpdatedTasks[0].Status)

	txn := s.ReadTxn()
	ids, err := state.UnallocatedTaskIDs(txn)
	require.NoError(t, err)
	require.Empty(t, ids)
}

// Scenario 3: capacity saturation -> empty delta, unallocated index
// unchanged.
func TestInvoke_CapacitySaturation_EmptyDelta(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))

	for i := 0; i < MaxAllocationsPerExecutor; i++ {
		seedAllocation(t, s, &domain.Allocation{
			TaskID:     domain.TaskID(testfixtures.NewID()),
			ExecutorID: "exec-a",
		})
	}

	var seeded []*domain.Task
	for i := 0; i < 5; i++ {
		task := testfixtures.PendingTask(1)
		seedUnallocatedTask(t, s, task)
		seeded = append(seeded, task)
	}

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.True(t, req.Empty())

	txn := s.ReadTxn()
	ids, err := state.UnallocatedTaskIDs(txn)
	require.NoError(t, err)
	require.Len(t, ids, len(seeded))
}

// Scenario 4: allowlist filter admits both an allowlisted and a
// no-allowlist executor; over many trials both are chosen at least once.
func TestInvoke_AllowlistFilter_AdmitsBoth(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.ExecutorWithAllowlist("exec-allowlisted", testfixtures.FunctionURI(testfixtures.Uint64(1))))
	seedExecutor(t, s, testfixtures.Executor("exec-open"))

	chosen := map[domain.ExecutorID]int{}
	for i := 0; i < 1000; i++ {
		task := testfixtures.PendingTask(1)
		seedUnallocatedTask(t, s, task)

		req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-open"}, s)
		require.NoError(t, err)
		require.Len(t, req.NewAllocations, 1)
		chosen[req.NewAllocations[0].ExecutorID]++

		// Reclaim immediately so capacity never saturates across trials.
		require.NoError(t, s.ApplySchedulerUpdate(&state.SchedulerUpdateRequest{
			RemoveAllocations: req.NewAllocations,
		}))
	}

	require.Greater(t, chosen["exec-allowlisted"], 0)
	require.Greater(t, chosen["exec-open"], 0)
}

// A task whose function isn't in an executor's allowlist is never assigned
// to it.
func TestFilterExecutors_RejectsNonMatchingAllowlist(t *testing.T) {
	gv := testfixtures.GraphVersion(1)
	node := gv.Nodes[testfixtures.ComputeFnName]
	other := domain.FunctionURI{
		Namespace:        testfixtures.Namespace,
		ComputeGraphName: testfixtures.ComputeGraphName,
		ComputeFnName:    "other-fn",
	}
	executors := []*domain.ExecutorMetadata{
		testfixtures.ExecutorWithAllowlist("exec-a", other),
	}

	filtered := filterExecutors(gv, node, executors)
	require.Equal(t, 0, filtered.Size())
}

// An executor with a present-but-empty allowlist is restricted to nothing,
// distinct from an executor with no allowlist at all (which is eligible
// for anything).
func TestFilterExecutors_EmptyAllowlistMatchesNothing(t *testing.T) {
	gv := testfixtures.GraphVersion(1)
	node := gv.Nodes[testfixtures.ComputeFnName]

	emptyAllowlist := testfixtures.ExecutorWithEmptyAllowlist("exec-empty")
	require.True(t, emptyAllowlist.HasAllowlist())

	noAllowlist := testfixtures.Executor("exec-open")
	require.False(t, noAllowlist.HasAllowlist())

	filtered := filterExecutors(gv, node, []*domain.ExecutorMetadata{emptyAllowlist, noAllowlist})
	require.Equal(t, 1, filtered.Size())
	require.True(t, filtered.Contains("exec-open"))
}

// A missing allowlist version is treated as "current version".
func TestFuncMatches_MissingVersionMeansCurrent(t *testing.T) {
	gv := testfixtures.GraphVersion(3)
	node := gv.Nodes[testfixtures.ComputeFnName]

	require.True(t, funcMatches(testfixtures.FunctionURI(nil), gv, node))
	require.False(t, funcMatches(testfixtures.FunctionURI(testfixtures.Uint64(2)), gv, node))
	require.True(t, funcMatches(testfixtures.FunctionURI(testfixtures.Uint64(3)), gv, node))
}

// Scenario 5: tombstone reclamation.
func TestInvoke_TombstoneExecutor_Reclaims(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))

	var tasks []*domain.Task
	var allocations []*domain.Allocation
	for i := 0; i < 3; i++ {
		task := testfixtures.PendingTask(1)
		task.Status = domain.TaskStatusRunning
		tasks = append(tasks, task)

		txn := s.WriteTxn()
		require.NoError(t, state.UpsertTask(txn, task))
		txn.Commit()

		alloc := domain.NewAllocation(task, "exec-a")
		allocations = append(allocations, alloc)
		seedAllocation(t, s, alloc)
	}

	req, err := New(nil).Invoke(domain.TombStoneExecutor{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)

	require.Len(t, req.RemoveAllocations, 3)
	require.Len(t, req.UpdatedTasks, 3)
	for _, task := range req.UpdatedTasks {
		require.Equal(t, domain.TaskStatusPending, task.Status)
	}
	require.Equal(t, []domain.ExecutorID{"exec-a"}, req.RemoveExecutors)

	require.NoError(t, s.ApplySchedulerUpdate(req))

	txn := s.ReadTxn()
	remainingAllocs, err := state.AllocationsByExecutor(txn, "exec-a")
	require.NoError(t, err)
	require.Empty(t, remainingAllocs)

	executor, err := state.GetExecutor(txn, "exec-a")
	require.NoError(t, err)
	require.Nil(t, executor)

	unallocated, err := state.UnallocatedTaskIDs(txn)
	require.NoError(t, err)
	require.Len(t, unallocated, 3)
}

// An allocation whose task has since vanished from the index is still
// removed; the task-side update is simply omitted (spec.md §7).
func TestInvoke_TombstoneExecutor_SkipsMissingTask(t *testing.T) {
	s := newState(t)
	seedExecutor(t, s, testfixtures.Executor("exec-a"))
	alloc := &domain.Allocation{TaskID: "ghost-task", ExecutorID: "exec-a"}
	seedAllocation(t, s, alloc)

	req, err := New(nil).Invoke(domain.TombStoneExecutor{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.Len(t, req.RemoveAllocations, 1)
	require.Empty(t, req.UpdatedTasks)
}

// Unsupported change kinds fail the whole call rather than being silently
// skipped.
func TestInvoke_UnhandledChangeType_Errors(t *testing.T) {
	s := newState(t)
	_, err := New(nil).Invoke(domain.UnhandledChange{Kind: "NodePoolChanged"}, s)
	require.Error(t, err)
}

// A task missing its compute graph version is skipped, not fatal to the
// batch.
func TestInvoke_MissingGraphVersion_SkipsTask(t *testing.T) {
	s := newState(t)
	seedExecutor(t, s, testfixtures.Executor("exec-a"))
	seedUnallocatedTask(t, s, testfixtures.PendingTask(99)) // no graph version 99 registered

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.True(t, req.Empty())
}

// A terminal-outcome task is defensively skipped even if still present in
// the unallocated index.
func TestInvoke_TerminalTask_Skipped(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))

	task := testfixtures.PendingTask(1)
	task.Outcome = domain.TaskOutcomeSuccess
	seedUnallocatedTask(t, s, task)

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.True(t, req.Empty())
}

// Capacity invariant: across repeated allocation passes, no executor ever
// ends up with more than MaxAllocationsPerExecutor allocations.
func TestInvariant_CapacityNeverExceeded(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))

	for i := 0; i < MaxAllocationsPerExecutor*3; i++ {
		seedUnallocatedTask(t, s, testfixtures.PendingTask(1))
	}

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)
	require.LessOrEqual(t, len(req.NewAllocations), MaxAllocationsPerExecutor)

	txn := s.ReadTxn()
	allocs, err := state.AllocationsByExecutor(txn, "exec-a")
	require.NoError(t, err)
	require.LessOrEqual(t, len(allocs), MaxAllocationsPerExecutor)
}

// Invoke's NewAllocations are compared through go-cmp for deep-equality
// assertions where slices of pointers make reflect.DeepEqual awkward.
func TestInvoke_NewAllocationsMatchExpected(t *testing.T) {
	s := newState(t)
	seedGraphVersion(t, s, testfixtures.GraphVersion(1))
	seedExecutor(t, s, testfixtures.Executor("exec-a"))
	task := testfixtures.PendingTask(1)
	seedUnallocatedTask(t, s, task)

	req, err := New(nil).Invoke(domain.ExecutorAdded{ExecutorID: "exec-a"}, s)
	require.NoError(t, err)

	want := []*domain.Allocation{domain.NewAllocation(task, "exec-a")}
	if diff := cmp.Diff(want, req.NewAllocations); diff != "" {
		t.Fatalf("unexpected allocations (-want +got):\n%s", diff)
	}
}
