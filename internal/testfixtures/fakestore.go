// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package testfixtures

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/systemtask"
)

// FakeStore is an in-memory stand-in for the durable state machine the
// replay driver talks to (systemtask.Store). It exists purely for tests:
// spec.md explicitly places the durable log layout and wire format out of
// scope, so this is not a candidate production implementation, just enough
// bookkeeping to drive the §8 testable properties (backpressure,
// termination) without a real store.
type FakeStore struct {
	mu sync.Mutex

	tasks         map[domain.SystemTaskKey]*domain.SystemTask
	invocationIDs map[domain.SystemTaskKey][]string
	running       map[domain.SystemTaskKey]map[string]bool

	ReplayedRequests []systemtask.ReplayInvocationsRequest
	RemovedRequests  []systemtask.RemoveSystemTaskRequest

	watchCh chan struct{}
}

// NewFakeStore builds an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		tasks:         make(map[domain.SystemTaskKey]*domain.SystemTask),
		invocationIDs: make(map[domain.SystemTaskKey][]string),
		running:       make(map[domain.SystemTaskKey]map[string]bool),
		watchCh:       make(chan struct{}),
	}
}

func (s *FakeStore) notifyLocked() {
	close(s.watchCh)
	s.watchCh = make(chan struct{})
}

// RegisterSystemTask installs a system task (as if a ReplayComputeGraph
// request had just been processed by the durable store).
func (s *FakeStore) RegisterSystemTask(task *domain.SystemTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *task
	s.tasks[task.Key()] = &cp
	if _, ok := s.running[task.Key()]; !ok {
		s.running[task.Key()] = make(map[string]bool)
	}
}

// SetInvocations installs the full, ordered set of invocation ids available
// for (namespace, graph) to be paginated through by ListInvocations.
func (s *FakeStore) SetInvocations(key domain.SystemTaskKey, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(ids))
	copy(cp, ids)
	s.invocationIDs[key] = cp
}

// FinalizeInvocation marks a single queued invocation as finished running,
// simulating the rest of the system completing work the driver queued.
func (s *FakeStore) FinalizeInvocation(key domain.SystemTaskKey, invocationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running[key], invocationID)
	s.notifyLocked()
}

// RunningCount reports how many invocations are currently tracked as
// running for (namespace, graph), for assertions in tests.
func (s *FakeStore) RunningCount(key domain.SystemTaskKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running[key])
}

// RunningIDs returns the invocation ids currently tracked as running for
// (namespace, graph), so tests can finalize them to make progress.
func (s *FakeStore) RunningIDs(key domain.SystemTaskKey) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.running[key]))
	for id := range s.running[key] {
		out = append(out, id)
	}
	return out
}

// HasSystemTask reports whether a system task is still present.
func (s *FakeStore) HasSystemTask(key domain.SystemTaskKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

func (s *FakeStore) snapshotLocked(key domain.SystemTaskKey) *domain.SystemTask {
	t, ok := s.tasks[key]
	if !ok {
		return nil
	}
	cp := *t
	cp.NumRunningInvocations = len(s.running[key])
	return &cp
}

// --- systemtask.Store implementation --------------------------------------

func (s *FakeStore) GetSystemTasks(_ context.Context, limit *int) ([]*domain.SystemTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]domain.SystemTaskKey, 0, len(s.tasks))
	for k := range s.tasks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	out := make([]*domain.SystemTask, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.snapshotLocked(k))
		if limit != nil && len(out) >= *limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) GetPendingSystemTasks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, running := range s.running {
		total += len(running)
	}
	return total, nil
}

func (s *FakeStore) GetSystemTask(_ context.Context, key domain.SystemTaskKey) (*domain.SystemTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(key), nil
}

func (s *FakeStore) ListInvocations(_ context.Context, namespace, computeGraphName string, restartKey *string, limit int) ([]*domain.Invocation, *string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SystemTaskKey{Namespace: namespace, ComputeGraphName: computeGraphName}
	ids := s.invocationIDs[key]

	start := 0
	if restartKey != nil {
		if idx, err := strconv.Atoi(*restartKey); err == nil {
			start = idx
		}
	}
	if start > len(ids) {
		start = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}

	batch := ids[start:end]
	out := make([]*domain.Invocation, len(batch))
	for i, id := range batch {
		out[i] = &domain.Invocation{ID: id}
	}

	var next *string
	if end < len(ids) {
		n := strconv.Itoa(end)
		next = &n
	}
	return out, next, nil
}

func (s *FakeStore) ReplayInvocations(_ context.Context, req systemtask.ReplayInvocationsRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SystemTaskKey{Namespace: req.Namespace, ComputeGraphName: req.ComputeGraphName}
	if s.running[key] == nil {
		s.running[key] = make(map[string]bool)
	}
	for _, id := range req.InvocationIDs {
		s.running[key][id] = true
	}
	if t, ok := s.tasks[key]; ok {
		t.RestartKey = req.RestartKey
		t.GraphVersion = req.GraphVersion
	}

	s.ReplayedRequests = append(s.ReplayedRequests, req)
	s.notifyLocked()
	return nil
}

func (s *FakeStore) RemoveSystemTask(_ context.Context, req systemtask.RemoveSystemTaskRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SystemTaskKey{Namespace: req.Namespace, ComputeGraphName: req.ComputeGraphName}
	delete(s.tasks, key)
	delete(s.running, key)
	delete(s.invocationIDs, key)

	s.RemovedRequests = append(s.RemovedRequests, req)
	s.notifyLocked()
	return nil
}

func (s *FakeStore) UpdateSystemTask(_ context.Context, req systemtask.UpdateSystemTaskRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.SystemTaskKey{Namespace: req.Namespace, ComputeGraphName: req.ComputeGraphName}
	if t, ok := s.tasks[key]; ok {
		t.WaitingForRunningInvocations = req.WaitingForRunningInvocations
	}
	s.notifyLocked()
	return nil
}

func (s *FakeStore) Watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCh
}
