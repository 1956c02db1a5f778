// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package demo provides a minimal, single-process systemtask.Store so the
// harness binary has something to drive end to end. It is not a candidate
// production implementation: the durable log layout and wire format behind
// a real Store are owned by an external collaborator this module never
// implements (spec.md's Non-goals).
package demo

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/systemtask"
)

// Store is a process-local, non-durable systemtask.Store backed by plain
// maps and a mutex, seeded with one system task replaying a fixed list of
// invocation ids.
type Store struct {
	mu sync.Mutex

	task    *domain.SystemTask
	invIDs  []string
	running map[string]bool
	watchCh chan struct{}
}

// NewStore seeds a single system task for (namespace, computeGraphName) at
// the given graph version, replaying count synthetic invocation ids.
func NewStore(namespace, computeGraphName string, graphVersion uint64, count int) *Store {
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("demo-invocation-%04d", i)
	}
	return &Store{
		task: &domain.SystemTask{
			Namespace:        namespace,
			ComputeGraphName: computeGraphName,
			GraphVersion:     graphVersion,
		},
		invIDs:  ids,
		running: make(map[string]bool),
		watchCh: make(chan struct{}),
	}
}

func (s *Store) notifyLocked() {
	close(s.watchCh)
	s.watchCh = make(chan struct{})
}

func (s *Store) snapshotLocked() *domain.SystemTask {
	if s.task == nil {
		return nil
	}
	cp := *s.task
	cp.NumRunningInvocations = len(s.running)
	return &cp
}

func (s *Store) GetSystemTasks(_ context.Context, limit *int) ([]*domain.SystemTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.snapshotLocked()
	if t == nil {
		return nil, nil
	}
	if limit != nil && *limit == 0 {
		return nil, nil
	}
	return []*domain.SystemTask{t}, nil
}

func (s *Store) GetPendingSystemTasks(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running), nil
}

func (s *Store) GetSystemTask(_ context.Context, _ domain.SystemTaskKey) (*domain.SystemTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

func (s *Store) ListInvocations(_ context.Context, _, _ string, restartKey *string, limit int) ([]*domain.Invocation, *string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if restartKey != nil {
		if idx, err := strconv.Atoi(*restartKey); err == nil {
			start = idx
		}
	}
	if start > len(s.invIDs) {
		start = len(s.invIDs)
	}
	end := start + limit
	if end > len(s.invIDs) {
		end = len(s.invIDs)
	}

	batch := s.invIDs[start:end]
	out := make([]*domain.Invocation, len(batch))
	for i, id := range batch {
		out[i] = &domain.Invocation{ID: id}
	}

	var next *string
	if end < len(s.invIDs) {
		n := strconv.Itoa(end)
		next = &n
	}
	return out, next, nil
}

func (s *Store) ReplayInvocations(_ context.Context, req systemtask.ReplayInvocationsRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range req.InvocationIDs {
		s.running[id] = true
	}
	if s.task != nil {
		s.task.RestartKey = req.RestartKey
	}
	s.notifyLocked()
	// A demo harness has nothing downstream that finishes these
	// invocations on its own, so simulate completion immediately.
	for _, id := range req.InvocationIDs {
		delete(s.running, id)
	}
	s.notifyLocked()
	return nil
}

func (s *Store) RemoveSystemTask(_ context.Context, _ systemtask.RemoveSystemTaskRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.task = nil
	s.notifyLocked()
	return nil
}

func (s *Store) UpdateSystemTask(_ context.Context, req systemtask.UpdateSystemTaskRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		s.task.WaitingForRunningInvocations = req.WaitingForRunningInvocations
	}
	s.notifyLocked()
	return nil
}

func (s *Store) Watch() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchCh
}
