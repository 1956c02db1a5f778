// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package domain holds the entities the scheduler's core components operate
// on: executors, tasks, allocations, compute graph versions, and system
// tasks. It owns no behavior beyond small derived-key helpers; placement and
// replay logic live in allocator and systemtask respectively.
package domain

import "fmt"

// ExecutorID identifies a worker capable of running function activations.
// Identity only: liveness is implicit in whether an ExecutorID is present in
// the executors table of an InMemoryState snapshot.
type ExecutorID string

// TaskID identifies a single function-node activation within an invocation.
type TaskID string

// FunctionURI identifies a function activation a particular executor is
// permitted to run. A nil Version means "whatever version of the graph is
// current" rather than any fixed version.
type FunctionURI struct {
	Namespace        string
	ComputeGraphName string
	ComputeFnName    string
	Version          *uint64
}

// GraphVersionKey is the composite primary key of a ComputeGraphVersion and
// the value Task.KeyComputeGraphVersion derives from a Task.
type GraphVersionKey struct {
	Namespace        string
	ComputeGraphName string
	Version          uint64
}

func (k GraphVersionKey) String() string {
	return fmt.Sprintf("%s|%s|%d", k.Namespace, k.ComputeGraphName, k.Version)
}

// SystemTaskKey is the composite primary key of a SystemTask: one active
// replay per (namespace, graph) at a time.
type SystemTaskKey struct {
	Namespace        string
	ComputeGraphName string
}

func (k SystemTaskKey) String() string {
	return fmt.Sprintf("%s|%s", k.Namespace, k.ComputeGraphName)
}
