// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package testfixtures provides small mock builders shared by the
// allocator and systemtask test suites, grounded on the teacher repo's own
// nomad/mock convention of one constructor per entity (e.g. mock.Alloc(),
// mock.Node()) rather than ad hoc literals scattered across test files.
package testfixtures

import (
	"github.com/hashicorp/go-uuid"

	"github.com/hashicorp/graphsched/domain"
)

const (
	Namespace        = "test-namespace"
	ComputeGraphName = "test-graph"
	ComputeFnName    = "test-fn"
)

// NewID returns a fresh random identifier string, used wherever a test
// needs a unique task, invocation, or executor id and doesn't care about
// its value.
func NewID() string {
	id, err := uuid.GenerateUUID()
	if err != nil {
		// GenerateUUID only fails if the system's random source is
		// broken, not a condition a test fixture should try to recover
		// from.
		panic(err)
	}
	return id
}

// Executor builds an ExecutorMetadata with no allowlist (accepts any
// function).
func Executor(id string) *domain.ExecutorMetadata {
	return &domain.ExecutorMetadata{ID: domain.ExecutorID(id)}
}

// ExecutorWithAllowlist builds an ExecutorMetadata restricted to the given
// FunctionURIs.
func ExecutorWithAllowlist(id string, allowlist ...domain.FunctionURI) *domain.ExecutorMetadata {
	return &domain.ExecutorMetadata{ID: domain.ExecutorID(id), FunctionAllowlist: allowlist}
}

// ExecutorWithEmptyAllowlist builds an ExecutorMetadata with a present but
// empty allowlist: restricted to nothing, as opposed to Executor's nil
// allowlist, which accepts any function.
func ExecutorWithEmptyAllowlist(id string) *domain.ExecutorMetadata {
	return &domain.ExecutorMetadata{ID: domain.ExecutorID(id), FunctionAllowlist: []domain.FunctionURI{}}
}

// GraphVersion builds a one-node ComputeGraphVersion at the given version,
// using the package's default namespace/graph/fn names.
func GraphVersion(version uint64) *domain.ComputeGraphVersion {
	return &domain.ComputeGraphVersion{
		Namespace:        Namespace,
		ComputeGraphName: ComputeGraphName,
		Version:          version,
		Nodes: map[string]*domain.Node{
			ComputeFnName: {Name: ComputeFnName},
		},
	}
}

// PendingTask builds a Pending, non-terminal task against the given graph
// version, with a fresh random id and invocation id.
func PendingTask(graphVersion uint64) *domain.Task {
	return &domain.Task{
		ID:                 domain.TaskID(NewID()),
		Namespace:          Namespace,
		ComputeGraphName:   ComputeGraphName,
		ComputeFnName:      ComputeFnName,
		InvocationID:       NewID(),
		KeyComputeGraphVer: graphVersion,
		Status:             domain.TaskStatusPending,
		Outcome:            domain.TaskOutcomeUnknown,
	}
}

// FunctionURI builds a FunctionURI under the package's default namespace
// and graph name. A nil version means "current version".
func FunctionURI(version *uint64) domain.FunctionURI {
	return domain.FunctionURI{
		Namespace:        Namespace,
		ComputeGraphName: ComputeGraphName,
		ComputeFnName:    ComputeFnName,
		Version:          version,
	}
}

// Uint64 returns a pointer to v, for building FunctionURI.Version literals
// inline in table-driven tests.
func Uint64(v uint64) *uint64 {
	return &v
}
