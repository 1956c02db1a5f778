// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package domain

// ChangeType is a fleet or task event the TaskAllocator reacts to. It is a
// closed set from the allocator's point of view even though the caller's
// event stream carries other variants (node-pool changes, graph
// registration, ...); those are rejected by Invoke rather than silently
// ignored, since an unrecognized change is a sign the dispatch table and
// the event producer have drifted apart.
type ChangeType interface {
	isChangeType()
}

// ExecutorAdded signals that capacity may have appeared. It carries no
// payload beyond the executor id that triggered it: the allocator reacts by
// running a full allocation pass over every unallocated task rather than
// special-casing the new executor.
type ExecutorAdded struct {
	ExecutorID ExecutorID
}

func (ExecutorAdded) isChangeType() {}

// ExecutorRemoved signals that capacity may have disappeared. Handled
// identically to ExecutorAdded: a full allocation pass, no reclamation.
// See spec Open Question #3 — this is deliberate, not an oversight; only
// TombStoneExecutor reclaims allocations.
type ExecutorRemoved struct {
	ExecutorID ExecutorID
}

func (ExecutorRemoved) isChangeType() {}

// TombStoneExecutor declares that an executor is permanently gone. Every
// Allocation on it must be reclaimed: the owning Task returns to Pending
// and the executor is removed from the executors table.
type TombStoneExecutor struct {
	ExecutorID ExecutorID
}

func (TombStoneExecutor) isChangeType() {}

// UnhandledChange wraps any other change-event kind the caller's dispatch
// table may surface. TaskAllocator.Invoke always rejects it; it exists so
// callers have a concrete value to pass when exercising the "unsupported
// event" error path in tests, without this package needing to know every
// change kind the rest of the system defines.
type UnhandledChange struct {
	Kind string
}

func (UnhandledChange) isChangeType() {}
