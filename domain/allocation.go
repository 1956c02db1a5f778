// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package domain

import "fmt"

// Allocation binds a Task to the ExecutorID that will run it. The pair
// (TaskID, ExecutorID) is its primary key; TaskID alone is unique in
// practice (invariant: at most one Allocation ever references a given
// Task) but the compound key lets the store index allocations by executor
// without a second owning map.
type Allocation struct {
	Namespace        string
	ComputeGraphName string
	ComputeFnName    string
	InvocationID     string
	TaskID           TaskID
	ExecutorID       ExecutorID
}

// Key returns the composite primary key used by the allocations table.
func (a *Allocation) Key() string {
	return fmt.Sprintf("%s|%s", a.TaskID, a.ExecutorID)
}

// NewAllocation builds the Allocation for assigning task to executor,
// copying the task's routing fields.
func NewAllocation(task *Task, executor ExecutorID) *Allocation {
	return &Allocation{
		Namespace:        task.Namespace,
		ComputeGraphName: task.ComputeGraphName,
		ComputeFnName:    task.ComputeFnName,
		InvocationID:     task.InvocationID,
		TaskID:           task.ID,
		ExecutorID:       executor,
	}
}
