// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

import (
	"github.com/hashicorp/go-memdb"
)

const (
	tableExecutors        = "executors"
	tableTasks            = "tasks"
	tableAllocations      = "allocations"
	tableUnallocatedTasks = "unallocated_tasks"
	tableGraphVersions    = "graph_versions"

	indexID       = "id"
	indexExecutor = "executor"
)

// schema defines the go-memdb layout backing InMemoryState. It mirrors
// spec.md §3/§4.1's data model directly: one table per entity, plus the two
// indexes the allocator needs (allocations-by-executor,
// unallocated-task-id) without resorting to
// bidirectional pointers between Allocation and Task values.
func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableExecutors: {
				Name: tableExecutors,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			tableTasks: {
				Name: tableTasks,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
			tableAllocations: {
				Name: tableAllocations,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "TaskID"},
								&memdb.StringFieldIndex{Field: "ExecutorID"},
							},
						},
					},
					indexExecutor: {
						Name:    indexExecutor,
						Unique:  false,
						Indexer: &memdb.StringFieldIndex{Field: "ExecutorID"},
					},
				},
			},
			tableUnallocatedTasks: {
				Name: tableUnallocatedTasks,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "TaskID"},
					},
				},
			},
			tableGraphVersions: {
				Name: tableGraphVersions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:   indexID,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Namespace"},
								&memdb.StringFieldIndex{Field: "ComputeGraphName"},
								&memdb.UintFieldIndex{Field: "Version"},
							},
						},
					},
				},
			},
		},
	}
}
