// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"

	"github.com/hashicorp/graphsched/allocator"
	"github.com/hashicorp/graphsched/config"
	"github.com/hashicorp/graphsched/domain"
	"github.com/hashicorp/graphsched/internal/demo"
	"github.com/hashicorp/graphsched/state"
	"github.com/hashicorp/graphsched/systemtask"
)

const (
	demoNamespace        = "demo"
	demoComputeGraphName = "image-pipeline"
	demoComputeFnName    = "resize"
)

// RunCommand seeds a demo fleet and graph, runs one allocation pass, then
// runs the replay driver against a non-durable demo store until
// interrupted. It implements cli.Command, the interface every
// hashicorp-nomad subcommand implements (see command/version_test.go's
// `var _ cli.Command = &VersionCommand{}`).
type RunCommand struct{}

func (c *RunCommand) Help() string {
	return strings.TrimSpace(`
Usage: graphsched-harness run [options]

  Seeds a small demo fleet and compute graph into an in-memory scheduler
  state, runs one allocation pass, then runs the system-task replay driver
  against a non-durable demo store until interrupted (SIGINT/SIGTERM).

Options:

  -log-level=<level>
    hclog level: trace, debug, info, warn, error (default: info)
    env: GRAPHSCHED_LOG_LEVEL

  -max-allocations-per-executor=<n>
    override the per-executor allocation capacity (0 = package default)
    env: GRAPHSCHED_MAX_ALLOCATIONS_PER_EXECUTOR

  -max-pending-system-tasks=<n>
    override the replay driver's backpressure bound (0 = package default)
    env: GRAPHSCHED_MAX_PENDING_SYSTEM_TASKS

  -idle-interval=<duration>
    how often the replay driver logs a heartbeat while idle (0 disables it)
    env: GRAPHSCHED_IDLE_INTERVAL

  -executors=<n>
    number of demo executors to register (default: 3)

  -tasks=<n>
    number of demo tasks to seed as unallocated (default: 5)

  -replay-invocations=<n>
    number of synthetic invocations for the demo system task (default: 12)
`)
}

func (c *RunCommand) Synopsis() string {
	return "Run the allocator and replay-driver demo harness"
}

func (c *RunCommand) Run(args []string) int {
	cfg := config.Default()
	var numExecutors, numTasks, numInvocations int

	flags := flag.NewFlagSet("run", flag.ContinueOnError)
	flags.Usage = func() { fmt.Fprintln(os.Stderr, c.Help()) }

	flags.StringVar(&cfg.LogLevel, "log-level", envOr("GRAPHSCHED_LOG_LEVEL", cfg.LogLevel), "")
	flags.IntVar(&cfg.MaxAllocationsPerExecutor, "max-allocations-per-executor",
		envIntOr("GRAPHSCHED_MAX_ALLOCATIONS_PER_EXECUTOR", cfg.MaxAllocationsPerExecutor), "")
	flags.IntVar(&cfg.MaxPendingSystemTasks, "max-pending-system-tasks",
		envIntOr("GRAPHSCHED_MAX_PENDING_SYSTEM_TASKS", cfg.MaxPendingSystemTasks), "")
	flags.DurationVar(&cfg.IdleInterval, "idle-interval",
		envDurationOr("GRAPHSCHED_IDLE_INTERVAL", cfg.IdleInterval), "")
	flags.IntVar(&numExecutors, "executors", 3, "")
	flags.IntVar(&numTasks, "tasks", 5, "")
	flags.IntVar(&numInvocations, "replay-invocations", 12, "")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	if err := c.run(cfg, numExecutors, numTasks, numInvocations); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		return 1
	}
	return 0
}

func (c *RunCommand) run(cfg config.Config, numExecutors, numTasks, numInvocations int) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "graphsched-harness",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	s, err := state.New()
	if err != nil {
		return err
	}

	if err := seedDemoState(s, numExecutors, numTasks); err != nil {
		return err
	}

	alloc := allocator.New(logger).WithMaxAllocationsPerExecutor(cfg.MaxAllocationsPerExecutor)
	req, err := alloc.Invoke(domain.ExecutorAdded{ExecutorID: "bootstrap"}, s)
	if err != nil {
		return err
	}
	if err := s.ApplySchedulerUpdate(req); err != nil {
		return err
	}
	logger.Info("initial allocation pass complete",
		"new_allocations", len(req.NewAllocations),
		"updated_tasks", len(req.UpdatedTasks))

	store := demo.NewStore(demoNamespace, demoComputeGraphName, 1, numInvocations)
	driver := systemtask.New(store, logger).
		WithMaxPendingTasks(cfg.MaxPendingSystemTasks).
		WithIdleLogInterval(cfg.IdleInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driverErrCh := make(chan error, 1)
	go func() { driverErrCh <- driver.Run(ctx) }()

	<-ctx.Done()
	logger.Info("shutting down")

	var result *multierror.Error
	if err := <-driverErrCh; err != nil && err != context.Canceled {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func seedDemoState(s *state.InMemoryState, numExecutors, numTasks int) error {
	txn := s.WriteTxn()
	defer txn.Abort()

	if err := state.UpsertComputeGraphVersion(txn, &domain.ComputeGraphVersion{
		Namespace:        demoNamespace,
		ComputeGraphName: demoComputeGraphName,
		Version:          1,
		Nodes: map[string]*domain.Node{
			demoComputeFnName: {Name: demoComputeFnName},
		},
	}); err != nil {
		return err
	}

	for i := 0; i < numExecutors; i++ {
		id := domain.ExecutorID(fmt.Sprintf("executor-%02d", i))
		if err := state.UpsertExecutor(txn, &domain.ExecutorMetadata{ID: id}); err != nil {
			return err
		}
	}

	for i := 0; i < numTasks; i++ {
		task := &domain.Task{
			ID:                 domain.TaskID(fmt.Sprintf("task-%04d", i)),
			Namespace:          demoNamespace,
			ComputeGraphName:   demoComputeGraphName,
			ComputeFnName:      demoComputeFnName,
			InvocationID:       fmt.Sprintf("invocation-%04d", i),
			KeyComputeGraphVer: 1,
			Status:             domain.TaskStatusPending,
			Outcome:            domain.TaskOutcomeUnknown,
		}
		if err := state.UpsertTask(txn, task); err != nil {
			return err
		}
		if err := state.InsertUnallocatedTaskID(txn, domain.NewUnallocatedTaskID(task)); err != nil {
			return err
		}
	}

	txn.Commit()
	return nil
}

// envOr, envIntOr, and envDurationOr resolve a flag default from the
// environment before falling back to fallback, so an unset flag still
// picks up GRAPHSCHED_* overrides (the same precedence viper's
// AutomaticEnv gave the previous cobra-based harness, reimplemented here
// directly over the stdlib flag package in the teacher's own idiom).
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
