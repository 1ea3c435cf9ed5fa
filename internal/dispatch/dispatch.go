// Copyright 2026 The Flowmason Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch turns fired trigger events into pipeline runs. Runs
// are queued and consumed by a single worker; each run executes its
// workflow's steps in order, feeding every step's output into the next.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmason/flowmason/internal/engine"
	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/internal/queue"
	"github.com/flowmason/flowmason/internal/writeback"
	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var runsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "flowmason_runs_total",
		Help: "Total pipeline runs by outcome",
	},
	[]string{"outcome"},
)

// Run is one queued pipeline execution.
type Run struct {
	ID         string
	WorkflowID string
	Payload    map[string]any
	EnqueuedAt time.Time
}

// Dispatcher consumes the run queue. It implements node.Emitter so
// trigger nodes can fire runs without knowing anything about queues.
type Dispatcher struct {
	queue     *queue.Queue[Run]
	engine    *engine.Engine
	registry  *node.Registry
	workflows workflow.Store
	writeback *writeback.Worker
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New creates a dispatcher. The write-behind worker is optional; without
// it run outcomes are not recorded on the workflow.
func New(eng *engine.Engine, registry *node.Registry, workflows workflow.Store, wb *writeback.Worker, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:     queue.New[Run]("runs"),
		engine:    eng,
		registry:  registry,
		workflows: workflows,
		writeback: wb,
		logger:    log.WithComponent(logger, "dispatch"),
	}
}

// Fire enqueues a run for the workflow. Implements node.Emitter. Firing
// never blocks the caller; a closed queue (shutdown) drops the event
// with a log line.
func (d *Dispatcher) Fire(ctx context.Context, workflowID string, payload map[string]any) {
	run := Run{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := d.queue.Enqueue(run); err != nil {
		d.logger.Warn("dropping fired event, run queue is closed",
			slog.String(log.WorkflowKey, workflowID))
		return
	}
	d.logger.Debug("run enqueued",
		slog.String(log.RunIDKey, run.ID),
		slog.String(log.WorkflowKey, workflowID))
}

// Start launches the consumer. One consumer: runs for the same workflow
// must not interleave.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			run, err := d.queue.Dequeue(ctx)
			if err != nil {
				return
			}
			d.execute(ctx, run)
		}
	}()
}

// Close stops accepting new runs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.queue.Close()
	d.wg.Wait()
}

// Pending returns the number of queued runs.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

func (d *Dispatcher) execute(ctx context.Context, run Run) {
	started := time.Now()
	logger := d.logger.With(
		slog.String(log.RunIDKey, run.ID),
		slog.String(log.WorkflowKey, run.WorkflowID))

	loaded := d.workflows.Get(ctx, run.WorkflowID)
	if loaded.IsErr() {
		logger.Error("run aborted, workflow could not be loaded",
			slog.String("error", loaded.Failure().Err))
		d.record(run, "error", started)
		return
	}
	wf := loaded.Value()

	if wf.State != workflow.StateActive {
		logger.Info("run skipped, workflow is not active",
			slog.String("state", string(wf.State)))
		d.record(run, "skipped", started)
		return
	}

	current := run.Payload["defaultData"]
	for _, step := range wf.Steps {
		if d.isTrigger(step.Type) {
			continue
		}

		res := d.engine.Execute(ctx, step.Type, node.Request{
			Format: step.Format,
			Data:   map[string]any{"defaultData": current},
			Config: step.Config,
		})
		if res.IsErr() {
			f := result.Forward[node.Envelope](res, "dispatch.execute").Failure()
			logger.Warn("run failed",
				slog.String("step", step.ID),
				slog.String(log.NodeTypeKey, step.Type),
				slog.String("kind", string(f.Kind)),
				slog.String("error", f.Err),
				slog.Any("trace", f.Trace))
			d.record(run, "failed", started)
			return
		}
		current = res.Value().Content["defaultData"]
	}

	logger.Info("run finished",
		slog.Int64(log.DurationKey, time.Since(started).Milliseconds()))
	d.record(run, "success", started)
}

// record counts the run and, when a write-behind worker is attached,
// queues the outcome onto the workflow document.
func (d *Dispatcher) record(run Run, outcome string, started time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	if d.writeback == nil {
		return
	}
	err := d.writeback.Enqueue(run.WorkflowID, map[string]any{
		"lastRunId":     run.ID,
		"lastRunStatus": outcome,
		"lastRunAt":     started.UTC().Format(time.RFC3339),
	})
	if err != nil {
		d.logger.Warn("run outcome not recorded, write-behind queue is closed",
			slog.String(log.RunIDKey, run.ID))
	}
}

func (d *Dispatcher) isTrigger(nodeType string) bool {
	resolved := d.registry.Resolve(nodeType)
	if resolved.IsErr() {
		return false
	}
	_, isTrigger := resolved.Value().(node.Trigger)
	return isTrigger
}
