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

// Package writeback decouples in-memory workflow mutation from durable
// persistence. Mutations are enqueued on the hot path and applied by a
// single worker in strict submission order, so no two writes for the same
// queue ever run concurrently. A failed write is logged and dropped; the
// hot-path state and the durable record may diverge until the next
// mutation, which is the accepted trade-off for write latency.
package writeback

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/internal/queue"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmason_writeback_applied_total",
		Help: "Workflow mutations applied to durable storage",
	})
	writesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmason_writeback_dropped_total",
		Help: "Workflow mutations dropped after a failed durable write",
	})
)

// Mutation is one partial workflow update.
type Mutation struct {
	WorkflowID string
	Updates    map[string]any
	EnqueuedAt time.Time
}

// Worker owns the queue consumer. Exactly one consumer goroutine runs per
// Worker, which is what guarantees FIFO application.
type Worker struct {
	queue  *queue.Queue[Mutation]
	store  workflow.Store
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewWorker creates a write-behind worker over the given durable store.
func NewWorker(store workflow.Store, logger *slog.Logger) *Worker {
	return &Worker{
		queue:  queue.New[Mutation]("writeback"),
		store:  store,
		logger: log.WithComponent(logger, "writeback"),
	}
}

// Enqueue submits a mutation for asynchronous durable application.
func (w *Worker) Enqueue(workflowID string, updates map[string]any) error {
	return w.queue.Enqueue(Mutation{
		WorkflowID: workflowID,
		Updates:    updates,
		EnqueuedAt: time.Now(),
	})
}

// Start launches the single consumer goroutine. It runs until the context
// is cancelled or Close drains the queue.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			m, err := w.queue.Dequeue(ctx)
			if err != nil {
				return
			}
			w.apply(ctx, m)
		}
	}()
}

// Close stops accepting mutations, lets the worker drain what was already
// enqueued, and waits for it to exit.
func (w *Worker) Close() {
	w.queue.Close()
	w.wg.Wait()
}

// Pending returns the number of unapplied mutations.
func (w *Worker) Pending() int {
	return w.queue.Len()
}

func (w *Worker) apply(ctx context.Context, m Mutation) {
	res := w.store.ApplyUpdates(ctx, m.WorkflowID, m.Updates)
	if res.IsErr() {
		// Log and drop: the originating in-memory mutation is not
		// replayed, per the eventual-consistency contract.
		writesDropped.Inc()
		w.logger.Error("durable write failed, mutation dropped",
			slog.String(log.WorkflowKey, m.WorkflowID),
			slog.String("kind", string(res.Failure().Kind)),
			slog.String("error", res.Failure().Err),
			slog.Any("trace", res.Failure().Trace))
		return
	}

	writesApplied.Inc()
	w.logger.Debug("durable write applied",
		slog.String(log.WorkflowKey, m.WorkflowID),
		slog.Int64(log.DurationKey, time.Since(m.EnqueuedAt).Milliseconds()))
}
