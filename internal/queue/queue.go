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

// Package queue provides the in-process FIFO job queue used by the run
// dispatcher and the durable-write worker. One queue, one consumer:
// ordering within a queue instance is strict submission order.
package queue

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "flowmason_queue_depth",
		Help: "Number of jobs waiting in a queue",
	},
	[]string{"queue"},
)

// ErrClosed is returned when operating on a closed queue.
var ErrClosed = &Error{message: "queue is closed"}

// Error represents a queue-related error.
type Error struct {
	message string
}

func (e *Error) Error() string {
	return e.message
}

// Queue is a mutex-guarded FIFO with a signal channel for blocking
// dequeues. T is the job payload type.
type Queue[T any] struct {
	name string

	mu     sync.Mutex
	jobs   []T
	signal chan struct{}
	closed bool
}

// New creates a named queue. The name labels the depth metric.
func New[T any](name string) *Queue[T] {
	return &Queue[T]{
		name:   name,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a job.
func (q *Queue[T]) Enqueue(job T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.jobs = append(q.jobs, job)
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.jobs)))

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the oldest job, blocking until one is
// available, the queue is closed, or the context is cancelled.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.jobs) > 0 {
			job := q.jobs[0]
			q.jobs = q.jobs[1:]
			queueDepth.WithLabelValues(q.name).Set(float64(len(q.jobs)))
			q.mu.Unlock()
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.signal:
			// A job may be available, loop again.
		}
	}
}

// Len returns the number of waiting jobs.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close marks the queue closed. Jobs already enqueued can still be
// drained; Dequeue returns ErrClosed once the queue is empty.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
