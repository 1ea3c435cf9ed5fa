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

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// executionsTotal counts node executions by type and outcome. The
	// outcome label is "success" or the failure kind.
	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowmason_node_executions_total",
			Help: "Total node executions by node type and outcome",
		},
		[]string{"node_type", "outcome"},
	)

	// executionDuration tracks node execution latency.
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowmason_node_execution_seconds",
			Help:    "Node execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_type"},
	)
)
