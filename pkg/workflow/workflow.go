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

// Package workflow defines the pipeline model: an ordered list of steps,
// each referencing a registered node type, plus the durable store the
// write-behind queue applies mutations to.
package workflow

import (
	"time"

	"github.com/flowmason/flowmason/pkg/node"
)

// State is the lifecycle state of a workflow.
type State string

const (
	StateDraft  State = "draft"
	StateActive State = "active"
	StatePaused State = "paused"
)

// Step references a node type with its configuration. The engine resolves
// Type through the node registry at run time.
type Step struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Format node.Format       `json:"format"`
	Config map[string]string `json:"config,omitempty"`
}

// Workflow is a user-defined pipeline.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	State     State          `json:"state"`
	Steps     []Step         `json:"steps,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Clone returns a deep enough copy that callers can mutate the result
// without aliasing store-owned state.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Steps = make([]Step, len(w.Steps))
	copy(out.Steps, w.Steps)
	if w.Data != nil {
		out.Data = make(map[string]any, len(w.Data))
		for k, v := range w.Data {
			out.Data[k] = v
		}
	}
	return &out
}
