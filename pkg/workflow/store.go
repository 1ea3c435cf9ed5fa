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

package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmason/flowmason/pkg/result"
)

// Store is the durable workflow persistence boundary. The hot execution
// path never writes through it directly; mutations arrive via the
// write-behind queue.
type Store interface {
	Create(ctx context.Context, w *Workflow) result.Result[bool]
	Get(ctx context.Context, id string) result.Result[*Workflow]
	ApplyUpdates(ctx context.Context, id string, updates map[string]any) result.Result[bool]
	Delete(ctx context.Context, id string) result.Result[bool]
}

// MemoryStore is a mutex-guarded in-memory Store, used in tests and
// single-process setups.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*Workflow)}
}

// Create stores a new workflow. Duplicate IDs are a conflict.
func (s *MemoryStore) Create(ctx context.Context, w *Workflow) result.Result[bool] {
	if w == nil || w.ID == "" {
		return result.Fail[bool](result.KindBadInput,
			"workflow is missing an ID", "nil workflow or empty ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[w.ID]; exists {
		return result.Failf[bool](result.KindConflict,
			fmt.Sprintf("workflow %s already exists", w.ID),
			"duplicate workflow ID %q", w.ID)
	}

	stored := w.Clone()
	now := time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.State == "" {
		stored.State = StateDraft
	}

	s.workflows[w.ID] = stored
	return result.Ok(true)
}

// Get retrieves a workflow by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) result.Result[*Workflow] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.workflows[id]
	if !exists {
		return result.Failf[*Workflow](result.KindNotFound,
			fmt.Sprintf("workflow %s not found", id),
			"no workflow with ID %q", id)
	}
	return result.Ok(w.Clone())
}

// ApplyUpdates merges a partial update into the stored workflow. The keys
// "name" and "state" map onto the record itself; everything else lands in
// Data verbatim, which is the contract the write-behind queue relies on.
func (s *MemoryStore) ApplyUpdates(ctx context.Context, id string, updates map[string]any) result.Result[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.workflows[id]
	if !exists {
		return result.Failf[bool](result.KindNotFound,
			fmt.Sprintf("workflow %s not found", id),
			"no workflow with ID %q", id)
	}

	Apply(w, updates)
	w.UpdatedAt = time.Now()
	return result.Ok(true)
}

// Delete removes a workflow.
func (s *MemoryStore) Delete(ctx context.Context, id string) result.Result[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[id]; !exists {
		return result.Failf[bool](result.KindNotFound,
			fmt.Sprintf("workflow %s not found", id),
			"no workflow with ID %q", id)
	}
	delete(s.workflows, id)
	return result.Ok(true)
}

// Apply merges a partial update into a workflow in place. Shared by the
// memory and sqlite stores so both use the same merge semantics.
func Apply(w *Workflow, updates map[string]any) {
	for k, v := range updates {
		switch k {
		case "name":
			if name, ok := v.(string); ok {
				w.Name = name
			}
		case "state":
			if state, ok := v.(string); ok {
				w.State = State(state)
			}
		default:
			if w.Data == nil {
				w.Data = make(map[string]any)
			}
			w.Data[k] = v
		}
	}
}
