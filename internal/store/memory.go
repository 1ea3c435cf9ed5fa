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

package store

import (
	"context"
	"sync"

	"github.com/flowmason/flowmason/pkg/result"
)

// MemoryTriggerStore is a map-backed TriggerStore for tests.
type MemoryTriggerStore struct {
	mu      sync.Mutex
	records map[string]TriggerRecord
}

// NewMemoryTriggerStore creates an empty in-memory trigger store.
func NewMemoryTriggerStore() *MemoryTriggerStore {
	return &MemoryTriggerStore{records: make(map[string]TriggerRecord)}
}

// GetTrigger looks up records by content fingerprint.
func (s *MemoryTriggerStore) GetTrigger(ctx context.Context, content string) result.Result[[]TriggerRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, exists := s.records[content]; exists {
		return result.Ok([]TriggerRecord{rec})
	}
	return result.Ok[[]TriggerRecord](nil)
}

// AddTrigger stores a record, enforcing content uniqueness.
func (s *MemoryTriggerStore) AddTrigger(ctx context.Context, rec TriggerRecord) result.Result[bool] {
	if rec.Content == "" || rec.Type == "" || rec.WorkflowID == "" {
		return result.Fail[bool](result.KindBadInput,
			"trigger record is incomplete",
			"content, type and workflowId are all required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.Content]; exists {
		return conflict(rec.Content)
	}
	s.records[rec.Content] = rec
	return result.Ok(true)
}

// GetTriggersByWorkflowID enumerates a workflow's trigger records.
func (s *MemoryTriggerStore) GetTriggersByWorkflowID(ctx context.Context, workflowID string) result.Result[[]TriggerRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []TriggerRecord
	for _, rec := range s.records {
		if rec.WorkflowID == workflowID {
			out = append(out, rec)
		}
	}
	return result.Ok(out)
}

// DeleteTrigger removes a record by fingerprint.
func (s *MemoryTriggerStore) DeleteTrigger(ctx context.Context, content string) result.Result[bool] {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, content)
	return result.Ok(true)
}

// ListTriggers returns all records.
func (s *MemoryTriggerStore) ListTriggers(ctx context.Context) result.Result[[]TriggerRecord] {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TriggerRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return result.Ok(out)
}
