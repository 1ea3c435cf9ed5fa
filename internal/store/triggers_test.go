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
	"path/filepath"
	"testing"

	"github.com/flowmason/flowmason/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "flowmason.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Both implementations must behave identically; run the suite against
// each.
func triggerStores(t *testing.T) map[string]TriggerStore {
	return map[string]TriggerStore{
		"sqlite": NewTriggerStore(openTestDB(t)),
		"memory": NewMemoryTriggerStore(),
	}
}

func TestAddTriggerIdempotent(t *testing.T) {
	for name, s := range triggerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := TriggerRecord{
				Content:    `{"workflowId":"wf-1","triggerNodeId":"node-1"}`,
				Type:       "webhooksubscribe",
				WorkflowID: "wf-1",
			}

			require.False(t, s.AddTrigger(ctx, rec).IsErr())

			// Second insert with the same fingerprint is a conflict, and
			// exactly one record remains.
			second := s.AddTrigger(ctx, rec)
			require.True(t, second.IsErr())
			assert.Equal(t, result.KindConflict, second.Failure().Kind)

			got := s.GetTrigger(ctx, rec.Content)
			require.False(t, got.IsErr())
			assert.Len(t, got.Value(), 1)
		})
	}
}

func TestAddTriggerIncomplete(t *testing.T) {
	for name, s := range triggerStores(t) {
		t.Run(name, func(t *testing.T) {
			res := s.AddTrigger(context.Background(), TriggerRecord{Content: "only-content"})
			require.True(t, res.IsErr())
			assert.Equal(t, result.KindBadInput, res.Failure().Kind)
		})
	}
}

func TestGetTriggersByWorkflowID(t *testing.T) {
	for name, s := range triggerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.False(t, s.AddTrigger(ctx, TriggerRecord{Content: "a", Type: "webhooksubscribe", WorkflowID: "wf-1"}).IsErr())
			require.False(t, s.AddTrigger(ctx, TriggerRecord{Content: "b", Type: "filewatch", WorkflowID: "wf-1"}).IsErr())
			require.False(t, s.AddTrigger(ctx, TriggerRecord{Content: "c", Type: "webhooksubscribe", WorkflowID: "wf-2"}).IsErr())

			res := s.GetTriggersByWorkflowID(ctx, "wf-1")
			require.False(t, res.IsErr())
			assert.Len(t, res.Value(), 2)
		})
	}
}

func TestDeleteTrigger(t *testing.T) {
	for name, s := range triggerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := TriggerRecord{Content: "a", Type: "filewatch", WorkflowID: "wf-1"}
			require.False(t, s.AddTrigger(ctx, rec).IsErr())
			require.False(t, s.DeleteTrigger(ctx, "a").IsErr())

			got := s.GetTrigger(ctx, "a")
			require.False(t, got.IsErr())
			assert.Empty(t, got.Value())

			// Fingerprint is free again after deletion.
			assert.False(t, s.AddTrigger(ctx, rec).IsErr())
		})
	}
}

func TestListTriggers(t *testing.T) {
	for name, s := range triggerStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.False(t, s.AddTrigger(ctx, TriggerRecord{Content: "a", Type: "filewatch", WorkflowID: "wf-1"}).IsErr())
			require.False(t, s.AddTrigger(ctx, TriggerRecord{Content: "b", Type: "filewatch", WorkflowID: "wf-2"}).IsErr())

			res := s.ListTriggers(ctx)
			require.False(t, res.IsErr())
			assert.Len(t, res.Value(), 2)
		})
	}
}
