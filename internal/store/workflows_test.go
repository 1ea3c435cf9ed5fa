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
	"testing"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowStoreRoundTrip(t *testing.T) {
	s := NewWorkflowStore(openTestDB(t))
	ctx := context.Background()

	w := &workflow.Workflow{
		ID:    "wf-1",
		Name:  "daily digest",
		State: workflow.StateActive,
		Steps: []workflow.Step{
			{ID: "s1", Type: "httprequest", Format: node.FormatJSON, Config: map[string]string{"url": "https://example.com"}},
			{ID: "s2", Type: "chatsend", Format: node.FormatString},
		},
		Data: map[string]any{"owner": "ops"},
	}
	require.False(t, s.Create(ctx, w).IsErr())

	got := s.Get(ctx, "wf-1")
	require.False(t, got.IsErr())

	loaded := got.Value()
	assert.Equal(t, "daily digest", loaded.Name)
	assert.Equal(t, workflow.StateActive, loaded.State)
	require.Len(t, loaded.Steps, 2)
	assert.Equal(t, "httprequest", loaded.Steps[0].Type)
	assert.Equal(t, "https://example.com", loaded.Steps[0].Config["url"])
	assert.Equal(t, "ops", loaded.Data["owner"])
}

func TestWorkflowStoreDuplicateCreate(t *testing.T) {
	s := NewWorkflowStore(openTestDB(t))
	ctx := context.Background()

	require.False(t, s.Create(ctx, &workflow.Workflow{ID: "wf-1"}).IsErr())
	res := s.Create(ctx, &workflow.Workflow{ID: "wf-1"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindConflict, res.Failure().Kind)
}

func TestWorkflowStoreApplyUpdates(t *testing.T) {
	s := NewWorkflowStore(openTestDB(t))
	ctx := context.Background()

	require.False(t, s.Create(ctx, &workflow.Workflow{ID: "wf-1", Name: "before"}).IsErr())
	res := s.ApplyUpdates(ctx, "wf-1", map[string]any{
		"name":    "after",
		"state":   "paused",
		"lastRun": "run-3",
	})
	require.False(t, res.IsErr())

	got := s.Get(ctx, "wf-1").Value()
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, workflow.StatePaused, got.State)
	assert.Equal(t, "run-3", got.Data["lastRun"])
}

func TestWorkflowStoreApplyUpdatesMissing(t *testing.T) {
	s := NewWorkflowStore(openTestDB(t))

	res := s.ApplyUpdates(context.Background(), "nope", map[string]any{"name": "x"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindNotFound, res.Failure().Kind)
	assert.Contains(t, res.Failure().Trace, "workflowStore.ApplyUpdates")
}

func TestWorkflowStoreDelete(t *testing.T) {
	s := NewWorkflowStore(openTestDB(t))
	ctx := context.Background()

	require.False(t, s.Create(ctx, &workflow.Workflow{ID: "wf-1"}).IsErr())
	require.False(t, s.Delete(ctx, "wf-1").IsErr())

	res := s.Delete(ctx, "wf-1")
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindNotFound, res.Failure().Kind)
}
