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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowmason/flowmason/pkg/result"
	"github.com/flowmason/flowmason/pkg/workflow"
)

// SQLiteWorkflowStore implements workflow.Store on the shared sqlite
// handle. Steps and Data are stored as JSON columns.
type SQLiteWorkflowStore struct {
	db *DB
}

// NewWorkflowStore creates a workflow store over an open database.
func NewWorkflowStore(db *DB) *SQLiteWorkflowStore {
	return &SQLiteWorkflowStore{db: db}
}

// Create stores a new workflow. Duplicate IDs are a conflict.
func (s *SQLiteWorkflowStore) Create(ctx context.Context, w *workflow.Workflow) result.Result[bool] {
	if w == nil || w.ID == "" {
		return result.Fail[bool](result.KindBadInput,
			"workflow is missing an ID", "nil workflow or empty ID")
	}

	steps, data, err := marshalColumns(w)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"could not store the workflow", "marshal workflow %s: %v", w.ID, err)
	}

	now := time.Now()
	createdAt := w.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	state := w.State
	if state == "" {
		state = workflow.StateDraft
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, state, steps, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, string(state), steps, data, createdAt, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return result.Failf[bool](result.KindConflict,
				fmt.Sprintf("workflow %s already exists", w.ID),
				"duplicate workflow ID %q", w.ID)
		}
		return result.Failf[bool](result.KindInternal,
			"could not store the workflow", "insert workflow %s: %v", w.ID, err)
	}

	return result.Ok(true)
}

// Get retrieves a workflow by ID.
func (s *SQLiteWorkflowStore) Get(ctx context.Context, id string) result.Result[*workflow.Workflow] {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, name, state, steps, data, created_at, updated_at
		FROM workflows WHERE id = ?`, id)

	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return result.Failf[*workflow.Workflow](result.KindNotFound,
			fmt.Sprintf("workflow %s not found", id),
			"no workflow with ID %q", id)
	}
	if err != nil {
		return result.Failf[*workflow.Workflow](result.KindInternal,
			"could not read the workflow", "load workflow %s: %v", id, err)
	}

	return result.Ok(w)
}

// ApplyUpdates merges a partial update into the stored record, using the
// same merge semantics as the in-memory store.
func (s *SQLiteWorkflowStore) ApplyUpdates(ctx context.Context, id string, updates map[string]any) result.Result[bool] {
	got := s.Get(ctx, id)
	if got.IsErr() {
		return result.Forward[bool](got, "workflowStore.ApplyUpdates")
	}

	w := got.Value()
	workflow.Apply(w, updates)

	steps, data, err := marshalColumns(w)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"could not store the workflow update", "marshal workflow %s: %v", id, err)
	}

	_, err = s.db.db.ExecContext(ctx, `
		UPDATE workflows SET name = ?, state = ?, steps = ?, data = ?, updated_at = ?
		WHERE id = ?`,
		w.Name, string(w.State), steps, data, time.Now(), id)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"could not store the workflow update", "update workflow %s: %v", id, err)
	}

	return result.Ok(true)
}

// Delete removes a workflow record.
func (s *SQLiteWorkflowStore) Delete(ctx context.Context, id string) result.Result[bool] {
	res, err := s.db.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", id)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"could not delete the workflow", "delete workflow %s: %v", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return result.Failf[bool](result.KindNotFound,
			fmt.Sprintf("workflow %s not found", id),
			"no workflow with ID %q", id)
	}
	return result.Ok(true)
}

func marshalColumns(w *workflow.Workflow) (steps string, data string, err error) {
	stepsBytes, err := json.Marshal(w.Steps)
	if err != nil {
		return "", "", err
	}
	if w.Data == nil {
		return string(stepsBytes), "{}", nil
	}
	dataBytes, err := json.Marshal(w.Data)
	if err != nil {
		return "", "", err
	}
	return string(stepsBytes), string(dataBytes), nil
}

func scanWorkflow(row *sql.Row) (*workflow.Workflow, error) {
	var w workflow.Workflow
	var state, steps, data string
	if err := row.Scan(&w.ID, &w.Name, &state, &steps, &data, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}

	w.State = workflow.State(state)
	if err := json.Unmarshal([]byte(steps), &w.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &w.Data); err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &w, nil
}
