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
	"strings"

	"github.com/flowmason/flowmason/pkg/result"
)

// TriggerRecord is the persisted dedup entry for a trigger registration.
// Content is a deterministic fingerprint of the trigger's identity; its
// uniqueness (checked here and enforced by a unique index) is what makes
// registration idempotent across retries and redeploys.
type TriggerRecord struct {
	Content    string `json:"content"`
	Type       string `json:"type"`
	WorkflowID string `json:"workflowId"`
}

// TriggerStore is the durable dedup registry for trigger registrations.
type TriggerStore interface {
	// GetTrigger returns the records matching a content fingerprint
	// (zero or one, the unique index permitting).
	GetTrigger(ctx context.Context, content string) result.Result[[]TriggerRecord]

	// AddTrigger stores a record. A record with the same content already
	// present is KindConflict; callers treat that as already-registered.
	AddTrigger(ctx context.Context, rec TriggerRecord) result.Result[bool]

	// GetTriggersByWorkflowID enumerates a workflow's triggers so callers
	// can stop every one before deleting the workflow.
	GetTriggersByWorkflowID(ctx context.Context, workflowID string) result.Result[[]TriggerRecord]

	// DeleteTrigger removes the record for a fingerprint.
	DeleteTrigger(ctx context.Context, content string) result.Result[bool]

	// ListTriggers returns every record, for boot-time reconciliation.
	ListTriggers(ctx context.Context) result.Result[[]TriggerRecord]
}

// SQLiteTriggerStore implements TriggerStore on the shared sqlite handle.
type SQLiteTriggerStore struct {
	db *DB
}

// NewTriggerStore creates a trigger store over an open database.
func NewTriggerStore(db *DB) *SQLiteTriggerStore {
	return &SQLiteTriggerStore{db: db}
}

// GetTrigger looks up records by content fingerprint.
func (s *SQLiteTriggerStore) GetTrigger(ctx context.Context, content string) result.Result[[]TriggerRecord] {
	return s.query(ctx, "SELECT content, type, workflow_id FROM triggers WHERE content = ?", content)
}

// AddTrigger stores a record, enforcing content uniqueness. The
// application-level lookup catches the common case; the unique index
// backstops the race between two concurrent registrations, which also
// surfaces as KindConflict for the loser.
func (s *SQLiteTriggerStore) AddTrigger(ctx context.Context, rec TriggerRecord) result.Result[bool] {
	if rec.Content == "" || rec.Type == "" || rec.WorkflowID == "" {
		return result.Fail[bool](result.KindBadInput,
			"trigger record is incomplete",
			"content, type and workflowId are all required")
	}

	existing := s.GetTrigger(ctx, rec.Content)
	if existing.IsErr() {
		return result.Forward[bool](existing, "triggerStore.AddTrigger")
	}
	if len(existing.Value()) > 0 {
		return conflict(rec.Content)
	}

	_, err := s.db.db.ExecContext(ctx,
		"INSERT INTO triggers (content, type, workflow_id) VALUES (?, ?, ?)",
		rec.Content, rec.Type, rec.WorkflowID)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return conflict(rec.Content)
		}
		return result.Failf[bool](result.KindInternal,
			"could not store the trigger registration",
			"insert trigger: %v", err)
	}

	return result.Ok(true)
}

// GetTriggersByWorkflowID enumerates a workflow's trigger records.
func (s *SQLiteTriggerStore) GetTriggersByWorkflowID(ctx context.Context, workflowID string) result.Result[[]TriggerRecord] {
	return s.query(ctx, "SELECT content, type, workflow_id FROM triggers WHERE workflow_id = ?", workflowID)
}

// DeleteTrigger removes a record by fingerprint.
func (s *SQLiteTriggerStore) DeleteTrigger(ctx context.Context, content string) result.Result[bool] {
	_, err := s.db.db.ExecContext(ctx, "DELETE FROM triggers WHERE content = ?", content)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"could not remove the trigger registration",
			"delete trigger: %v", err)
	}
	return result.Ok(true)
}

// ListTriggers returns all records.
func (s *SQLiteTriggerStore) ListTriggers(ctx context.Context) result.Result[[]TriggerRecord] {
	return s.query(ctx, "SELECT content, type, workflow_id FROM triggers")
}

func (s *SQLiteTriggerStore) query(ctx context.Context, q string, args ...any) result.Result[[]TriggerRecord] {
	rows, err := s.db.db.QueryContext(ctx, q, args...)
	if err != nil {
		return result.Failf[[]TriggerRecord](result.KindInternal,
			"could not read trigger registrations",
			"query triggers: %v", err)
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var rec TriggerRecord
		if err := rows.Scan(&rec.Content, &rec.Type, &rec.WorkflowID); err != nil {
			return result.Failf[[]TriggerRecord](result.KindInternal,
				"could not read trigger registrations",
				"scan trigger row: %v", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return result.Failf[[]TriggerRecord](result.KindInternal,
			"could not read trigger registrations",
			"iterate trigger rows: %v", err)
	}

	return result.Ok(out)
}

func conflict(content string) result.Result[bool] {
	return result.Failf[bool](result.KindConflict,
		"this trigger is already registered",
		"trigger record with content %s already exists", content)
}
