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

package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/google/uuid"
)

// errorBody is the JSON shape of every failed response. UserMessage is
// safe to show; Detail is the diagnostic chain for operators.
type errorBody struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind"`
	Detail string         `json:"detail,omitempty"`
	Trace  []string       `json:"trace,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

func statusFor(kind result.Kind) int {
	switch kind {
	case result.KindBadInput:
		return http.StatusBadRequest
	case result.KindBadRequest:
		return http.StatusUnprocessableEntity
	case result.KindNotFound:
		return http.StatusNotFound
	case result.KindConflict:
		return http.StatusConflict
	case result.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, f *result.Failure) {
	writeJSON(w, statusFor(f.Kind), errorBody{
		Error:  f.UserMessage,
		Kind:   string(f.Kind),
		Detail: f.Err,
		Trace:  f.Trace,
		Data:   f.Data,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "the request body is not valid JSON for this endpoint",
			Kind:   string(result.KindBadInput),
			Detail: err.Error(),
		})
		return false
	}
	return true
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": d.opts.Version,
	})
}

func (d *Daemon) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"nodes": d.registry.Descriptors()})
}

// executeRequest is the body of execute/test calls.
type executeRequest struct {
	Format node.Format       `json:"format"`
	Data   map[string]any    `json:"data"`
	Config map[string]string `json:"config"`
}

func (d *Daemon) handleExecuteNode(w http.ResponseWriter, r *http.Request) {
	d.runNode(w, r, false)
}

func (d *Daemon) handleTestNode(w http.ResponseWriter, r *http.Request) {
	d.runNode(w, r, true)
}

func (d *Daemon) runNode(w http.ResponseWriter, r *http.Request, dry bool) {
	var body executeRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req := node.Request{Format: body.Format, Data: body.Data, Config: body.Config}
	var res result.Result[node.Envelope]
	if dry {
		res = d.engine.Test(r.Context(), r.PathValue("type"), req)
	} else {
		res = d.engine.Execute(r.Context(), r.PathValue("type"), req)
	}
	if res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	writeJSON(w, http.StatusOK, res.Value())
}

// createWorkflowRequest accepts a workflow definition; a missing ID is
// assigned.
type createWorkflowRequest struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	State workflow.State  `json:"state"`
	Steps []workflow.Step `json:"steps"`
}

func (d *Daemon) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var body createWorkflowRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}
	if body.State == "" {
		body.State = workflow.StateDraft
	}

	wf := &workflow.Workflow{
		ID:    body.ID,
		Name:  body.Name,
		State: body.State,
		Steps: body.Steps,
	}
	if res := d.workflows.Create(r.Context(), wf); res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func (d *Daemon) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	res := d.workflows.Get(r.Context(), r.PathValue("id"))
	if res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	writeJSON(w, http.StatusOK, res.Value())
}

// handleUpdateWorkflow queues the mutation onto the write-behind queue
// and acknowledges. Reads may briefly return the previous state.
func (d *Daemon) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	var updates map[string]any
	if !decodeBody(w, r, &updates) {
		return
	}

	id := r.PathValue("id")
	if res := d.workflows.Get(r.Context(), id); res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}

	if err := d.writeback.Enqueue(id, updates); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:  "the daemon is shutting down and cannot accept writes",
			Kind:   string(result.KindInternal),
			Detail: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleDeleteWorkflow stops the workflow's triggers first so no external
// subscription outlives its workflow.
func (d *Daemon) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if res := d.triggers.StopWorkflow(r.Context(), id); res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	if res := d.workflows.Delete(r.Context(), id); res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartTrigger starts the trigger step of a workflow. The step's
// own type and config drive the listener; the body carries nothing.
func (d *Daemon) handleStartTrigger(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	nodeID := r.PathValue("node")

	loaded := d.workflows.Get(r.Context(), workflowID)
	if loaded.IsErr() {
		writeFailure(w, loaded.Failure())
		return
	}

	step, found := findStep(loaded.Value(), nodeID)
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: "this workflow has no step with that id",
			Kind:  string(result.KindNotFound),
		})
		return
	}

	res := d.triggers.Start(r.Context(), step.Type, node.StartRequest{
		TriggerNodeID: nodeID,
		WorkflowID:    workflowID,
		Config:        step.Config,
	})
	if res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listening": true,
		"existing":  res.Value().Existing,
	})
}

func (d *Daemon) handleStopTrigger(w http.ResponseWriter, r *http.Request) {
	res := d.triggers.Stop(r.Context(), r.PathValue("node"))
	if res.IsErr() {
		writeFailure(w, res.Failure())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func findStep(wf *workflow.Workflow, stepID string) (workflow.Step, bool) {
	for _, step := range wf.Steps {
		if step.ID == stepID {
			return step, true
		}
	}
	return workflow.Step{}, false
}
