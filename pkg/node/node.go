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

// Package node defines the uniform contract every unit of work in a
// flowmason pipeline implements: declarative metadata, a declarative config
// schema, validation, and either one-shot execution (General) or a
// long-lived external listener (Trigger). The engine and the trigger
// lifecycle manager dispatch through this contract only; they never know
// the concrete integration behind it.
package node

import (
	"context"
	"encoding/json"

	"github.com/flowmason/flowmason/pkg/result"
)

// Category groups node types for the editor palette.
type Category string

const (
	CategoryAction  Category = "action"
	CategoryTrigger Category = "trigger"
	CategoryLLM     Category = "llm"
	CategoryAgent   Category = "agent"
)

// Descriptor is the immutable metadata for a node type. One Descriptor
// exists per type, created from static registration at process start.
type Descriptor struct {
	// Type is the unique registry key (e.g. "httprequest").
	Type string `json:"type"`

	// Label is the human-readable name shown in the editor.
	Label string `json:"label"`

	// Description explains what the node does.
	Description string `json:"description"`

	// Version of the node implementation.
	Version string `json:"version"`

	// Category determines how the node is dispatched.
	Category Category `json:"category"`

	// Icon is an editor hint, opaque to the runtime.
	Icon string `json:"icon,omitempty"`

	// Hidden nodes are registered but not offered in the editor.
	Hidden bool `json:"hidden,omitempty"`
}

// Node is the capability set common to both variants.
type Node interface {
	// Metadata returns the node's descriptor.
	Metadata() Descriptor

	// ConfigFields returns the declarative configuration schema. The same
	// schema renders the editor form and derives the runtime validator.
	ConfigFields() []ConfigField
}

// General is a node whose work is a single request/response call.
type General interface {
	Node

	// Execute performs exactly one semantic unit of work. It always
	// re-validates its input first; callers must not be able to bypass
	// validation by pre-normalizing.
	Execute(ctx context.Context, req Request) result.Result[Envelope]

	// Test is a dry run that must be behaviorally identical to Execute:
	// same validation, same outward call. The editor's "try it" button
	// exercises the real code path through this.
	Test(ctx context.Context, req Request) result.Result[Envelope]

	// Terminate releases any resources held by the node. A no-op for most
	// request/response nodes.
	Terminate() result.Result[bool]
}

// StartRequest is the input to a trigger's listener start.
type StartRequest struct {
	// TriggerNodeID identifies the node instance within its workflow.
	TriggerNodeID string `json:"triggerNodeId"`

	// WorkflowID owns the trigger.
	WorkflowID string `json:"workflowId"`

	// Config is the node configuration, validated against ConfigFields.
	Config map[string]string `json:"config"`
}

// Listener captures everything needed to unsubscribe a running listener.
// It is in-memory state owned by the trigger lifecycle manager; it is not
// persisted and must be rebuilt via reconciliation after a restart.
type Listener struct {
	TriggerNodeID string            `json:"triggerNodeId"`
	WorkflowID    string            `json:"workflowId"`
	Config        map[string]string `json:"config"`

	// External holds upstream references (e.g. a subscription ID)
	// required by StopListener.
	External map[string]string `json:"external,omitempty"`

	// Existing is true when the start found a persisted registration with
	// the same fingerprint and made no new external subscription.
	Existing bool `json:"-"`
}

// StoreFunc persists the dedup record for a trigger registration. It is
// supplied by the lifecycle manager. The returned value is true when a new
// record was stored, false when a record with the same fingerprint already
// existed (the caller must then skip the external subscription).
type StoreFunc func(fingerprint string) result.Result[bool]

// RegistrationFingerprint returns the deterministic content key that
// identifies a trigger's external subscription. Trigger nodes pass it to
// their StoreFunc; the persistence layer enforces its uniqueness. The
// field order must never change: persisted records are matched against
// this string forever.
func RegistrationFingerprint(workflowID, triggerNodeID string) string {
	key, _ := json.Marshal(struct {
		WorkflowID    string `json:"workflowId"`
		TriggerNodeID string `json:"triggerNodeId"`
	}{workflowID, triggerNodeID})
	return string(key)
}

// Trigger is a node that establishes a long-lived external listener
// instead of executing a one-shot call. It produces pipeline runs
// asynchronously, through the Emitter it was constructed with, whenever
// the external event fires.
type Trigger interface {
	Node

	// StartValidate checks the start request shape and config against the
	// declared schema. Pure; no I/O.
	StartValidate(req StartRequest) result.Result[StartRequest]

	// StartListener verifies upstream credentials, persists the dedup
	// record through store, and establishes the external subscription.
	// A fingerprint conflict from store is idempotent success: the
	// returned listener has Existing set and no new subscription is made.
	StartListener(ctx context.Context, req StartRequest, store StoreFunc) result.Result[Listener]

	// StopValidate checks the listener payload shape. Pure; no I/O.
	StopValidate(l Listener) result.Result[Listener]

	// StopListener tears down the external subscription. On failure the
	// upstream error is surfaced; the trigger may still be live upstream.
	StopListener(ctx context.Context, l Listener) result.Result[bool]
}

// Emitter is how a firing trigger turns an external event into a pipeline
// run. Implemented by the daemon's run dispatcher.
type Emitter interface {
	Fire(ctx context.Context, workflowID string, payload map[string]any)
}
