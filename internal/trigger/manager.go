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

// Package trigger manages long-lived external listeners: starting them
// with idempotent persisted registration, stopping them cleanly, replaying
// them after a restart, and unsubscribing them on process shutdown through
// a single process-wide signal handler.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/internal/store"
	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/flowmason/flowmason/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activeListeners = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "flowmason_active_listeners",
	Help: "Number of trigger listeners currently registered in this process",
})

// active is the in-memory listener state for one running trigger: enough
// to unsubscribe, plus its identity in the dedup store. Never persisted;
// rebuilt by Reconcile after a restart.
type active struct {
	nodeType string
	trigger  node.Trigger
	listener node.Listener
}

// Manager owns every running listener in the process.
type Manager struct {
	registry  *node.Registry
	store     store.TriggerStore
	workflows workflow.Store
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]active // keyed by trigger node ID

	signalOnce sync.Once
}

// NewManager creates a lifecycle manager over the given registry, dedup
// store, and workflow store. The workflow store supplies trigger step
// configuration when the in-memory listener state is gone, i.e. after a
// restart.
func NewManager(registry *node.Registry, triggerStore store.TriggerStore, workflows workflow.Store, logger *slog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		store:     triggerStore,
		workflows: workflows,
		logger:    log.WithComponent(logger, "trigger"),
		active:    make(map[string]active),
	}
}

// Start brings a trigger to LISTENING: validate config, let the node
// verify upstream credentials, persist the dedup record, establish the
// subscription, and register the listener for shutdown handling. Starting
// a trigger whose fingerprint is already persisted is idempotent success;
// no duplicate external subscription is attempted.
//
// A record is only ever left behind by a fully successful start. If the
// node stores its fingerprint but then fails to subscribe, the fresh
// record is rolled back here; a leftover record would turn every retry
// into a false idempotent success over a dead subscription.
func (m *Manager) Start(ctx context.Context, nodeType string, req node.StartRequest) result.Result[node.Listener] {
	resolved := m.registry.ResolveTrigger(nodeType)
	if resolved.IsErr() {
		return result.Forward[node.Listener](resolved, "triggerManager.Start")
	}
	t := resolved.Value()

	validated := t.StartValidate(req)
	if validated.IsErr() {
		return result.Forward[node.Listener](validated, "triggerManager.Start")
	}

	var stored storeOutcome
	started := t.StartListener(ctx, validated.Value(), m.storeFunc(ctx, nodeType, req.WorkflowID, &stored))
	if started.IsErr() {
		if stored.fresh {
			if del := m.store.DeleteTrigger(ctx, stored.fingerprint); del.IsErr() {
				m.logger.Error("failed to roll back trigger record after failed start",
					slog.String(log.TriggerKey, req.TriggerNodeID),
					slog.String("error", del.Failure().Err))
			}
		}
		m.logger.Warn("trigger start failed",
			slog.String(log.TriggerKey, req.TriggerNodeID),
			slog.String(log.WorkflowKey, req.WorkflowID),
			slog.String(log.NodeTypeKey, nodeType),
			slog.Any("config", log.RedactConfig(t.ConfigFields(), req.Config)),
			slog.String("error", started.Failure().Err))
		return result.Forward[node.Listener](started, "triggerManager.Start")
	}
	listener := started.Value()

	m.register(nodeType, t, listener)

	if listener.Existing {
		m.logger.Info("trigger already registered, start is a no-op",
			slog.String(log.TriggerKey, req.TriggerNodeID),
			slog.String(log.WorkflowKey, req.WorkflowID))
	} else {
		m.logger.Info("trigger listening",
			slog.String(log.TriggerKey, req.TriggerNodeID),
			slog.String(log.WorkflowKey, req.WorkflowID),
			slog.String(log.NodeTypeKey, nodeType))
	}
	return result.Ok(listener)
}

// Stop tears a trigger down: upstream unsubscribe first, then dedup
// record removal. If the unsubscribe fails the record is kept and the
// failure surfaced, so the trigger stays visible and a later Stop can
// retry.
func (m *Manager) Stop(ctx context.Context, triggerNodeID string) result.Result[bool] {
	m.mu.Lock()
	a, exists := m.active[triggerNodeID]
	m.mu.Unlock()

	if !exists {
		return result.Failf[bool](result.KindNotFound,
			"this trigger is not running",
			"no active listener for trigger node %q", triggerNodeID)
	}

	if res := m.stopListener(ctx, a); res.IsErr() {
		return result.Forward[bool](res, "triggerManager.Stop")
	}

	fp := node.RegistrationFingerprint(a.listener.WorkflowID, triggerNodeID)
	if res := m.store.DeleteTrigger(ctx, fp); res.IsErr() {
		return result.Forward[bool](res, "triggerManager.Stop")
	}

	m.deregister(triggerNodeID)
	m.logger.Info("trigger stopped", slog.String(log.TriggerKey, triggerNodeID))
	return result.Ok(true)
}

// StopWorkflow stops every trigger owned by a workflow. Callers must do
// this before deleting a workflow to avoid orphaned external
// subscriptions. A record with no in-memory listener (the post-restart
// state) is replayed from the workflow's trigger step config and stopped
// through the node before its record is removed; deleting the record
// without an unsubscribe would orphan the external subscription.
func (m *Manager) StopWorkflow(ctx context.Context, workflowID string) result.Result[bool] {
	records := m.store.GetTriggersByWorkflowID(ctx, workflowID)
	if records.IsErr() {
		return result.Forward[bool](records, "triggerManager.StopWorkflow")
	}

	for _, rec := range records.Value() {
		id := triggerNodeIDFromFingerprint(rec.Content)

		m.mu.Lock()
		a, running := m.active[id]
		m.mu.Unlock()

		if !running {
			replayed := m.replayListener(ctx, rec)
			if replayed.IsErr() {
				return result.Forward[bool](replayed, "triggerManager.StopWorkflow")
			}
			a = replayed.Value()
		}

		if res := m.stopListener(ctx, a); res.IsErr() {
			return result.Forward[bool](res, "triggerManager.StopWorkflow")
		}
		if running {
			m.deregister(id)
		}

		if res := m.store.DeleteTrigger(ctx, rec.Content); res.IsErr() {
			return result.Forward[bool](res, "triggerManager.StopWorkflow")
		}
	}
	return result.Ok(true)
}

// Reconcile replays StartListener for every persisted record, rebuilding
// in-memory listener state after a process restart. The replayed request
// carries the owning workflow's trigger step config and goes through
// StartValidate, exactly as a user-initiated start would. Records whose
// node type is no longer registered, or whose workflow or step cannot be
// found, are left in place and logged; removing them would silently drop
// a subscription the user still expects.
func (m *Manager) Reconcile(ctx context.Context) {
	records := m.store.ListTriggers(ctx)
	if records.IsErr() {
		m.logger.Error("trigger reconciliation failed to list records",
			slog.String("error", records.Failure().Err))
		return
	}

	for _, rec := range records.Value() {
		id := triggerNodeIDFromFingerprint(rec.Content)

		resolved := m.registry.ResolveTrigger(rec.Type)
		if resolved.IsErr() {
			m.logger.Error("persisted trigger references unknown node type",
				slog.String(log.TriggerKey, id),
				slog.String(log.NodeTypeKey, rec.Type))
			continue
		}
		t := resolved.Value()

		replayed := m.replayRequest(ctx, rec)
		if replayed.IsErr() {
			m.logger.Error("trigger reconciliation could not rebuild the start request",
				slog.String(log.TriggerKey, id),
				slog.String(log.WorkflowKey, rec.WorkflowID),
				slog.String("error", replayed.Failure().Err))
			continue
		}

		validated := t.StartValidate(replayed.Value())
		if validated.IsErr() {
			m.logger.Error("persisted trigger config no longer validates",
				slog.String(log.TriggerKey, id),
				slog.String(log.WorkflowKey, rec.WorkflowID),
				slog.String("error", validated.Failure().Err))
			continue
		}

		// The record already exists; hand the node a store func that
		// reports a fresh registration so it re-subscribes.
		started := t.StartListener(ctx, validated.Value(), reconcileStoreFunc)
		if started.IsErr() {
			m.logger.Error("trigger reconciliation failed",
				slog.String(log.TriggerKey, id),
				slog.String(log.WorkflowKey, rec.WorkflowID),
				slog.String("error", started.Failure().Err))
			continue
		}

		m.register(rec.Type, t, started.Value())
		m.logger.Info("trigger reconciled",
			slog.String(log.TriggerKey, id),
			slog.String(log.WorkflowKey, rec.WorkflowID))
	}
}

// StopAllOnShutdown unsubscribes every active listener but keeps the
// persisted records, so the next boot's Reconcile re-establishes them.
func (m *Manager) StopAllOnShutdown(ctx context.Context) {
	m.mu.Lock()
	running := make(map[string]active, len(m.active))
	for id, a := range m.active {
		running[id] = a
	}
	m.mu.Unlock()

	for id, a := range running {
		if res := m.stopListener(ctx, a); res.IsErr() {
			m.logger.Error("failed to unsubscribe listener during shutdown",
				slog.String(log.TriggerKey, id),
				slog.String("error", res.Failure().Err))
			continue
		}
		m.deregister(id)
	}
}

// HandleSignals installs the single process-wide shutdown handler. On
// SIGINT or SIGTERM it unsubscribes every active listener, then invokes
// done. Installing is idempotent; per-trigger handler churn is exactly
// what this design replaces.
func (m *Manager) HandleSignals(ctx context.Context, done func()) {
	m.signalOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			select {
			case sig := <-sigCh:
				m.logger.Info("shutdown signal received, stopping listeners",
					slog.String("signal", sig.String()))
				m.StopAllOnShutdown(ctx)
				if done != nil {
					done()
				}
			case <-ctx.Done():
				signal.Stop(sigCh)
			}
		}()
	})
}

// ListenersForWorkflow returns the active listeners owned by a workflow.
// The hook endpoint uses this to find the shared secret that signs
// callback deliveries.
func (m *Manager) ListenersForWorkflow(workflowID string) []node.Listener {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []node.Listener
	for _, a := range m.active {
		if a.listener.WorkflowID == workflowID {
			out = append(out, a.listener)
		}
	}
	return out
}

// Active returns the IDs of currently running triggers.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.active))
	for id := range m.active {
		out = append(out, id)
	}
	return out
}

func (m *Manager) stopListener(ctx context.Context, a active) result.Result[bool] {
	validated := a.trigger.StopValidate(a.listener)
	if validated.IsErr() {
		return result.Forward[bool](validated, "triggerManager.stopListener")
	}

	stopped := a.trigger.StopListener(ctx, validated.Value())
	if stopped.IsErr() {
		return result.Forward[bool](stopped, "triggerManager.stopListener")
	}
	return result.Ok(true)
}

// replayRequest rebuilds the start request for a persisted record from
// the owning workflow's trigger step, which is the durable home of the
// trigger's config.
func (m *Manager) replayRequest(ctx context.Context, rec store.TriggerRecord) result.Result[node.StartRequest] {
	id := triggerNodeIDFromFingerprint(rec.Content)
	if id == "" {
		return result.Failf[node.StartRequest](result.KindInternal,
			"the trigger registration record is corrupt",
			"no trigger node ID in fingerprint %q", rec.Content)
	}

	loaded := m.workflows.Get(ctx, rec.WorkflowID)
	if loaded.IsErr() {
		return result.Forward[node.StartRequest](loaded, "triggerManager.replayRequest")
	}

	for _, step := range loaded.Value().Steps {
		if step.ID == id {
			return result.Ok(node.StartRequest{
				TriggerNodeID: id,
				WorkflowID:    rec.WorkflowID,
				Config:        step.Config,
			})
		}
	}
	return result.Failf[node.StartRequest](result.KindNotFound,
		"the workflow no longer has this trigger step",
		"workflow %q has no step %q", rec.WorkflowID, id)
}

// replayListener rebuilds enough listener state from a persisted record
// to drive an unsubscribe through the node.
func (m *Manager) replayListener(ctx context.Context, rec store.TriggerRecord) result.Result[active] {
	resolved := m.registry.ResolveTrigger(rec.Type)
	if resolved.IsErr() {
		return result.Forward[active](resolved, "triggerManager.replayListener")
	}

	replayed := m.replayRequest(ctx, rec)
	if replayed.IsErr() {
		return result.Forward[active](replayed, "triggerManager.replayListener")
	}
	req := replayed.Value()

	return result.Ok(active{
		nodeType: rec.Type,
		trigger:  resolved.Value(),
		listener: node.Listener{
			TriggerNodeID: req.TriggerNodeID,
			WorkflowID:    req.WorkflowID,
			Config:        req.Config,
		},
	})
}

// storeOutcome records whether the node's StoreFunc call actually created
// a record, so Start can roll a fresh record back when the rest of
// StartListener fails.
type storeOutcome struct {
	fingerprint string
	fresh       bool
}

// storeFunc builds the persistence callback handed to StartListener.
// A conflict maps to Ok(false): the registration already exists and the
// node must not create a second external subscription.
func (m *Manager) storeFunc(ctx context.Context, nodeType, workflowID string, outcome *storeOutcome) node.StoreFunc {
	return func(fingerprint string) result.Result[bool] {
		added := m.store.AddTrigger(ctx, store.TriggerRecord{
			Content:    fingerprint,
			Type:       nodeType,
			WorkflowID: workflowID,
		})
		if added.IsErr() {
			if added.Failure().Kind == result.KindConflict {
				return result.Ok(false)
			}
			return result.Forward[bool](added, "triggerManager.storeFunc")
		}
		outcome.fingerprint = fingerprint
		outcome.fresh = true
		return result.Ok(true)
	}
}

// reconcileStoreFunc reports a fresh registration without touching the
// store: during reconciliation the record's existence is expected and the
// node must proceed with the subscription.
func reconcileStoreFunc(string) result.Result[bool] {
	return result.Ok(true)
}

// register replaces any previous registration for the same trigger node,
// so repeated start/stop cycles within one process never accumulate
// stale entries.
func (m *Manager) register(nodeType string, t node.Trigger, l node.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[l.TriggerNodeID]; !exists {
		activeListeners.Inc()
	}
	m.active[l.TriggerNodeID] = active{nodeType: nodeType, trigger: t, listener: l}
}

func (m *Manager) deregister(triggerNodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[triggerNodeID]; exists {
		delete(m.active, triggerNodeID)
		activeListeners.Dec()
	}
}

// triggerNodeIDFromFingerprint recovers the trigger node ID from a
// persisted content key. Fingerprints are always the JSON produced by
// node.RegistrationFingerprint.
func triggerNodeIDFromFingerprint(content string) string {
	var key struct {
		TriggerNodeID string `json:"triggerNodeId"`
	}
	if err := json.Unmarshal([]byte(content), &key); err != nil {
		return ""
	}
	return key.TriggerNodeID
}
