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

package nodes

import (
	"context"
	"os"
	"sync"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/fsnotify/fsnotify"
)

// FileWatch fires a run whenever a watched path changes on the local
// filesystem. Unlike webhook triggers its listener lives entirely inside
// this process, so stopping it is closing the watcher.
type FileWatch struct {
	emitter node.Emitter

	mu       sync.Mutex
	watchers map[string]*fsnotify.Watcher // keyed by trigger node ID
}

// NewFileWatch creates the trigger node. Fired events become runs through
// emitter.
func NewFileWatch(emitter node.Emitter) *FileWatch {
	return &FileWatch{
		emitter:  emitter,
		watchers: make(map[string]*fsnotify.Watcher),
	}
}

func (f *FileWatch) Metadata() node.Descriptor {
	return node.Descriptor{
		Type:        "filewatch",
		Label:       "File Change",
		Description: "Start this workflow when a file or directory changes",
		Version:     "1.0.0",
		Category:    node.CategoryTrigger,
		Icon:        "folder",
	}
}

func (f *FileWatch) ConfigFields() []node.ConfigField {
	return []node.ConfigField{
		{
			Name: "path", Label: "Path to watch", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
		{
			Name: "events", Label: "Events", Type: node.FieldSelect,
			Options: []node.Option{
				{Label: "Writes only", Value: "write"},
				{Label: "All changes", Value: "all"},
			},
			Default:    "write",
			Validation: node.Rule{Allowed: []string{"write", "all"}},
		},
	}
}

func (f *FileWatch) StartValidate(req node.StartRequest) result.Result[node.StartRequest] {
	if req.TriggerNodeID == "" || req.WorkflowID == "" {
		return result.Fail[node.StartRequest](result.KindBadInput,
			"the trigger start request is incomplete",
			"triggerNodeId and workflowId are required")
	}
	cfg := node.ValidateConfig(f, req.Config)
	if cfg.IsErr() {
		return result.Forward[node.StartRequest](cfg, "filewatch.StartValidate")
	}
	req.Config = cfg.Value()
	return result.Ok(req)
}

// StartListener checks the path exists, persists the dedup record, and
// starts the watcher goroutine. The existence check plays the role the
// credential check plays for remote triggers: fail before persisting.
func (f *FileWatch) StartListener(ctx context.Context, req node.StartRequest, store node.StoreFunc) result.Result[node.Listener] {
	path := req.Config["path"]
	if _, err := os.Stat(path); err != nil {
		return result.Failf[node.Listener](result.KindBadRequest,
			"the path to watch does not exist",
			"stat %q: %v", path, err)
	}

	stored := store(node.RegistrationFingerprint(req.WorkflowID, req.TriggerNodeID))
	if stored.IsErr() {
		return result.Forward[node.Listener](stored, "filewatch.StartListener")
	}

	listener := node.Listener{
		TriggerNodeID: req.TriggerNodeID,
		WorkflowID:    req.WorkflowID,
		Config:        req.Config,
	}
	if !stored.Value() {
		listener.Existing = true
		// A record may survive a restart while the in-process watcher did
		// not; make sure one is running either way.
		if !f.watching(req.TriggerNodeID) {
			if res := f.startWatcher(req); res.IsErr() {
				return result.Forward[node.Listener](res, "filewatch.StartListener")
			}
		}
		return result.Ok(listener)
	}

	if res := f.startWatcher(req); res.IsErr() {
		return result.Forward[node.Listener](res, "filewatch.StartListener")
	}
	return result.Ok(listener)
}

func (f *FileWatch) StopValidate(l node.Listener) result.Result[node.Listener] {
	if l.TriggerNodeID == "" {
		return result.Fail[node.Listener](result.KindBadInput,
			"the listener is missing its trigger identity",
			"triggerNodeId is required to stop a watch")
	}
	return result.Ok(l)
}

// StopListener closes the watcher. A watcher that is already gone (e.g.
// the process restarted and reconciliation has not replayed it) is
// success, matching remote triggers' treatment of missing subscriptions.
func (f *FileWatch) StopListener(ctx context.Context, l node.Listener) result.Result[bool] {
	f.mu.Lock()
	w, exists := f.watchers[l.TriggerNodeID]
	if exists {
		delete(f.watchers, l.TriggerNodeID)
	}
	f.mu.Unlock()

	if !exists {
		return result.Ok(true)
	}
	if err := w.Close(); err != nil {
		return result.Failf[bool](result.KindInternal,
			"the file watcher could not be stopped",
			"close watcher for %q: %v", l.TriggerNodeID, err)
	}
	return result.Ok(true)
}

func (f *FileWatch) watching(triggerNodeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, exists := f.watchers[triggerNodeID]
	return exists
}

func (f *FileWatch) startWatcher(req node.StartRequest) result.Result[bool] {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"the file watcher could not be created",
			"fsnotify.NewWatcher: %v", err)
	}
	if err := w.Add(req.Config["path"]); err != nil {
		w.Close()
		return result.Failf[bool](result.KindBadRequest,
			"the path cannot be watched",
			"watch %q: %v", req.Config["path"], err)
	}

	f.mu.Lock()
	if old, exists := f.watchers[req.TriggerNodeID]; exists {
		old.Close()
	}
	f.watchers[req.TriggerNodeID] = w
	f.mu.Unlock()

	writesOnly := req.Config["events"] != "all"
	go f.pump(w, req.WorkflowID, req.TriggerNodeID, writesOnly)
	return result.Ok(true)
}

// pump forwards filesystem events into runs until the watcher closes.
func (f *FileWatch) pump(w *fsnotify.Watcher, workflowID, triggerNodeID string, writesOnly bool) {
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if writesOnly && !event.Has(fsnotify.Write) {
				continue
			}
			f.emitter.Fire(context.Background(), workflowID, map[string]any{
				"defaultData":   event.Name,
				"operation":     event.Op.String(),
				"triggerNodeId": triggerNodeID,
			})
		case _, ok := <-w.Errors:
			if !ok {
				return
			}
		}
	}
}
