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
	"path/filepath"
	"testing"
	"time"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelEmitter collects fired runs for assertions.
type channelEmitter struct {
	fired chan map[string]any
}

func newChannelEmitter() *channelEmitter {
	return &channelEmitter{fired: make(chan map[string]any, 16)}
}

func (e *channelEmitter) Fire(ctx context.Context, workflowID string, payload map[string]any) {
	e.fired <- payload
}

func watchReq(path string) node.StartRequest {
	return node.StartRequest{
		TriggerNodeID: "node-1",
		WorkflowID:    "wf-1",
		Config:        map[string]string{"path": path, "events": "write"},
	}
}

func TestFileWatchFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	emitter := newChannelEmitter()
	fw := NewFileWatch(emitter)

	storeCalls := 0
	started := fw.StartListener(context.Background(), watchReq(dir), storeAccepting(&storeCalls))
	require.False(t, started.IsErr())
	require.Equal(t, 1, storeCalls)

	target := filepath.Join(dir, "report.txt")
	require.NoError(t, os.WriteFile(target, []byte("done"), 0o644))

	select {
	case payload := <-emitter.fired:
		assert.Equal(t, target, payload["defaultData"])
		assert.Equal(t, "node-1", payload["triggerNodeId"])
	case <-time.After(5 * time.Second):
		t.Fatal("no run fired for file write")
	}

	stopped := fw.StopListener(context.Background(), started.Value())
	require.False(t, stopped.IsErr())
}

// In writes-only mode a create without a write, like a new directory,
// must not fire a run.
func TestFileWatchWritesOnlyIgnoresCreates(t *testing.T) {
	dir := t.TempDir()
	emitter := newChannelEmitter()
	fw := NewFileWatch(emitter)

	storeCalls := 0
	started := fw.StartListener(context.Background(), watchReq(dir), storeAccepting(&storeCalls))
	require.False(t, started.IsErr())

	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	select {
	case payload := <-emitter.fired:
		t.Fatalf("create-only event fired a run: %v", payload)
	case <-time.After(500 * time.Millisecond):
	}

	target := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	select {
	case payload := <-emitter.fired:
		assert.Equal(t, target, payload["defaultData"])
	case <-time.After(5 * time.Second):
		t.Fatal("no run fired for file write")
	}

	require.False(t, fw.StopListener(context.Background(), started.Value()).IsErr())
}

func TestFileWatchMissingPath(t *testing.T) {
	fw := NewFileWatch(newChannelEmitter())

	storeCalls := 0
	res := fw.StartListener(context.Background(), watchReq("/does/not/exist"), storeAccepting(&storeCalls))
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadRequest, res.Failure().Kind)
	assert.Equal(t, 0, storeCalls, "nothing may be persisted for an unwatchable path")
}

// A persisted record without a live watcher (the post-restart state) must
// still end up watching.
func TestFileWatchExistingRecordRestartsWatcher(t *testing.T) {
	dir := t.TempDir()
	emitter := newChannelEmitter()
	fw := NewFileWatch(emitter)

	res := fw.StartListener(context.Background(), watchReq(dir), func(string) result.Result[bool] {
		return result.Ok(false)
	})
	require.False(t, res.IsErr())
	assert.True(t, res.Value().Existing)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0o644))
	select {
	case <-emitter.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("existing registration did not re-establish the watcher")
	}
}

func TestFileWatchStopWithoutWatcherIsSuccess(t *testing.T) {
	fw := NewFileWatch(newChannelEmitter())

	res := fw.StopListener(context.Background(), node.Listener{TriggerNodeID: "never-started"})
	require.False(t, res.IsErr())
}

func TestFileWatchStartValidate(t *testing.T) {
	fw := NewFileWatch(newChannelEmitter())

	res := fw.StartValidate(node.StartRequest{TriggerNodeID: "node-1", WorkflowID: "wf-1"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}
