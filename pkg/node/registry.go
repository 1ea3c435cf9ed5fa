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

package node

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowmason/flowmason/pkg/result"
)

// Registry maps a node type string to its implementation. Registration
// happens once at startup; after Freeze the registry is read-only, so
// concurrent resolution needs no synchronization beyond the initial
// happens-before.
type Registry struct {
	mu     sync.RWMutex
	nodes  map[string]Node
	frozen bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{nodes: make(map[string]Node)}
}

// Register adds a node implementation under its descriptor type. A
// duplicate type or registration after Freeze is a programming error and
// returns a plain error, since it can only happen at wiring time.
func (r *Registry) Register(n Node) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", n.Metadata().Type)
	}

	typ := n.Metadata().Type
	if typ == "" {
		return fmt.Errorf("node descriptor has empty type")
	}
	if _, exists := r.nodes[typ]; exists {
		return fmt.Errorf("node type %q already registered", typ)
	}

	r.nodes[typ] = n
	return nil
}

// Freeze marks the end of startup registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Resolve returns the implementation for a node type. An unknown type is a
// deployment/configuration bug surfaced as KindNotFound, never a silent
// no-op.
func (r *Registry) Resolve(nodeType string) result.Result[Node] {
	r.mu.RLock()
	n, exists := r.nodes[nodeType]
	r.mu.RUnlock()

	if !exists {
		return result.Failf[Node](result.KindNotFound,
			fmt.Sprintf("unknown node type %q", nodeType),
			"node type %q is not registered", nodeType)
	}
	return result.Ok(n)
}

// ResolveGeneral resolves a type and asserts the General variant.
func (r *Registry) ResolveGeneral(nodeType string) result.Result[General] {
	res := r.Resolve(nodeType)
	if res.IsErr() {
		return result.Forward[General](res, "registry.ResolveGeneral")
	}

	g, ok := res.Value().(General)
	if !ok {
		return result.Failf[General](result.KindBadInput,
			fmt.Sprintf("node type %q is a trigger, not an action", nodeType),
			"node type %q does not implement General", nodeType)
	}
	return result.Ok(g)
}

// ResolveTrigger resolves a type and asserts the Trigger variant.
func (r *Registry) ResolveTrigger(nodeType string) result.Result[Trigger] {
	res := r.Resolve(nodeType)
	if res.IsErr() {
		return result.Forward[Trigger](res, "registry.ResolveTrigger")
	}

	t, ok := res.Value().(Trigger)
	if !ok {
		return result.Failf[Trigger](result.KindBadInput,
			fmt.Sprintf("node type %q is not a trigger", nodeType),
			"node type %q does not implement Trigger", nodeType)
	}
	return result.Ok(t)
}

// Descriptors returns the metadata of all registered nodes, sorted by type
// for stable listing.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
