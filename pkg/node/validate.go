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
	"encoding/json"
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/flowmason/flowmason/pkg/result"
)

// ValidateRequest normalizes a (format, data, config) triple against the
// node's declared schema so execution receives one uniform shape. It is
// pure and performs no I/O, which is what lets Test share the exact
// Execute path without touching external systems.
//
// Config handling: defaults are filled in, hidden fields (per ShowWhen)
// are dropped, then required/allowed constraints are checked.
//
// Payload handling by format:
//   - json: defaultData must be a string and is parsed; a parse failure is
//     KindBadInput with the offending payload in the failure data, never a
//     raw decoder error.
//   - string: defaultData passes through unchanged.
//   - array/object: defaultData is wrapped in a {status, data} envelope
//     for nodes that expect the uniform shape.
func ValidateRequest(n Node, req Request) result.Result[Request] {
	if !req.Format.Valid() {
		return result.Failf[Request](result.KindBadInput,
			fmt.Sprintf("unsupported data format %q", req.Format),
			"format %q is not one of string/json/array/object", req.Format)
	}

	cfg := ValidateConfig(n, req.Config)
	if cfg.IsErr() {
		return result.Forward[Request](cfg, "node.ValidateRequest")
	}

	out := Request{
		Format: req.Format,
		Config: cfg.Value(),
		Data:   make(map[string]any, len(req.Data)),
	}
	for k, v := range req.Data {
		out.Data[k] = v
	}

	switch req.Format {
	case FormatJSON:
		raw, ok := out.Data["defaultData"].(string)
		if !ok {
			fail := result.Failf[Request](result.KindBadInput,
				"json payload must be provided as a string",
				"defaultData is %T, want string for format json", out.Data["defaultData"]).Failure()
			return result.Err[Request](fail.With("payload", out.Data["defaultData"]))
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			fail := result.Failf[Request](result.KindBadInput,
				"payload is not valid JSON",
				"json parse: %v", err).Failure()
			return result.Err[Request](fail.With("payload", raw))
		}
		out.Data["defaultData"] = parsed

	case FormatString:
		// Raw text passes through unchanged.

	case FormatArray, FormatObject:
		out.Data["defaultData"] = map[string]any{
			"status": StatusSuccess,
			"data":   out.Data["defaultData"],
		}
	}

	return result.Ok(out)
}

// ValidateConfig applies the node's ConfigFields to a raw config map:
// fills defaults, drops fields hidden by ShowWhen, and enforces required
// and allowed-value constraints. Triggers reuse this from StartValidate.
func ValidateConfig(n Node, config map[string]string) result.Result[map[string]string] {
	fields := n.ConfigFields()

	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}

	// Defaults first, so ShowWhen expressions see them.
	for _, f := range fields {
		if _, present := out[f.Name]; !present && f.Default != "" {
			out[f.Name] = f.Default
		}
	}

	env := make(map[string]any, len(fields))
	for _, f := range fields {
		env[f.Name] = out[f.Name]
	}

	for _, f := range fields {
		visible, fail := fieldVisible(n, f, env)
		if fail != nil {
			return result.Err[map[string]string](fail.At("node.ValidateConfig"))
		}
		if !visible {
			delete(out, f.Name)
			continue
		}

		value, present := out[f.Name]
		if f.Validation.Required && (!present || value == "") {
			return result.Failf[map[string]string](result.KindBadInput,
				fmt.Sprintf("%s is required", f.Label),
				"config field %q missing or empty", f.Name)
		}
		if present && value != "" && len(f.Validation.Allowed) > 0 {
			if !slices.Contains(f.Validation.Allowed, value) {
				return result.Failf[map[string]string](result.KindBadInput,
					fmt.Sprintf("%s must be one of %v", f.Label, f.Validation.Allowed),
					"config field %q has disallowed value %q", f.Name, value)
			}
		}
	}

	return result.Ok(out)
}

// fieldVisible evaluates a field's ShowWhen expression against the other
// config values. A broken expression is a node-author bug, not bad user
// input.
func fieldVisible(n Node, f ConfigField, env map[string]any) (bool, *result.Failure) {
	if f.ShowWhen == "" {
		return true, nil
	}

	out, err := expr.Eval(f.ShowWhen, env)
	if err != nil {
		return false, result.Fail[bool](result.KindInternal,
			"node configuration schema is broken",
			fmt.Sprintf("showWhen for %s.%s: %v", n.Metadata().Type, f.Name, err)).Failure()
	}

	visible, ok := out.(bool)
	if !ok {
		return false, result.Fail[bool](result.KindInternal,
			"node configuration schema is broken",
			fmt.Sprintf("showWhen for %s.%s evaluated to %T, want bool", n.Metadata().Type, f.Name, out)).Failure()
	}
	return visible, nil
}
