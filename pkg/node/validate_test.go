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
	"testing"

	"github.com/flowmason/flowmason/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequestJSONRoundTrip(t *testing.T) {
	n := newStub("echo")

	original := map[string]any{
		"name":  "invoice-42",
		"total": 1234.5,
		"tags":  []any{"a", "b"},
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)

	res := ValidateRequest(n, Request{
		Format: FormatJSON,
		Data:   map[string]any{"defaultData": string(raw)},
	})
	require.False(t, res.IsErr())
	assert.Equal(t, original, res.Value().DefaultData())
}

func TestValidateRequestMalformedJSON(t *testing.T) {
	n := newStub("echo")

	res := ValidateRequest(n, Request{
		Format: FormatJSON,
		Data:   map[string]any{"defaultData": `{"unterminated": `},
	})
	require.True(t, res.IsErr())
	f := res.Failure()
	assert.Equal(t, result.KindBadInput, f.Kind)
	assert.Equal(t, `{"unterminated": `, f.Data["payload"])
}

func TestValidateRequestNonStringJSONPayload(t *testing.T) {
	n := newStub("echo")

	res := ValidateRequest(n, Request{
		Format: FormatJSON,
		Data:   map[string]any{"defaultData": 42},
	})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}

func TestValidateRequestStringPassThrough(t *testing.T) {
	n := newStub("echo")

	res := ValidateRequest(n, Request{
		Format: FormatString,
		Data:   map[string]any{"defaultData": "hello"},
	})
	require.False(t, res.IsErr())
	assert.Equal(t, "hello", res.Value().DefaultData())
}

func TestValidateRequestObjectWrapped(t *testing.T) {
	n := newStub("echo")

	payload := map[string]any{"k": "v"}
	res := ValidateRequest(n, Request{
		Format: FormatObject,
		Data:   map[string]any{"defaultData": payload},
	})
	require.False(t, res.IsErr())

	wrapped, ok := res.Value().DefaultData().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, wrapped["status"])
	assert.Equal(t, payload, wrapped["data"])
}

func TestValidateRequestUnknownFormat(t *testing.T) {
	n := newStub("echo")

	res := ValidateRequest(n, Request{Format: Format("csv")})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}

func TestValidateConfigRequired(t *testing.T) {
	n := newStub("echo", ConfigField{
		Name:       "url",
		Label:      "URL",
		Type:       FieldText,
		Validation: Rule{Required: true},
	})

	res := ValidateConfig(n, map[string]string{})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
	assert.Contains(t, res.Failure().UserMessage, "URL")
}

func TestValidateConfigDefaults(t *testing.T) {
	n := newStub("echo", ConfigField{
		Name:    "method",
		Label:   "Method",
		Type:    FieldSelect,
		Default: "GET",
	})

	res := ValidateConfig(n, map[string]string{})
	require.False(t, res.IsErr())
	assert.Equal(t, "GET", res.Value()["method"])
}

func TestValidateConfigAllowedValues(t *testing.T) {
	n := newStub("echo", ConfigField{
		Name:       "method",
		Label:      "Method",
		Type:       FieldSelect,
		Validation: Rule{Allowed: []string{"GET", "POST"}},
	})

	res := ValidateConfig(n, map[string]string{"method": "BREW"})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}

func TestValidateConfigShowWhenHidesField(t *testing.T) {
	n := newStub("echo",
		ConfigField{
			Name:    "method",
			Label:   "Method",
			Type:    FieldSelect,
			Default: "GET",
		},
		ConfigField{
			Name:       "body",
			Label:      "Body",
			Type:       FieldTextarea,
			ShowWhen:   `method in ["POST", "PUT"]`,
			Validation: Rule{Required: true},
		},
	)

	// Hidden: required body must not be enforced, and the field is dropped.
	res := ValidateConfig(n, map[string]string{"method": "GET"})
	require.False(t, res.IsErr())
	_, present := res.Value()["body"]
	assert.False(t, present)

	// Visible: required body is enforced.
	res = ValidateConfig(n, map[string]string{"method": "POST"})
	require.True(t, res.IsErr())

	res = ValidateConfig(n, map[string]string{"method": "POST", "body": "{}"})
	require.False(t, res.IsErr())
	assert.Equal(t, "{}", res.Value()["body"])
}

func TestValidateConfigBrokenShowWhen(t *testing.T) {
	n := newStub("echo", ConfigField{
		Name:     "extra",
		Label:    "Extra",
		Type:     FieldText,
		ShowWhen: `method +`,
	})

	res := ValidateConfig(n, map[string]string{})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindInternal, res.Failure().Kind)
}
