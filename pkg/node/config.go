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

// FieldType is the editor widget used to render a config field.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"

	// Google document pickers. The runtime treats these as text; the
	// distinction only changes the editor widget.
	FieldSelectGoogleDoc   FieldType = "select-google-doc"
	FieldSelectGoogleSheet FieldType = "select-google-sheet"
)

// Option is a selectable value for select-type fields.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Rule is a single validation constraint on a config field.
type Rule struct {
	// Required fields must be present and non-empty once visible.
	Required bool `json:"required,omitempty"`

	// Allowed restricts the value to a closed set. Empty means any.
	Allowed []string `json:"allowed,omitempty"`

	// Sensitive values are redacted from logs and diagnostics.
	Sensitive bool `json:"sensitive,omitempty"`
}

// ConfigField is one entry of a node's declarative configuration schema.
// The same schema renders the configuration form and derives the runtime
// validator, so the two can never drift apart.
type ConfigField struct {
	Name    string    `json:"name"`
	Label   string    `json:"label"`
	Type    FieldType `json:"type"`
	Options []Option  `json:"options,omitempty"`
	Default string    `json:"defaultValue,omitempty"`

	// ShowWhen is an expression over the other config values gating this
	// field's visibility, e.g. `method in ["POST", "PUT"]`. Hidden fields
	// are not validated and not passed to execution.
	ShowWhen string `json:"showWhen,omitempty"`

	Validation Rule `json:"validation,omitempty"`
}
