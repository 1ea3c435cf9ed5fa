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

// Format declares the shape of a node's primary payload and governs how
// defaultData is coerced by the validation pipeline before execution.
type Format string

const (
	FormatString Format = "string"
	FormatJSON   Format = "json"
	FormatArray  Format = "array"
	FormatObject Format = "object"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatString, FormatJSON, FormatArray, FormatObject:
		return true
	}
	return false
}

// Request is the validated-or-to-be-validated input of an execution.
type Request struct {
	// Format governs the interpretation of Data["defaultData"].
	Format Format `json:"format"`

	// Data carries the primary payload under "defaultData" plus any
	// node-specific fields.
	Data map[string]any `json:"data"`

	// Config is the node configuration keyed by field name.
	Config map[string]string `json:"config"`
}

// DefaultData returns the primary payload.
func (r Request) DefaultData() any {
	if r.Data == nil {
		return nil
	}
	return r.Data["defaultData"]
}

// Envelope is the uniform execution output: a success status, the payload
// format, and the content with the primary value under "defaultData".
type Envelope struct {
	Status  string         `json:"status"`
	Format  Format         `json:"format"`
	Content map[string]any `json:"content"`
}

// StatusSuccess is the only status an Envelope carries; failures travel as
// result.Failure, never inside an envelope.
const StatusSuccess = "success"

// NewEnvelope builds a success envelope around the primary payload.
func NewEnvelope(format Format, defaultData any) Envelope {
	return Envelope{
		Status: StatusSuccess,
		Format: format,
		Content: map[string]any{
			"defaultData": defaultData,
		},
	}
}
