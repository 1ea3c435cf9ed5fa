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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/tidwall/gjson"
)

const defaultCompletionsURL = "https://api.openai.com/v1/chat/completions"

// LLMComplete sends the node's payload as a user message to an
// OpenAI-compatible chat completions endpoint and passes the assistant's
// reply downstream.
type LLMComplete struct {
	client *http.Client
}

// NewLLMComplete creates the node.
func NewLLMComplete() *LLMComplete {
	return &LLMComplete{client: defaultHTTPClient()}
}

func (l *LLMComplete) Metadata() node.Descriptor {
	return node.Descriptor{
		Type:        "llmcomplete",
		Label:       "LLM Completion",
		Description: "Generate text with a chat completion model",
		Version:     "1.0.0",
		Category:    node.CategoryLLM,
		Icon:        "sparkles",
	}
}

func (l *LLMComplete) ConfigFields() []node.ConfigField {
	return []node.ConfigField{
		{
			Name: "api_key", Label: "API Key", Type: node.FieldText,
			Validation: node.Rule{Required: true, Sensitive: true},
		},
		{
			Name: "model", Label: "Model", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
		{
			Name: "api_url", Label: "API URL", Type: node.FieldText,
			Default: defaultCompletionsURL,
		},
		{
			Name: "system_prompt", Label: "System Prompt", Type: node.FieldTextarea,
		},
		{
			Name: "temperature", Label: "Temperature", Type: node.FieldText,
			Default: "1.0",
		},
	}
}

func (l *LLMComplete) Execute(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	validated := node.ValidateRequest(l, req)
	if validated.IsErr() {
		return result.Forward[node.Envelope](validated, "llmcomplete.Execute")
	}
	return l.complete(ctx, validated.Value())
}

func (l *LLMComplete) Test(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	return l.Execute(ctx, req)
}

func (l *LLMComplete) Terminate() result.Result[bool] {
	l.client.CloseIdleConnections()
	return result.Ok(true)
}

func (l *LLMComplete) complete(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	temperature, err := strconv.ParseFloat(req.Config["temperature"], 64)
	if err != nil || temperature < 0 || temperature > 2 {
		return result.Failf[node.Envelope](result.KindBadInput,
			"temperature must be a number between 0 and 2",
			"parse temperature %q", req.Config["temperature"])
	}

	messages := []map[string]string{}
	if system := req.Config["system_prompt"]; system != "" {
		messages = append(messages, map[string]string{"role": "system", "content": system})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": payloadString(req.DefaultData()),
	})

	payload, err := json.Marshal(map[string]any{
		"model":       req.Config["model"],
		"messages":    messages,
		"temperature": temperature,
	})
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the completion request could not be built",
			"marshal completion payload: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Config["api_url"], bytes.NewReader(payload))
	if err != nil {
		return result.Failf[node.Envelope](result.KindBadInput,
			"the API URL is not valid",
			"build completion request for %q: %v", req.Config["api_url"], err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Config["api_key"])

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the completion service could not be reached",
			"do completion request: %v", err)
	}

	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the completion response could not be read",
			"read completion body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		// Providers wrap their diagnostics; surface the message, not the
		// whole body.
		detail := gjson.GetBytes(raw, "error.message").String()
		if detail == "" {
			detail = string(raw)
		}
		f := upstreamFailure[node.Envelope]("completion", resp.StatusCode, []byte(detail))
		f.Failure().At("llmcomplete.complete")
		return f
	}

	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return result.Failf[node.Envelope](result.KindInternal,
			"the completion service returned an unexpected response",
			"no choices[0].message.content in completion response")
	}

	env := node.NewEnvelope(node.FormatString, content.String())
	env.Content["model"] = gjson.GetBytes(raw, "model").String()
	env.Content["finishReason"] = gjson.GetBytes(raw, "choices.0.finish_reason").String()
	return result.Ok(env)
}
