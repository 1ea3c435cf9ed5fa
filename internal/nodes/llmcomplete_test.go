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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func llmInput(url, prompt string) node.Request {
	return node.Request{
		Format: node.FormatString,
		Data:   map[string]any{"defaultData": prompt},
		Config: map[string]string{
			"api_url": url,
			"api_key": "sk-test-1234",
			"model":   "gpt-4o-mini",
		},
	}
}

func TestLLMCompleteSuccess(t *testing.T) {
	var authorization string
	var requestBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		requestBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{
			"model": "gpt-4o-mini",
			"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}]
		}`)
	}))
	defer srv.Close()

	res := NewLLMComplete().Execute(context.Background(), llmInput(srv.URL, "say hello"))
	require.False(t, res.IsErr())

	env := res.Value()
	assert.Equal(t, "hello there", env.Content["defaultData"])
	assert.Equal(t, "gpt-4o-mini", env.Content["model"])
	assert.Equal(t, "stop", env.Content["finishReason"])

	assert.Equal(t, "Bearer sk-test-1234", authorization)
	assert.Equal(t, "say hello", gjson.GetBytes(requestBody, "messages.0.content").String())
}

func TestLLMCompleteSystemPromptPrepended(t *testing.T) {
	var requestBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	req := llmInput(srv.URL, "question")
	req.Config["system_prompt"] = "answer briefly"
	res := NewLLMComplete().Execute(context.Background(), req)
	require.False(t, res.IsErr())

	assert.Equal(t, "system", gjson.GetBytes(requestBody, "messages.0.role").String())
	assert.Equal(t, "answer briefly", gjson.GetBytes(requestBody, "messages.0.content").String())
	assert.Equal(t, "user", gjson.GetBytes(requestBody, "messages.1.role").String())
}

func TestLLMCompleteProviderErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error": {"message": "model not found: gpt-nope"}}`)
	}))
	defer srv.Close()

	res := NewLLMComplete().Execute(context.Background(), llmInput(srv.URL, "x"))
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadRequest, res.Failure().Kind)
	assert.Contains(t, res.Failure().Err, "model not found: gpt-nope")
}

func TestLLMCompleteRejectedKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer srv.Close()

	res := NewLLMComplete().Execute(context.Background(), llmInput(srv.URL, "x"))
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindUnauthorized, res.Failure().Kind)
}

func TestLLMCompleteMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer srv.Close()

	res := NewLLMComplete().Execute(context.Background(), llmInput(srv.URL, "x"))
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindInternal, res.Failure().Kind)
}

func TestLLMCompleteBadTemperature(t *testing.T) {
	req := llmInput("http://localhost:1", "x")
	req.Config["temperature"] = "scalding"
	res := NewLLMComplete().Execute(context.Background(), req)
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}
