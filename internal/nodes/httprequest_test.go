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
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpReqInput(url string, cfg map[string]string) node.Request {
	config := map[string]string{"url": url}
	for k, v := range cfg {
		config[k] = v
	}
	return node.Request{
		Format: node.FormatString,
		Data:   map[string]any{"defaultData": "payload"},
		Config: config,
	}
}

func TestHTTPRequestGetDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok": true, "count": 2}`)
	}))
	defer srv.Close()

	res := NewHTTPRequest().Execute(context.Background(), httpReqInput(srv.URL, nil))
	require.False(t, res.IsErr())

	env := res.Value()
	assert.Equal(t, node.StatusSuccess, env.Status)
	assert.Equal(t, 200, env.Content["statusCode"])
	body, ok := env.Content["defaultData"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, float64(2), body["count"])
}

func TestHTTPRequestPostSendsPayload(t *testing.T) {
	var received string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		received = string(raw)
		contentType = r.Header.Get("Content-Type")
		io.WriteString(w, "created")
	}))
	defer srv.Close()

	req := httpReqInput(srv.URL, map[string]string{"method": "POST"})
	res := NewHTTPRequest().Execute(context.Background(), req)
	require.False(t, res.IsErr())

	assert.Equal(t, "payload", received)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "created", res.Value().Content["defaultData"])
}

func TestHTTPRequestCustomHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Token")
		io.WriteString(w, "{}")
	}))
	defer srv.Close()

	headers, _ := json.Marshal(map[string]string{"X-Token": "abc"})
	req := httpReqInput(srv.URL, map[string]string{"headers": string(headers)})
	res := NewHTTPRequest().Execute(context.Background(), req)
	require.False(t, res.IsErr())
	assert.Equal(t, "abc", got)
}

func TestHTTPRequestRestrictedHeaderRejected(t *testing.T) {
	req := httpReqInput("http://localhost:1", map[string]string{
		"headers": `{"Host": "evil.example"}`,
	})
	res := NewHTTPRequest().Execute(context.Background(), req)
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}

func TestHTTPRequestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   result.Kind
	}{
		{http.StatusUnauthorized, result.KindUnauthorized},
		{http.StatusNotFound, result.KindBadRequest},
		{http.StatusInternalServerError, result.KindInternal},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		res := NewHTTPRequest().Execute(context.Background(), httpReqInput(srv.URL, nil))
		srv.Close()

		require.True(t, res.IsErr(), "status %d", tc.status)
		assert.Equal(t, tc.kind, res.Failure().Kind, "status %d", tc.status)
		assert.Contains(t, res.Failure().Trace, "httprequest.call")
	}
}

func TestHTTPRequestBadTimeout(t *testing.T) {
	req := httpReqInput("http://localhost:1", map[string]string{"timeout_seconds": "soon"})
	res := NewHTTPRequest().Execute(context.Background(), req)
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}

func TestHTTPRequestMissingURL(t *testing.T) {
	res := NewHTTPRequest().Execute(context.Background(), node.Request{
		Format: node.FormatString,
		Data:   map[string]any{"defaultData": "x"},
	})
	require.True(t, res.IsErr())
	assert.Equal(t, result.KindBadInput, res.Failure().Kind)
}
