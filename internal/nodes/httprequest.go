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
	"strconv"
	"strings"
	"time"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"golang.org/x/time/rate"
)

// restrictedHeaders cannot be overridden through node config; the HTTP
// stack owns them.
var restrictedHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
	"connection":     true,
}

// HTTPRequest calls an arbitrary HTTP endpoint with the node's payload as
// the request body. Outbound calls across all workflows share one rate
// limiter so a hot loop cannot hammer a single host.
type HTTPRequest struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPRequest creates the node with its shared client and limiter.
func NewHTTPRequest() *HTTPRequest {
	return &HTTPRequest{
		client:  defaultHTTPClient(),
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
}

func (h *HTTPRequest) Metadata() node.Descriptor {
	return node.Descriptor{
		Type:        "httprequest",
		Label:       "HTTP Request",
		Description: "Call an HTTP endpoint and pass the response downstream",
		Version:     "1.0.0",
		Category:    node.CategoryAction,
		Icon:        "globe",
	}
}

func (h *HTTPRequest) ConfigFields() []node.ConfigField {
	return []node.ConfigField{
		{
			Name: "url", Label: "URL", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
		{
			Name: "method", Label: "Method", Type: node.FieldSelect,
			Options: []node.Option{
				{Label: "GET", Value: "GET"},
				{Label: "POST", Value: "POST"},
				{Label: "PUT", Value: "PUT"},
				{Label: "DELETE", Value: "DELETE"},
			},
			Default:    "GET",
			Validation: node.Rule{Allowed: []string{"GET", "POST", "PUT", "DELETE"}},
		},
		{
			Name: "headers", Label: "Headers (JSON object)", Type: node.FieldTextarea,
		},
		{
			Name: "content_type", Label: "Content-Type", Type: node.FieldText,
			Default:  "application/json",
			ShowWhen: `method in ["POST", "PUT"]`,
		},
		{
			Name: "timeout_seconds", Label: "Timeout (seconds)", Type: node.FieldText,
			Default: "30",
		},
	}
}

func (h *HTTPRequest) Execute(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	validated := node.ValidateRequest(h, req)
	if validated.IsErr() {
		return result.Forward[node.Envelope](validated, "httprequest.Execute")
	}
	return h.call(ctx, validated.Value())
}

// Test performs the real outbound call; a dry run against a fake endpoint
// is indistinguishable from production behavior only if it is the same
// code path.
func (h *HTTPRequest) Test(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	return h.Execute(ctx, req)
}

func (h *HTTPRequest) Terminate() result.Result[bool] {
	h.client.CloseIdleConnections()
	return result.Ok(true)
}

func (h *HTTPRequest) call(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	if err := h.limiter.Wait(ctx); err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the request was cancelled before it could be sent",
			"rate limiter wait: %v", err)
	}

	timeout := 30 * time.Second
	if raw := req.Config["timeout_seconds"]; raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return result.Failf[node.Envelope](result.KindBadInput,
				"timeout_seconds must be a positive whole number",
				"parse timeout_seconds %q", raw)
		}
		timeout = time.Duration(secs) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Config["method"]
	var body io.Reader
	if method == http.MethodPost || method == http.MethodPut {
		body = strings.NewReader(payloadString(req.DefaultData()))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.Config["url"], body)
	if err != nil {
		return result.Failf[node.Envelope](result.KindBadInput,
			"the URL is not valid",
			"build request for %q: %v", req.Config["url"], err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", req.Config["content_type"])
	}
	if res := applyHeaders(httpReq, req.Config["headers"]); res.IsErr() {
		return result.Forward[node.Envelope](res, "httprequest.call")
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the endpoint could not be reached",
			"do request: %v", err)
	}

	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the endpoint's response could not be read",
			"read response body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f := upstreamFailure[node.Envelope]("endpoint", resp.StatusCode, raw)
		f.Failure().At("httprequest.call").With("statusCode", resp.StatusCode)
		return f
	}

	env := node.NewEnvelope(node.FormatJSON, decodeResponse(raw))
	env.Content["statusCode"] = resp.StatusCode
	return result.Ok(env)
}

// applyHeaders parses the optional headers config (a JSON object of
// string values) onto the request, rejecting headers the stack owns.
func applyHeaders(httpReq *http.Request, raw string) result.Result[bool] {
	if raw == "" {
		return result.Ok(true)
	}

	var headers map[string]string
	if err := json.Unmarshal([]byte(raw), &headers); err != nil {
		return result.Failf[bool](result.KindBadInput,
			"headers must be a JSON object of string values",
			"parse headers config: %v", err)
	}
	for name, value := range headers {
		if restrictedHeaders[strings.ToLower(name)] {
			return result.Failf[bool](result.KindBadInput,
				"the "+name+" header cannot be overridden",
				"restricted header %q in config", name)
		}
		httpReq.Header.Set(name, value)
	}
	return result.Ok(true)
}

// decodeResponse parses a JSON response body, falling back to the raw
// string for non-JSON endpoints.
func decodeResponse(raw []byte) any {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	return parsed
}

// payloadString renders the primary payload as an outbound request body.
func payloadString(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
