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

// Package nodes holds the built-in node implementations. Each node is
// registered statically at daemon start; the registry is frozen before the
// first request is served.
package nodes

import (
	"io"
	"net/http"
	"time"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
)

// maxResponseBytes caps how much of an upstream response body is read.
const maxResponseBytes = 10 << 20

// RegisterBuiltins registers every built-in node and freezes the registry.
// emitter receives the runs fired by trigger nodes.
func RegisterBuiltins(reg *node.Registry, emitter node.Emitter) error {
	builtins := []node.Node{
		NewHTTPRequest(),
		NewLLMComplete(),
		NewChatSend(),
		NewWebhookSubscribe(),
		NewFileWatch(emitter),
	}
	for _, n := range builtins {
		if err := reg.Register(n); err != nil {
			return err
		}
	}
	reg.Freeze()
	return nil
}

// defaultHTTPClient is shared by the request/response nodes. Per-call
// deadlines come from each node's config through the request context.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

// readBody drains and closes an upstream response body.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}

// upstreamFailure maps an HTTP status from an external service onto a
// failure kind. 4xx means the request as configured cannot succeed; 5xx
// and everything else is the provider's problem.
func upstreamFailure[T any](service string, status int, body []byte) result.Result[T] {
	detail := string(body)
	if len(detail) > 512 {
		detail = detail[:512]
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return result.Failf[T](result.KindUnauthorized,
			"the "+service+" credential was rejected, check the configured key",
			"%s returned %d: %s", service, status, detail)
	case status >= 400 && status < 500:
		return result.Failf[T](result.KindBadRequest,
			"the "+service+" request was rejected, check the node configuration",
			"%s returned %d: %s", service, status, detail)
	default:
		return result.Failf[T](result.KindInternal,
			"the "+service+" service failed, try again later",
			"%s returned %d: %s", service, status, detail)
	}
}
