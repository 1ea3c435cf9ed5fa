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

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
)

// ChatSend posts the node's payload as a message to an incoming-webhook
// style chat endpoint.
type ChatSend struct {
	client *http.Client
}

// NewChatSend creates the node.
func NewChatSend() *ChatSend {
	return &ChatSend{client: defaultHTTPClient()}
}

func (c *ChatSend) Metadata() node.Descriptor {
	return node.Descriptor{
		Type:        "chatsend",
		Label:       "Send Chat Message",
		Description: "Post the payload to a chat channel via an incoming webhook",
		Version:     "1.0.0",
		Category:    node.CategoryAction,
		Icon:        "message",
	}
}

func (c *ChatSend) ConfigFields() []node.ConfigField {
	return []node.ConfigField{
		{
			Name: "webhook_url", Label: "Webhook URL", Type: node.FieldText,
			Validation: node.Rule{Required: true, Sensitive: true},
		},
		{
			Name: "channel", Label: "Channel", Type: node.FieldText,
		},
		{
			Name: "username", Label: "Sender Name", Type: node.FieldText,
			Default: "flowmason",
		},
	}
}

func (c *ChatSend) Execute(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	validated := node.ValidateRequest(c, req)
	if validated.IsErr() {
		return result.Forward[node.Envelope](validated, "chatsend.Execute")
	}
	return c.send(ctx, validated.Value())
}

func (c *ChatSend) Test(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	return c.Execute(ctx, req)
}

func (c *ChatSend) Terminate() result.Result[bool] {
	c.client.CloseIdleConnections()
	return result.Ok(true)
}

func (c *ChatSend) send(ctx context.Context, req node.Request) result.Result[node.Envelope] {
	text := payloadString(req.DefaultData())
	if text == "" {
		return result.Fail[node.Envelope](result.KindBadInput,
			"there is no message to send",
			"empty defaultData for chat message")
	}

	body := map[string]string{
		"text":     text,
		"username": req.Config["username"],
	}
	if channel := req.Config["channel"]; channel != "" {
		body["channel"] = channel
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the chat message could not be built",
			"marshal chat payload: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Config["webhook_url"], bytes.NewReader(payload))
	if err != nil {
		return result.Failf[node.Envelope](result.KindBadInput,
			"the webhook URL is not valid",
			"build chat request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the chat service could not be reached",
			"do chat request: %v", err)
	}

	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[node.Envelope](result.KindInternal,
			"the chat service's response could not be read",
			"read chat response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f := upstreamFailure[node.Envelope]("chat", resp.StatusCode, raw)
		f.Failure().At("chatsend.send")
		return f
	}

	env := node.NewEnvelope(node.FormatString, text)
	env.Content["delivered"] = true
	return result.Ok(env)
}
