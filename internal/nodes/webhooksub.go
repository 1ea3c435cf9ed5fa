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
	"strings"

	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// WebhookSubscribe registers a webhook subscription with an external
// service and fires a run whenever the service calls back. The callback
// itself is served by the daemon's hook endpoint; this node owns the
// subscription lifecycle.
type WebhookSubscribe struct {
	client *http.Client
}

// NewWebhookSubscribe creates the trigger node.
func NewWebhookSubscribe() *WebhookSubscribe {
	return &WebhookSubscribe{client: defaultHTTPClient()}
}

func (w *WebhookSubscribe) Metadata() node.Descriptor {
	return node.Descriptor{
		Type:        "webhooksubscribe",
		Label:       "Webhook Event",
		Description: "Start this workflow when an external service sends a webhook",
		Version:     "1.0.0",
		Category:    node.CategoryTrigger,
		Icon:        "webhook",
	}
}

func (w *WebhookSubscribe) ConfigFields() []node.ConfigField {
	return []node.ConfigField{
		{
			Name: "api_url", Label: "Service API URL", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
		{
			Name: "api_token", Label: "API Token", Type: node.FieldText,
			Validation: node.Rule{Required: true, Sensitive: true},
		},
		{
			Name: "event", Label: "Event", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
		{
			Name: "callback_url", Label: "Callback URL", Type: node.FieldText,
			Validation: node.Rule{Required: true},
		},
	}
}

// StartValidate checks shape and config only. No I/O happens here; the
// upstream credential check belongs to StartListener.
func (w *WebhookSubscribe) StartValidate(req node.StartRequest) result.Result[node.StartRequest] {
	if req.TriggerNodeID == "" || req.WorkflowID == "" {
		return result.Fail[node.StartRequest](result.KindBadInput,
			"the trigger start request is incomplete",
			"triggerNodeId and workflowId are required")
	}
	cfg := node.ValidateConfig(w, req.Config)
	if cfg.IsErr() {
		return result.Forward[node.StartRequest](cfg, "webhooksubscribe.StartValidate")
	}
	req.Config = cfg.Value()
	return result.Ok(req)
}

// StartListener verifies the credential upstream, persists the dedup
// record, and creates the subscription. A fingerprint conflict is
// idempotent success with no second subscription.
func (w *WebhookSubscribe) StartListener(ctx context.Context, req node.StartRequest, store node.StoreFunc) result.Result[node.Listener] {
	if res := w.checkCredential(ctx, req.Config); res.IsErr() {
		return result.Forward[node.Listener](res, "webhooksubscribe.StartListener")
	}

	stored := store(node.RegistrationFingerprint(req.WorkflowID, req.TriggerNodeID))
	if stored.IsErr() {
		return result.Forward[node.Listener](stored, "webhooksubscribe.StartListener")
	}

	listener := node.Listener{
		TriggerNodeID: req.TriggerNodeID,
		WorkflowID:    req.WorkflowID,
		Config:        req.Config,
	}
	if !stored.Value() {
		listener.Existing = true
		return result.Ok(listener)
	}

	subscription := w.createSubscription(ctx, req)
	if subscription.IsErr() {
		return result.Forward[node.Listener](subscription, "webhooksubscribe.StartListener")
	}
	listener.External = subscription.Value()
	return result.Ok(listener)
}

// StopValidate checks the listener payload shape.
func (w *WebhookSubscribe) StopValidate(l node.Listener) result.Result[node.Listener] {
	if l.Config["api_url"] == "" || l.Config["api_token"] == "" {
		return result.Fail[node.Listener](result.KindBadInput,
			"the listener is missing its service configuration",
			"api_url and api_token are required to unsubscribe")
	}
	return result.Ok(l)
}

// StopListener deletes the upstream subscription. A subscription the
// service no longer knows about counts as success.
func (w *WebhookSubscribe) StopListener(ctx context.Context, l node.Listener) result.Result[bool] {
	subscriptionID := l.External["subscriptionId"]
	if subscriptionID == "" {
		// Started as Existing in this process; nothing of ours to delete.
		return result.Ok(true)
	}

	url := strings.TrimSuffix(l.Config["api_url"], "/") + "/subscriptions/" + subscriptionID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return result.Failf[bool](result.KindBadInput,
			"the service API URL is not valid",
			"build unsubscribe request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+l.Config["api_token"])

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"the service could not be reached to remove the subscription",
			"do unsubscribe request: %v", err)
	}
	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"the service's response could not be read",
			"read unsubscribe response: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return result.Ok(true)
	case resp.StatusCode == http.StatusNotFound:
		return result.Ok(true)
	default:
		f := upstreamFailure[bool]("webhook", resp.StatusCode, raw)
		f.Failure().At("webhooksubscribe.StopListener")
		return f
	}
}

// checkCredential verifies the token before anything is persisted. The
// service distinguishes an expired token from an invalid one; an expired
// token is actionable by the user (reconnect), so it maps to a bad
// request with an explicit message rather than a generic rejection.
func (w *WebhookSubscribe) checkCredential(ctx context.Context, config map[string]string) result.Result[bool] {
	url := strings.TrimSuffix(config["api_url"], "/") + "/credential"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result.Failf[bool](result.KindBadInput,
			"the service API URL is not valid",
			"build credential request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+config["api_token"])

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"the service could not be reached to verify the credential",
			"do credential request: %v", err)
	}
	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[bool](result.KindInternal,
			"the service's response could not be read",
			"read credential response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return result.Ok(true)
	case http.StatusUnauthorized, http.StatusForbidden:
		if gjson.GetBytes(raw, "error.code").String() == "token_expired" {
			return result.Failf[bool](result.KindBadRequest,
				"your credential has expired, reconnect the integration",
				"credential check returned %d with token_expired", resp.StatusCode)
		}
		return result.Failf[bool](result.KindUnauthorized,
			"the service rejected the configured token",
			"credential check returned %d", resp.StatusCode)
	default:
		f := upstreamFailure[bool]("webhook", resp.StatusCode, raw)
		f.Failure().At("webhooksubscribe.checkCredential")
		return f
	}
}

// createSubscription registers the callback with the service. The shared
// secret signs every callback delivery; the daemon's hook endpoint
// verifies it before firing a run.
func (w *WebhookSubscribe) createSubscription(ctx context.Context, req node.StartRequest) result.Result[map[string]string] {
	secret := uuid.NewString()
	payload, err := json.Marshal(map[string]string{
		"event":       req.Config["event"],
		"callbackUrl": req.Config["callback_url"],
		"secret":      secret,
	})
	if err != nil {
		return result.Failf[map[string]string](result.KindInternal,
			"the subscription request could not be built",
			"marshal subscription payload: %v", err)
	}

	url := strings.TrimSuffix(req.Config["api_url"], "/") + "/subscriptions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return result.Failf[map[string]string](result.KindBadInput,
			"the service API URL is not valid",
			"build subscription request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Config["api_token"])

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return result.Failf[map[string]string](result.KindInternal,
			"the service could not be reached to create the subscription",
			"do subscription request: %v", err)
	}
	raw, err := readBody(resp)
	if err != nil {
		return result.Failf[map[string]string](result.KindInternal,
			"the service's response could not be read",
			"read subscription response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		f := upstreamFailure[map[string]string]("webhook", resp.StatusCode, raw)
		f.Failure().At("webhooksubscribe.createSubscription")
		return f
	}

	subscriptionID := gjson.GetBytes(raw, "id").String()
	if subscriptionID == "" {
		return result.Failf[map[string]string](result.KindInternal,
			"the service returned an unexpected subscription response",
			"no id in subscription response")
	}

	return result.Ok(map[string]string{
		"subscriptionId": subscriptionID,
		"secret":         secret,
	})
}
