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

package daemon

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// fakeUpstream serves the credential and subscription endpoints the
// webhooksubscribe node talks to during start.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /credential", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok": true}`)
	})
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id": "sub-7"}`)
	})
	mux.HandleFunc("DELETE /subscriptions/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// startHookWorkflow creates an active workflow with a webhook trigger
// step and starts its listener, returning the workflow ID and signing
// secret.
func startHookWorkflow(t *testing.T, srv *httptest.Server, d *Daemon) (string, string) {
	t.Helper()
	upstream := fakeUpstream(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/workflows", map[string]any{
		"name":  "hooked",
		"state": "active",
		"steps": []map[string]any{{
			"id":     "trig-1",
			"type":   "webhooksubscribe",
			"format": "json",
			"config": map[string]string{
				"api_url":      upstream.URL,
				"api_token":    "tok-1",
				"event":        "item.created",
				"callback_url": "http://127.0.0.1/hooks/ignored",
			},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := gjson.GetBytes(body, "id").String()

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/workflows/"+id+"/triggers/trig-1/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listeners := d.triggers.ListenersForWorkflow(id)
	require.Len(t, listeners, 1)
	secret := listeners[0].External["secret"]
	require.NotEmpty(t, secret)
	return id, secret
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postHook(t *testing.T, url, signature string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(body)))
	require.NoError(t, err)
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestHookDeliveryFiresRun(t *testing.T) {
	d, srv := newTestDaemon(t)
	id, secret := startHookWorkflow(t, srv, d)

	body := []byte(`{"event": {"type": "item.created", "data": {"itemId": 9}}}`)
	resp := postHook(t, srv.URL+"/hooks/"+id, sign(secret, body), body)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		wf := d.workflows.Get(context.Background(), id).Value()
		return wf != nil && wf.Data["lastRunStatus"] == "success"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHookDeliveryBadSignature(t *testing.T) {
	d, srv := newTestDaemon(t)
	id, _ := startHookWorkflow(t, srv, d)

	body := []byte(`{"data": {"x": 1}}`)
	resp := postHook(t, srv.URL+"/hooks/"+id, sign("wrong-secret", body), body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHookDeliveryUnsigned(t *testing.T) {
	d, srv := newTestDaemon(t)
	id, _ := startHookWorkflow(t, srv, d)

	resp := postHook(t, srv.URL+"/hooks/"+id, "", []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHookDeliveryNoListener(t *testing.T) {
	_, srv := newTestDaemon(t)

	resp := postHook(t, srv.URL+"/hooks/nothing-here", "sig", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// An outage while creating the subscription must not leave a registration
// behind: the retry after the outage makes a real subscription instead of
// reporting an idempotent hit over nothing.
func TestStartTriggerRetriesAfterSubscriptionOutage(t *testing.T) {
	d, srv := newTestDaemon(t)

	var failing atomic.Bool
	failing.Store(true)
	var subscribed atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /credential", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok": true}`)
	})
	mux.HandleFunc("POST /subscriptions", func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"error": {"code": "downstream_unavailable"}}`)
			return
		}
		subscribed.Add(1)
		io.WriteString(w, `{"id": "sub-9"}`)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/v1/workflows", map[string]any{
		"name":  "flaky",
		"state": "active",
		"steps": []map[string]any{{
			"id":     "trig-1",
			"type":   "webhooksubscribe",
			"format": "json",
			"config": map[string]string{
				"api_url":      upstream.URL,
				"api_token":    "tok-1",
				"event":        "item.created",
				"callback_url": "http://127.0.0.1/hooks/ignored",
			},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := gjson.GetBytes(body, "id").String()

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/workflows/"+id+"/triggers/trig-1/start", nil)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Empty(t, d.triggers.Active())

	failing.Store(false)
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/v1/workflows/"+id+"/triggers/trig-1/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, gjson.GetBytes(body, "existing").Bool(),
		"retry must be a fresh start, not an idempotent hit")
	assert.Equal(t, int32(1), subscribed.Load())
}

func TestHookPayloadExtraction(t *testing.T) {
	cases := []struct {
		name string
		body string
		want any
	}{
		{"event envelope", `{"event": {"type": "t", "data": {"a": 1}}}`, map[string]any{"a": float64(1)}},
		{"data envelope", `{"data": {"b": 2}}`, map[string]any{"b": float64(2)}},
		{"bare document", `{"c": 3}`, map[string]any{"c": float64(3)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := hookPayload([]byte(tc.body))
			assert.Equal(t, tc.want, payload["defaultData"])
		})
	}
}
