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
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"

	"github.com/flowmason/flowmason/internal/log"
	"github.com/flowmason/flowmason/pkg/node"
	"github.com/flowmason/flowmason/pkg/result"
	"github.com/tidwall/gjson"
)

// signatureHeader carries the hex HMAC-SHA256 of the request body, keyed
// with the secret exchanged at subscription time.
const signatureHeader = "X-Flowmason-Signature"

const maxHookBody = 1 << 20

// handleHook receives webhook callback deliveries and fires a run.
// Deliveries must be signed with the secret of an active listener for
// the workflow; unsigned or mis-signed deliveries are rejected without
// touching the run queue.
func (d *Daemon) handleHook(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("workflow")

	listeners := d.triggers.ListenersForWorkflow(workflowID)
	if len(listeners) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: "no active trigger is listening for this workflow",
			Kind:  string(result.KindNotFound),
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:  "the delivery body could not be read",
			Kind:   string(result.KindBadInput),
			Detail: err.Error(),
		})
		return
	}

	if !d.verifySignature(listeners, r.Header.Get(signatureHeader), body) {
		d.logger.Warn("rejected webhook delivery with bad signature",
			slog.String(log.WorkflowKey, workflowID))
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error: "the delivery signature does not match any active subscription",
			Kind:  string(result.KindUnauthorized),
		})
		return
	}

	d.dispatcher.Fire(r.Context(), workflowID, hookPayload(body))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// verifySignature accepts the delivery if its HMAC matches any active
// listener's secret. A listener without a secret (re-established after a
// restart, before the service rotated it in) cannot vouch for anything
// and is skipped.
func (d *Daemon) verifySignature(listeners []node.Listener, header string, body []byte) bool {
	if header == "" {
		return false
	}
	given, err := hex.DecodeString(header)
	if err != nil {
		return false
	}

	for _, l := range listeners {
		secret := l.External["secret"]
		if secret == "" {
			continue
		}
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if hmac.Equal(given, mac.Sum(nil)) {
			return true
		}
	}
	return false
}

// hookPayload maps a delivery body onto run input. Services wrap the
// interesting part differently; take the conventional fields in order of
// specificity and fall back to the raw document.
func hookPayload(body []byte) map[string]any {
	parsed := gjson.ParseBytes(body)

	payload := parsed
	for _, path := range []string{"event.data", "data", "payload"} {
		if v := parsed.Get(path); v.Exists() {
			payload = v
			break
		}
	}

	out := map[string]any{"defaultData": payload.Value()}
	if event := parsed.Get("event.type"); event.Exists() {
		out["eventType"] = event.String()
	}
	return out
}
