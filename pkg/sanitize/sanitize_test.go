// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package sanitize

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/fingerprint"
)

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	var v map[string]any
	require.NoError(t, dec.Decode(&v))
	return v
}

const lineBody = `{
  "destination": "Ubot",
  "events": [{
    "type": "message",
    "timestamp": 1700000000000,
    "source": {"type": "user", "userId": "U123"},
    "replyToken": "rt-1",
    "message": {"type": "text", "id": "m-1", "text": "#参加"}
  }]
}`

func TestSanitizeLineEvent(t *testing.T) {
	raw := decode(t, lineBody)
	deriver := classify.NewLineCommands(nil).Derive

	out := Sanitize(raw, core.EventTypeLine, Options{HashSalt: "salt", Deriver: deriver}).(map[string]any)

	hashed := fingerprint.HashActor("U123", "salt")
	assert.Equal(t, "cmd_participate", out["event"])
	assert.Equal(t, "#参加", out["command"])
	assert.Equal(t, json.Number("1700000000000"), out["occurred_at"])
	assert.Equal(t, map[string]any{"hashed_id": hashed, "source_type": "user"}, out["user"])
	assert.Equal(t, "Ubot", out["destination"])

	events := out["events"].([]any)
	require.Len(t, events, 1)
	ev := events[0].(map[string]any)
	assert.Equal(t, "rt-1", ev["replyToken"])
	assert.Equal(t, map[string]any{"type": "user", "userId": hashed}, ev["source"])
	assert.Equal(t, map[string]any{"type": "text", "id": "m-1", "text": "#参加", "raw_text": "#参加"}, ev["message"])
	assert.Equal(t, ev["message"], out["message"])

	rawCopy := out["raw"].(map[string]any)
	assert.Equal(t, out["events"], rawCopy["events"])
}

func TestSanitizeRedactsText(t *testing.T) {
	raw := decode(t, lineBody)
	out := Sanitize(raw, core.EventTypeLine, Options{RedactText: true}).(map[string]any)

	msg := out["message"].(map[string]any)
	assert.Equal(t, Redacted, msg["text"])
	assert.Nil(t, msg["raw_text"])
	assert.Equal(t, "m-1", msg["id"])
	assert.Equal(t, "text", msg["type"])

	encoded, err := json.Marshal(out)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "#参加")
	assert.NotContains(t, string(encoded), "U123")
}

func TestSanitizeFallsBackToBodyFields(t *testing.T) {
	raw := decode(t, `{"event":"custom","command":"go","events":[]}`)
	out := Sanitize(raw, core.EventTypeLine, Options{}).(map[string]any)

	assert.Equal(t, "custom", out["event"])
	assert.Equal(t, "go", out["command"])
	assert.Nil(t, out["message"])
	assert.Nil(t, out["occurred_at"])
	assert.Equal(t, map[string]any{"hashed_id": nil, "source_type": nil}, out["user"])
	assert.Empty(t, out["events"])
}

func TestSanitizeLineEventDefaults(t *testing.T) {
	raw := decode(t, `{"events":[{"type":"follow"}]}`)
	out := Sanitize(raw, core.EventTypeLine, Options{}).(map[string]any)

	ev := out["events"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"type": "unknown", "userId": nil}, ev["source"])
	assert.Nil(t, ev["message"])
	assert.Nil(t, ev["replyToken"])
}

func TestSanitizeSaltChangesHash(t *testing.T) {
	a := Sanitize(decode(t, lineBody), core.EventTypeLine, Options{HashSalt: "a"}).(map[string]any)
	b := Sanitize(decode(t, lineBody), core.EventTypeLine, Options{HashSalt: "b"}).(map[string]any)

	ha := a["user"].(map[string]any)["hashed_id"].(string)
	hb := b["user"].(map[string]any)["hashed_id"].(string)
	assert.Len(t, ha, 16)
	assert.NotEqual(t, ha, hb)
}

func TestSanitizeProgressEvent(t *testing.T) {
	raw := decode(t, `{
		"task_id": "task-9",
		"event_type": "step_failed",
		"plan_delta": {"decision": "retry", "retry_after_seconds": 30},
		"context": {"plan_variant": "degraded", "note": "n"},
		"metrics": {"manus_points": 12},
		"step_id": "s-3",
		"secret": "do-not-forward"
	}`)

	out := Sanitize(raw, core.EventTypeProgress, Options{}).(map[string]any)

	assert.Equal(t, "task-9", out["progress_id"])
	assert.Equal(t, "retry", out["decision"])
	assert.Equal(t, "degraded", out["plan_variant"])
	assert.Equal(t, json.Number("30"), out["retry_after_seconds"])
	assert.Equal(t, json.Number("12"), out["manus_points_consumed"])
	meta := out["metadata"].(map[string]any)
	assert.Equal(t, "s-3", meta["step_id"])
	assert.Equal(t, "step_failed", meta["event_type"])
	assert.Nil(t, meta["manus_run_id"])
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, meta, "secret")
}

func TestSanitizeProgressDefaults(t *testing.T) {
	out := Sanitize(map[string]any{"event_type": "ping"}, core.EventTypeProgress, Options{}).(map[string]any)
	assert.Nil(t, out["progress_id"])
	assert.Equal(t, "unknown", out["decision"])
	assert.Equal(t, "production", out["plan_variant"])
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	raw := decode(t, lineBody)
	before, err := json.Marshal(raw)
	require.NoError(t, err)

	out := Sanitize(raw, core.EventTypeLine, Options{RedactText: true, HashSalt: "s"}).(map[string]any)
	out["message"].(map[string]any)["id"] = "changed"

	after, err := json.Marshal(raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))

	progressRaw := decode(t, `{"progress_id":"p","context":{"plan_variant":"x"}}`)
	progressOut := Sanitize(progressRaw, core.EventTypeProgress, Options{}).(map[string]any)
	progressOut["metadata"].(map[string]any)["context"].(map[string]any)["plan_variant"] = "y"
	assert.Equal(t, "x", progressRaw["context"].(map[string]any)["plan_variant"])
}

func TestSanitizePassThrough(t *testing.T) {
	raw := map[string]any{"foo": "bar"}
	assert.Equal(t, raw, Sanitize(raw, core.EventTypeUnknown, Options{}))
	assert.Equal(t, "text", Sanitize("text", core.EventTypeLine, Options{}))
}
