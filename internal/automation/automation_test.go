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


package automation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/sanitize"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/userstate"
)

const testRules = `
version: "2025-01"
events: [add_line, cmd_gift, cmd_detail, line_message]
constraints:
  phi_filter:
    enabled: true
    action_on_detect: remove_and_warn
    patterns:
      - type: email
        regex: '[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}'
  broadcast_policy:
    enabled: true
    max_per_month: 3
    promo_cooldown_days: 30
    promo_templates: [scenario_cmd_gift]
rules:
  - id: welcome
    when: event == 'add_line'
    do:
      - tag:
          add: [conversion_invited]
      - send_message:
          template: scenario_add_line
  - id: gift
    when: event == 'cmd_gift'
    do:
      - send_message:
          template: scenario_cmd_gift
    limits:
      per_user: 1
    constraints:
      - type: broadcast_policy
  - id: detail
    when: event == 'cmd_detail'
    do:
      - send_message:
          template: scenario_cmd_detail
    constraints:
      - type: broadcast_policy
  - id: analyse
    when: event == 'line_message'
    do:
      - tag:
          add: [talked]
    constraints:
      - type: phi_filter
`

var fixedNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu    sync.Mutex
	calls []sentBatch
}

type sentBatch struct {
	actor      string
	replyToken string
	messages   []map[string]any
}

func (s *recordingSender) SendMessages(ctx context.Context, actorHash, replyToken string, messages []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sentBatch{actor: actorHash, replyToken: replyToken, messages: messages})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T) *rules.Engine {
	t.Helper()
	spec, err := rules.Parse([]byte(testRules))
	require.NoError(t, err)
	return rules.NewEngine(spec, rules.WithClock(func() time.Time { return fixedNow }), rules.WithLogger(testLogger()))
}

func lineBody(t *testing.T, events ...string) any {
	t.Helper()
	doc := `{"destination":"U0","events":[`
	for i, ev := range events {
		if i > 0 {
			doc += ","
		}
		doc += ev
	}
	doc += `]}`
	var body any
	require.NoError(t, json.Unmarshal([]byte(doc), &body))
	return body
}

func followEvent(user string) string {
	return `{"type":"follow","timestamp":1718020800000,"replyToken":"rt-follow","source":{"type":"user","userId":"` + user + `"}}`
}

func textEvent(user, text string) string {
	return `{"type":"message","timestamp":1718020800000,"replyToken":"rt-text","source":{"type":"user","userId":"` + user + `"},"message":{"type":"text","id":"m1","text":"` + text + `"}}`
}

func envelopeFor(t *testing.T, body any, redact bool) *core.Envelope {
	t.Helper()
	payload := sanitize.Sanitize(body, core.EventTypeLine, sanitize.Options{
		HashSalt:   "salt",
		RedactText: redact,
		Deriver:    classify.NewLineCommands(nil).Derive,
	})
	return &core.Envelope{ID: "evt-1", Type: core.EventTypeLine, Payload: payload}
}

func hashedUser(t *testing.T, env *core.Envelope, i int) string {
	t.Helper()
	events, _ := core.Lookup(env.Payload, "events").([]any)
	require.Greater(t, len(events), i)
	return actorOf(events[i])
}

func newConsumer(t *testing.T, users core.UserStore, sender core.MessageSender) *Consumer {
	t.Helper()
	return NewConsumer(newTestEngine(t), classify.NewLineCommands(nil).Derive, users, sender, testLogger())
}

func TestConsumeFollowAppliesTagsAndMessages(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t, followEvent("U1")), false)
	require.NoError(t, c.Consume(context.Background(), env))

	actor := hashedUser(t, env, 0)
	state, err := users.Get(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, []string{"conversion_invited"}, state.Tags)

	require.Len(t, sender.calls, 1)
	assert.Equal(t, actor, sender.calls[0].actor)
	assert.Equal(t, "rt-follow", sender.calls[0].replyToken)
	require.Len(t, sender.calls[0].messages, 1)
	assert.Equal(t, "scenario_add_line", sender.calls[0].messages[0]["template"])
}

func TestConsumePersistsBroadcastPatch(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t, textEvent("U2", "限定プレゼント")), false)
	require.NoError(t, c.Consume(context.Background(), env))

	state, err := users.Get(context.Background(), hashedUser(t, env, 0))
	require.NoError(t, err)
	assert.Contains(t, state.Metadata, rules.MetaBroadcastMonthKey)
	assert.Contains(t, state.Metadata, rules.MetaBroadcastCountMonth)
	assert.Contains(t, state.Metadata, rules.MetaPromoLastSentAt)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "scenario_cmd_gift", sender.calls[0].messages[0]["template"])
}

func TestConsumeBlockedDeliveryAppliesNothing(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t,
		followEvent("U3"),
		textEvent("U3", "mail me at someone@example.com"),
	), false)
	require.NoError(t, c.Consume(context.Background(), env))

	state, err := users.Get(context.Background(), hashedUser(t, env, 0))
	require.NoError(t, err)
	assert.Empty(t, state.Tags)
	assert.Empty(t, sender.calls)
}

func TestConsumeRedactedPayloadKeepsDerivedEvent(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t, textEvent("U4", "限定プレゼント")), true)
	assert.Equal(t, sanitize.Redacted, core.Lookup(env.Payload, "message", "text"))

	require.NoError(t, c.Consume(context.Background(), env))
	require.Len(t, sender.calls, 1)
	assert.Equal(t, "scenario_cmd_gift", sender.calls[0].messages[0]["template"])
}

func TestConsumeCountsEverySendOfADelivery(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t,
		textEvent("U7", "開発事例を見る"),
		textEvent("U7", "開発事例を見る"),
	), false)
	require.NoError(t, c.Consume(context.Background(), env))

	state, err := users.Get(context.Background(), hashedUser(t, env, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Metadata[rules.MetaBroadcastCountMonth])
	assert.Len(t, sender.calls, 2)
}

func TestConsumeMonthlyCapAcrossEvents(t *testing.T) {
	users := userstate.NewMemoryStore()
	sender := &recordingSender{}
	c := newConsumer(t, users, sender)

	env := envelopeFor(t, lineBody(t,
		textEvent("U8", "開発事例を見る"),
		textEvent("U8", "開発事例を見る"),
	), false)
	actor := hashedUser(t, env, 0)
	_, err := users.Patch(context.Background(), actor, core.UserPatch{Metadata: map[string]any{
		rules.MetaBroadcastMonthKey:   rules.MonthKey(fixedNow),
		rules.MetaBroadcastCountMonth: 2,
	}})
	require.NoError(t, err)

	require.NoError(t, c.Consume(context.Background(), env))

	state, err := users.Get(context.Background(), actor)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Metadata[rules.MetaBroadcastCountMonth], "blocked delivery must not persist")
	assert.Empty(t, sender.calls)
}

func TestEvaluateCarriesStateBetweenEvents(t *testing.T) {
	events := DeriveEvents(lineBody(t,
		textEvent("U9", "開発事例を見る"),
		textEvent("U9", "開発事例を見る"),
	), classify.NewLineCommands(nil).Derive)
	user := &core.UserState{Metadata: map[string]any{
		rules.MetaBroadcastMonthKey:   rules.MonthKey(fixedNow),
		rules.MetaBroadcastCountMonth: 2,
	}}
	for i := range events {
		events[i].User = user
	}

	report, err := Evaluate(newTestEngine(t), events)
	require.NoError(t, err)
	assert.True(t, report.Blocked)
	require.Len(t, report.Results, 2)
	assert.Len(t, report.Results[0].Triggered, 1)
	require.Len(t, report.Results[1].Violations, 1)
	assert.Equal(t, rules.ReasonMonthlyLimit, report.Results[1].Violations[0].Constraints[0].Details.Reason)
	assert.Equal(t, 2, user.Metadata[rules.MetaBroadcastCountMonth])
}

func TestConsumeIgnoresOtherEnvelopes(t *testing.T) {
	sender := &recordingSender{}
	c := newConsumer(t, userstate.NewMemoryStore(), sender)

	require.NoError(t, c.Consume(context.Background(), nil))
	require.NoError(t, c.Consume(context.Background(), &core.Envelope{
		Type:    core.EventTypeProgress,
		Payload: map[string]any{"progress_id": "p1"},
	}))
	require.NoError(t, c.Consume(context.Background(), &core.Envelope{
		Type:    core.EventTypeLine,
		Payload: map[string]any{"events": []any{}},
	}))
	assert.Empty(t, sender.calls)
}

func TestEvaluateReport(t *testing.T) {
	engine := newTestEngine(t)
	events := DeriveEvents(lineBody(t,
		textEvent("U5", "限定プレゼント"),
		textEvent("U5", "hello"),
	), classify.NewLineCommands(nil).Derive)

	report, err := Evaluate(engine, events)
	require.NoError(t, err)
	assert.False(t, report.Blocked)
	require.Len(t, report.Results, 2)

	gift := report.Results[0]
	assert.Equal(t, "cmd_gift", gift.Event)
	assert.Equal(t, "限定プレゼント", gift.Command)
	require.Len(t, gift.Triggered, 1)
	require.Len(t, gift.Limits, 1)
	assert.Equal(t, json.Number("1"), gift.Limits[0]["per_user"])

	msg := report.Results[1]
	assert.Equal(t, classify.EventMessage, msg.Event)
	assert.Len(t, msg.Triggered, 1)
	assert.Empty(t, msg.Violations)
}

func TestEvaluateBlockedByContentFilter(t *testing.T) {
	events := DeriveEvents(lineBody(t, textEvent("U6", "reach me at a.b@example.org")), classify.NewLineCommands(nil).Derive)

	report, err := Evaluate(newTestEngine(t), events)
	require.NoError(t, err)
	assert.True(t, report.Blocked)
	require.Len(t, report.Results[0].Violations, 1)
	assert.Empty(t, report.Results[0].Limits)
}

func TestNewContext(t *testing.T) {
	raw := map[string]any{
		"replyToken": "rt",
		"message": map[string]any{
			"type":     "text",
			"text":     sanitize.Redacted,
			"raw_text": " https://example.com/a ",
		},
	}
	ctx := NewContext(Event{Raw: raw, Derived: core.Derived{EventName: "line_message"}})

	assert.Equal(t, "line_message", ctx.Event)
	require.NotNil(t, ctx.User)
	assert.Nil(t, ctx.Payload["command"])
	assert.Equal(t, " https://example.com/a ", ctx.Payload["text"])
	assert.Equal(t, ctx.Payload["text"], ctx.Payload["rawText"])
	assert.Equal(t, "rt", ctx.Payload["replyToken"])
	assert.Equal(t, []string{"https://example.com/a"}, ctx.Meta["links"])
}

func TestExtractLinks(t *testing.T) {
	tests := []struct {
		name    string
		message any
		want    []string
	}{
		{"nil message", nil, []string{}},
		{"plain text", map[string]any{"text": "hello"}, []string{}},
		{"link field", map[string]any{"link": "https://a.example.com"}, []string{"https://a.example.com"}},
		{"deduplicated", map[string]any{
			"url":      "http://b.example.com",
			"raw_text": "http://b.example.com",
			"text":     " http://b.example.com ",
		}, []string{"http://b.example.com"}},
		{"order", map[string]any{
			"text": "https://c.example.com",
			"link": "https://d.example.com",
		}, []string{"https://d.example.com", "https://c.example.com"}},
		{"embedded url ignored", map[string]any{"text": "see https://e.example.com"}, []string{}},
		{"non-string", map[string]any{"link": 42}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractLinks(tt.message))
		})
	}
}
