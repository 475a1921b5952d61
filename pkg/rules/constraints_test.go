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

package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const emailRegex = `[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`

func TestContentFilterMatches(t *testing.T) {
	f := &ContentFilter{}
	cfg := Config{"patterns": []any{map[string]any{"type": "email", "regex": emailRegex}}}
	in := Input{Context: &Context{Payload: map[string]any{"text": "contact me at test@example.com"}}}

	out := f.Evaluate(cfg, in)
	assert.True(t, out.Blocked)
	assert.Equal(t, "flag", out.Action)
	require.Len(t, out.Matches, 1)
	assert.Equal(t, Match{Type: "email", Pattern: emailRegex, Sample: "test@example.com"}, out.Matches[0])
}

func TestContentFilterLogOnly(t *testing.T) {
	f := &ContentFilter{}
	cfg := Config{
		"action_on_detect": ActionLogOnly,
		"patterns":         []any{map[string]any{"type": "email", "regex": emailRegex}},
	}
	in := Input{Context: &Context{Payload: map[string]any{"text": "a@b.io"}}}

	out := f.Evaluate(cfg, in)
	assert.False(t, out.Blocked)
	assert.Len(t, out.Matches, 1)
}

func TestContentFilterSkipsBadPatterns(t *testing.T) {
	f := &ContentFilter{}
	cfg := Config{"patterns": []any{
		map[string]any{"type": "broken", "regex": "(unclosed"},
		map[string]any{"type": "lookahead", "regex": "(?=x)"},
		map[string]any{"type": "blank", "regex": "  "},
		map[string]any{"type": "word", "regex": "SECRET"},
	}}
	in := Input{Context: &Context{Payload: map[string]any{"text": "my secret"}}}

	for i := 0; i < 2; i++ {
		out := f.Evaluate(cfg, in)
		require.Len(t, out.Matches, 1)
		assert.Equal(t, "word", out.Matches[0].Type)
		assert.Equal(t, "secret", out.Matches[0].Sample)
	}
}

func TestContentFilterNoSegments(t *testing.T) {
	f := &ContentFilter{}
	cfg := Config{"patterns": []any{map[string]any{"regex": ".*"}}}
	out := f.Evaluate(cfg, Input{Context: &Context{Payload: map[string]any{"text": "   "}}})
	assert.False(t, out.Blocked)
	assert.Empty(t, out.Matches)
}

func TestCollectSegments(t *testing.T) {
	ctx := &Context{
		Payload: map[string]any{
			"text":     "one",
			"rawText":  "one",
			"command":  "#cmd",
			"message":  map[string]any{"text": "two"},
			"messages": []any{"three", map[string]any{"text": "four"}, 5, ""},
		},
		Meta: map[string]any{"textSegments": []any{"five", nil}},
	}
	assert.Equal(t, []string{"one", "#cmd", "two", "three", "four", "five"}, CollectSegments(ctx))
	assert.Nil(t, CollectSegments(nil))
}

func sendRule(link string, limits map[string]any) *Rule {
	if limits == nil {
		limits = map[string]any{}
	}
	return &Rule{
		ID:         "r",
		Operations: []Operation{{Type: OpSendMessage, Payload: map[string]any{"link": link}}},
		Limits:     limits,
	}
}

func TestVerifiedDomain(t *testing.T) {
	v := &VerifiedDomain{}
	rule := sendRule("https://malicious.example.net", nil)

	out := v.Evaluate(Config{"allowed_domains": []any{"trusted.example.com"}}, Input{Rule: rule, Context: &Context{}})
	assert.True(t, out.Blocked)
	assert.Equal(t, "reject", out.Action)
	assert.Equal(t, []Link{{URL: "https://malicious.example.net", Hostname: "malicious.example.net"}}, out.Unverified)

	out = v.Evaluate(Config{"allowed_domains": []any{"malicious.example.net"}}, Input{Rule: rule, Context: &Context{}})
	assert.False(t, out.Blocked)
	assert.Empty(t, out.Unverified)
}

func TestVerifiedDomainAllowSources(t *testing.T) {
	v := &VerifiedDomain{}
	link := "https://docs.Example.com/path"

	tests := []struct {
		name    string
		cfg     Config
		limits  map[string]any
		globals map[string]any
		blocked bool
	}{
		{"empty allow set", Config{}, nil, nil, false},
		{"subdomain of constraint domain", Config{"domains": []any{"EXAMPLE.com"}}, nil, nil, false},
		{"rule limit", Config{}, map[string]any{"allowed_domains": []any{"docs.example.com"}}, nil, false},
		{"globals", Config{}, nil, map[string]any{"verified_domains": []any{"example.com"}}, false},
		{"suffix is not subdomain", Config{"allowed_domains": []any{"ample.com"}}, nil, nil, true},
		{"log only", Config{"allowed_domains": []any{"other.org"}, "action_on_unverified": ActionLogOnly}, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{Rule: sendRule(link, tt.limits), Context: &Context{}, Globals: tt.globals}
			out := v.Evaluate(tt.cfg, in)
			assert.Equal(t, tt.blocked, out.Blocked)
		})
	}
}

func TestCollectLinks(t *testing.T) {
	rule := &Rule{Operations: []Operation{
		{Type: OpSendMessage, Payload: map[string]any{
			"link": "{{ verified.note_page_url }}",
			"body": "see https://a.example.com/x) and http://b.example.com, or {{ url }}",
		}},
		{Type: OpAction, Name: "notify", Parameters: map[string]any{"url": "https://c.example.com", "link": "ftp://d"}},
		{Type: OpTag, Payload: map[string]any{"link": "https://ignored.example.com"}},
	}}
	ctx := &Context{Meta: map[string]any{"links": []any{"https://ctx.example.com", "not a url", "https://a.example.com/x"}}}

	got := CollectLinks(Input{Rule: rule, Context: ctx})
	assert.Equal(t, []string{
		"https://ctx.example.com",
		"https://a.example.com/x",
		"http://b.example.com,",
		"https://c.example.com",
	}, got)
}

func broadcastInput(meta map[string]any, now time.Time, templates ...string) Input {
	ops := make([]Operation, 0, len(templates))
	for _, tpl := range templates {
		ops = append(ops, Operation{Type: OpSendMessage, Payload: map[string]any{"template": tpl}})
	}
	return Input{
		Rule:    &Rule{ID: "b", Operations: ops},
		Context: &Context{User: &core.UserState{Metadata: meta}},
		Now:     now,
	}
}

func TestBroadcastPolicyMonthlyLimit(t *testing.T) {
	b := &BroadcastPolicy{}
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	meta := map[string]any{
		MetaBroadcastMonthKey:   "2025-03",
		MetaBroadcastCountMonth: 3,
	}

	out := b.Evaluate(Config{"max_per_month": 3}, broadcastInput(meta, now, "scenario_cmd_detail"))
	assert.True(t, out.Blocked)
	assert.Equal(t, ReasonMonthlyLimit, out.Reason)
	assert.Empty(t, out.Patch)

	nextMonth := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	out = b.Evaluate(Config{"max_per_month": 3}, broadcastInput(meta, nextMonth, "scenario_cmd_detail"))
	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonOK, out.Reason)
	assert.Equal(t, map[string]any{MetaBroadcastMonthKey: "2025-04", MetaBroadcastCountMonth: 1}, out.Patch)
}

func TestBroadcastPolicyPromoCooldown(t *testing.T) {
	b := &BroadcastPolicy{}
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	recent := map[string]any{MetaPromoLastSentAt: now.Add(-10 * 24 * time.Hour).Format(time.RFC3339)}

	out := b.Evaluate(Config{}, broadcastInput(recent, now, "scenario_cmd_gift"))
	assert.True(t, out.Blocked)
	assert.Equal(t, ReasonPromoCooldown, out.Reason)

	out = b.Evaluate(Config{}, broadcastInput(recent, now, "scenario_cmd_detail"))
	assert.False(t, out.Blocked, "non-promo templates ignore the cooldown")

	old := map[string]any{MetaPromoLastSentAt: now.Add(-31 * 24 * time.Hour).Format(time.RFC3339)}
	out = b.Evaluate(Config{}, broadcastInput(old, now, "scenario_cmd_gift"))
	assert.False(t, out.Blocked)
	assert.Equal(t, "2025-03-15T09:00:00.000Z", out.Patch[MetaPromoLastSentAt])
	assert.Equal(t, 1, out.Patch[MetaBroadcastCountMonth])
}

func TestBroadcastPolicyNoTemplates(t *testing.T) {
	out := (&BroadcastPolicy{}).Evaluate(Config{}, broadcastInput(nil, time.Now()))
	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonNoTemplates, out.Reason)
	assert.Nil(t, out.Patch)
}

func TestBroadcastPolicyLogOnly(t *testing.T) {
	now := time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC)
	meta := map[string]any{MetaBroadcastMonthKey: "2025-03", MetaBroadcastCountMonth: "5"}
	out := (&BroadcastPolicy{}).Evaluate(Config{"action": ActionLogOnly}, broadcastInput(meta, now, "x"))
	assert.False(t, out.Blocked)
	assert.Equal(t, ReasonMonthlyLimit, out.Reason)
	assert.True(t, out.noteworthy())
}

func TestMonthKey(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "2025-01", MonthKey(time.Date(2025, 2, 1, 8, 0, 0, 0, jst)))
	assert.Equal(t, "2025-12", MonthKey(time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)))
}
