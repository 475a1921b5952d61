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


// Package automation runs the rule engine over admitted messaging events and
// applies the resulting operations.
package automation

import (
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
)

// Event is one messaging event ready for evaluation.
type Event struct {
	Raw     any
	Derived core.Derived
	User    *core.UserState
}

// EventResult is the evaluation of one messaging event.
type EventResult struct {
	Event      string            `json:"event"`
	Command    string            `json:"command"`
	Triggered  []rules.Triggered `json:"triggered"`
	Violations []rules.Violation `json:"violations"`
	Limits     []map[string]any  `json:"limits"`

	result rules.Result
}

// Report is the evaluation of every event in a delivery.
type Report struct {
	Results []EventResult `json:"results"`
	Blocked bool          `json:"blocked"`
}

// Evaluate runs each event through engine. Events of the same actor see the
// tag and metadata changes of the events before them, so per-month caps hold
// across one delivery. The report is blocked when any event produced a
// violation that is not log_only.
func Evaluate(engine *rules.Engine, events []Event) (Report, error) {
	report := Report{Results: make([]EventResult, 0, len(events))}
	seen := make(map[string]*core.UserState)
	for _, ev := range events {
		actor := actorOf(ev.Raw)
		if state, ok := seen[actor]; ok && actor != "" {
			ev.User = state
		}

		res, err := engine.Evaluate(NewContext(ev))
		if err != nil {
			return Report{}, err
		}
		limits := make([]map[string]any, 0, len(res.Triggered))
		for _, t := range res.Triggered {
			limits = append(limits, t.Limits)
		}
		report.Results = append(report.Results, EventResult{
			Event:      ev.Derived.EventName,
			Command:    ev.Derived.Command,
			Triggered:  res.Triggered,
			Violations: res.Violations,
			Limits:     limits,
			result:     res,
		})
		if res.Blocked() {
			report.Blocked = true
		}

		if actor != "" {
			var base core.UserState
			if ev.User != nil {
				base = *ev.User
			}
			patch, _ := effects(res)
			next := patch.Apply(base, time.Now())
			seen[actor] = &next
		}
	}
	return report, nil
}

// effects splits the operations of a result into the user state patch and
// the outbound messages they imply.
func effects(res rules.Result) (core.UserPatch, []map[string]any) {
	patch := core.UserPatch{Metadata: res.Patches()}
	var messages []map[string]any
	for _, op := range res.Operations() {
		switch op.Type {
		case rules.OpTag:
			add, remove := op.TagChanges()
			patch.AddTags = append(patch.AddTags, add...)
			patch.RemoveTags = append(patch.RemoveTags, remove...)
		case rules.OpSendMessage:
			messages = append(messages, outboundMessage(op))
		}
	}
	return patch, messages
}

// NewContext builds the evaluation context of ev. Text prefers the
// unredacted raw_text of the message.
func NewContext(ev Event) rules.Context {
	message := core.Lookup(ev.Raw, "message")
	text := core.Coalesce(core.Lookup(message, "raw_text"), core.Lookup(message, "text"))

	var command any
	if ev.Derived.Command != "" {
		command = ev.Derived.Command
	}
	user := ev.User
	if user == nil {
		user = &core.UserState{}
	}
	return rules.Context{
		Event: ev.Derived.EventName,
		User:  user,
		Payload: map[string]any{
			"command":    command,
			"text":       text,
			"rawText":    text,
			"message":    message,
			"replyToken": core.Lookup(ev.Raw, "replyToken"),
			"original":   ev.Raw,
		},
		Meta: map[string]any{"links": ExtractLinks(message)},
	}
}

// ExtractLinks returns the distinct http(s) URLs held in the link, url,
// raw_text and text fields of message.
func ExtractLinks(message any) []string {
	links := []string{}
	seen := make(map[string]bool)
	for _, key := range []string{"link", "url", "raw_text", "text"} {
		s, ok := core.StringField(core.Lookup(message, key))
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			continue
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		links = append(links, s)
	}
	return links
}

// DeriveEvents classifies each raw messaging event of a webhook body.
func DeriveEvents(body any, derive core.Deriver) []Event {
	raw, _ := core.Lookup(body, "events").([]any)
	events := make([]Event, 0, len(raw))
	for _, ev := range raw {
		events = append(events, Event{Raw: ev, Derived: derive(ev)})
	}
	return events
}
