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

// Package sanitize projects raw webhook bodies onto the canonical shapes
// forwarded downstream. Actor identifiers are hashed and free text can be
// redacted; the input document is never modified.
package sanitize

import (
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/fingerprint"
)

// Redacted replaces message text when redaction is enabled.
const Redacted = "[redacted]"

type Options struct {
	HashSalt   string
	RedactText bool
	// Deriver names the primary messaging event. Nil falls back to the
	// body's own "event" and "command" fields.
	Deriver core.Deriver
}

// Sanitize returns the canonical payload for eventType. Bodies of other types,
// or bodies that are not JSON objects, are returned unchanged.
func Sanitize(raw any, eventType core.EventType, opts Options) any {
	if _, ok := core.AsObject(raw); !ok {
		return raw
	}
	switch eventType {
	case core.EventTypeProgress:
		return progress(raw)
	case core.EventTypeLine:
		return line(raw, opts)
	default:
		return raw
	}
}

func progress(raw any) map[string]any {
	return map[string]any{
		"progress_id":           core.DeepCopy(core.Coalesce(core.Lookup(raw, "progress_id"), core.Lookup(raw, "task_id"))),
		"decision":              core.DeepCopy(fingerprint.ProgressDecision(raw)),
		"plan_variant":          core.DeepCopy(fingerprint.ProgressPlanVariant(raw)),
		"retry_after_seconds":   core.DeepCopy(core.Coalesce(core.Lookup(raw, "retry_after_seconds"), core.Lookup(raw, "plan_delta", "retry_after_seconds"))),
		"manus_points_consumed": core.DeepCopy(core.Coalesce(core.Lookup(raw, "manus_points_consumed"), core.Lookup(raw, "metrics", "manus_points"))),
		"metadata": map[string]any{
			"step_id":      core.DeepCopy(core.Lookup(raw, "step_id")),
			"event_type":   core.DeepCopy(core.Lookup(raw, "event_type")),
			"manus_run_id": core.DeepCopy(core.Lookup(raw, "manus_run_id")),
			"context":      core.DeepCopy(core.Lookup(raw, "context")),
			"preview":      core.DeepCopy(core.Lookup(raw, "preview")),
			"error":        core.DeepCopy(core.Lookup(raw, "error")),
		},
	}
}

func line(raw any, opts Options) map[string]any {
	rawEvents, _ := core.Lookup(raw, "events").([]any)

	events := make([]any, 0, len(rawEvents))
	for _, ev := range rawEvents {
		events = append(events, lineEvent(ev, opts))
	}

	var first any = map[string]any{}
	if len(rawEvents) > 0 && rawEvents[0] != nil {
		first = rawEvents[0]
	}

	var derived core.Derived
	if opts.Deriver != nil {
		derived = opts.Deriver(first)
	}

	var message any
	if len(events) > 0 {
		message = core.Lookup(events[0], "message")
	}

	destination := core.DeepCopy(core.Lookup(raw, "destination"))
	return map[string]any{
		"event":       orField(derived.EventName, core.Lookup(raw, "event")),
		"command":     orField(derived.Command, core.Lookup(raw, "command")),
		"occurred_at": core.DeepCopy(core.Lookup(first, "timestamp")),
		"user": map[string]any{
			"hashed_id":   hashedActor(first, opts.HashSalt),
			"source_type": core.DeepCopy(core.Lookup(first, "source", "type")),
		},
		"message":     core.DeepCopy(message),
		"destination": destination,
		"events":      events,
		"raw": map[string]any{
			"destination": destination,
			"events":      core.DeepCopy(events),
		},
	}
}

func lineEvent(ev any, opts Options) map[string]any {
	out := map[string]any{
		"type":      core.DeepCopy(core.Coalesce(core.Lookup(ev, "type"), "unknown")),
		"timestamp": core.DeepCopy(core.Lookup(ev, "timestamp")),
		"source": map[string]any{
			"type":   core.DeepCopy(core.Coalesce(core.Lookup(ev, "source", "type"), "unknown")),
			"userId": hashedActor(ev, opts.HashSalt),
		},
		"replyToken": core.DeepCopy(core.Lookup(ev, "replyToken")),
		"message":    nil,
	}

	msg := core.Lookup(ev, "message")
	if msg == nil {
		return out
	}
	text := core.DeepCopy(core.Lookup(msg, "text"))
	redacted, rawText := text, text
	if opts.RedactText {
		rawText = nil
		if core.Truthy(text) {
			redacted = Redacted
		}
	}
	out["message"] = map[string]any{
		"type":     core.DeepCopy(core.Lookup(msg, "type")),
		"id":       core.DeepCopy(core.Lookup(msg, "id")),
		"text":     redacted,
		"raw_text": rawText,
	}
	return out
}

// hashedActor returns the salted hash of the event's source user, or nil when
// the event has no user.
func hashedActor(ev any, salt string) any {
	id := core.Lookup(ev, "source", "userId")
	if !core.Truthy(id) {
		return nil
	}
	return fingerprint.HashActor(core.StringOf(id), salt)
}

func orField(derived string, fallback any) any {
	if derived != "" {
		return derived
	}
	return core.DeepCopy(fallback)
}
