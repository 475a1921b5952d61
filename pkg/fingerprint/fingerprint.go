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

// Package fingerprint derives the deduplication key of an inbound event.
//
// Inputs are taken from the raw payload before any redaction, so two
// deliveries of the same physical event always hash identically.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const actorHashLength = 16

// Options carries the values a fingerprint may depend on besides the payload.
type Options struct {
	HashSalt  string
	Signature string
	RawBody   []byte
}

// HashActor returns the salted, truncated identity hash used in place of the
// upstream user id.
func HashActor(id, salt string) string {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(":"))
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))[:actorHashLength]
}

// Inputs returns the ordered fields that contribute to the fingerprint.
func Inputs(eventType core.EventType, raw any, opts Options) []string {
	switch eventType {
	case core.EventTypeLine:
		if _, ok := core.AsObject(raw); ok {
			return lineInputs(raw, opts.HashSalt)
		}
	case core.EventTypeProgress:
		if _, ok := core.AsObject(raw); ok {
			return progressInputs(raw)
		}
	}
	return []string{opts.Signature, string(opts.RawBody)}
}

// Compute returns the hex fingerprint and the inputs it was derived from.
func Compute(eventType core.EventType, raw any, opts Options) (string, []string) {
	inputs := Inputs(eventType, raw, opts)
	return Sum(eventType, inputs), inputs
}

// Sum hashes an event type and its fingerprint inputs.
func Sum(eventType core.EventType, inputs []string) string {
	h := sha256.New()
	h.Write([]byte(eventType))
	h.Write([]byte(strings.Join(inputs, "|")))
	return hex.EncodeToString(h.Sum(nil))
}

func lineInputs(raw any, salt string) []string {
	var event any
	if events, ok := core.Lookup(raw, "events").([]any); ok && len(events) > 0 {
		event = events[0]
	}
	userID := core.StringOf(core.Coalesce(core.Lookup(event, "source", "userId"), "unknown"))
	return []string{
		HashActor(userID, salt),
		core.StringOf(core.Coalesce(core.Lookup(event, "type"), "unknown")),
		core.StringOf(core.Lookup(event, "timestamp")),
		core.StringOf(core.Lookup(event, "message", "id")),
		core.StringOf(core.Lookup(event, "replyToken")),
	}
}

func progressInputs(raw any) []string {
	return []string{
		core.StringOf(ProgressID(raw)),
		core.StringOf(ProgressDecision(raw)),
		core.StringOf(ProgressPlanVariant(raw)),
		core.StringOf(core.Lookup(raw, "step_id")),
	}
}

// ProgressID resolves the progress identifier, falling back to task_id.
func ProgressID(raw any) any {
	return core.Coalesce(core.Lookup(raw, "progress_id"), core.Lookup(raw, "task_id"), "unknown")
}

func ProgressDecision(raw any) any {
	return core.Coalesce(core.Lookup(raw, "decision"), core.Lookup(raw, "plan_delta", "decision"), "unknown")
}

func ProgressPlanVariant(raw any) any {
	return core.Coalesce(core.Lookup(raw, "plan_variant"), core.Lookup(raw, "context", "plan_variant"), "production")
}
