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

package core

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the classification assigned to an inbound webhook body.
type EventType string

const (
	EventTypeLine     EventType = "line_event"
	EventTypeProgress EventType = "manus_progress"
	EventTypeUnknown  EventType = "unknown"
)

func (t EventType) Known() bool {
	return t == EventTypeLine || t == EventTypeProgress
}

// Envelope is the canonical unit flowing through the relay. It is built once per
// request and not modified after sanitization.
type Envelope struct {
	ID                string    `json:"id"`
	Type              EventType `json:"event_type"`
	OccurredAt        time.Time `json:"occurred_at"`
	ReceivedAt        time.Time `json:"received_at"`
	Actor             string    `json:"actor,omitempty"`
	Fingerprint       string    `json:"fingerprint"`
	FingerprintInputs []string  `json:"-"`
	Payload           any       `json:"payload"`
}

// DispatchRequest is the body handed to a dispatch sink.
type DispatchRequest struct {
	EventType     EventType `json:"event_type"`
	ClientPayload any       `json:"client_payload"`
	DedupeKey     string    `json:"dedupe_key,omitempty"`
}

func NewDispatchRequest(env *Envelope) DispatchRequest {
	return DispatchRequest{
		EventType:     env.Type,
		ClientPayload: env.Payload,
		DedupeKey:     env.Fingerprint,
	}
}

func (d DispatchRequest) Marshal() ([]byte, error) {
	return json.Marshal(d)
}

// Route binds an event type to the sink that receives it. A Source of "*"
// matches every event type without a dedicated route.
type Route struct {
	Source  string        `yaml:"source"`
	Target  string        `yaml:"target"`
	Timeout time.Duration `yaml:"timeout"`
}

const RouteWildcard = "*"

// UserState is the per-actor view kept by the tag/metadata store.
type UserState struct {
	ActorHash string         `json:"user_hash"`
	Tags      []string       `json:"tags"`
	Metadata  map[string]any `json:"metadata"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasTag reports whether the state carries tag.
func (s *UserState) HasTag(tag string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// UserPatch describes changes applied to a UserState. Metadata keys are merged
// shallowly over the stored metadata.
type UserPatch struct {
	AddTags    []string       `json:"add_tags,omitempty"`
	RemoveTags []string       `json:"remove_tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func (p UserPatch) Empty() bool {
	return len(p.AddTags) == 0 && len(p.RemoveTags) == 0 && len(p.Metadata) == 0
}

// Apply returns a copy of state with the patch applied.
func (p UserPatch) Apply(state UserState, now time.Time) UserState {
	next := UserState{
		ActorHash: state.ActorHash,
		Metadata:  make(map[string]any, len(state.Metadata)+len(p.Metadata)),
		UpdatedAt: now.UTC(),
	}
	removed := make(map[string]bool, len(p.RemoveTags))
	for _, t := range p.RemoveTags {
		removed[strings.TrimSpace(t)] = true
	}
	seen := make(map[string]bool)
	for _, t := range append(append([]string{}, state.Tags...), p.AddTags...) {
		t = strings.TrimSpace(t)
		if t == "" || removed[t] || seen[t] {
			continue
		}
		seen[t] = true
		next.Tags = append(next.Tags, t)
	}
	for k, v := range state.Metadata {
		next.Metadata[k] = v
	}
	for k, v := range p.Metadata {
		next.Metadata[k] = v
	}
	return next
}

// Derived is the normalized event name and command a classifier assigns to a
// single upstream messaging event. Empty fields mean the classifier had no
// opinion.
type Derived struct {
	EventName string `json:"event"`
	Command   string `json:"command,omitempty"`
}

// Deriver classifies one upstream messaging event.
type Deriver func(event any) Derived
