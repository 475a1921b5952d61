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

// Package rules loads the automation rule document and evaluates inbound
// events against it.
//
// A document is validated against an embedded JSON Schema, normalized from
// either of its two dialects into a Spec, and then evaluated by an Engine.
// Rule conditions are compiled once at load time. Constraints are looked up
// by name in a Registry so new safety checks do not touch the Engine.
package rules

import (
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// OperationType is the canonical action vocabulary.
type OperationType string

const (
	OpSendMessage OperationType = "send_message"
	OpTag         OperationType = "tag"
	OpMetric      OperationType = "metric"
	OpAction      OperationType = "action"
	OpUnknown     OperationType = "unknown"
)

// Operation is one normalized action of a rule.
type Operation struct {
	Type       OperationType  `json:"type"`
	Name       string         `json:"name,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Payload    any            `json:"payload,omitempty"`
}

// Field reads key from the operation payload.
func (o Operation) Field(key string) any {
	return core.Lookup(o.Payload, key)
}

// Template returns the template name of a send_message operation.
func (o Operation) Template() string {
	if o.Type != OpSendMessage {
		return ""
	}
	s, _ := core.StringField(o.Field("template"))
	return s
}

// TagChanges returns the tags a tag operation adds and removes.
func (o Operation) TagChanges() (add, remove []string) {
	if o.Type != OpTag {
		return nil, nil
	}
	return stringList(o.Field("add")), stringList(o.Field("remove"))
}

// Attachment binds a constraint to a rule. Config holds the attachment's
// own keys, which override the global definition.
type Attachment struct {
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

// Rule is a compiled rule.
type Rule struct {
	ID          string         `json:"id"`
	Event       string         `json:"event"`
	Condition   *Condition     `json:"-"`
	Operations  []Operation    `json:"operations"`
	Limits      map[string]any `json:"limits"`
	Constraints []Attachment   `json:"constraints,omitempty"`
}

// Spec is the canonical, dialect-free form of a rule document.
type Spec struct {
	Version     string
	Events      []string
	Rules       []*Rule
	Globals     map[string]any
	Constraints map[string]map[string]any
	Tags        map[string]any

	eventSet map[string]struct{}
}

// HasEvent reports whether name is a recognized event.
func (s *Spec) HasEvent(name string) bool {
	_, ok := s.eventSet[name]
	return ok
}

// RulesFor returns the rules bound to event, in document order.
func (s *Spec) RulesFor(event string) []*Rule {
	var out []*Rule
	for _, r := range s.Rules {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

// Constraint returns the global definition of a constraint type.
func (s *Spec) Constraint(name string) (map[string]any, bool) {
	def, ok := s.Constraints[name]
	return def, ok && def != nil
}

// TagDefinition returns the document's definition of a tag, if any.
func (s *Spec) TagDefinition(name string) (any, bool) {
	def, ok := s.Tags[name]
	return def, ok
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return append([]string(nil), s...)
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
