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
	"fmt"
	"regexp"
	"sort"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

var eventExpr = regexp.MustCompile(`event\s*==\s*['"]([^'"]+)['"]`)

// rawRule is a rule in the flat dialect, the canonical input shape.
type rawRule struct {
	ID          any
	When        any
	If          any
	Do          []any
	Limits      map[string]any
	Constraints any
}

// eventsSection is the decoded "events" key. Exactly one of flat or nested
// is set.
type eventsSection struct {
	flat   []string
	nested []nestedEvent
}

type nestedEvent struct {
	name  string
	rules []any
}

func decodeEvents(v any) (eventsSection, error) {
	switch val := v.(type) {
	case []any:
		var sec eventsSection
		sec.flat = make([]string, 0, len(val))
		for _, e := range val {
			if s, ok := e.(string); ok {
				sec.flat = append(sec.flat, s)
			}
		}
		return sec, nil
	case map[string]any:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		var sec eventsSection
		sec.nested = make([]nestedEvent, 0, len(names))
		for _, name := range names {
			rules, _ := core.Lookup(val[name], "rules").([]any)
			sec.nested = append(sec.nested, nestedEvent{name: name, rules: rules})
		}
		return sec, nil
	case nil:
		return eventsSection{flat: []string{}}, nil
	default:
		return eventsSection{}, fmt.Errorf("events must be a list or a map, got %T", v)
	}
}

// flatten rewrites both dialects into flat rules.
func (sec eventsSection) flatten(topLevel []any) (events []string, rules []rawRule) {
	if sec.nested == nil {
		for _, r := range topLevel {
			obj, ok := core.AsObject(r)
			if !ok {
				continue
			}
			rules = append(rules, rawRule{
				ID:          obj["id"],
				When:        core.Coalesce(obj["when"], obj["event"]),
				If:          obj["if"],
				Do:          asList(obj["do"]),
				Limits:      asMap(obj["limits"]),
				Constraints: obj["constraints"],
			})
		}
		return sec.flat, rules
	}

	for _, ev := range sec.nested {
		events = append(events, ev.name)
		for _, r := range ev.rules {
			obj, ok := core.AsObject(r)
			if !ok {
				continue
			}
			legacy := asList(obj["actions"])
			do := make([]any, 0, len(legacy))
			for _, a := range legacy {
				do = append(do, convertLegacyAction(a))
			}
			rules = append(rules, rawRule{
				ID:          obj["id"],
				When:        fmt.Sprintf("event == '%s'", ev.name),
				If:          obj["condition"],
				Do:          do,
				Limits:      asMap(obj["limits"]),
				Constraints: obj["constraints"],
			})
		}
	}
	return events, rules
}

func convertLegacyAction(action any) any {
	obj, ok := core.AsObject(action)
	if !ok {
		return action
	}
	typ, _ := obj["type"].(string)
	switch typ {
	case "set_tag", "update_tag":
		add := []any{}
		if core.Truthy(obj["tag"]) {
			add = append(add, obj["tag"])
		}
		return map[string]any{"tag": map[string]any{"add": add}}
	case "send_message":
		return map[string]any{"send_message": map[string]any{"template": obj["template"]}}
	case "process_message":
		return map[string]any{"action": map[string]any{"process_message": map[string]any{"handler": obj["handler"]}}}
	default:
		return action
	}
}

// extractEvent returns the literal event name of an `event == '<name>'`
// expression.
func extractEvent(expr any) (string, bool) {
	s, ok := expr.(string)
	if !ok {
		return "", false
	}
	m := eventExpr.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func normalizeOperations(entries []any) []Operation {
	ops := make([]Operation, 0, len(entries))
	for _, entry := range entries {
		ops = append(ops, normalizeOperation(entry))
	}
	return ops
}

func normalizeOperation(entry any) Operation {
	obj, ok := core.AsObject(entry)
	if !ok {
		return Operation{Type: OpUnknown, Payload: entry}
	}
	if v, ok := obj["send_message"]; ok {
		return Operation{Type: OpSendMessage, Payload: v}
	}
	if v, ok := obj["tag"]; ok {
		return Operation{Type: OpTag, Payload: v}
	}
	if v, ok := obj["metric"]; ok {
		if emit := core.Lookup(v, "emit"); emit != nil {
			v = emit
		}
		return Operation{Type: OpMetric, Payload: v}
	}
	if v, ok := obj["action"]; ok {
		switch act := v.(type) {
		case string:
			return Operation{Type: OpAction, Name: act, Parameters: map[string]any{}}
		case map[string]any:
			names := make([]string, 0, len(act))
			for name := range act {
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return Operation{Type: OpAction, Parameters: map[string]any{}}
			}
			params := asMap(act[names[0]])
			if params == nil {
				params = map[string]any{}
			}
			return Operation{Type: OpAction, Name: names[0], Parameters: params}
		}
	}
	return Operation{Type: OpUnknown, Payload: entry}
}

func normalizeAttachments(v any) []Attachment {
	entries, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]Attachment, 0, len(entries))
	for _, entry := range entries {
		obj, ok := core.AsObject(entry)
		if !ok {
			continue
		}
		typ, ok := obj["type"].(string)
		if !ok {
			continue
		}
		enabled := true
		if b, ok := obj["enabled"].(bool); ok && !b {
			enabled = false
		}
		out = append(out, Attachment{Type: typ, Enabled: enabled, Config: obj})
	}
	return out
}

// Normalize turns a decoded rule document into a Spec. Rules without a
// resolvable event, or bound to an event outside the events list, are
// dropped.
func Normalize(doc map[string]any) (*Spec, error) {
	sec, err := decodeEvents(doc["events"])
	if err != nil {
		return nil, err
	}
	events, raw := sec.flatten(asList(doc["rules"]))

	spec := &Spec{
		Version:     core.StringOf(doc["version"]),
		Events:      events,
		Globals:     asMap(doc["globals"]),
		Constraints: make(map[string]map[string]any),
		Tags:        asMap(doc["tags"]),
		eventSet:    make(map[string]struct{}, len(events)),
	}
	if spec.Globals == nil {
		spec.Globals = map[string]any{}
	}
	for _, e := range events {
		spec.eventSet[e] = struct{}{}
	}
	for name, def := range asMap(doc["constraints"]) {
		if m := asMap(def); m != nil {
			spec.Constraints[name] = m
		}
	}

	for _, r := range raw {
		event, ok := extractEvent(r.When)
		if !ok || !spec.HasEvent(event) {
			continue
		}
		id := core.StringOf(r.ID)
		cond, _ := r.If.(string)
		limits := r.Limits
		if limits == nil {
			limits = map[string]any{}
		}
		spec.Rules = append(spec.Rules, &Rule{
			ID:          id,
			Event:       event,
			Condition:   CompileCondition(cond),
			Operations:  normalizeOperations(r.Do),
			Limits:      limits,
			Constraints: normalizeAttachments(r.Constraints),
		})
	}
	return spec, nil
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}

func asMap(v any) map[string]any {
	m, _ := core.AsObject(v)
	return m
}
