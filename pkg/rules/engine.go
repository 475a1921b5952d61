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
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// Context is the input of one evaluation.
type Context struct {
	Event   string
	User    *core.UserState
	Payload map[string]any
	Meta    map[string]any
}

type Triggered struct {
	RuleID     string         `json:"ruleId"`
	Limits     map[string]any `json:"limits"`
	Operations []Operation    `json:"operations"`
	// Notices holds non-blocking constraint outcomes, such as log_only
	// matches or an allowed broadcast with its metadata patch.
	Notices []ConstraintResult `json:"notices,omitempty"`
}

type Violation struct {
	RuleID      string             `json:"ruleId"`
	Constraints []ConstraintResult `json:"constraints"`
}

type Result struct {
	Event      string      `json:"event"`
	Triggered  []Triggered `json:"triggered"`
	Violations []Violation `json:"violations"`
}

// Blocked reports whether any violation carries a constraint whose action
// is not log_only.
func (r Result) Blocked() bool {
	for _, v := range r.Violations {
		for _, c := range v.Constraints {
			if c.Details.Action != ActionLogOnly {
				return true
			}
		}
	}
	return false
}

// Patches merges the metadata patches of triggered rules in rule order.
func (r Result) Patches() map[string]any {
	var merged map[string]any
	for _, t := range r.Triggered {
		for _, n := range t.Notices {
			if len(n.Details.Patch) == 0 {
				continue
			}
			if merged == nil {
				merged = make(map[string]any)
			}
			for k, v := range n.Details.Patch {
				merged[k] = v
			}
		}
	}
	return merged
}

// Operations returns the operations of every triggered rule in order.
func (r Result) Operations() []Operation {
	var ops []Operation
	for _, t := range r.Triggered {
		ops = append(ops, t.Operations...)
	}
	return ops
}

type Engine struct {
	spec     *Spec
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Engine)

func WithRegistry(r *Registry) Option {
	return func(e *Engine) { e.registry = r }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func NewEngine(spec *Spec, opts ...Option) *Engine {
	e := &Engine{
		spec:     spec,
		registry: DefaultRegistry(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Spec() *Spec { return e.spec }

// Evaluate runs every rule bound to in.Event. Events the document does not
// recognize yield an empty result. A rule lands in Triggered or Violations,
// never both. The only error is a *ConditionError.
func (e *Engine) Evaluate(in Context) (Result, error) {
	res := Result{Event: in.Event, Triggered: []Triggered{}, Violations: []Violation{}}
	if in.Event == "" || !e.spec.HasEvent(in.Event) {
		return res, nil
	}
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	if in.Meta == nil {
		in.Meta = map[string]any{}
	}
	in.User = workingState(in.User)
	now := e.now()

	for _, rule := range e.spec.RulesFor(in.Event) {
		ok, err := rule.Condition.Eval(rule.ID, &in)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			continue
		}

		blocking, notices := e.applyConstraints(rule, &in, now)
		if len(blocking) > 0 {
			res.Violations = append(res.Violations, Violation{RuleID: rule.ID, Constraints: blocking})
			e.logger.Info("rule blocked by constraint",
				"rule_id", rule.ID,
				"event", in.Event,
				"constraints", len(blocking),
			)
			continue
		}
		res.Triggered = append(res.Triggered, Triggered{
			RuleID:     rule.ID,
			Limits:     rule.Limits,
			Operations: rule.Operations,
			Notices:    notices,
		})
		// Later rules see the sends this rule will make.
		for _, n := range notices {
			for k, v := range n.Details.Patch {
				in.User.Metadata[k] = v
			}
		}
	}
	return res, nil
}

// workingState copies u so patches applied during one evaluation never reach
// the caller's state.
func workingState(u *core.UserState) *core.UserState {
	if u == nil {
		return &core.UserState{Metadata: map[string]any{}}
	}
	cp := *u
	cp.Metadata = make(map[string]any, len(u.Metadata))
	for k, v := range u.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func (e *Engine) applyConstraints(rule *Rule, in *Context, now time.Time) (blocking, notices []ConstraintResult) {
	input := Input{Context: in, Rule: rule, Globals: e.spec.Globals, Now: now}
	for _, att := range rule.Constraints {
		cfg, ok := effectiveConfig(e.spec, att)
		if !ok {
			continue
		}
		c, ok := e.registry.Lookup(att.Type)
		if !ok {
			e.logger.Warn("unknown constraint type", "rule_id", rule.ID, "type", att.Type)
			continue
		}
		out := c.Evaluate(cfg, input)
		result := ConstraintResult{Type: att.Type, Details: out}
		switch {
		case out.Blocked:
			blocking = append(blocking, result)
		case out.noteworthy():
			notices = append(notices, result)
		}
	}
	return blocking, notices
}
