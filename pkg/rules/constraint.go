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
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ActionLogOnly records a constraint outcome without blocking the rule.
const ActionLogOnly = "log_only"

// Config is the effective configuration of one constraint attachment: the
// global definition overlaid by the rule attachment.
type Config map[string]any

func (c Config) String(key, def string) string {
	if s, ok := c[key].(string); ok && s != "" {
		return s
	}
	return def
}

func (c Config) Int(key string, def int) int {
	if n, ok := toInt(c[key]); ok {
		return n
	}
	return def
}

func (c Config) Strings(key string) []string {
	return stringList(c[key])
}

// Input is what a constraint sees of the rule being evaluated.
type Input struct {
	Context *Context
	Rule    *Rule
	Globals map[string]any
	Now     time.Time
}

// Match is a content filter hit.
type Match struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
	Sample  string `json:"sample"`
}

// Link is an outbound URL that failed domain verification.
type Link struct {
	URL      string `json:"url"`
	Hostname string `json:"hostname"`
}

// Outcome is the result of one constraint evaluation.
type Outcome struct {
	Blocked    bool           `json:"blocked"`
	Action     string         `json:"action"`
	Matches    []Match        `json:"matches,omitempty"`
	Unverified []Link         `json:"unverified,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Patch      map[string]any `json:"patch,omitempty"`
}

// noteworthy reports whether a non-blocking outcome carries anything a
// caller may act on.
func (o Outcome) noteworthy() bool {
	if len(o.Matches) > 0 || len(o.Unverified) > 0 || len(o.Patch) > 0 {
		return true
	}
	return o.Reason == ReasonMonthlyLimit || o.Reason == ReasonPromoCooldown
}

// ConstraintResult pairs an outcome with the constraint that produced it.
type ConstraintResult struct {
	Type    string  `json:"type"`
	Details Outcome `json:"details"`
}

// Constraint is a named safety check. Evaluate must not modify its input.
type Constraint interface {
	Type() string
	Evaluate(cfg Config, in Input) Outcome
}

// Registry maps constraint type names to implementations.
type Registry struct {
	constraints map[string]Constraint
	mu          sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{constraints: make(map[string]Constraint)}
}

// DefaultRegistry returns a registry holding the built-in constraints.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltinConstraints(r)
	return r
}

func (r *Registry) Register(c Constraint) {
	r.mu.Lock()
	r.constraints[c.Type()] = c
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Constraint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.constraints[name]
	return c, ok
}

func RegisterBuiltinConstraints(r *Registry) {
	r.Register(&ContentFilter{})
	r.Register(&VerifiedDomain{})
	r.Register(&BroadcastPolicy{})
}

// effectiveConfig merges a rule attachment over the global definition.
// It reports false when either side disables the constraint or the global
// definition is missing.
func effectiveConfig(spec *Spec, att Attachment) (Config, bool) {
	if !att.Enabled {
		return nil, false
	}
	def, ok := spec.Constraint(att.Type)
	if !ok {
		return nil, false
	}
	if enabled, ok := def["enabled"].(bool); ok && !enabled {
		return nil, false
	}
	cfg := make(Config, len(def)+len(att.Config))
	for k, v := range def {
		cfg[k] = v
	}
	for k, v := range att.Config {
		cfg[k] = v
	}
	return cfg, true
}

func toInt(v any) (int, bool) {
	f, ok := toFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
