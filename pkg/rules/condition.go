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
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var clauseSplit = regexp.MustCompile(`(?i)\s+and\s+`)

// ErrUnsupportedClause is wrapped by ConditionError when a clause matches no
// predicate.
var ErrUnsupportedClause = errors.New("unsupported condition clause")

// ConditionError reports a rule condition that cannot be evaluated.
type ConditionError struct {
	RuleID string
	Clause string
	Err    error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("rule %s condition error: %v: %s", e.RuleID, e.Err, e.Clause)
}

func (e *ConditionError) Unwrap() error { return e.Err }

// Predicate is one clause shape of the condition language. Pattern must
// match the whole clause; its submatches are passed to Eval.
type Predicate struct {
	Pattern *regexp.Regexp
	Eval    func(args []string, ctx *Context) bool
}

// Predicates is the clause vocabulary, keyed by predicate name.
var Predicates = map[string]Predicate{
	"user.tags.contains": {
		Pattern: regexp.MustCompile(`^user\.tags\.contains\(['"]([^'"]+)['"]\)$`),
		Eval: func(args []string, ctx *Context) bool {
			return ctx.User.HasTag(args[0])
		},
	},
}

type clause struct {
	text   string
	negate bool
	pred   *Predicate
	args   []string
}

// Condition is a compiled rule condition. The zero value and nil are always
// true.
type Condition struct {
	source  string
	clauses []clause
}

// CompileCondition parses expr once. Clauses that match no predicate are kept
// and reported when the condition is evaluated.
func CompileCondition(expr string) *Condition {
	c := &Condition{source: expr}
	for _, part := range clauseSplit.Split(expr, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cl := clause{text: part}
		if strings.HasPrefix(part, "not ") {
			cl.negate = true
			part = strings.TrimSpace(part[len("not "):])
		}
		for name := range Predicates {
			p := Predicates[name]
			if m := p.Pattern.FindStringSubmatch(part); m != nil {
				cl.pred = &p
				cl.args = m[1:]
				break
			}
		}
		c.clauses = append(c.clauses, cl)
	}
	return c
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.source
}

// Eval ANDs every clause. Any unsupported clause yields a *ConditionError
// naming ruleID, whatever the other clauses evaluate to.
func (c *Condition) Eval(ruleID string, ctx *Context) (bool, error) {
	if c == nil {
		return true, nil
	}
	for _, cl := range c.clauses {
		if cl.pred == nil {
			return false, &ConditionError{RuleID: ruleID, Clause: cl.text, Err: ErrUnsupportedClause}
		}
	}
	for _, cl := range c.clauses {
		ok := cl.pred.Eval(cl.args, ctx)
		if cl.negate {
			ok = !ok
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
