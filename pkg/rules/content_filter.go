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
	"regexp"
	"strings"
	"sync"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const (
	ContentFilterType          = "phi_filter"
	contentFilterDefaultAction = "flag"
)

// ContentFilter scans message text for sensitive patterns. Patterns are
// matched case-insensitively; patterns that fail to compile are skipped.
type ContentFilter struct {
	cache sync.Map // pattern -> *regexp.Regexp, or nil when invalid
}

func (f *ContentFilter) Type() string { return ContentFilterType }

func (f *ContentFilter) Evaluate(cfg Config, in Input) Outcome {
	out := Outcome{Action: cfg.String("action_on_detect", contentFilterDefaultAction)}

	patterns, _ := cfg["patterns"].([]any)
	if len(patterns) == 0 {
		return out
	}
	segments := CollectSegments(in.Context)
	if len(segments) == 0 {
		return out
	}

	for _, p := range patterns {
		source, _ := core.Lookup(p, "regex").(string)
		re := f.compile(source)
		if re == nil {
			continue
		}
		typ, _ := core.Lookup(p, "type").(string)
		if typ == "" {
			typ = "unknown"
		}
		for _, seg := range segments {
			if loc := re.FindStringIndex(seg); loc != nil {
				out.Matches = append(out.Matches, Match{Type: typ, Pattern: source, Sample: seg[loc[0]:loc[1]]})
			}
		}
	}

	out.Blocked = len(out.Matches) > 0 && out.Action != ActionLogOnly
	return out
}

func (f *ContentFilter) compile(source string) *regexp.Regexp {
	if strings.TrimSpace(source) == "" {
		return nil
	}
	if cached, ok := f.cache.Load(source); ok {
		re, _ := cached.(*regexp.Regexp)
		return re
	}
	re, err := regexp.Compile("(?i)" + source)
	if err != nil {
		f.cache.Store(source, (*regexp.Regexp)(nil))
		return nil
	}
	f.cache.Store(source, re)
	return re
}

// CollectSegments gathers the distinct non-blank text segments of a context:
// payload text, raw text and command, the nested message text, entries of
// payload.messages, and meta.textSegments.
func CollectSegments(ctx *Context) []string {
	if ctx == nil {
		return nil
	}
	var segments []string
	seen := make(map[string]bool)
	add := func(v any) {
		s, ok := v.(string)
		if !ok || strings.TrimSpace(s) == "" || seen[s] {
			return
		}
		seen[s] = true
		segments = append(segments, s)
	}

	add(ctx.Payload["text"])
	add(ctx.Payload["rawText"])
	add(ctx.Payload["command"])
	add(core.Lookup(ctx.Payload["message"], "text"))

	if messages, ok := ctx.Payload["messages"].([]any); ok {
		for _, m := range messages {
			if s, ok := m.(string); ok {
				add(s)
				continue
			}
			add(core.Lookup(m, "text"))
		}
	}
	if extra, ok := ctx.Meta["textSegments"].([]any); ok {
		for _, s := range extra {
			add(s)
		}
	}
	return segments
}
