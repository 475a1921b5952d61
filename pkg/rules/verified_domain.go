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
	"net/url"
	"regexp"
	"strings"
)

const (
	VerifiedDomainType          = "verified_domain"
	verifiedDomainDefaultAction = "reject"
)

var urlPattern = regexp.MustCompile(`(?i)https?://[^\s)>\]}]+`)

// VerifiedDomain rejects outbound links whose host is not an allowed domain
// or one of its subdomains. An empty allow-set permits everything.
type VerifiedDomain struct{}

func (v *VerifiedDomain) Type() string { return VerifiedDomainType }

func (v *VerifiedDomain) Evaluate(cfg Config, in Input) Outcome {
	out := Outcome{Action: cfg.String("action_on_unverified", verifiedDomainDefaultAction)}

	var ruleDomains any
	if in.Rule != nil {
		ruleDomains = in.Rule.Limits["allowed_domains"]
	}
	allowed := domainSet(cfg["allowed_domains"], cfg["domains"], ruleDomains, in.Globals["verified_domains"])
	if len(allowed) == 0 {
		return out
	}

	for _, link := range CollectLinks(in) {
		host := hostname(link)
		if host == "" {
			continue
		}
		if !hostAllowed(host, allowed) {
			out.Unverified = append(out.Unverified, Link{URL: link, Hostname: host})
		}
	}

	out.Blocked = len(out.Unverified) > 0 && out.Action != ActionLogOnly
	return out
}

// CollectLinks returns the distinct concrete links a rule would publish:
// context links plus links and body URLs of send_message operations and the
// link or url parameter of generic actions.
func CollectLinks(in Input) []string {
	var links []string
	seen := make(map[string]bool)
	add := func(v any) {
		s, ok := v.(string)
		if !ok || !isConcreteLink(s) || seen[s] {
			return
		}
		seen[s] = true
		links = append(links, s)
	}

	if in.Context != nil {
		switch ls := in.Context.Meta["links"].(type) {
		case []any:
			for _, l := range ls {
				add(l)
			}
		case []string:
			for _, l := range ls {
				add(l)
			}
		}
	}
	if in.Rule == nil {
		return links
	}
	for _, op := range in.Rule.Operations {
		switch op.Type {
		case OpSendMessage:
			add(op.Field("link"))
			if body, ok := op.Field("body").(string); ok {
				for _, u := range urlPattern.FindAllString(body, -1) {
					add(u)
				}
			}
		case OpAction:
			add(op.Parameters["link"])
			add(op.Parameters["url"])
		}
	}
	return links
}

// isConcreteLink excludes blanks, unresolved {{ }} placeholders, and
// anything that is not an http(s) URL.
func isConcreteLink(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.Contains(s, "{{") && strings.Contains(s, "}}") {
		return false
	}
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hostname(link string) string {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func domainSet(sources ...any) map[string]struct{} {
	set := make(map[string]struct{})
	for _, src := range sources {
		for _, d := range stringList(src) {
			d = strings.ToLower(strings.TrimSpace(d))
			if d != "" {
				set[d] = struct{}{}
			}
		}
	}
	return set
}

func hostAllowed(host string, allowed map[string]struct{}) bool {
	if _, ok := allowed[host]; ok {
		return true
	}
	for d := range allowed {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

