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
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const (
	BroadcastPolicyType = "broadcast_policy"

	DefaultMaxPerMonth       = 3
	DefaultPromoCooldownDays = 30

	ReasonNoTemplates   = "no_templates"
	ReasonOK            = "ok"
	ReasonMonthlyLimit  = "monthly_limit"
	ReasonPromoCooldown = "promo_cooldown"

	MetaBroadcastMonthKey   = "broadcast_month_key"
	MetaBroadcastCountMonth = "broadcast_count_month"
	MetaPromoLastSentAt     = "promo_last_sent_at"

	isoMillis = "2006-01-02T15:04:05.000Z07:00"
)

// DefaultPromoTemplates are the templates subject to the promo cooldown.
var DefaultPromoTemplates = []string{"scenario_cmd_gift"}

// BroadcastPolicy caps outbound sends per actor per calendar month (UTC) and
// spaces promotional templates by a cooldown. An allowed send returns the
// metadata patch the caller must persist; the policy never writes state.
type BroadcastPolicy struct{}

func (b *BroadcastPolicy) Type() string { return BroadcastPolicyType }

func (b *BroadcastPolicy) Evaluate(cfg Config, in Input) Outcome {
	out := Outcome{Action: cfg.String("action", "reject")}

	var templates []string
	if in.Rule != nil {
		for _, op := range in.Rule.Operations {
			if t := op.Template(); t != "" {
				templates = append(templates, t)
			}
		}
	}
	var metadata map[string]any
	if in.Context != nil && in.Context.User != nil {
		metadata = in.Context.User.Metadata
	}

	decision := EvaluateBroadcast(BroadcastInput{
		Metadata:          metadata,
		Templates:         templates,
		MaxPerMonth:       cfg.Int("max_per_month", DefaultMaxPerMonth),
		PromoCooldownDays: cfg.Int("promo_cooldown_days", DefaultPromoCooldownDays),
		PromoTemplates:    promoTemplates(cfg),
		Now:               in.Now,
	})

	out.Reason = decision.Reason
	if decision.Allowed {
		out.Patch = decision.Patch
		return out
	}
	out.Blocked = out.Action != ActionLogOnly
	return out
}

func promoTemplates(cfg Config) []string {
	if _, ok := cfg["promo_templates"]; ok {
		return cfg.Strings("promo_templates")
	}
	return DefaultPromoTemplates
}

type BroadcastInput struct {
	Metadata          map[string]any
	Templates         []string
	MaxPerMonth       int
	PromoCooldownDays int
	PromoTemplates    []string
	Now               time.Time
}

type BroadcastDecision struct {
	Allowed bool
	Reason  string
	Patch   map[string]any
}

// MonthKey returns the UTC calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// EvaluateBroadcast applies the monthly cap and promo cooldown to one send.
// The stored counter only counts when its month key is the current month.
func EvaluateBroadcast(in BroadcastInput) BroadcastDecision {
	if len(in.Templates) == 0 {
		return BroadcastDecision{Allowed: true, Reason: ReasonNoTemplates}
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	monthKey := MonthKey(now)
	current := 0
	if core.StringOf(in.Metadata[MetaBroadcastMonthKey]) == monthKey {
		current, _ = toInt(in.Metadata[MetaBroadcastCountMonth])
	}
	next := current + 1

	if in.MaxPerMonth > 0 && next > in.MaxPerMonth {
		return BroadcastDecision{Reason: ReasonMonthlyLimit, Patch: map[string]any{}}
	}

	promo := false
	for _, t := range in.Templates {
		for _, p := range in.PromoTemplates {
			if t == p {
				promo = true
			}
		}
	}

	if promo && in.PromoCooldownDays > 0 {
		if last, ok := parseTime(in.Metadata[MetaPromoLastSentAt]); ok {
			cooldown := time.Duration(in.PromoCooldownDays) * 24 * time.Hour
			if now.Sub(last) < cooldown {
				return BroadcastDecision{Reason: ReasonPromoCooldown, Patch: map[string]any{}}
			}
		}
	}

	patch := map[string]any{
		MetaBroadcastMonthKey:   monthKey,
		MetaBroadcastCountMonth: next,
	}
	if promo {
		patch[MetaPromoLastSentAt] = now.UTC().Format(isoMillis)
	}
	return BroadcastDecision{Allowed: true, Reason: ReasonOK, Patch: patch}
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		if t == "" {
			return time.Time{}, false
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
