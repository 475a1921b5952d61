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

package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/dedup"
)

// DefaultSinkName names the dispatch sink created from GITHUB_REPOSITORY when
// the file configures none.
const DefaultSinkName = "github"

// envOverlay holds raw environment values. Empty values leave the file
// configuration untouched.
type envOverlay struct {
	BotEnabled     string `env:"FEATURE_BOT_ENABLED"`
	ChannelSecret  string `env:"LINE_CHANNEL_SECRET"`
	APIKey         string `env:"MANUS_API_KEY"`
	HashSalt       string `env:"HASH_SALT"`
	LegacyHashSalt string `env:"ID_HASH_SALT"`
	RedactText     string `env:"REDACT_LINE_MESSAGE"`
	DedupeTTL      string `env:"DEDUPE_TTL_SECONDS"`
	DedupeStore    string `env:"DEDUPE_STORE"`
	RedisAddr      string `env:"REDIS_ADDR"`
	RulesSpecPath  string `env:"RULES_SPEC_PATH"`
	DispatchToken  string `env:"GITHUB_TOKEN"`
	DispatchRepo   string `env:"GITHUB_REPOSITORY"`
	ListenAddr     string `env:"RELAY_ADDR"`
	TapToken       string `env:"TAP_TOKEN"`
}

// ApplyEnv overlays environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var raw envOverlay
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if raw.BotEnabled != "" {
		enabled := raw.BotEnabled != "false"
		cfg.Relay.Enabled = &enabled
	}
	if raw.ChannelSecret != "" {
		cfg.Relay.ChannelSecret = raw.ChannelSecret
	}
	if raw.APIKey != "" {
		cfg.Relay.APIKey = raw.APIKey
	}
	switch {
	case raw.HashSalt != "":
		cfg.Relay.HashSalt = raw.HashSalt
	case raw.LegacyHashSalt != "":
		cfg.Relay.HashSalt = raw.LegacyHashSalt
	}
	if raw.RedactText != "" {
		cfg.Relay.RedactText = raw.RedactText == "true"
	}
	if raw.DedupeTTL != "" {
		cfg.Dedup.TTL = ResolveDedupeTTL(raw.DedupeTTL, dedup.DefaultTTL)
	}
	if raw.DedupeStore != "" {
		cfg.Dedup.Store = raw.DedupeStore
	}
	if raw.RedisAddr != "" {
		cfg.Dedup.RedisAddr = raw.RedisAddr
	}
	if raw.RulesSpecPath != "" {
		cfg.Rules.SpecPath = raw.RulesSpecPath
	}
	if raw.ListenAddr != "" {
		cfg.Server.Addr = raw.ListenAddr
	}
	if raw.TapToken != "" {
		cfg.Tap.Token = raw.TapToken
	}
	if raw.DispatchRepo != "" && len(cfg.Sinks) == 0 {
		cfg.Sinks = append(cfg.Sinks, SinkConfig{
			Name:   DefaultSinkName,
			Type:   "http",
			Config: map[string]string{"repository": raw.DispatchRepo},
		})
		if len(cfg.Routes) == 0 {
			cfg.Routes = append(cfg.Routes, RouteConfig{Source: core.RouteWildcard, Target: DefaultSinkName})
		}
	}
	if raw.DispatchToken != "" {
		for i := range cfg.Sinks {
			if cfg.Sinks[i].Type != "http" || cfg.Sinks[i].Config["token"] != "" {
				continue
			}
			if cfg.Sinks[i].Config == nil {
				cfg.Sinks[i].Config = map[string]string{}
			}
			cfg.Sinks[i].Config["token"] = raw.DispatchToken
		}
	}
	return nil
}

// ResolveDedupeTTL parses a TTL given in seconds. Missing, non-numeric and
// non-positive values fall back to def.
func ResolveDedupeTTL(value string, def time.Duration) time.Duration {
	secs, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}
