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
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/dedup"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/userstate"
)

const (
	DefaultAddr            = ":8080"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second
	DefaultTapPath         = "/tap"
)

type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Relay     RelayConfig      `yaml:"relay"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Dedup     dedup.Config     `yaml:"dedup"`
	UserState userstate.Config `yaml:"user_state"`
	Rules     RulesConfig      `yaml:"rules"`
	Tap       TapConfig        `yaml:"tap"`
	Sinks     []SinkConfig     `yaml:"sinks"`
	Routes    []RouteConfig    `yaml:"routes"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type RelayConfig struct {
	// Enabled defaults to true when unset.
	Enabled       *bool  `yaml:"enabled"`
	ChannelSecret string `yaml:"channel_secret"`
	APIKey        string `yaml:"api_key"`
	HashSalt      string `yaml:"hash_salt"`
	RedactText    bool   `yaml:"redact_text"`
}

func (r RelayConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RateLimitConfig throttles callers by remote address. RPS of zero disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
	// TrustProxyHeaders keys buckets on X-Forwarded-For / X-Real-IP instead
	// of the connected peer.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type RulesConfig struct {
	SpecPath string            `yaml:"spec_path"`
	Commands map[string]string `yaml:"commands"`
}

// TapConfig enables the live WebSocket tap. Observers must present Token;
// the tap stays off without one.
type TapConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Token   string `yaml:"token"`
}

type SinkConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type RouteConfig struct {
	Source  string `yaml:"source"`
	Target  string `yaml:"target"`
	Timeout string `yaml:"timeout"`
}

// Load reads the YAML file at path, overlays the environment and fills defaults.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration built from defaults and the environment only.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Tap.Path == "" {
		c.Tap.Path = DefaultTapPath
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
	c.Dedup = c.Dedup.WithDefaults()
}

func (rc RouteConfig) ToRoute() *core.Route {
	route := &core.Route{Source: rc.Source, Target: rc.Target}
	if d, err := time.ParseDuration(rc.Timeout); err == nil && d > 0 {
		route.Timeout = d
	}
	return route
}

func (c *Config) RouteList() []*core.Route {
	routes := make([]*core.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		routes = append(routes, rc.ToRoute())
	}
	return routes
}
