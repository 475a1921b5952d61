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

package dedup

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const (
	DefaultTTL           = 120 * time.Second
	DefaultTimeout       = 500 * time.Millisecond
	DefaultSweepInterval = time.Minute
	DefaultKeyPrefix     = "relay:dedupe:"
)

// FailureMode decides how an unreachable store is treated.
type FailureMode string

const (
	// FailOpen admits the event when the store cannot answer.
	FailOpen FailureMode = "open"
	// FailClosed reports the event as a duplicate when the store cannot answer.
	FailClosed FailureMode = "closed"
)

type Config struct {
	Store         string        `yaml:"store"`
	TTL           time.Duration `yaml:"ttl"`
	Timeout       time.Duration `yaml:"timeout"`
	FailureMode   FailureMode   `yaml:"failure_mode"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	// ReleaseOnDispatchFailure forgets a fingerprint when its dispatch fails
	// so the upstream retry is admitted again.
	ReleaseOnDispatchFailure bool `yaml:"release_on_dispatch_failure"`
}

func DefaultConfig() Config {
	return Config{
		Store:         "memory",
		TTL:           DefaultTTL,
		Timeout:       DefaultTimeout,
		FailureMode:   FailOpen,
		SweepInterval: DefaultSweepInterval,
		KeyPrefix:     DefaultKeyPrefix,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Store == "" {
		c.Store = def.Store
	}
	if c.TTL <= 0 {
		c.TTL = def.TTL
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.FailureMode == "" {
		c.FailureMode = def.FailureMode
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = def.SweepInterval
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = def.KeyPrefix
	}
	return c
}

// NewStore creates a dedup store based on configuration.
func NewStore(cfg Config, logger *slog.Logger) (core.DedupStore, error) {
	cfg = cfg.WithDefaults()

	switch cfg.FailureMode {
	case FailOpen, FailClosed:
	default:
		return nil, fmt.Errorf("unknown dedup failure mode: %s", cfg.FailureMode)
	}

	switch cfg.Store {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis_addr is required when store=redis")
		}
		return NewRedisStore(RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		}, logger)

	case "memory":
		store := NewMemoryStore(cfg.TTL)
		store.StartSweeper(cfg.SweepInterval, logger)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown dedup store type: %s", cfg.Store)
	}
}
