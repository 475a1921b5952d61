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

// Package userstate persists per-actor tags and metadata. Actors are keyed by
// their hashed identifier; raw upstream ids never reach a store.
package userstate

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

var ErrActorRequired = errors.New("actor hash is required")

type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeRedis    StoreType = "redis"
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypePostgres StoreType = "postgres"
)

type Config struct {
	Type  StoreType   `yaml:"type"`
	Redis RedisConfig `yaml:"redis"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

// NewStore creates a UserStore based on configuration.
func NewStore(cfg Config, logger *slog.Logger) (core.UserStore, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(cfg.Redis, logger)
	case StoreTypeSQLite:
		return OpenSQLite(cfg.DSN)
	case StoreTypePostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown user state store type: %s", cfg.Type)
	}
}

func emptyState(actorHash string) *core.UserState {
	return &core.UserState{ActorHash: actorHash, Tags: []string{}, Metadata: map[string]any{}}
}

func normalize(s *core.UserState) *core.UserState {
	if s.Tags == nil {
		s.Tags = []string{}
	}
	if s.Metadata == nil {
		s.Metadata = map[string]any{}
	}
	return s
}
