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

package userstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisStore keeps one JSON document per actor. Patches are serialized per
// process; concurrent patches of one actor from different replicas are last
// writer wins.
type RedisStore struct {
	client    redisClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
	mu        sync.Mutex
}

func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required for the user state store")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("user state redis store connected", "addr", cfg.Addr)
	return newRedisStore(client, cfg.KeyPrefix, cfg.TTL), nil
}

func newRedisStore(client redisClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "relay:user:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (r *RedisStore) key(actorHash string) string {
	return r.keyPrefix + actorHash
}

func (r *RedisStore) Get(ctx context.Context, actorHash string) (*core.UserState, error) {
	if actorHash == "" {
		return nil, ErrActorRequired
	}
	data, err := r.client.Get(ctx, r.key(actorHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return emptyState(actorHash), nil
		}
		return nil, fmt.Errorf("get user state: %w", err)
	}
	var state core.UserState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal user state: %w", err)
	}
	state.ActorHash = actorHash
	return normalize(&state), nil
}

func (r *RedisStore) Patch(ctx context.Context, actorHash string, patch core.UserPatch) (*core.UserState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.Get(ctx, actorHash)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return current, nil
	}
	next := patch.Apply(*current, r.now())
	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal user state: %w", err)
	}
	if err := r.client.Set(ctx, r.key(actorHash), data, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("set user state: %w", err)
	}
	return normalize(&next), nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
