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
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type MemoryStore struct {
	states map[string]core.UserState
	now    func() time.Time
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]core.UserState),
		now:    time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, actorHash string) (*core.UserState, error) {
	if actorHash == "" {
		return nil, ErrActorRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[actorHash]
	if !ok {
		return emptyState(actorHash), nil
	}
	return copyState(state), nil
}

func (m *MemoryStore) Patch(ctx context.Context, actorHash string, patch core.UserPatch) (*core.UserState, error) {
	if actorHash == "" {
		return nil, ErrActorRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.states[actorHash]
	if !ok {
		current = *emptyState(actorHash)
	}
	if patch.Empty() {
		return copyState(current), nil
	}
	next := patch.Apply(current, m.now())
	m.states[actorHash] = next
	return copyState(next), nil
}

func (m *MemoryStore) Close() error { return nil }

func copyState(s core.UserState) *core.UserState {
	out := s
	out.Tags = append([]string{}, s.Tags...)
	out.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = core.DeepCopy(v)
	}
	return &out
}
