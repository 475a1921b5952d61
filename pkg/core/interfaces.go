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

package core

import (
	"context"
	"time"
)

// Sink receives admitted events. Implementations wrap a broker or HTTP target.
type Sink interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, req DispatchRequest) error
}

// DedupStore records fingerprints for at-most-once admission.
type DedupStore interface {
	// MarkSeen returns true the first time fingerprint is recorded within ttl.
	MarkSeen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
	Forget(ctx context.Context, fingerprint string) error
	// Reset drops every recorded fingerprint. Used for test isolation.
	Reset(ctx context.Context) error
	Close() error
}

// UserStore is the per-actor tag and metadata store.
type UserStore interface {
	Get(ctx context.Context, actorHash string) (*UserState, error)
	Patch(ctx context.Context, actorHash string, patch UserPatch) (*UserState, error)
	Close() error
}

// MessageSender delivers pre-rendered outbound messages to an actor.
type MessageSender interface {
	SendMessages(ctx context.Context, actorHash, replyToken string, messages []map[string]any) error
}
