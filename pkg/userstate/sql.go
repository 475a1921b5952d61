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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const createTable = `CREATE TABLE IF NOT EXISTS relay_user_state (
	user_hash  TEXT PRIMARY KEY,
	tags       TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	updated_at BIGINT NOT NULL
)`

// SQLStore implements UserStore over database/sql. Tags and metadata are
// stored as JSON text so one schema serves sqlite and postgres.
type SQLStore struct {
	db        *sql.DB
	rebind    func(string) string
	forUpdate string
	now       func() time.Time
}

func newSQLStore(db *sql.DB, rebind func(string) string, forUpdate string) *SQLStore {
	return &SQLStore{db: db, rebind: rebind, forUpdate: forUpdate, now: time.Now}
}

// Migrate creates the state table when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create user state table: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) load(ctx context.Context, q querier, actorHash string, lock bool) (*core.UserState, error) {
	query := "SELECT tags, metadata, updated_at FROM relay_user_state WHERE user_hash = ?"
	if lock {
		query += s.forUpdate
	}
	var tagsJSON, metaJSON string
	var updatedAt int64
	err := q.QueryRowContext(ctx, s.rebind(query), actorHash).Scan(&tagsJSON, &metaJSON, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyState(actorHash), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user state: %w", err)
	}

	state := &core.UserState{ActorHash: actorHash, UpdatedAt: time.UnixMilli(updatedAt).UTC()}
	if err := json.Unmarshal([]byte(tagsJSON), &state.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &state.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return normalize(state), nil
}

func (s *SQLStore) Get(ctx context.Context, actorHash string) (*core.UserState, error) {
	if actorHash == "" {
		return nil, ErrActorRequired
	}
	return s.load(ctx, s.db, actorHash, false)
}

func (s *SQLStore) Patch(ctx context.Context, actorHash string, patch core.UserPatch) (*core.UserState, error) {
	if actorHash == "" {
		return nil, ErrActorRequired
	}
	if patch.Empty() {
		return s.Get(ctx, actorHash)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin user state patch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.load(ctx, tx, actorHash, true)
	if err != nil {
		return nil, err
	}
	next := patch.Apply(*current, s.now())
	normalize(&next)

	tagsJSON, err := json.Marshal(next.Tags)
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	metaJSON, err := json.Marshal(next.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO relay_user_state (user_hash, tags, metadata, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_hash) DO UPDATE SET tags = excluded.tags, metadata = excluded.metadata, updated_at = excluded.updated_at`),
		actorHash, string(tagsJSON), string(metaJSON), next.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("upsert user state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user state patch: %w", err)
	}
	return &next, nil
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func keepPlaceholders(q string) string { return q }

// dollarPlaceholders rewrites ? placeholders to $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
