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
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// MemoryStore keeps fingerprints in process. Entries expire lazily on lookup
// and are removed in bulk by the sweeper.
type MemoryStore struct {
	mu         sync.Mutex
	expiries   map[string]time.Time
	defaultTTL time.Duration
	now        func() time.Time
	closed     bool
	stopSweep  chan struct{}
	sweepOnce  sync.Once
}

func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &MemoryStore{
		expiries:   make(map[string]time.Time),
		defaultTTL: defaultTTL,
		now:        time.Now,
		stopSweep:  make(chan struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *MemoryStore) MarkSeen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false, core.ErrStoreClosed
	}

	now := m.now()
	if exp, ok := m.expiries[fingerprint]; ok && now.Before(exp) {
		return false, nil
	}
	m.expiries[fingerprint] = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) Forget(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return core.ErrStoreClosed
	}
	delete(m.expiries, fingerprint)
	return nil
}

func (m *MemoryStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiries = make(map[string]time.Time)
	return nil
}

// Sweep removes expired fingerprints and returns how many were dropped.
func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for fp, exp := range m.expiries {
		if !now.Before(exp) {
			delete(m.expiries, fp)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of tracked fingerprints, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expiries)
}

// StartSweeper runs Sweep on interval until Close.
func (m *MemoryStore) StartSweeper(interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopSweep:
				return
			case <-ticker.C:
				removed, _ := m.Sweep(context.Background())
				if removed > 0 {
					logger.Debug("dedup sweep", "removed", removed)
				}
			}
		}
	}()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.sweepOnce.Do(func() { close(m.stopSweep) })
	return nil
}
