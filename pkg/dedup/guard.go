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
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// Guard bounds every store call with a timeout and resolves store failures
// according to the configured FailureMode.
type Guard struct {
	store   core.DedupStore
	ttl     time.Duration
	timeout time.Duration
	mode    FailureMode
	release bool
	logger  *slog.Logger
}

func NewGuard(store core.DedupStore, cfg Config, logger *slog.Logger) *Guard {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:   store,
		ttl:     cfg.TTL,
		timeout: cfg.Timeout,
		mode:    cfg.FailureMode,
		release: cfg.ReleaseOnDispatchFailure,
		logger:  logger,
	}
}

func (g *Guard) TTL() time.Duration { return g.ttl }

// Admit reports whether the fingerprint is fresh. The returned error is the
// store failure, if any; the boolean already reflects the failure mode.
func (g *Guard) Admit(ctx context.Context, fingerprint string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	fresh, err := g.store.MarkSeen(ctx, fingerprint, g.ttl)
	if err == nil {
		return fresh, nil
	}

	admit := g.mode != FailClosed
	g.logger.Warn("dedup store unavailable",
		"fingerprint", fingerprint,
		"failure_mode", string(g.mode),
		"admitted", admit,
		"error", err,
	)
	return admit, err
}

// Release forgets a fingerprint after a failed dispatch when the guard is
// configured to do so. It reports whether the fingerprint was released.
func (g *Guard) Release(ctx context.Context, fingerprint string) bool {
	if !g.release {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.store.Forget(ctx, fingerprint); err != nil {
		g.logger.Warn("dedup release failed", "fingerprint", fingerprint, "error", err)
		return false
	}
	return true
}
