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

// Package ingress is the HTTP front door of the relay. Every webhook passes
// verification, parsing, classification and deduplication before it is
// sanitized and dispatched.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/dedup"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/fingerprint"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/sanitize"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/signature"
)

const (
	previewLimit        = 128
	defaultMaxBodyBytes = 1 << 20
	consumerTimeout     = 30 * time.Second
)

// Dispatcher delivers an admitted envelope downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *core.Envelope) error
}

// Consumer is notified of every successfully dispatched envelope. It runs
// after the response is decided and never affects the status code.
type Consumer interface {
	Consume(ctx context.Context, env *core.Envelope) error
}

type Options struct {
	Enabled      bool
	Verifier     *signature.Verifier
	Guard        *dedup.Guard
	Dispatcher   Dispatcher
	Consumer     Consumer
	HashSalt     string
	RedactText   bool
	Deriver      core.Deriver
	MaxBodyBytes int64
	Metrics      *metrics.Recorder
	Now          func() time.Time
}

type Gateway struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Gateway {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{opts: opts, logger: logger}
}

// HandleWebhook implements the admission pipeline. Status codes:
// 503 disabled, 403 bad signature, 400 bad JSON or unsupported event,
// 202 duplicate, 502 dispatch failure, 200 dispatched.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !g.opts.Enabled {
		g.reject(ctx, w, http.StatusServiceUnavailable, "bot_disabled")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			g.reject(ctx, w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		g.reject(ctx, w, http.StatusBadRequest, "unreadable_body")
		return
	}

	header := r.Header.Get("X-Line-Signature")
	if header == "" {
		header = r.Header.Get("Authorization")
	}
	if g.opts.Verifier == nil || !g.opts.Verifier.Verify(body, header) {
		g.reject(ctx, w, http.StatusForbidden, "signature_invalid")
		return
	}

	payload, err := decodeBody(body)
	if err != nil {
		g.logger.Warn("invalid json body", "error", err, "preview", Preview(body))
		g.reject(ctx, w, http.StatusBadRequest, "invalid_json")
		return
	}

	eventType := classify.Detect(payload)
	if !eventType.Known() {
		g.logger.Warn("unsupported event", "preview", Preview(body))
		g.reject(ctx, w, http.StatusBadRequest, "unsupported_event")
		return
	}

	fp, inputs := fingerprint.Compute(eventType, payload, fingerprint.Options{
		HashSalt:  g.opts.HashSalt,
		Signature: header,
		RawBody:   body,
	})

	if g.opts.Guard != nil {
		fresh, _ := g.opts.Guard.Admit(ctx, fp)
		if !fresh {
			g.opts.Metrics.EventDuplicate(ctx, string(eventType))
			g.logger.Info("duplicate event suppressed", "event_type", eventType, "fingerprint", fp)
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "duplicate"})
			return
		}
	}
	g.opts.Metrics.EventReceived(ctx, string(eventType))

	env := g.envelope(eventType, payload, fp, inputs)

	if err := g.opts.Dispatcher.Dispatch(ctx, env); err != nil {
		g.logger.Error("dispatch failed", "event_type", eventType, "fingerprint", fp, "error", err)
		if g.opts.Guard != nil && g.opts.Guard.Release(ctx, fp) {
			g.logger.Info("fingerprint released after dispatch failure", "fingerprint", fp)
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": "dispatch_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "event_type": eventType})

	if g.opts.Consumer != nil {
		go g.consume(context.WithoutCancel(ctx), env)
	}
}

func (g *Gateway) consume(ctx context.Context, env *core.Envelope) {
	ctx, cancel := context.WithTimeout(ctx, consumerTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("consumer panic recovered", "event_id", env.ID, "error", r)
		}
	}()
	if err := g.opts.Consumer.Consume(ctx, env); err != nil {
		g.logger.Error("consumer failed", "event_id", env.ID, "event_type", env.Type, "error", err)
	}
}

func (g *Gateway) envelope(eventType core.EventType, payload any, fp string, inputs []string) *core.Envelope {
	now := g.opts.Now().UTC()
	sanitized := sanitize.Sanitize(payload, eventType, sanitize.Options{
		HashSalt:   g.opts.HashSalt,
		RedactText: g.opts.RedactText,
		Deriver:    g.opts.Deriver,
	})
	env := &core.Envelope{
		ID:                uuid.New().String(),
		Type:              eventType,
		OccurredAt:        now,
		ReceivedAt:        now,
		Fingerprint:       fp,
		FingerprintInputs: inputs,
		Payload:           sanitized,
	}
	if actor, ok := core.StringField(core.Lookup(sanitized, "user", "hashed_id")); ok {
		env.Actor = actor
	}
	if ms, ok := core.Lookup(sanitized, "occurred_at").(json.Number); ok {
		if n, err := ms.Int64(); err == nil && n > 0 {
			env.OccurredAt = time.UnixMilli(n).UTC()
		}
	}
	return env
}

func (g *Gateway) reject(ctx context.Context, w http.ResponseWriter, status int, reason string) {
	g.opts.Metrics.EventRejected(ctx, reason)
	writeJSON(w, status, map[string]any{"error": reason})
}

// decodeBody parses a JSON body. An empty body decodes as an empty object.
// Numbers are kept as json.Number so identifiers survive unchanged.
func decodeBody(body []byte) (any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// Preview returns at most the first 128 bytes of body, cut on a rune boundary.
func Preview(body []byte) string {
	if len(body) <= previewLimit {
		return string(body)
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
