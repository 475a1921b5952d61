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

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/logging"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/routing"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// SinkSource resolves sinks by name. *plugins.Registry satisfies it.
type SinkSource interface {
	Lookup(name string) (core.Sink, bool)
	IsSinkHealthy(name string) bool
}

// Dispatcher hands admitted envelopes to the sink their route names. Taps
// receive a best-effort copy of every successful dispatch.
type Dispatcher struct {
	routes   *routing.Table
	sinks    SinkSource
	taps     []core.Sink
	logger   *slog.Logger
	eventLog *logging.EventLogger
	metrics  *metrics.Recorder
}

type Option func(*Dispatcher)

func WithTap(s core.Sink) Option {
	return func(d *Dispatcher) { d.taps = append(d.taps, s) }
}

func WithEventLogger(l *logging.EventLogger) Option {
	return func(d *Dispatcher) { d.eventLog = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

func New(routes *routing.Table, sinks SinkSource, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		routes: routes,
		sinks:  sinks,
		logger: logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends env to its routed sink and returns the sink error, if any.
func (d *Dispatcher) Dispatch(ctx context.Context, env *core.Envelope) error {
	route, ok := d.routes.Resolve(env.Type)
	if !ok {
		return fmt.Errorf("%w: event_type=%s", core.ErrNoRoute, env.Type)
	}
	sink, ok := d.sinks.Lookup(route.Target)
	if !ok {
		return fmt.Errorf("%w: sink=%s", core.ErrSinkNotFound, route.Target)
	}
	if !d.sinks.IsSinkHealthy(route.Target) {
		return fmt.Errorf("%w: sink=%s", core.ErrSinkUnhealthy, route.Target)
	}

	req := core.NewDispatchRequest(env)
	body, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}

	sendCtx := ctx
	if route.Timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, route.Timeout)
		defer cancel()
	}

	start := time.Now()
	err = sink.Send(sendCtx, req)
	d.metrics.DispatchDuration(ctx, route.Target, time.Since(start))
	if err != nil {
		d.metrics.DispatchFailed(ctx, route.Target)
		d.eventLog.Log(env, route, "dispatch_failed", len(body))
		return fmt.Errorf("dispatch to %s: %w", route.Target, err)
	}
	d.eventLog.Log(env, route, "dispatched", len(body))

	for _, tap := range d.taps {
		if err := tap.Send(ctx, req); err != nil {
			d.logger.Warn("tap send failed", "tap", tap.Name(), "error", err)
		}
	}
	return nil
}
