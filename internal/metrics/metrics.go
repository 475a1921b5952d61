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

// Package metrics records relay counters through the OpenTelemetry metric API.
// Without an installed meter provider every instrument is a no-op.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/wso2/api-platform/gateway/webhook-relay"

type Recorder struct {
	received         metric.Int64Counter
	duplicate        metric.Int64Counter
	rejected         metric.Int64Counter
	dispatchFailed   metric.Int64Counter
	violations       metric.Int64Counter
	dispatchDuration metric.Float64Histogram
}

// Default builds a Recorder on the global meter provider.
func Default() (*Recorder, error) {
	return New(otel.Meter(instrumentationName))
}

func New(meter metric.Meter) (*Recorder, error) {
	r := &Recorder{}
	var err error

	if r.received, err = meter.Int64Counter("relay.events.received",
		metric.WithDescription("Webhook events accepted for processing"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if r.duplicate, err = meter.Int64Counter("relay.events.duplicate",
		metric.WithDescription("Webhook events suppressed as duplicates"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}
	if r.rejected, err = meter.Int64Counter("relay.events.rejected",
		metric.WithDescription("Webhook requests rejected before dispatch"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if r.dispatchFailed, err = meter.Int64Counter("relay.dispatch.failed",
		metric.WithDescription("Dispatch attempts that failed"),
		metric.WithUnit("{dispatch}"),
	); err != nil {
		return nil, err
	}
	if r.violations, err = meter.Int64Counter("relay.rules.violations",
		metric.WithDescription("Constraint violations raised during rule evaluation"),
		metric.WithUnit("{violation}"),
	); err != nil {
		return nil, err
	}
	if r.dispatchDuration, err = meter.Float64Histogram("relay.dispatch.duration",
		metric.WithDescription("Dispatch latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recorder) EventReceived(ctx context.Context, eventType string) {
	if r == nil {
		return
	}
	r.received.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *Recorder) EventDuplicate(ctx context.Context, eventType string) {
	if r == nil {
		return
	}
	r.duplicate.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (r *Recorder) EventRejected(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) DispatchFailed(ctx context.Context, sink string) {
	if r == nil {
		return
	}
	r.dispatchFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

func (r *Recorder) DispatchDuration(ctx context.Context, sink string, d time.Duration) {
	if r == nil {
		return
	}
	r.dispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("sink", sink)))
}

func (r *Recorder) RuleViolation(ctx context.Context, ruleID, constraint string) {
	if r == nil {
		return
	}
	r.violations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule", ruleID),
		attribute.String("constraint", constraint),
	))
}
