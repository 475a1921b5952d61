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


package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
)

// Consumer evaluates admitted messaging envelopes and applies the triggered
// operations. Nothing is applied when any event of the envelope is blocked.
type Consumer struct {
	engine  *rules.Engine
	derive  core.Deriver
	users   core.UserStore
	sender  core.MessageSender
	metrics *metrics.Recorder
	logger  *slog.Logger
}

type Option func(*Consumer)

func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Consumer) { c.metrics = m }
}

func NewConsumer(engine *rules.Engine, derive core.Deriver, users core.UserStore, sender core.MessageSender, logger *slog.Logger, opts ...Option) *Consumer {
	if derive == nil {
		derive = classify.NewLineCommands(nil).Derive
	}
	c := &Consumer{
		engine: engine,
		derive: derive,
		users:  users,
		sender: sender,
		logger: logger.With("component", "automation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consume implements ingress.Consumer.
func (c *Consumer) Consume(ctx context.Context, env *core.Envelope) error {
	if env == nil || env.Type != core.EventTypeLine {
		return nil
	}

	events, err := c.events(ctx, env.Payload)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	report, err := Evaluate(c.engine, events)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	for _, res := range report.Results {
		for _, v := range res.Violations {
			for _, cr := range v.Constraints {
				c.metrics.RuleViolation(ctx, v.RuleID, cr.Type)
			}
		}
	}
	if report.Blocked {
		c.logger.Warn("automation blocked",
			"event_id", env.ID,
			"events", len(report.Results),
		)
		return nil
	}

	var errs []error
	for i, res := range report.Results {
		if err := c.apply(ctx, events[i], res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// events rebuilds the evaluation input from a sanitized payload. The first
// event keeps the name derived before redaction.
func (c *Consumer) events(ctx context.Context, payload any) ([]Event, error) {
	raw, _ := core.Lookup(payload, "events").([]any)
	events := make([]Event, 0, len(raw))
	states := make(map[string]*core.UserState)
	for i, ev := range raw {
		derived := c.derive(textView(ev))
		if i == 0 {
			if name, ok := core.StringField(core.Lookup(payload, "event")); ok && name != "" {
				derived.EventName = name
				derived.Command, _ = core.StringField(core.Lookup(payload, "command"))
			}
		}

		actor := actorOf(ev)
		user, ok := states[actor]
		if !ok {
			user = &core.UserState{ActorHash: actor}
			if actor != "" && c.users != nil {
				state, err := c.users.Get(ctx, actor)
				if err != nil {
					return nil, fmt.Errorf("load user state: %w", err)
				}
				user = state
			}
			states[actor] = user
		}
		events = append(events, Event{Raw: ev, Derived: derived, User: user})
	}
	return events, nil
}

func (c *Consumer) apply(ctx context.Context, ev Event, res EventResult) error {
	actor := actorOf(ev.Raw)
	patch, messages := effects(res.result)

	if actor != "" && c.users != nil && !patch.Empty() {
		if _, err := c.users.Patch(ctx, actor, patch); err != nil {
			return fmt.Errorf("patch user state: %w", err)
		}
	}
	if len(messages) == 0 || c.sender == nil {
		return nil
	}
	replyToken, _ := core.StringField(core.Lookup(ev.Raw, "replyToken"))
	if err := c.sender.SendMessages(ctx, actor, replyToken, messages); err != nil {
		return fmt.Errorf("send messages for %s: %w", res.Event, err)
	}
	c.logger.Info("messages sent", "event", res.Event, "count", len(messages))
	return nil
}

func actorOf(ev any) string {
	s, _ := core.StringField(core.Lookup(ev, "source", "userId"))
	return s
}

// textView returns ev with message.text replaced by message.raw_text when the
// latter is present.
func textView(ev any) any {
	rawText, ok := core.StringField(core.Lookup(ev, "message", "raw_text"))
	if !ok {
		return ev
	}
	view, _ := core.DeepCopy(ev).(map[string]any)
	if msg, ok := core.AsObject(view["message"]); ok {
		msg["text"] = rawText
	}
	return view
}

func outboundMessage(op rules.Operation) map[string]any {
	msg := map[string]any{}
	switch p := op.Payload.(type) {
	case map[string]any:
		for k, v := range p {
			msg[k] = core.DeepCopy(v)
		}
	case string:
		msg["template"] = p
	}
	return msg
}
