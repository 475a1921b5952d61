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

package jms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// Sink publishes over AMQP 1.0, the wire protocol JMS brokers such as
// ActiveMQ Artemis expose.
type Sink struct {
	name     string
	url      string
	queue    string
	conn     *amqp.Conn
	sendSess *amqp.Session
	sender   *amqp.Sender
	logger   *slog.Logger
}

func New(name, url, queue string, logger *slog.Logger) *Sink {
	return &Sink{
		name:   name,
		url:    url,
		queue:  queue,
		logger: logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "jms" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.queue == "" {
		return fmt.Errorf("jms sink %s: queue is required", s.name)
	}
	var err error
	s.conn, err = amqp.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}

	s.sendSess, err = s.conn.NewSession(ctx, nil)
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("jms send session: %w", err)
	}
	s.sender, err = s.sendSess.NewSender(ctx, s.queue, nil)
	if err != nil {
		s.conn.Close()
		return fmt.Errorf("jms sender: %w", err)
	}

	s.logger.Info("jms sink connected", "name", s.name, "queue", s.queue)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.sender != nil {
		s.sender.Close(ctx)
	}
	if s.sendSess != nil {
		s.sendSess.Close(ctx)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, req core.DispatchRequest) error {
	if s.sender == nil {
		return fmt.Errorf("%w: %s", core.ErrSinkUnhealthy, s.name)
	}
	body, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}
	contentType := "application/json"
	return s.sender.Send(ctx, &amqp.Message{
		Data: [][]byte{body},
		Properties: &amqp.MessageProperties{
			MessageID:   req.DedupeKey,
			ContentType: &contentType,
		},
		ApplicationProperties: map[string]any{"event_type": string(req.EventType)},
	}, nil)
}
