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

package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const publishTimeout = 10 * time.Second

// Sink publishes to an MQTT 3.1.1 broker.
type Sink struct {
	name   string
	broker string
	topic  string
	qos    byte
	client paho.Client
	logger *slog.Logger
}

func New(name, broker, topic string, qos byte, logger *slog.Logger) *Sink {
	if qos > 2 {
		qos = 1
	}
	return &Sink{
		name:   name,
		broker: broker,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "mqtt" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.topic == "" {
		return fmt.Errorf("mqtt sink %s: topic is required", s.name)
	}
	opts := paho.NewClientOptions().
		AddBroker(s.broker).
		SetClientID("relay-" + s.name + "-" + uuid.New().String()[:8]).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.Warn("mqtt connection lost", "name", s.name, "error", err)
		})

	client := paho.NewClient(opts)
	token := client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.client = client
	s.logger.Info("mqtt sink connected", "name", s.name, "broker", s.broker, "topic", s.topic)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, req core.DispatchRequest) error {
	if s.client == nil {
		return fmt.Errorf("%w: %s", core.ErrSinkUnhealthy, s.name)
	}
	body, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}
	if err := waitToken(ctx, s.client.Publish(s.topic, s.qos, false, body)); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timed out after %s", publishTimeout)
	}
}
