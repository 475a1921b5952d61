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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/resource"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type Options struct {
	Host     string
	VPN      string
	Username string
	Password string
	Topic    string
}

type Sink struct {
	name      string
	opts      Options
	service   solace.MessagingService
	publisher solace.DirectMessagePublisher
	logger    *slog.Logger
}

func New(name string, opts Options, logger *slog.Logger) *Sink {
	return &Sink{
		name:   name,
		opts:   opts,
		logger: logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "solace" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.opts.Topic == "" {
		return fmt.Errorf("solace sink %s: topic is required", s.name)
	}
	var err error
	s.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                s.opts.Host,
			config.ServicePropertyVPNName:                    s.opts.VPN,
			config.AuthenticationPropertySchemeBasicUserName: s.opts.Username,
			config.AuthenticationPropertySchemeBasicPassword: s.opts.Password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = s.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	s.publisher, err = s.service.CreateDirectMessagePublisherBuilder().Build()
	if err != nil {
		s.service.Disconnect()
		return fmt.Errorf("solace publisher build: %w", err)
	}
	if err = s.publisher.Start(); err != nil {
		s.service.Disconnect()
		return fmt.Errorf("solace publisher start: %w", err)
	}

	s.logger.Info("solace sink connected", "name", s.name, "host", s.opts.Host, "topic", s.opts.Topic)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Terminate(5 * time.Second)
	}
	if s.service != nil {
		return s.service.Disconnect()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, req core.DispatchRequest) error {
	if s.publisher == nil {
		return fmt.Errorf("%w: %s", core.ErrSinkUnhealthy, s.name)
	}
	body, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}
	msg, err := s.service.MessageBuilder().
		WithProperty("event_type", string(req.EventType)).
		WithProperty("dedupe_key", req.DedupeKey).
		BuildWithByteArrayPayload(body)
	if err != nil {
		return fmt.Errorf("solace message build: %w", err)
	}
	return s.publisher.Publish(msg, resource.TopicOf(s.opts.Topic))
}
