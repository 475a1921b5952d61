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
	"log/slog"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// LogSender records outbound messages instead of delivering them. Only
// template names are logged.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "sender")}
}

func (s *LogSender) SendMessages(ctx context.Context, actorHash, replyToken string, messages []map[string]any) error {
	templates := make([]string, 0, len(messages))
	for _, m := range messages {
		if t, ok := core.StringField(m["template"]); ok {
			templates = append(templates, t)
		}
	}
	s.logger.Info("outbound messages",
		"user_hash", actorHash,
		"has_reply_token", replyToken != "",
		"templates", templates,
	)
	return nil
}
