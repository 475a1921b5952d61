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

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type recordingWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestSinkSend(t *testing.T) {
	sink := New("kafka-main", []string{"localhost:9092"}, "relay.events", slog.New(slog.NewTextHandler(io.Discard, nil)))
	w := &recordingWriter{}
	sink.writer = w

	err := sink.Send(context.Background(), core.DispatchRequest{
		EventType:     core.EventTypeLine,
		ClientPayload: map[string]any{"events": []any{}},
		DedupeKey:     "fp-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "fp-1" {
		t.Fatalf("expected key fp-1, got %s", msg.Key)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["event_type"] != "line_event" || body["dedupe_key"] != "fp-1" {
		t.Fatalf("unexpected body %v", body)
	}

	if err := sink.Disconnect(context.Background()); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestSinkRequiresConnect(t *testing.T) {
	sink := New("kafka-main", nil, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := sink.Connect(context.Background()); err == nil {
		t.Fatal("expected error without topic")
	}
	err := sink.Send(context.Background(), core.DispatchRequest{})
	if !errors.Is(err, core.ErrSinkUnhealthy) {
		t.Fatalf("expected ErrSinkUnhealthy, got %v", err)
	}
}
