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

package plugins

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type mockSink struct {
	name         string
	connectErr   error
	disconnected bool
}

func (m *mockSink) Name() string                        { return m.name }
func (m *mockSink) Type() string                        { return "mock" }
func (m *mockSink) Connect(ctx context.Context) error   { return m.connectErr }
func (m *mockSink) Disconnect(ctx context.Context) error { m.disconnected = true; return nil }

func (m *mockSink) Send(ctx context.Context, req core.DispatchRequest) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistryConnectSinks(t *testing.T) {
	reg := NewRegistry(testLogger())
	good := &mockSink{name: "github"}
	bad := &mockSink{name: "kafka-main", connectErr: errors.New("dial refused")}
	reg.RegisterSink(good)
	reg.RegisterSink(bad)

	if n := reg.ConnectSinks(context.Background()); n != 1 {
		t.Fatalf("expected 1 connected sink, got %d", n)
	}
	if !reg.IsSinkHealthy("github") {
		t.Fatal("expected github to be healthy")
	}
	if reg.IsSinkHealthy("kafka-main") {
		t.Fatal("expected kafka-main to be unhealthy")
	}
	if reg.IsSinkHealthy("missing") {
		t.Fatal("expected unknown sink to be unhealthy")
	}

	health := reg.Health()
	if len(health) != 2 || !health["github"] || health["kafka-main"] {
		t.Fatalf("unexpected health snapshot %v", health)
	}
}

func TestRegistryLookupAndNames(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterSink(&mockSink{name: "b"})
	reg.RegisterSink(&mockSink{name: "a"})

	if _, ok := reg.Lookup("a"); !ok {
		t.Fatal("expected sink a")
	}
	if _, ok := reg.Lookup("c"); ok {
		t.Fatal("expected no sink c")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}

	sinks := reg.Sinks()
	delete(sinks, "a")
	if _, ok := reg.Lookup("a"); !ok {
		t.Fatal("Sinks must return a copy")
	}
}

func TestRegistryStopAll(t *testing.T) {
	reg := NewRegistry(testLogger())
	s := &mockSink{name: "github"}
	reg.RegisterSink(s)
	reg.ConnectSinks(context.Background())

	reg.StopAll(context.Background())
	if !s.disconnected {
		t.Fatal("expected sink to be disconnected")
	}
	if reg.IsSinkHealthy("github") {
		t.Fatal("expected sink to be unhealthy after stop")
	}
}
