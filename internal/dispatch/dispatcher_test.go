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
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/routing"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

type recordingSink struct {
	name    string
	sendErr error
	delay   time.Duration
	mu      sync.Mutex
	sent    []core.DispatchRequest
}

func (s *recordingSink) Name() string                         { return s.name }
func (s *recordingSink) Type() string                         { return "mock" }
func (s *recordingSink) Connect(ctx context.Context) error    { return nil }
func (s *recordingSink) Disconnect(ctx context.Context) error { return nil }

func (s *recordingSink) Send(ctx context.Context, req core.DispatchRequest) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req)
	return s.sendErr
}

type sinkSet struct {
	sinks   map[string]core.Sink
	healthy map[string]bool
}

func (s sinkSet) Lookup(name string) (core.Sink, bool) {
	sink, ok := s.sinks[name]
	return sink, ok
}

func (s sinkSet) IsSinkHealthy(name string) bool { return s.healthy[name] }

func newSinkSet(sinks ...*recordingSink) sinkSet {
	set := sinkSet{sinks: map[string]core.Sink{}, healthy: map[string]bool{}}
	for _, s := range sinks {
		set.sinks[s.name] = s
		set.healthy[s.name] = true
	}
	return set
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func envelope(t core.EventType) *core.Envelope {
	return &core.Envelope{ID: "evt", Type: t, Fingerprint: "fp", Payload: map[string]any{"k": "v"}}
}

func TestDispatchRoutesByEventType(t *testing.T) {
	github := &recordingSink{name: "github"}
	kafka := &recordingSink{name: "kafka-main"}
	tap := &recordingSink{name: "tap"}

	table := routing.NewTable()
	table.Add(&core.Route{Source: core.RouteWildcard, Target: "github"})
	table.Add(&core.Route{Source: string(core.EventTypeProgress), Target: "kafka-main"})

	d := New(table, newSinkSet(github, kafka), quietLogger(), WithTap(tap))

	require.NoError(t, d.Dispatch(context.Background(), envelope(core.EventTypeLine)))
	require.NoError(t, d.Dispatch(context.Background(), envelope(core.EventTypeProgress)))

	require.Len(t, github.sent, 1)
	assert.Equal(t, core.EventTypeLine, github.sent[0].EventType)
	assert.Equal(t, "fp", github.sent[0].DedupeKey)
	require.Len(t, kafka.sent, 1)
	assert.Equal(t, core.EventTypeProgress, kafka.sent[0].EventType)
	assert.Len(t, tap.sent, 2)
}

func TestDispatchErrors(t *testing.T) {
	failing := &recordingSink{name: "github", sendErr: core.ErrDispatchRejected}
	tap := &recordingSink{name: "tap"}

	table := routing.NewTable()
	d := New(table, newSinkSet(failing), quietLogger(), WithTap(tap))

	err := d.Dispatch(context.Background(), envelope(core.EventTypeLine))
	assert.ErrorIs(t, err, core.ErrNoRoute)

	table.Add(&core.Route{Source: core.RouteWildcard, Target: "missing"})
	err = d.Dispatch(context.Background(), envelope(core.EventTypeLine))
	assert.ErrorIs(t, err, core.ErrSinkNotFound)

	table.Add(&core.Route{Source: core.RouteWildcard, Target: "github"})
	err = d.Dispatch(context.Background(), envelope(core.EventTypeLine))
	assert.ErrorIs(t, err, core.ErrDispatchRejected)
	assert.Empty(t, tap.sent, "taps only see successful dispatches")
}

func TestDispatchUnhealthySink(t *testing.T) {
	sink := &recordingSink{name: "github"}
	set := newSinkSet(sink)
	set.healthy["github"] = false

	table := routing.NewTable()
	table.Add(&core.Route{Source: core.RouteWildcard, Target: "github"})
	d := New(table, set, quietLogger())

	err := d.Dispatch(context.Background(), envelope(core.EventTypeLine))
	assert.True(t, errors.Is(err, core.ErrSinkUnhealthy))
	assert.Empty(t, sink.sent)
}

func TestDispatchRouteTimeout(t *testing.T) {
	slow := &recordingSink{name: "github", delay: time.Second}
	table := routing.NewTable()
	table.Add(&core.Route{Source: core.RouteWildcard, Target: "github", Timeout: 20 * time.Millisecond})
	d := New(table, newSinkSet(slow), quietLogger())

	err := d.Dispatch(context.Background(), envelope(core.EventTypeLine))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
