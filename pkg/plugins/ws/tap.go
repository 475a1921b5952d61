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

// Package ws implements a live tap: a sink that mirrors every dispatched event
// to connected WebSocket observers.
package ws

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const (
	writeWait      = 5 * time.Second
	observerBuffer = 16
)

type observer struct {
	id   string
	conn *websocket.Conn
	out  chan []byte
}

// Tap requires observers to present its token, either as a bearer
// Authorization header or a token query parameter. A tap without a token
// refuses every observer.
type Tap struct {
	name      string
	token     string
	upgrader  websocket.Upgrader
	observers sync.Map
	logger    *slog.Logger
}

func New(name, token string, logger *slog.Logger) *Tap {
	return &Tap{
		name:   name,
		token:  token,
		logger: logger,
	}
}

func (t *Tap) authorized(r *http.Request) bool {
	if t.token == "" {
		return false
	}
	presented := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		presented = strings.TrimPrefix(auth, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(t.token)) == 1
}

func (t *Tap) Name() string { return t.name }
func (t *Tap) Type() string { return "ws" }

func (t *Tap) Connect(ctx context.Context) error { return nil }

func (t *Tap) Disconnect(ctx context.Context) error {
	t.observers.Range(func(key, val any) bool {
		obs := val.(*observer)
		obs.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		obs.conn.Close()
		t.observers.Delete(key)
		return true
	})
	return nil
}

// Send never fails: observers whose buffer is full miss the event.
func (t *Tap) Send(ctx context.Context, req core.DispatchRequest) error {
	body, err := req.Marshal()
	if err != nil {
		return err
	}
	t.observers.Range(func(_, val any) bool {
		obs := val.(*observer)
		select {
		case obs.out <- body:
		default:
			t.logger.Warn("tap observer buffer full, dropping event", "client_id", obs.id)
		}
		return true
	})
	return nil
}

// Observers returns the number of connected observers.
func (t *Tap) Observers() int {
	n := 0
	t.observers.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (t *Tap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.authorized(r) {
		t.logger.Warn("tap observer rejected", "remote_addr", core.RemoteAddr(r))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Error("ws upgrade failed", "error", err)
		return
	}

	obs := &observer{
		id:   core.GenerateClientID(r),
		conn: conn,
		out:  make(chan []byte, observerBuffer),
	}
	t.observers.Store(obs, obs)
	t.logger.Info("tap observer connected", "client_id", obs.id)

	done := make(chan struct{})
	go t.writeLoop(obs, done)
	t.readLoop(obs)

	close(done)
	t.observers.Delete(obs)
	conn.Close()
	t.logger.Info("tap observer disconnected", "client_id", obs.id)
}

func (t *Tap) writeLoop(obs *observer, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data := <-obs.out:
			obs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := obs.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Error("ws write failed", "client_id", obs.id, "error", err)
				obs.conn.Close()
				return
			}
		}
	}
}

// readLoop drains control frames until the observer goes away. Observers
// are read-only; data frames are discarded.
func (t *Tap) readLoop(obs *observer) {
	for {
		if _, _, err := obs.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Error("ws read error", "client_id", obs.id, "error", err)
			}
			return
		}
	}
}
