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

// Package httpdispatch delivers admitted events to an HTTP repository
// dispatch endpoint such as GitHub's /repos/{owner}/{repo}/dispatches.
package httpdispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

type Options struct {
	// URL is the full dispatch URL. When empty it is built from BaseURL and Repository.
	URL        string
	BaseURL    string
	Repository string
	Token      string
	UserAgent  string
	Timeout    time.Duration
}

// OptionsFromMap reads sink options from the generic sink config block.
func OptionsFromMap(m map[string]string) Options {
	opts := Options{
		URL:        m["url"],
		BaseURL:    m["base_url"],
		Repository: m["repository"],
		Token:      m["token"],
		UserAgent:  m["user_agent"],
	}
	if d, err := time.ParseDuration(m["timeout"]); err == nil {
		opts.Timeout = d
	}
	return opts
}

type Sink struct {
	name     string
	opts     Options
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func New(name string, opts Options, logger *slog.Logger) *Sink {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	return &Sink{
		name:   name,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "http" }

func (s *Sink) Connect(ctx context.Context) error {
	endpoint := s.opts.URL
	if endpoint == "" {
		if s.opts.Repository == "" {
			return fmt.Errorf("http sink %s: url or repository is required", s.name)
		}
		endpoint = strings.TrimRight(s.opts.BaseURL, "/") + "/repos/" + strings.Trim(s.opts.Repository, "/") + "/dispatches"
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return fmt.Errorf("http sink %s: invalid url: %w", s.name, err)
	}
	s.endpoint = endpoint
	s.logger.Info("http sink connected", "name", s.name, "url", endpoint)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

type dispatchBody struct {
	EventType     core.EventType `json:"event_type"`
	ClientPayload any            `json:"client_payload"`
}

func (s *Sink) Send(ctx context.Context, req core.DispatchRequest) error {
	if s.endpoint == "" {
		return fmt.Errorf("%w: %s", core.ErrSinkUnhealthy, s.name)
	}
	body, err := json.Marshal(dispatchBody{EventType: req.EventType, ClientPayload: req.ClientPayload})
	if err != nil {
		return fmt.Errorf("marshal dispatch body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Content-Type", "application/json")
	if s.opts.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}
	if s.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	}
	if req.DedupeKey != "" {
		httpReq.Header.Set("X-Relay-Dedupe-Key", req.DedupeKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		s.logger.Error("dispatch rejected",
			"name", s.name,
			"status", resp.StatusCode,
			"body", string(snippet),
		)
		return fmt.Errorf("%w: status %d", core.ErrDispatchRejected, resp.StatusCode)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
