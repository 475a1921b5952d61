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

package ingress

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HealthFunc reports sink health keyed by sink name.
type HealthFunc func() map[string]bool

type RouterOptions struct {
	RateLimiter *RateLimiter
	// TrustProxyHeaders takes the caller address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	Health      HealthFunc
	// Tap, when set, is mounted at TapPath for live event observers.
	Tap     http.Handler
	TapPath string
}

// Router mounts the webhook endpoints, health check and optional tap.
func (g *Gateway) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	if opts.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthHandler(opts.Health))

	r.Group(func(wr chi.Router) {
		if opts.RateLimiter != nil {
			wr.Use(opts.RateLimiter.Middleware)
		}
		wr.Post("/webhook", g.HandleWebhook)
		wr.Post("/", g.HandleWebhook)
	})

	if opts.Tap != nil {
		path := opts.TapPath
		if path == "" {
			path = "/tap"
		}
		r.Handle(path, opts.Tap)
	}
	return r
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sinks := map[string]bool{}
		if health != nil {
			sinks = health()
		}
		status := "ok"
		for _, healthy := range sinks {
			if !healthy {
				status = "degraded"
				break
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "sinks": sinks})
	}
}
