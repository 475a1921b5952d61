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


package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/automation"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/dispatch"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/ingress"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/logging"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/metrics"
	"github.com/wso2/api-platform/gateway/webhook-relay/internal/routing"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/config"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/dedup"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/httpdispatch"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/jms"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/mqtt"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/solace"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/plugins/ws"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/signature"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/userstate"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/webhook-relay/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("config file not found, using environment only", "path", configPath)
		cfg, err = config.Default()
	}
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	recorder, err := metrics.Default()
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	eventLog := logging.NewEventLogger(logger.With("component", "event"))
	registry := plugins.NewRegistry(logger)
	registerSinks(cfg, registry, logger)

	routeTable := routing.NewTable()
	for _, rc := range cfg.Routes {
		routeTable.Add(rc.ToRoute())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if n := registry.ConnectSinks(ctx); n < len(cfg.Sinks) {
		logger.Warn("some sinks failed to connect", "connected", n, "configured", len(cfg.Sinks))
	}

	dispatchOpts := []dispatch.Option{dispatch.WithEventLogger(eventLog), dispatch.WithMetrics(recorder)}
	var tap *ws.Tap
	switch {
	case cfg.Tap.Enabled && cfg.Tap.Token == "":
		logger.Warn("tap disabled: tap.token is required")
	case cfg.Tap.Enabled:
		tap = ws.New("tap", cfg.Tap.Token, logger)
		dispatchOpts = append(dispatchOpts, dispatch.WithTap(tap))
	}
	dispatcher := dispatch.New(routeTable, registry, logger, dispatchOpts...)

	watcher := config.NewWatcher(configPath, routeTable, logger)
	go watcher.Watch(ctx)

	dedupStore, err := dedup.NewStore(cfg.Dedup, logger)
	if err != nil {
		logger.Error("failed to create dedup store", "error", err)
		os.Exit(1)
	}
	defer dedupStore.Close()

	deriver := classify.NewLineCommands(cfg.Rules.Commands).Derive

	var consumer ingress.Consumer
	if cfg.Rules.SpecPath != "" {
		spec, err := rules.Load(cfg.Rules.SpecPath)
		if err != nil {
			logger.Error("failed to load rule spec", "path", cfg.Rules.SpecPath, "error", err)
			os.Exit(1)
		}
		users, err := userstate.NewStore(cfg.UserState, logger)
		if err != nil {
			logger.Error("failed to create user state store", "error", err)
			os.Exit(1)
		}
		defer users.Close()

		engine := rules.NewEngine(spec, rules.WithLogger(logger.With("component", "rules")))
		consumer = automation.NewConsumer(engine, deriver, users, automation.NewLogSender(logger), logger,
			automation.WithMetrics(recorder))
		logger.Info("rule automation enabled", "spec", cfg.Rules.SpecPath, "rules", len(spec.Rules))
	}

	gateway := ingress.New(ingress.Options{
		Enabled:      cfg.Relay.IsEnabled(),
		Verifier:     signature.NewVerifier(cfg.Relay.ChannelSecret, cfg.Relay.APIKey, logger),
		Guard:        dedup.NewGuard(dedupStore, cfg.Dedup, logger),
		Dispatcher:   dispatcher,
		Consumer:     consumer,
		HashSalt:     cfg.Relay.HashSalt,
		RedactText:   cfg.Relay.RedactText,
		Deriver:      deriver,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Metrics:      recorder,
	}, logger.With("component", "ingress"))

	routerOpts := ingress.RouterOptions{
		Health:            registry.Health,
		TrustProxyHeaders: cfg.RateLimit.TrustProxyHeaders,
	}
	if cfg.RateLimit.RPS > 0 {
		limiter := ingress.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		go limiter.Run(ctx)
		routerOpts.RateLimiter = limiter
	}
	if tap != nil {
		routerOpts.Tap = tap
		routerOpts.TapPath = cfg.Tap.Path
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gateway.Router(routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	logger.Info("webhook relay started",
		"addr", cfg.Server.Addr,
		"config", configPath,
		"enabled", cfg.Relay.IsEnabled(),
		"sinks", registry.Names(),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down webhook relay")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if tap != nil {
		_ = tap.Disconnect(shutdownCtx)
	}
	registry.StopAll(shutdownCtx)

	logger.Info("webhook relay stopped")
}

func registerSinks(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	for _, s := range cfg.Sinks {
		var sink core.Sink
		switch s.Type {
		case "http":
			sink = httpdispatch.New(s.Name, httpdispatch.OptionsFromMap(s.Config), logger)
		case "kafka":
			brokers := strings.Split(s.Config["brokers"], ",")
			sink = kafka.New(s.Name, brokers, s.Config["topic"], logger)
		case "rabbitmq":
			sink = rabbitmq.New(s.Name, s.Config["url"], s.Config["queue"], logger)
		case "jms":
			sink = jms.New(s.Name, s.Config["url"], s.Config["queue"], logger)
		case "mqtt":
			qos, err := strconv.Atoi(s.Config["qos"])
			if err != nil || qos < 0 || qos > 2 {
				qos = 1
			}
			sink = mqtt.New(s.Name, s.Config["broker"], s.Config["topic"], byte(qos), logger)
		case "mqtt5":
			sink = mqtt5.New(s.Name, s.Config["broker"], s.Config["topic"], logger)
		case "solace":
			sink = solace.New(s.Name, solace.Options{
				Host:     s.Config["host"],
				VPN:      s.Config["vpn"],
				Username: s.Config["username"],
				Password: s.Config["password"],
				Topic:    s.Config["topic"],
			}, logger)
		default:
			logger.Warn("unknown sink type", "name", s.Name, "type", s.Type)
			continue
		}
		reg.RegisterSink(sink)
	}
}
