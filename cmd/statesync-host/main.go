// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/config"
	"github.com/united-manufacturing-hub/statesync/pkg/host"
	"github.com/united-manufacturing-hub/statesync/pkg/logger"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
	"github.com/united-manufacturing-hub/statesync/pkg/version"
)

// shutdownTimeout must stay below the grace period of the supervisor
const shutdownTimeout = 3 * time.Second

const goroutineThreshold = 10000

var shuttingDown atomic.Bool

func main() {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting statesync-host %s", version.GetAppVersion())

	cfg, err := config.LoadWithEnvOverrides(logger.For(logger.ComponentConfig))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	sentry.InitSentry(version.GetAppVersion(), cfg.Host.SentryDSN, true)

	manifests, err := manifest.LoadDir(cfg.Host.ManifestDir)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load manifests: %v", err)
		os.Exit(1)
	}

	log.Infof("Loaded %d module manifests from %s", len(manifests), cfg.Host.ManifestDir)

	states, err := config.LoadStates(cfg.Host.StateFile)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load initial states: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsServer := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Host.MetricsPort))
	healthServer := setupHealthcheck(fmt.Sprintf(":%d", cfg.Host.HealthPort), log)

	hub := host.NewHub(cfg.HubConfig(), manifests, states, logger.For(logger.ComponentHost))
	server := host.NewServer(hub, gin.Accounts(cfg.Host.Accounts), logger.For(logger.ComponentHost))
	server.Start(cfg.Host.ListenAddr)

	<-ctx.Done()
	log.Info("Received shutdown signal")
	shuttingDown.Store(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for name, shutdown := range map[string]func(context.Context) error{
		"host":    server.Shutdown,
		"metrics": metricsServer.Shutdown,
		"health":  healthServer.Shutdown,
	} {
		if err := shutdown(shutdownCtx); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shutdown %s server: %v", name, err)
		}
	}

	log.Info("statesync-host stopped")
}

// setupHealthcheck serves /live and /ready on addr. Readiness fails once
// shutdown has begun.
func setupHealthcheck(addr string, log *zap.SugaredLogger) *http.Server {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(goroutineThreshold))
	health.AddReadinessCheck("shutdown", func() error {
		if shuttingDown.Load() {
			return errors.New("shutting down")
		}

		return nil
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           health,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeError, log, "Healthcheck server failed: %v", err)
		}
	}()

	return server
}
