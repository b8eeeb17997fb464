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
	"encoding/base64"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/united-manufacturing-hub/statesync/pkg/config"
	"github.com/united-manufacturing-hub/statesync/pkg/instance"
	"github.com/united-manufacturing-hub/statesync/pkg/logger"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/httpchannel"
	"github.com/united-manufacturing-hub/statesync/pkg/version"
)

const maxPollBackoff = 30 * time.Second

// statesync-instance follows a host over HTTP push/pull and logs every
// revision it receives.
func main() {
	logger.Initialize()
	defer func() {
		_ = logger.Sync()
	}()

	log := logger.For(logger.ComponentInstance)
	log.Infof("Starting statesync-instance %s", version.GetAppVersion())

	cfg, err := config.LoadWithEnvOverrides(logger.For(logger.ComponentConfig))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load config: %v", err)
		os.Exit(1)
	}

	sentry.InitSentry(version.GetAppVersion(), cfg.Host.SentryDSN, true)

	if cfg.Instance.HostURL == "" {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "No host configured, please set HOST_URL")
		os.Exit(1)
	}

	manifests, err := manifest.LoadDir(cfg.Host.ManifestDir)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to load manifests: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := map[string]string{}
	for user, password := range cfg.Host.Accounts {
		header["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))

		break
	}

	id, err := httpchannel.CreateSession(ctx, cfg.Instance.HostURL, header)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open a session: %v", err)
		os.Exit(1)
	}

	log = log.With("session", id)

	client := httpchannel.NewClient(cfg.Instance.HostURL, id, header, log)
	inst := instance.New(cfg.InstanceConfig(), manifests, client, log)
	defer inst.Close()

	inst.Subscribe(func(module string, _ any) {
		log.Infof("module %s is at revision %s", module, inst.Revision(module))
	})

	if err := inst.Ready(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to request the initial load: %v", err)
		os.Exit(1)
	}

	if err := client.Poll(ctx, inst.Inbox(), cfg.Instance.PollInterval, maxPollBackoff); err != nil && !errors.Is(err, context.Canceled) {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Polling stopped: %v", err)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := inst.Flush(flushCtx); err != nil {
		log.Warnf("Failed to flush pending writes: %v", err)
	}

	log.Info("statesync-instance stopped")
}
