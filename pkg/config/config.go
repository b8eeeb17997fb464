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

// Package config loads the statesync configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/statesync/pkg/env"
	"github.com/united-manufacturing-hub/statesync/pkg/host"
	"github.com/united-manufacturing-hub/statesync/pkg/instance"
	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

const (
	DefaultConfigPath  = "/data/config.yaml"
	DefaultListenAddr  = ":8080"
	DefaultMetricsPort = 2112
	DefaultHealthPort  = 8086
	DefaultManifestDir = "/data/manifests"
)

type FullConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Instance  InstanceConfig  `yaml:"instance"`
	Host      HostConfig      `yaml:"host"`
}

// TransportConfig is shared by both ends of a session.
type TransportConfig struct {
	ChunkSize    int           `yaml:"chunkSize"`
	Compress     bool          `yaml:"compress"`
	MaxInFlight  int64         `yaml:"maxInFlight,omitempty"`
	PendingTTL   time.Duration `yaml:"pendingTTL,omitempty"`
	CompletedTTL time.Duration `yaml:"completedTTL,omitempty"`
}

type InstanceConfig struct {
	Name     string        `yaml:"name,omitempty"`
	Debounce time.Duration `yaml:"debounce"`
	// HostURL is the base URL of the host, e.g. http://localhost:8080.
	HostURL      string        `yaml:"hostUrl,omitempty"`
	PollInterval time.Duration `yaml:"pollInterval,omitempty"`
}

type HostConfig struct {
	ListenAddr  string `yaml:"listenAddr"`
	MetricsPort int    `yaml:"metricsPort"`
	HealthPort  int    `yaml:"healthPort"`
	ManifestDir string `yaml:"manifestDir"`
	// StateFile optionally seeds the module states, as a YAML or JSON map of
	// module name to state.
	StateFile string            `yaml:"stateFile,omitempty"`
	QueueSize int               `yaml:"queueSize,omitempty"`
	SentryDSN string            `yaml:"sentryDsn,omitempty"`
	Accounts  map[string]string `yaml:"accounts,omitempty"`
}

// Default returns the configuration used for every value a file leaves out.
func Default() FullConfig {
	return FullConfig{
		Transport: TransportConfig{
			ChunkSize:    transport.DefaultChunkSize,
			MaxInFlight:  transport.DefaultMaxInFlight,
			PendingTTL:   transport.DefaultPendingTTL,
			CompletedTTL: transport.DefaultCompletedTTL,
		},
		Instance: InstanceConfig{
			Debounce: instance.DefaultDebounce,
		},
		Host: HostConfig{
			ListenAddr:  DefaultListenAddr,
			MetricsPort: DefaultMetricsPort,
			HealthPort:  DefaultHealthPort,
			ManifestDir: DefaultManifestDir,
			QueueSize:   host.DefaultQueueSize,
		},
	}
}

// Load reads the config file at path on top of Default. A missing file
// yields the defaults.
func Load(path string) (FullConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return FullConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FullConfig{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// LoadWithEnvOverrides loads CONFIG_FILE (default /data/config.yaml) and
// applies ApplyEnvOverrides.
func LoadWithEnvOverrides(log *zap.SugaredLogger) (FullConfig, error) {
	path, err := env.GetAsString("CONFIG_FILE", false, DefaultConfigPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get CONFIG_FILE: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		return FullConfig{}, err
	}

	return ApplyEnvOverrides(cfg, log), nil
}

// ApplyEnvOverrides replaces values of cfg with the matching environment
// variables, when set. Environment variables take precedence over the file.
func ApplyEnvOverrides(cfg FullConfig, log *zap.SugaredLogger) FullConfig {
	var err error

	if cfg.Host.ListenAddr, err = env.GetAsString("LISTEN_ADDR", false, cfg.Host.ListenAddr); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get LISTEN_ADDR: %v", err)
	}

	if cfg.Host.MetricsPort, err = env.GetAsInt("METRICS_PORT", false, cfg.Host.MetricsPort); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get METRICS_PORT: %v", err)
	}

	if cfg.Host.HealthPort, err = env.GetAsInt("HEALTH_PORT", false, cfg.Host.HealthPort); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get HEALTH_PORT: %v", err)
	}

	if cfg.Host.ManifestDir, err = env.GetAsString("MANIFEST_DIR", false, cfg.Host.ManifestDir); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get MANIFEST_DIR: %v", err)
	}

	if cfg.Host.StateFile, err = env.GetAsString("STATE_FILE", false, cfg.Host.StateFile); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get STATE_FILE: %v", err)
	}

	if cfg.Host.SentryDSN, err = env.GetAsString("SENTRY_DSN", false, cfg.Host.SentryDSN); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get SENTRY_DSN: %v", err)
	}

	if cfg.Transport.ChunkSize, err = env.GetAsInt("CHUNK_SIZE", false, cfg.Transport.ChunkSize); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get CHUNK_SIZE: %v", err)
	}

	if cfg.Transport.Compress, err = env.GetAsBool("COMPRESS_PAYLOADS", false, cfg.Transport.Compress); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get COMPRESS_PAYLOADS: %v", err)
	}

	if cfg.Instance.Debounce, err = env.GetAsDuration("DEBOUNCE_MS", false, cfg.Instance.Debounce); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get DEBOUNCE_MS: %v", err)
	}

	if cfg.Instance.HostURL, err = env.GetAsString("HOST_URL", false, cfg.Instance.HostURL); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to get HOST_URL: %v", err)
	}

	// a single account can be added without touching the file
	user, _ := env.GetAsString("STATESYNC_USER", false, "")
	password, _ := env.GetAsString("STATESYNC_PASSWORD", false, "")

	if user != "" && password != "" {
		if cfg.Host.Accounts == nil {
			cfg.Host.Accounts = map[string]string{}
		}

		cfg.Host.Accounts[user] = password
	}

	return cfg
}

func (t TransportConfig) SenderConfig() transport.SenderConfig {
	return transport.SenderConfig{
		ChunkSize:   t.ChunkSize,
		Compress:    t.Compress,
		MaxInFlight: t.MaxInFlight,
	}
}

func (t TransportConfig) ReassemblerConfig() transport.ReassemblerConfig {
	return transport.ReassemblerConfig{
		PendingTTL:   t.PendingTTL,
		CompletedTTL: t.CompletedTTL,
	}
}

// InstanceConfig returns the instance.Config described by c.
func (c FullConfig) InstanceConfig() instance.Config {
	return instance.Config{
		Name:        c.Instance.Name,
		Debounce:    c.Instance.Debounce,
		Sender:      c.Transport.SenderConfig(),
		Reassembler: c.Transport.ReassemblerConfig(),
	}
}

// HubConfig returns the host.Config described by c.
func (c FullConfig) HubConfig() host.Config {
	return host.Config{
		Sender:      c.Transport.SenderConfig(),
		Reassembler: c.Transport.ReassemblerConfig(),
		QueueSize:   c.Host.QueueSize,
	}
}

// LoadStates reads the initial module states from path. The result holds
// JSON values only, the same shapes an instance receives over the wire.
func LoadStates(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse state file %s: %w", path, err)
	}

	normalized, err := safejson.Normalize(raw)
	if err != nil {
		return nil, fmt.Errorf("state file %s is not representable as JSON: %w", path, err)
	}

	states, ok := normalized.(map[string]any)
	if !ok {
		return map[string]any{}, nil
	}

	return states, nil
}
