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

package sentry

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/version"
)

const (
	environmentDevelopment = "development"
	environmentProduction  = "production"
)

var (
	stateMu          sync.Mutex
	debounceEnabled  = true
	clientConfigured bool
)

// EnableTestMode disables debouncing so every report is logged.
func EnableTestMode() {
	stateMu.Lock()
	defer stateMu.Unlock()

	debounceEnabled = false
}

// DisableTestMode restores debouncing.
func DisableTestMode() {
	stateMu.Lock()
	defer stateMu.Unlock()

	debounceEnabled = true
}

// Environment derives the Sentry environment from a semantic version. Prerelease
// and unparsable versions report to development.
func Environment(appVersion string) string {
	v, err := semver.NewVersion(appVersion)
	if err != nil || v.Prerelease() != "" {
		return environmentDevelopment
	}

	return environmentProduction
}

// InitSentry configures the Sentry client. An empty dsn or the local development
// version leaves Sentry disabled; reports are then only logged.
func InitSentry(appVersion string, dsn string, debounceErrors bool) {
	stateMu.Lock()
	debounceEnabled = debounceErrors
	stateMu.Unlock()

	if dsn == "" || appVersion == "" || appVersion == version.DefaultAppVersion {
		zap.S().Debug("Sentry disabled for this build")

		return
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:           dsn,
		Environment:   Environment(appVersion),
		Release:       "statesync@" + appVersion,
		EnableTracing: false,
	})
	if err != nil {
		zap.S().Errorf("Failed to initialize Sentry: %s", err)

		return
	}

	stateMu.Lock()
	clientConfigured = true
	stateMu.Unlock()
}

func errorTitle(err error) string {
	message := err.Error()

	if idx := strings.IndexAny(message, ".,:"); idx > 0 {
		message = message[:idx]
	}

	if len(message) > 100 {
		message = message[:97] + "..."
	}

	return message
}

func newEvent(level sentry.Level, err error, tags map[string]interface{}) *sentry.Event {
	event := sentry.NewEvent()
	event.Level = level
	event.Message = err.Error()
	event.Exception = []sentry.Exception{{
		Type:       errorTitle(err),
		Value:      err.Error(),
		Stacktrace: sentry.ExtractStacktrace(err),
	}}
	event.Fingerprint = []string{"{{ default }}", "level: " + string(level)}

	if level == sentry.LevelFatal || level == sentry.LevelError {
		threads, stack := goroutineThreads()
		event.Threads = threads
		event.Attachments = append(event.Attachments, &sentry.Attachment{
			Filename:    "stacktrace.txt",
			ContentType: "text/plain",
			Payload:     stack,
		})
	}

	for key, value := range tags {
		switch v := value.(type) {
		case string:
			if event.Tags == nil {
				event.Tags = make(map[string]string)
			}

			event.Tags[key] = v
		case int, int64, uint64, float64, bool:
			if event.Tags == nil {
				event.Tags = make(map[string]string)
			}

			event.Tags[key] = fmt.Sprintf("%v", v)
		default:
			if event.Extra == nil {
				event.Extra = make(map[string]interface{})
			}

			event.Extra[key] = v
		}

		// operation and module make good grouping keys
		if key == "operation" || key == "module" {
			event.Fingerprint = append(event.Fingerprint, fmt.Sprintf("%s: %v", key, value))
		}
	}

	return event
}

func send(event *sentry.Event) {
	stateMu.Lock()
	configured := clientConfigured
	stateMu.Unlock()

	if !configured {
		return
	}

	sentry.CurrentHub().Clone().CaptureEvent(event)
}
