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
	"runtime/debug"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const reportInterval = 2 * time.Hour

// debouncer lets one report through per interval.
type debouncer struct {
	mu   sync.Mutex
	last time.Time
}

func (d *debouncer) allow(now time.Time) bool {
	stateMu.Lock()
	enabled := debounceEnabled
	stateMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	if enabled && !d.last.IsZero() && now.Sub(d.last) < reportInterval {
		return false
	}

	d.last = now

	return true
}

var (
	errorDebounce   debouncer
	warningDebounce debouncer
)

// reportFatal logs, flushes the event to Sentry and panics.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorf("statesync encountered a fatal error and will terminate: %s", err)
	log.Errorf("Stack trace: %s", string(debug.Stack()))

	send(newEvent(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)

	log.Panic("Fatal error")
}

func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error(err)

	if !errorDebounce.allow(time.Now()) {
		return
	}

	send(newEvent(sentry.LevelError, err, context))
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warn(err)

	if !warningDebounce.allow(time.Now()) {
		return
	}

	send(newEvent(sentry.LevelWarning, err, context))
}
