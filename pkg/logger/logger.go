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

package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/statesync/pkg/env"
)

// LogFormat selects the encoder used for log output.
type LogFormat string

const (
	// FormatConsole is zap's console encoder with colored levels.
	FormatConsole LogFormat = "CONSOLE"
	// FormatJSON is structured JSON, one object per line.
	FormatJSON LogFormat = "JSON"
	// FormatPretty is the compact bracketed format used during development.
	FormatPretty LogFormat = "PRETTY"
)

var (
	initOnce    sync.Once
	initialized bool
)

var levels = map[string]zapcore.Level{
	"DEBUG":      zapcore.DebugLevel,
	"INFO":       zapcore.InfoLevel,
	"PRODUCTION": zapcore.InfoLevel,
	"WARN":       zapcore.WarnLevel,
	"ERROR":      zapcore.ErrorLevel,
	"DPANIC":     zapcore.DPanicLevel,
	"PANIC":      zapcore.PanicLevel,
	"FATAL":      zapcore.FatalLevel,
}

// ParseLevel maps a level name to a zap level. Unknown names fall back to info.
func ParseLevel(level string) zapcore.Level {
	if l, ok := levels[strings.ToUpper(level)]; ok {
		return l
	}

	return zapcore.InfoLevel
}

// ParseFormat returns the matching LogFormat or fallback if the name is unknown.
func ParseFormat(format string, fallback LogFormat) LogFormat {
	switch f := LogFormat(strings.ToUpper(format)); f {
	case FormatConsole, FormatJSON, FormatPretty:
		return f
	default:
		return fallback
	}
}

func humanTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05 MST"))
}

// New builds a logger writing to stdout with the given level and format.
func New(logLevel string, logFormat LogFormat) *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
	}

	var encoder zapcore.Encoder

	switch logFormat {
	case FormatPretty:
		cfg.EncodeTime = humanTime
		encoder = NewPrettyEncoder(cfg)
	case FormatConsole:
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = humanTime
		cfg.ConsoleSeparator = " | "
		encoder = zapcore.NewConsoleEncoder(cfg)
	default:
		encoder = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(ParseLevel(logLevel)))

	return zap.New(core, zap.AddCaller())
}

// Initialize configures the global zap logger from LOGGING_LEVEL and LOGGING_FORMAT.
// Subsequent calls are no-ops.
func Initialize() {
	initOnce.Do(func() {
		level, _ := env.GetAsString("LOGGING_LEVEL", false, "PRODUCTION")
		rawFormat, _ := env.GetAsString("LOGGING_FORMAT", false, string(FormatPretty))
		format := ParseFormat(rawFormat, FormatPretty)

		l := New(level, format)
		l.Info("Logger initialized", zap.String("level", level), zap.String("format", string(format)))
		zap.ReplaceGlobals(l)

		initialized = true
	})
}

// Sync flushes buffered entries of the global logger.
func Sync() error {
	return zap.L().Sync()
}

// For returns the global sugared logger named after component.
func For(component string) *zap.SugaredLogger {
	if !initialized {
		Initialize()
	}

	return zap.S().Named(component)
}
