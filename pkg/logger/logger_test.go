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

package logger_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/united-manufacturing-hub/statesync/pkg/logger"
)

var _ = Describe("Logger", func() {
	It("maps level names case-insensitively", func() {
		Expect(logger.ParseLevel("debug")).To(Equal(zapcore.DebugLevel))
		Expect(logger.ParseLevel("PRODUCTION")).To(Equal(zapcore.InfoLevel))
		Expect(logger.ParseLevel("nonsense")).To(Equal(zapcore.InfoLevel))
	})

	It("rejects unknown formats", func() {
		Expect(logger.ParseFormat("json", logger.FormatPretty)).To(Equal(logger.FormatJSON))
		Expect(logger.ParseFormat("xml", logger.FormatPretty)).To(Equal(logger.FormatPretty))
	})

	It("renders pretty entries with component and fields", func() {
		enc := logger.NewPrettyEncoder(zapcore.EncoderConfig{LineEnding: "\n"})
		buf, err := enc.EncodeEntry(zapcore.Entry{
			Level:      zapcore.WarnLevel,
			LoggerName: logger.ComponentTransport,
			Message:    "chunk dropped",
			Time:       time.Now(),
		}, []zapcore.Field{zap.Int("index", 3)})
		Expect(err).ToNot(HaveOccurred())
		Expect(buf.String()).To(Equal("[WARN]\t[Transport]\tchunk dropped - index=3\n"))
	})

	It("returns named component loggers", func() {
		Expect(logger.For(logger.ComponentHost)).ToNot(BeNil())
	})
})
