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

package env_test

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/statesync/pkg/env"
)

var _ = Describe("Env", func() {
	const key = "STATESYNC_ENV_TEST"

	AfterEach(func() {
		Expect(os.Unsetenv(key)).To(Succeed())
	})

	It("falls back to the default when unset", func() {
		v, err := env.GetAsString(key, false, "fallback")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal("fallback"))
	})

	It("errors on a missing required variable", func() {
		_, err := env.GetAsString(key, true, "")
		Expect(err).To(HaveOccurred())
	})

	It("parses integers and ignores garbage when optional", func() {
		GinkgoT().Setenv(key, "42")
		Expect(env.GetAsInt(key, false, 7)).To(Equal(42))

		GinkgoT().Setenv(key, "forty-two")
		Expect(env.GetAsInt(key, false, 7)).To(Equal(7))

		_, err := env.GetAsInt(key, true, 7)
		Expect(err).To(HaveOccurred())
	})

	DescribeTable("boolean spellings",
		func(raw string, expected bool) {
			GinkgoT().Setenv(key, raw)
			Expect(env.GetAsBool(key, true, !expected)).To(Equal(expected))
		},
		Entry("true", "true", true),
		Entry("YES", "YES", true),
		Entry("on", "on", true),
		Entry("0", "0", false),
		Entry("n", "n", false),
	)

	It("reads durations and bare milliseconds", func() {
		GinkgoT().Setenv(key, "5m")
		Expect(env.GetAsDuration(key, false, time.Second)).To(Equal(5 * time.Minute))

		GinkgoT().Setenv(key, "250")
		Expect(env.GetAsDuration(key, false, time.Second)).To(Equal(250 * time.Millisecond))
	})
})
