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

package safejson_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
)

type device struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

var _ = Describe("SafeJSON", func() {
	It("encodes map keys in sorted order", func() {
		a := safejson.MustMarshal(map[string]any{"b": 1, "a": 2, "c": 3})
		Expect(string(a)).To(Equal(`{"a":2,"b":1,"c":3}`))
	})

	It("decodes into structs", func() {
		var d device
		Expect(safejson.Unmarshal([]byte(`{"name":"plc","tags":["x"]}`), &d)).To(Succeed())
		Expect(d).To(Equal(device{Name: "plc", Tags: []string{"x"}}))
	})

	It("rejects non-pointer targets", func() {
		var d device
		Expect(safejson.Unmarshal([]byte(`{}`), d)).ToNot(Succeed())
	})

	It("normalizes typed values to generic trees", func() {
		out, err := safejson.Normalize(device{Name: "plc"})
		Expect(err).ToNot(HaveOccurred())
		Expect(out).To(Equal(map[string]any{"name": "plc", "tags": nil}))
	})
})
