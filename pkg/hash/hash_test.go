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

package hash_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/statesync/pkg/hash"
)

var _ = Describe("Sha3Hash", func() {
	It("matches the published digest of the empty string", func() {
		Expect(hash.Sha3HashString("")).To(Equal("a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a"))
	})

	It("is deterministic and input sensitive", func() {
		Expect(hash.Sha3HashString("state")).To(Equal(hash.Sha3Hash([]byte("state"))))
		Expect(hash.Sha3HashString("state")).ToNot(Equal(hash.Sha3HashString("State")))
	})
})
