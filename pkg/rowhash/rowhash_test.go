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

package rowhash_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/rowhash"
)

var lineNode = &manifest.Node{
	Kind: manifest.KindArrayOfStruct,
	Fields: map[string]*manifest.Node{
		"id":    {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveString, IsKey: true},
		"speed": {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveFloat},
		"meta": {Kind: manifest.KindStruct, Fields: map[string]*manifest.Node{
			"owner": {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveString},
		}},
		"stations": {Kind: manifest.KindSetOfStruct, Fields: map[string]*manifest.Node{
			"name": {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveString, IsKey: true},
		}},
	},
}

func line(id string, speed float64, stations ...string) map[string]any {
	s := make([]any, 0, len(stations))
	for _, name := range stations {
		s = append(s, map[string]any{"name": name})
	}

	return map[string]any{
		"id":       id,
		"speed":    speed,
		"meta":     map[string]any{"owner": "ops"},
		"stations": s,
	}
}

var _ = Describe("RowHash", func() {
	Describe("Hash", func() {
		It("returns fixed width tokens", func() {
			Expect(rowhash.Hash("a", 1)).To(HaveLen(rowhash.TokenLength))
			Expect(rowhash.Hash("", nil)).To(HaveLen(rowhash.TokenLength))
		})

		It("is stable across calls and map orderings", func() {
			a := rowhash.Hash("k", map[string]any{"x": 1, "y": []any{"a", true}})
			b := rowhash.Hash("k", map[string]any{"y": []any{"a", true}, "x": 1})
			Expect(a).To(Equal(b))
		})

		It("separates key and value", func() {
			Expect(rowhash.Hash("ab", "c")).ToNot(Equal(rowhash.Hash("a", "bc")))
			Expect(rowhash.Hash("k", "1")).ToNot(Equal(rowhash.Hash("k", 1)))
		})
	})

	Describe("RowID", func() {
		It("is stable for equal elements", func() {
			Expect(rowhash.RowID(lineNode, line("l1", 2, "a", "b"))).
				To(Equal(rowhash.RowID(lineNode, line("l1", 2, "a", "b"))))
		})

		It("differs for structurally different elements", func() {
			base := rowhash.RowID(lineNode, line("l1", 2, "a"))
			Expect(rowhash.RowID(lineNode, line("l2", 2, "a"))).ToNot(Equal(base))
			Expect(rowhash.RowID(lineNode, line("l1", 3, "a"))).ToNot(Equal(base))
			Expect(rowhash.RowID(lineNode, line("l1", 2, "a", "b"))).ToNot(Equal(base))
		})

		It("ignores set order and the identity field", func() {
			a := line("l1", 2, "a", "b")
			b := line("l1", 2, "b", "a")
			b[rowhash.IDField] = "whatever"
			Expect(rowhash.RowID(lineNode, a)).To(Equal(rowhash.RowID(lineNode, b)))
		})

		It("ignores fields the manifest does not describe", func() {
			a := line("l1", 2)
			b := line("l1", 2)
			b["color"] = "red"
			Expect(rowhash.RowID(lineNode, a)).To(Equal(rowhash.RowID(lineNode, b)))
		})

		It("hashes typed nested slices like generic ones", func() {
			a := line("l1", 2, "a", "b")
			b := line("l1", 2)
			b["stations"] = []map[string]any{{"name": "b"}, {"name": "a"}}
			Expect(rowhash.RowID(lineNode, b)).To(Equal(rowhash.RowID(lineNode, a)))
		})

		It("distinguishes nested struct changes", func() {
			a := line("l1", 2)
			b := line("l1", 2)
			b["meta"] = map[string]any{"owner": "qa"}
			Expect(rowhash.RowID(lineNode, a)).ToNot(Equal(rowhash.RowID(lineNode, b)))
		})
	})
})

var _ = Describe("ElementIDs", func() {
	It("suffixes repeated elements", func() {
		ids := rowhash.ElementIDs(lineNode, []any{line("a", 1), line("b", 1), line("a", 1), line("a", 1)})
		Expect(ids[2]).To(Equal(ids[0] + "~1"))
		Expect(ids[3]).To(Equal(ids[0] + "~2"))
		Expect(ids[1]).ToNot(HavePrefix(ids[0]))
	})
})
