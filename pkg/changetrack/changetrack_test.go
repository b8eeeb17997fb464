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

package changetrack_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/statesync/pkg/changetrack"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
)

var plant = &manifest.Node{Kind: manifest.KindStruct, Fields: map[string]*manifest.Node{
	"name": {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveString},
	"lines": {Kind: manifest.KindArrayOfStruct, Fields: map[string]*manifest.Node{
		"id":    {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveString, IsKey: true},
		"speed": {Kind: manifest.KindScalar, Primitive: manifest.PrimitiveFloat},
	}},
}}

func line(id string, speed float64) map[string]any {
	return map[string]any{"id": id, "speed": speed}
}

func state(name string, lines ...map[string]any) map[string]any {
	items := make([]any, len(lines))
	for i, l := range lines {
		items[i] = l
	}

	return map[string]any{"name": name, "lines": items}
}

var _ = Describe("Store", func() {
	var (
		s   *changetrack.Store
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		s = changetrack.New("test", zaptest.NewLogger(GinkgoT()).Sugar())
	})

	It("panics without a logger", func() {
		Expect(func() { changetrack.New("test", nil) }).To(Panic())
	})

	Describe("command mode", func() {
		It("starts in view mode", func() {
			Expect(s.Mode()).To(Equal(changetrack.ModeView))
			Expect(s.From()).To(Equal(changetrack.CompareNone))
		})

		It("moves between view, edit and compare", func() {
			Expect(s.Edit(ctx)).To(Succeed())
			Expect(s.Mode()).To(Equal(changetrack.ModeEdit))

			Expect(s.Compare(ctx, changetrack.CompareAfter)).To(Succeed())
			Expect(s.Mode()).To(Equal(changetrack.ModeCompare))
			Expect(s.From()).To(Equal(changetrack.CompareAfter))

			By("switching sides without leaving compare mode")
			Expect(s.Compare(ctx, changetrack.CompareBefore)).To(Succeed())
			Expect(s.From()).To(Equal(changetrack.CompareBefore))

			Expect(s.View(ctx)).To(Succeed())
			Expect(s.Mode()).To(Equal(changetrack.ModeView))
			Expect(s.From()).To(Equal(changetrack.CompareNone))

			By("treating view in view mode as a no-op")
			Expect(s.View(ctx)).To(Succeed())
		})

		It("rejects transitions the current mode does not allow", func() {
			Expect(s.Compare(ctx, changetrack.CompareAfter)).To(Succeed())
			Expect(s.Edit(ctx)).To(MatchError(changetrack.ErrInvalidTransition))
			Expect(s.Compare(ctx, changetrack.CompareNone)).To(MatchError(changetrack.ErrInvalidTransition))
		})
	})

	Describe("changeset predicates", func() {
		BeforeEach(func() {
			s.SetChangeset([]string{"lines.[1].speed", "lines.[2]"})
		})

		It("answer false outside of compare mode", func() {
			Expect(s.WasAdded("lines.[2]")).To(BeFalse())
			Expect(s.WasRemoved("lines.[2]")).To(BeFalse())
		})

		It("report additions only when comparing from after", func() {
			Expect(s.Compare(ctx, changetrack.CompareAfter)).To(Succeed())
			Expect(s.WasAdded("lines.[2]")).To(BeTrue())
			Expect(s.WasRemoved("lines.[2]")).To(BeFalse())

			Expect(s.Compare(ctx, changetrack.CompareBefore)).To(Succeed())
			Expect(s.WasAdded("lines.[2]")).To(BeFalse())
			Expect(s.WasRemoved("lines.[2]")).To(BeTrue())
		})

		It("match prefixes on segment boundaries in the fuzzy variants", func() {
			Expect(s.Compare(ctx, changetrack.CompareAfter)).To(Succeed())

			Expect(s.WasAdded("lines.[1]")).To(BeFalse())
			Expect(s.WasAddedFuzzy("lines.[1]")).To(BeTrue())
			Expect(s.WasAddedFuzzy("lines")).To(BeTrue())
			Expect(s.WasAddedFuzzy("lines.[2].speed")).To(BeTrue())
			Expect(s.WasAddedFuzzy("lines.[0]")).To(BeFalse())
			Expect(s.WasAddedFuzzy("line")).To(BeFalse())
		})
	})

	Describe("conflicts", func() {
		BeforeEach(func() {
			s.AddConflict("lines.[0].speed")
		})

		It("are only reported in compare mode", func() {
			Expect(s.HasConflict("lines.[0].speed")).To(BeFalse())

			Expect(s.Compare(ctx, changetrack.CompareBefore)).To(Succeed())
			Expect(s.HasConflict("lines.[0].speed")).To(BeTrue())
			Expect(s.HasConflict("lines.[0]")).To(BeFalse())
			Expect(s.HasConflictFuzzy("lines.[0]")).To(BeTrue())
			Expect(s.HasConflictFuzzy("lines.[1]")).To(BeFalse())
		})

		It("are resolved by copying the value or an ancestor", func() {
			Expect(s.Compare(ctx, changetrack.CompareAfter)).To(Succeed())
			s.MarkCopied("lines.[0]")

			Expect(s.HasConflict("lines.[0].speed")).To(BeFalse())
			Expect(s.Conflicts()).To(BeEmpty())
			Expect(s.Copied()).To(Equal([]string{"lines.[0]"}))

			By("reopening when the same conflict is recorded again")
			s.AddConflict("lines.[0]")
			Expect(s.HasConflict("lines.[0]")).To(BeTrue())
		})

		It("are dropped with the copy-list by ClearConflicts", func() {
			s.MarkCopied("name")
			s.ClearConflicts()
			Expect(s.Conflicts()).To(BeEmpty())
			Expect(s.Copied()).To(BeEmpty())
		})
	})

	Describe("invalidity", func() {
		It("is tracked per module in every mode", func() {
			s.SetInvalidity("plant", []string{"lines.[0].speed"})

			Expect(s.IsInvalid("plant", "lines.[0].speed")).To(BeTrue())
			Expect(s.IsInvalid("plant", "lines.[0]")).To(BeFalse())
			Expect(s.IsInvalidFuzzy("plant", "lines.[0]")).To(BeTrue())
			Expect(s.IsInvalid("site", "lines.[0].speed")).To(BeFalse())
			Expect(s.Invalid("plant")).To(Equal([]string{"lines.[0].speed"}))

			s.SetInvalidity("plant", nil)
			Expect(s.IsInvalidFuzzy("plant", "lines")).To(BeFalse())
		})
	})

	It("replaces every set on Rebuild", func() {
		s.AddConflict("name")
		s.SetInvalidity("plant", []string{"name"})

		s.Rebuild(changetrack.Inputs{
			Changeset:  []string{"lines.[0]"},
			Conflicts:  []string{"lines.[1]"},
			Invalidity: map[string][]string{"site": {"address"}},
			Copied:     []string{"lines.[1]"},
		})

		Expect(s.Changeset()).To(Equal([]string{"lines.[0]"}))
		Expect(s.Conflicts()).To(BeEmpty())
		Expect(s.Copied()).To(Equal([]string{"lines.[1]"}))
		Expect(s.IsInvalid("plant", "name")).To(BeFalse())
		Expect(s.IsInvalid("site", "address")).To(BeTrue())
	})
})

var _ = Describe("ComputeChangeset", func() {
	before := state("north", line("a", 1), line("b", 2))

	It("is empty for identical revisions", func() {
		Expect(changetrack.ComputeChangeset(plant, before, before, changetrack.CompareAfter)).To(BeEmpty())
	})

	It("is empty when comparing from none", func() {
		after := state("south")
		Expect(changetrack.ComputeChangeset(plant, before, after, changetrack.CompareNone)).To(BeEmpty())
	})

	It("reports changed fields of matched elements and whole new or deleted elements", func() {
		after := state("north", line("c", 3), line("a", 5))

		Expect(changetrack.ComputeChangeset(plant, before, after, changetrack.CompareAfter)).
			To(Equal([]string{"lines.[0]", "lines.[1].speed"}))
		Expect(changetrack.ComputeChangeset(plant, before, after, changetrack.CompareBefore)).
			To(Equal([]string{"lines.[0].speed", "lines.[1]"}))
	})

	It("reports changed top-level fields", func() {
		after := state("south", line("a", 1), line("b", 2))

		Expect(changetrack.ComputeChangeset(plant, before, after, changetrack.CompareAfter)).
			To(Equal([]string{"name"}))
	})

	It("ignores moved elements", func() {
		after := state("north", line("b", 2), line("a", 1))

		Expect(changetrack.ComputeChangeset(plant, before, after, changetrack.CompareAfter)).To(BeEmpty())
	})

	It("reports every field of a state that did not exist before", func() {
		after := state("north", line("a", 1))

		Expect(changetrack.ComputeChangeset(plant, nil, after, changetrack.CompareAfter)).
			To(Equal([]string{"lines.[0]", "name"}))
	})
})
