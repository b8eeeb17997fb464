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

package changetrack

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/united-manufacturing-hub/statesync/pkg/kvflat"
	"github.com/united-manufacturing-hub/statesync/pkg/lcs"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/rowhash"
)

// ComputeChangeset returns the sorted positional paths that differ between
// before and after, as displayed on side from: added paths indexed into
// after, or removed paths indexed into before.
//
// Elements of keyed arrays are matched across both revisions by key, so an
// edited element reports its changed fields ("lines.[0].speed") and a new or
// deleted element reports itself ("lines.[2]"). Moving an element reports nothing.
func ComputeChangeset(n *manifest.Node, before, after any, from CompareFrom) []string {
	if n == nil || from == CompareNone {
		return nil
	}

	past := kvflat.Flatten(n, before, "")
	present := kvflat.Flatten(n, after, "")

	diff := lcs.DiffRows(past, present)
	if diff.IsEmpty() {
		return nil
	}

	shownRows, shown := diff.Add, newLocator(n, after)
	otherRows, other := past, newLocator(n, before)

	if from == CompareBefore {
		shownRows, shown = diff.Remove, newLocator(n, before)
		otherRows, other = present, newLocator(n, after)
	}

	counterpart := make(map[string]map[string]any, len(otherRows))
	for _, e := range otherRows {
		if match, _, ok := other.locate(e.Path); ok {
			counterpart[match] = e.Record()
		}
	}

	positions := make([]int, 0, len(shownRows))
	for i := range shownRows {
		positions = append(positions, i)
	}

	slices.Sort(positions)

	out := pathSet{}

	for _, i := range positions {
		e := shownRows[i]

		match, positional, ok := shown.locate(e.Path)
		if !ok {
			continue
		}

		rec, found := counterpart[match]
		if found || len(positional) == 0 {
			for _, name := range changedFields(e.Record(), rec) {
				out.add(positional.Append(qp.Field(name)).String())
			}

			continue
		}

		out.add(positional.String())
	}

	return out.sorted()
}

func changedFields(a, b map[string]any) []string {
	var names []string

	for name, v := range a {
		if name == rowhash.IDField {
			continue
		}

		if w, ok := b[name]; !ok || !reflect.DeepEqual(v, w) {
			names = append(names, name)
		}
	}

	for name := range b {
		if _, ok := a[name]; !ok && name != rowhash.IDField {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	return names
}

// locator resolves flattened entry paths against one revision.
type locator struct {
	root  *manifest.Node
	state any
	ids   map[string][]string
}

func newLocator(n *manifest.Node, state any) *locator {
	return &locator{root: n, state: state, ids: map[string][]string{}}
}

// locate returns the path used to match the entry across revisions, where
// keyed elements are addressed by key, and its positional path.
func (l *locator) locate(path string) (string, qp.Path, bool) {
	var match, positional qp.Path

	cur, node := l.state, l.root

	for _, seg := range qp.Decode(path) {
		switch seg.Kind {
		case qp.KindField:
			obj, ok := cur.(map[string]any)
			if !ok || node == nil || !node.IsStructLike() {
				return "", nil, false
			}

			cur, node = obj[seg.Name], node.Fields[seg.Name]
			match = append(match, seg)
			positional = append(positional, seg)
		case qp.KindID:
			if node == nil || len(match) == 0 {
				return "", nil, false
			}

			items := kvflat.AsSlice(cur)
			parent := positional.String()

			ids, ok := l.ids[parent]
			if !ok {
				ids = rowhash.ElementIDs(node, items)
				l.ids[parent] = ids
			}

			idx := slices.Index(ids, seg.Value)
			if idx < 0 {
				return "", nil, false
			}

			cur = items[idx]
			positional = append(positional, qp.Index(idx))

			key, hasKey := node.KeyField()
			obj, _ := cur.(map[string]any)

			if v, present := obj[key]; hasKey && present {
				field := match[len(match)-1]
				match[len(match)-1] = qp.Ref(field.Name, fmt.Sprint(v))
			} else {
				match = append(match, seg)
			}
		default:
			return "", nil, false
		}
	}

	return match.String(), positional, true
}
