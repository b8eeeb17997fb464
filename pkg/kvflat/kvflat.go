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

// Package kvflat projects a state tree onto an ordered list of (path, value)
// entries using the tree's manifest.
//
// Every struct becomes one record entry at its own path holding its scalar,
// reference and primitive-array fields. Elements of struct arrays and sets are
// addressed by identity, "lines.(3f2a...)", and carry the same token in a
// synthetic "(id)" record field. Two flattenings of structurally equal trees
// produce equal lists.
package kvflat

import (
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/rowhash"
)

// Entry is one flattened row.
type Entry struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// Record returns the entry value as a record map, or nil.
func (e Entry) Record() map[string]any {
	r, _ := e.Value.(map[string]any)

	return r
}

// Flatten walks n and state together below prefix. State fields the manifest
// does not describe, and manifest fields absent from the state, are skipped.
func Flatten(n *manifest.Node, state any, prefix string) []Entry {
	if n == nil {
		return nil
	}

	f := &flattener{}
	f.structNode(qp.Decode(prefix), n, state, "")

	return f.out
}

type flattener struct {
	out []Entry
}

func (f *flattener) structNode(path qp.Path, n *manifest.Node, value any, id string) {
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}

	names := n.SortedFieldNames()
	record := make(map[string]any, len(names)+1)

	if id != "" {
		record[rowhash.IDField] = id
	}

	for _, name := range names {
		if child := n.Fields[name]; child.IsRecordField() {
			if v, present := obj[name]; present {
				record[name] = v
			}
		}
	}

	f.out = append(f.out, Entry{Path: path.String(), Value: record})

	for _, name := range names {
		child := n.Fields[name]

		v, present := obj[name]
		if !present || child == nil {
			continue
		}

		switch child.Kind {
		case manifest.KindStruct:
			f.structNode(path.Append(qp.Field(name)), child, v, "")
		case manifest.KindArrayOfStruct, manifest.KindSetOfStruct:
			items := AsSlice(v)
			ids := rowhash.ElementIDs(child, items)

			for i, item := range items {
				f.structNode(path.Append(qp.Field(name), qp.ID(ids[i])), child, item, ids[i])
			}
		}
	}
}

// ReindexArrays replaces every identity segment with a 0-based position,
// counted separately under each parent path. Entries belonging to one element
// share its position.
func ReindexArrays(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	next := make(map[string]int)
	assigned := make(map[string]int)

	for i, e := range entries {
		path := qp.Decode(e.Path)
		positional := make(qp.Path, 0, len(path))

		for _, seg := range path {
			if seg.Kind != qp.KindID {
				positional = append(positional, seg)

				continue
			}

			parent := positional.String()
			key := parent + "\x00" + seg.Value

			idx, ok := assigned[key]
			if !ok {
				idx = next[parent]
				next[parent] = idx + 1
				assigned[key] = idx
			}

			positional = append(positional, qp.Index(idx))
		}

		out[i] = Entry{Path: positional.String(), Value: e.Value}
	}

	return out
}

// Paths returns the entry paths in order.
func Paths(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}

	return out
}

// LongestPrefix returns the index of the entry whose path is the longest
// segment-wise prefix of target, or -1.
func LongestPrefix(entries []Entry, target qp.Path) int {
	best, bestLen := -1, -1

	for i, e := range entries {
		p := qp.Decode(e.Path)
		if len(p) > bestLen && target.HasPrefix(p) {
			best, bestLen = i, len(p)
		}
	}

	return best
}

// AsSlice returns value as a []any. Typed slices are converted; anything else
// yields nil.
func AsSlice(value any) []any {
	items, _ := manifest.AsSlice(value)

	return items
}
