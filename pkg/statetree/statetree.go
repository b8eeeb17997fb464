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

// Package statetree reads and writes generic state trees (map[string]any,
// []any and JSON scalars) by path. Writes are copy-on-write: only the
// containers along the written path are copied, the input is never modified.
package statetree

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/tiendc/go-deepcopy"

	"github.com/united-manufacturing-hub/statesync/pkg/kvflat"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/rowhash"
)

var (
	// ErrPathNotFound is returned when a path does not resolve against a tree.
	ErrPathNotFound = errors.New("path not found")
	// ErrTypeMismatch is returned when a segment does not fit the value it is applied to.
	ErrTypeMismatch = errors.New("path segment does not match value type")
)

// Positional rewrites keyed ("lines<l1>") and identity ("lines.(3f2a)")
// segments of path into field plus index form ("lines.[0]") by looking the
// elements up in state. A trailing field that does not exist yet is kept.
func Positional(n *manifest.Node, state any, path qp.Path) (qp.Path, error) {
	out := make(qp.Path, 0, len(path)+1)
	cur := state
	node := n

	for i, seg := range path {
		switch seg.Kind {
		case qp.KindField:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrTypeMismatch)
			}

			out = append(out, seg)
			cur = obj[seg.Name]
			node = fieldNode(node, seg.Name)
		case qp.KindIndex:
			items := kvflat.AsSlice(cur)
			if seg.Index < 0 || seg.Index >= len(items) {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrPathNotFound)
			}

			out = append(out, seg)
			cur = items[seg.Index]
		case qp.KindRef:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrTypeMismatch)
			}

			node = fieldNode(node, seg.Name)
			items := kvflat.AsSlice(obj[seg.Name])

			idx := findByKey(node, items, seg.Value)
			if idx < 0 {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrPathNotFound)
			}

			out = append(out, qp.Field(seg.Name), qp.Index(idx))
			cur = items[idx]
		case qp.KindID:
			items := kvflat.AsSlice(cur)
			if node == nil {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrPathNotFound)
			}

			idx := slices.Index(rowhash.ElementIDs(node, items), seg.Value)
			if idx < 0 {
				return nil, fmt.Errorf("%s: %w", path[:i+1], ErrPathNotFound)
			}

			out = append(out, qp.Index(idx))
			cur = items[idx]
		}
	}

	return out, nil
}

func fieldNode(n *manifest.Node, name string) *manifest.Node {
	if n == nil || !n.IsStructLike() {
		return nil
	}

	return n.Fields[name]
}

// findByKey returns the index of the element whose key field renders as value.
// Without a key field, the value is matched against element RowIDs.
func findByKey(n *manifest.Node, items []any, value string) int {
	key, ok := n.KeyField()
	if !ok {
		if n == nil {
			return -1
		}

		return slices.Index(rowhash.ElementIDs(n, items), value)
	}

	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		if v, present := obj[key]; present && fmt.Sprint(v) == value {
			return i
		}
	}

	return -1
}

// Get returns the value at path. Keyed and identity segments need n.
func Get(n *manifest.Node, state any, path qp.Path) (any, bool) {
	pos, err := Positional(n, state, path)
	if err != nil {
		return nil, false
	}

	cur := state

	for _, seg := range pos {
		switch seg.Kind {
		case qp.KindField:
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}

			if cur, ok = obj[seg.Name]; !ok {
				return nil, false
			}
		case qp.KindIndex:
			items := kvflat.AsSlice(cur)
			if seg.Index >= len(items) {
				return nil, false
			}

			cur = items[seg.Index]
		}
	}

	return cur, true
}

// Set returns a copy of state with value stored at path. Containers on the path
// are shallow copied; value itself is deep copied, so the result never shares
// mutable data with the caller's value.
func Set(n *manifest.Node, state any, path qp.Path, value any) (any, error) {
	pos, err := Positional(n, state, path)
	if err != nil {
		return nil, err
	}

	copied, err := Clone(value)
	if err != nil {
		return nil, err
	}

	return setAt(state, pos, copied)
}

func setAt(cur any, path qp.Path, value any) (any, error) {
	if len(path) == 0 {
		return value, nil
	}

	seg := path[0]

	switch seg.Kind {
	case qp.KindField:
		var next map[string]any

		switch obj := cur.(type) {
		case map[string]any:
			next = maps.Clone(obj)
		case nil:
			next = make(map[string]any, 1)
		default:
			return nil, fmt.Errorf("%s: %w", seg, ErrTypeMismatch)
		}

		child, err := setAt(next[seg.Name], path[1:], value)
		if err != nil {
			return nil, err
		}

		next[seg.Name] = child

		return next, nil
	case qp.KindIndex:
		items, ok := manifest.AsSlice(cur)
		if !ok {
			return nil, fmt.Errorf("%s: %w", seg, ErrTypeMismatch)
		}

		if seg.Index < 0 || seg.Index >= len(items) {
			return nil, fmt.Errorf("%s: %w", seg, ErrPathNotFound)
		}

		next := slices.Clone(items)

		child, err := setAt(next[seg.Index], path[1:], value)
		if err != nil {
			return nil, err
		}

		next[seg.Index] = child

		return next, nil
	default:
		return nil, fmt.Errorf("%s: %w", seg, ErrTypeMismatch)
	}
}

// Clone deep copies a state tree.
func Clone(value any) (any, error) {
	switch v := value.(type) {
	case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		if err := deepcopy.Copy(&out, v); err != nil {
			return nil, fmt.Errorf("failed to copy state: %w", err)
		}

		return out, nil
	case []any:
		out := make([]any, 0, len(v))
		if err := deepcopy.Copy(&out, v); err != nil {
			return nil, fmt.Errorf("failed to copy state: %w", err)
		}

		return out, nil
	default:
		var out any
		if err := deepcopy.Copy(&out, v); err != nil {
			return nil, fmt.Errorf("failed to copy state: %w", err)
		}

		return out, nil
	}
}
