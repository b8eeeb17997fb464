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

package manifest

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
)

// InvalidPaths checks state against the manifest rooted at root and returns the
// positional paths ("items.[2].name") of every value that violates it, sorted.
//
// A value is invalid when it is missing or null but not Nullable, when it has the
// wrong type, when a Bounded value is out of range, when a Reference is not a
// well-formed path, or when two elements of a set share a key value. Fields the
// manifest does not describe are ignored.
func InvalidPaths(root *Node, state any) []string {
	if root == nil {
		return nil
	}

	c := &checker{}
	c.node(nil, root, state, true)

	sort.Strings(c.invalid)

	return c.invalid
}

type checker struct {
	invalid []string
}

func (c *checker) mark(path qp.Path) {
	c.invalid = append(c.invalid, path.String())
}

func (c *checker) node(path qp.Path, n *Node, value any, present bool) {
	if !present || value == nil {
		if !n.Nullable {
			c.mark(path)
		}

		return
	}

	switch n.Kind {
	case KindScalar:
		if !primitiveOK(n.Primitive, value) || !boundsOK(n, value) {
			c.mark(path)
		}
	case KindReference:
		s, ok := value.(string)
		if !ok || s == "" || !qp.Valid(s) {
			c.mark(path)
		}
	case KindArrayOfPrimitive:
		items, ok := AsSlice(value)
		if !ok || !boundsOK(n, value) {
			c.mark(path)

			return
		}

		for i, item := range items {
			if item == nil || !primitiveOK(n.Primitive, item) {
				c.mark(path.Append(qp.Index(i)))
			}
		}
	case KindStruct:
		c.fields(path, n, value)
	case KindArrayOfStruct, KindSetOfStruct:
		items, ok := AsSlice(value)
		if !ok || !boundsOK(n, value) {
			c.mark(path)

			return
		}

		for i, item := range items {
			c.fields(path.Append(qp.Index(i)), n, item)
		}

		if n.Kind == KindSetOfStruct {
			c.duplicateKeys(path, n, items)
		}
	}
}

func (c *checker) fields(path qp.Path, n *Node, value any) {
	obj, ok := value.(map[string]any)
	if !ok {
		c.mark(path)

		return
	}

	for _, name := range n.SortedFieldNames() {
		child := n.Fields[name]
		if child == nil {
			continue
		}

		v, present := obj[name]
		c.node(path.Append(qp.Field(name)), child, v, present)
	}
}

func (c *checker) duplicateKeys(path qp.Path, n *Node, items []any) {
	key, ok := n.KeyField()
	if !ok {
		return
	}

	seen := make(map[string][]int)

	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok || obj[key] == nil {
			continue
		}

		k := fmt.Sprintf("%v", obj[key])
		seen[k] = append(seen[k], i)
	}

	for _, idx := range seen {
		if len(idx) < 2 {
			continue
		}

		for _, i := range idx {
			c.mark(path.Append(qp.Index(i), qp.Field(key)))
		}
	}
}

// AsSlice returns value as a []any, converting typed slices and arrays. ok is
// false when value is not a slice.
func AsSlice(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func primitiveOK(p Primitive, value any) bool {
	switch p {
	case PrimitiveString:
		_, ok := value.(string)

		return ok
	case PrimitiveBoolean:
		_, ok := value.(bool)

		return ok
	case PrimitiveFloat:
		_, ok := toFloat(value)

		return ok
	case PrimitiveInt:
		f, ok := toFloat(value)

		return ok && f == math.Trunc(f)
	default:
		return true
	}
}

func toFloat(value any) (float64, bool) {
	rv := reflect.ValueOf(value)

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func boundsOK(n *Node, value any) bool {
	if !n.Bounded {
		return true
	}

	var measure float64

	switch v := value.(type) {
	case string:
		measure = float64(len([]rune(v)))
	default:
		if items, ok := AsSlice(value); ok && n.IsCollection() {
			measure = float64(len(items))
		} else if f, ok := toFloat(value); ok {
			measure = f
		} else {
			return true
		}
	}

	if n.Min != nil && measure < *n.Min {
		return false
	}

	if n.Max != nil && measure > *n.Max {
		return false
	}

	return true
}
