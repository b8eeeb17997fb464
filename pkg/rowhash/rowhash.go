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

// Package rowhash computes short, stable tokens for flattened rows and for
// struct-array elements. Tokens are distinguishing keys inside a single diff,
// not cryptographic identifiers; collisions are tolerated.
package rowhash

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
)

// IDField is the synthetic identity field added to flattened element records.
// It never contributes to a RowID.
const IDField = "(id)"

// TokenLength is the width of every token.
const TokenLength = 16

var separator = []byte{0}

// Hash returns the token for key followed by the canonical JSON of value.
func Hash(key string, value any) string {
	d := xxhash.New()
	_, _ = d.WriteString(key)
	_, _ = d.Write(separator)
	writeValue(d, value)

	return Format(d.Sum64())
}

// Format renders a 64-bit sum as a fixed width token.
func Format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}

// RowID returns the identity token of a struct-array element described by n.
// Declared fields are hashed in sorted order: primitives by value, nested
// structs recursively, and arrays by folding their element hashes. Sets fold
// in sorted order so element order does not matter.
func RowID(n *manifest.Node, element any) string {
	return Format(rowSum(n, element))
}

func rowSum(n *manifest.Node, value any) uint64 {
	if !n.IsStructLike() {
		d := xxhash.New()
		writeValue(d, value)

		return d.Sum64()
	}

	obj, _ := value.(map[string]any)
	d := xxhash.New()

	for _, name := range n.SortedFieldNames() {
		if name == IDField {
			continue
		}

		child := n.Fields[name]
		if child == nil {
			continue
		}

		_, _ = d.WriteString(name)
		_, _ = d.Write(separator)

		v, present := obj[name]
		if !present {
			_, _ = d.WriteString("-")

			continue
		}

		switch child.Kind {
		case manifest.KindStruct:
			writeSum(d, rowSum(child, v))
		case manifest.KindArrayOfStruct, manifest.KindSetOfStruct:
			items, _ := manifest.AsSlice(v)
			sums := make([]uint64, 0, len(items))

			for _, item := range items {
				sums = append(sums, rowSum(child, item))
			}

			if child.Kind == manifest.KindSetOfStruct {
				slices.Sort(sums)
			}

			_, _ = d.WriteString(strconv.Itoa(len(sums)))
			for _, s := range sums {
				writeSum(d, s)
			}
		default:
			writeValue(d, v)
		}

		_, _ = d.Write(separator)
	}

	return d.Sum64()
}

func writeSum(d *xxhash.Digest, sum uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], sum)
	_, _ = d.Write(buf[:])
}

func writeValue(d *xxhash.Digest, value any) {
	if s, ok := value.(string); ok {
		_, _ = d.WriteString(strconv.Quote(s))

		return
	}

	raw, err := safejson.Marshal(value)
	if err != nil {
		_, _ = fmt.Fprintf(d, "%#v", value)

		return
	}

	_, _ = d.Write(raw)
}

// ElementIDs returns the identity tokens of items in order. Identical elements
// share a RowID, so repeats get a "~k" suffix (token, token~1, token~2, ...)
// to keep every identity in one array unique.
func ElementIDs(n *manifest.Node, items []any) []string {
	ids := make([]string, len(items))
	seen := make(map[string]int, len(items))

	for i, item := range items {
		token := RowID(n, item)

		if k := seen[token]; k > 0 {
			ids[i] = token + "~" + strconv.Itoa(k)
		} else {
			ids[i] = token
		}

		seen[token]++
	}

	return ids
}
