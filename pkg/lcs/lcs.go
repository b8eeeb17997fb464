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

// Package lcs aligns two sequences by their longest common subsequence and
// reports everything outside the alignment as removed (from the past
// sequence) or added (to the present one).
package lcs

import (
	"github.com/united-manufacturing-hub/statesync/pkg/kvflat"
	"github.com/united-manufacturing-hub/statesync/pkg/rowhash"
)

// MaxCells bounds the dynamic programming table. When the sequences left after
// trimming their common prefix and suffix need more cells than this, the
// middle is reported as fully removed and re-added.
var MaxCells = 4 << 20

// Diff maps original positions to the elements that were removed from the past
// sequence or added to the present one.
type Diff[T any] struct {
	Add    map[int]T `json:"add"`
	Remove map[int]T `json:"remove"`
	// Truncated is set when MaxCells forced the fallback.
	Truncated bool `json:"truncated,omitempty"`
}

// IsEmpty reports whether nothing was added or removed.
func (d Diff[T]) IsEmpty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// Pair is one aligned position: A indexes the first sequence, B the second.
type Pair struct {
	A, B int
}

// Align returns the aligned positions of a longest common subsequence of a and
// b in increasing order, and whether MaxCells cut the search short.
func Align[T comparable](a, b []T) ([]Pair, bool) {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	pairs := make([]Pair, 0, prefix+suffix)
	for i := 0; i < prefix; i++ {
		pairs = append(pairs, Pair{i, i})
	}

	midA := a[prefix : len(a)-suffix]
	midB := b[prefix : len(b)-suffix]
	truncated := false

	if len(midA) > 0 && len(midB) > 0 {
		if (len(midA)+1)*(len(midB)+1) > MaxCells {
			truncated = true
		} else {
			for _, p := range align(midA, midB) {
				pairs = append(pairs, Pair{p.A + prefix, p.B + prefix})
			}
		}
	}

	for k := suffix; k > 0; k-- {
		pairs = append(pairs, Pair{len(a) - k, len(b) - k})
	}

	return pairs, truncated
}

// align fills a suffix table, dp[i][j] = LCS length of a[i:] and b[j:], and
// walks it forward.
func align[T comparable](a, b []T) []Pair {
	n, m := len(a), len(b)
	width := m + 1
	dp := make([]int32, (n+1)*width)

	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case a[i] == b[j]:
				dp[i*width+j] = dp[(i+1)*width+j+1] + 1
			case dp[(i+1)*width+j] >= dp[i*width+j+1]:
				dp[i*width+j] = dp[(i+1)*width+j]
			default:
				dp[i*width+j] = dp[i*width+j+1]
			}
		}
	}

	pairs := make([]Pair, 0, dp[0])

	for i, j := 0, 0; i < n && j < m; {
		switch {
		case a[i] == b[j]:
			pairs = append(pairs, Pair{i, j})
			i++
			j++
		case dp[(i+1)*width+j] >= dp[i*width+j+1]:
			i++
		default:
			j++
		}
	}

	return pairs
}

// LCS returns one longest common subsequence of a and b.
func LCS[T comparable](a, b []T) []T {
	pairs, _ := Align(a, b)

	out := make([]T, len(pairs))
	for k, p := range pairs {
		out[k] = a[p.A]
	}

	return out
}

// DiffBy diffs past and present, comparing elements by key.
func DiffBy[T any, K comparable](past, present []T, key func(T) K) Diff[T] {
	pastKeys := make([]K, len(past))
	for i, v := range past {
		pastKeys[i] = key(v)
	}

	presentKeys := make([]K, len(present))
	for i, v := range present {
		presentKeys[i] = key(v)
	}

	pairs, truncated := Align(pastKeys, presentKeys)

	keptPast := make([]bool, len(past))
	keptPresent := make([]bool, len(present))

	for _, p := range pairs {
		keptPast[p.A] = true
		keptPresent[p.B] = true
	}

	d := Diff[T]{
		Add:       make(map[int]T),
		Remove:    make(map[int]T),
		Truncated: truncated,
	}

	for i, kept := range keptPast {
		if !kept {
			d.Remove[i] = past[i]
		}
	}

	for j, kept := range keptPresent {
		if !kept {
			d.Add[j] = present[j]
		}
	}

	return d
}

// DiffOf compares two sequences of comparable elements.
func DiffOf[T comparable](past, present []T) Diff[T] {
	return DiffBy(past, present, func(v T) T { return v })
}

// DiffStrings is DiffOf for strings.
func DiffStrings(past, present []string) Diff[string] {
	return DiffOf(past, present)
}

// DiffRows compares flattened entries by the row hash of path and value.
func DiffRows(past, present []kvflat.Entry) Diff[kvflat.Entry] {
	return DiffBy(past, present, RowKey)
}

// RowKey is the comparison key DiffRows uses for an entry.
func RowKey(e kvflat.Entry) string {
	return rowhash.Hash(e.Path, e.Value)
}
