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
	"sort"

	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
)

type pathSet map[string]struct{}

func newPathSet(paths []string) pathSet {
	s := make(pathSet, len(paths))
	for _, p := range paths {
		s.add(p)
	}

	return s
}

func (s pathSet) add(path string) {
	s[path] = struct{}{}
}

func (s pathSet) has(path string) bool {
	_, ok := s[path]

	return ok
}

func (s pathSet) matchFuzzy(path string) bool {
	if s.has(path) {
		return true
	}

	for member := range s {
		if related(member, path) {
			return true
		}
	}

	return false
}

func (s pathSet) sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// related reports whether one path lies at or below the other.
func related(a, b string) bool {
	pa, pb := qp.Decode(a), qp.Decode(b)

	return pa.HasPrefix(pb) || pb.HasPrefix(pa)
}
