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

// Package querypath encodes and decodes the dot separated path queries that
// address nodes of a state tree.
//
// Grammar:
//
//	path     := segment ('.' segment)*
//	segment  := IDENT | '[' INT ']' | IDENT '<' refvalue '>' | '(' TOKEN ')'
//	refvalue := STRING | path
//
// A '.' only separates segments outside of '<...>' and '(...)', so reference
// values may themselves be paths:
//
//	devices<plant.line1>.sensors.[2].unit
//
// Decoding never fails. Input that does not fit the grammar is kept verbatim as
// a field segment, which keeps Encode(Decode(p)) == p for every string.
package querypath

import (
	"strconv"
	"strings"
)

// Kind identifies the shape of a Segment.
type Kind uint8

const (
	// KindField is a plain field name.
	KindField Kind = iota
	// KindIndex is a positional array element, "[n]".
	KindIndex
	// KindRef addresses a set or array element by key value, "name<value>".
	KindRef
	// KindID addresses an array element by identity token, "(token)".
	KindID
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindIndex:
		return "index"
	case KindRef:
		return "ref"
	case KindID:
		return "id"
	default:
		return "unknown"
	}
}

// WildcardValue matches any index or reference value in DecodeWildcard patterns.
const WildcardValue = "*"

// Segment is one step of a Path.
type Segment struct {
	Kind Kind
	// Name is the field name for KindField and KindRef.
	Name string
	// Index is the position for KindIndex.
	Index int
	// Value is the reference value for KindRef and the token for KindID.
	Value string
	// Wildcard is only set by DecodeWildcard.
	Wildcard bool
}

// Field returns a field segment.
func Field(name string) Segment { return Segment{Kind: KindField, Name: name} }

// Index returns a positional segment.
func Index(n int) Segment { return Segment{Kind: KindIndex, Index: n} }

// Ref returns a keyed reference segment.
func Ref(name, value string) Segment { return Segment{Kind: KindRef, Name: name, Value: value} }

// ID returns an identity segment.
func ID(token string) Segment { return Segment{Kind: KindID, Value: token} }

// String encodes the segment.
func (s Segment) String() string {
	switch s.Kind {
	case KindIndex:
		if s.Wildcard {
			return "[" + WildcardValue + "]"
		}

		return "[" + strconv.Itoa(s.Index) + "]"
	case KindRef:
		return s.Name + "<" + s.Value + ">"
	case KindID:
		return "(" + s.Value + ")"
	default:
		return s.Name
	}
}

// Equal compares kind and payload.
func (s Segment) Equal(o Segment) bool {
	if s.Kind != o.Kind {
		return false
	}

	switch s.Kind {
	case KindIndex:
		return s.Index == o.Index && s.Wildcard == o.Wildcard
	case KindRef:
		return s.Name == o.Name && s.Value == o.Value
	case KindID:
		return s.Value == o.Value
	default:
		return s.Name == o.Name
	}
}

// ValuePath decodes the reference value of a KindRef segment as a nested path.
func (s Segment) ValuePath() Path {
	if s.Kind != KindRef {
		return nil
	}

	return Decode(s.Value)
}

// Path is a decoded path query.
type Path []Segment

// Decode parses a path query. It never fails; see the package documentation.
func Decode(path string) Path {
	return decode(path, false)
}

// DecodeWildcard is Decode with additional recognition of "[*]" and "name<*>"
// wildcard segments, for use as Match patterns.
func DecodeWildcard(path string) Path {
	return decode(path, true)
}

// Encode is the inverse of Decode.
func Encode(p Path) string {
	return p.String()
}

func decode(path string, wildcards bool) Path {
	if path == "" {
		return nil
	}

	raw := split(path)
	out := make(Path, 0, len(raw))

	for _, r := range raw {
		out = append(out, parseSegment(r, wildcards))
	}

	return out
}

// split cuts at '.' characters outside of '<>' and '()' nesting.
func split(path string) []string {
	var (
		parts []string
		depth int
		start int
	)

	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '<', '(':
			depth++
		case '>', ')':
			if depth > 0 {
				depth--
			}
		case '.':
			if depth == 0 {
				parts = append(parts, path[start:i])
				start = i + 1
			}
		}
	}

	return append(parts, path[start:])
}

func parseSegment(raw string, wildcards bool) Segment {
	n := len(raw)
	if n == 0 {
		return Field(raw)
	}

	switch {
	case raw[0] == '[' && raw[n-1] == ']' && n > 2:
		inner := raw[1 : n-1]
		if wildcards && inner == WildcardValue {
			return Segment{Kind: KindIndex, Wildcard: true}
		}

		if idx, err := strconv.Atoi(inner); err == nil && idx >= 0 && strconv.Itoa(idx) == inner {
			return Index(idx)
		}
	case raw[0] == '(' && raw[n-1] == ')' && n > 2:
		inner := raw[1 : n-1]
		if balanced(inner) {
			return ID(inner)
		}
	case raw[n-1] == '>':
		open := strings.IndexByte(raw, '<')
		if open > 0 && isIdent(raw[:open]) && balanced(raw[open+1:n-1]) {
			seg := Ref(raw[:open], raw[open+1:n-1])
			if wildcards && seg.Value == WildcardValue {
				seg.Wildcard = true
			}

			return seg
		}
	}

	return Field(raw)
}

// balanced reports whether every '<' and '(' in s is closed in order.
func balanced(s string) bool {
	var stack []byte

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '<', '(':
			stack = append(stack, s[i])
		case '>':
			if len(stack) == 0 || stack[len(stack)-1] != '<' {
				return false
			}

			stack = stack[:len(stack)-1]
		case ')':
			if len(stack) == 0 || stack[len(stack)-1] != '(' {
				return false
			}

			stack = stack[:len(stack)-1]
		}
	}

	return len(stack) == 0
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}

	return !strings.ContainsAny(s, "<>()[].")
}

// String encodes the path.
func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}

	var b strings.Builder

	for i, s := range p {
		if i > 0 {
			b.WriteByte('.')
		}

		b.WriteString(s.String())
	}

	return b.String()
}

// Equal reports whether both paths have equal segments.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}

	for i := range p {
		if !p[i].Equal(o[i]) {
			return false
		}
	}

	return true
}

// HasPrefix reports whether prefix matches the leading segments of p.
// "a.b" is a prefix of "a.b.c" but not of "a.bc".
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}

	return p[:len(prefix)].Equal(prefix)
}

// Parent drops the last segment.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return nil
	}

	return p[:len(p)-1:len(p)-1]
}

// Last returns the final segment and false for an empty path.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}

	return p[len(p)-1], true
}

// Append returns a new path with segs added. p is never modified.
func (p Path) Append(segs ...Segment) Path {
	out := make(Path, 0, len(p)+len(segs))
	out = append(out, p...)

	return append(out, segs...)
}

// Clone returns a copy of p.
func (p Path) Clone() Path {
	if p == nil {
		return nil
	}

	return append(Path(nil), p...)
}

// Match reports whether path matches pattern segment by segment. Wildcard
// segments from DecodeWildcard match any index or identity segment, or any
// reference value under the same name.
func Match(pattern, path Path) bool {
	if len(pattern) != len(path) {
		return false
	}

	for i, want := range pattern {
		got := path[i]

		switch {
		case want.Wildcard && want.Kind == KindIndex:
			if got.Kind != KindIndex && got.Kind != KindID {
				return false
			}
		case want.Wildcard && want.Kind == KindRef:
			if got.Kind != KindRef || got.Name != want.Name {
				return false
			}
		default:
			if !want.Equal(got) {
				return false
			}
		}
	}

	return true
}

// Genericize replaces every reference value with "*". It is idempotent.
func Genericize(path string) string {
	p := Decode(path)

	for i := range p {
		if p[i].Kind == KindRef {
			p[i].Value = WildcardValue
		}
	}

	return p.String()
}

// Valid reports whether path fits the grammar: every segment is a well-formed
// field, index, reference or identity, and no field is empty.
func Valid(path string) bool {
	if path == "" {
		return true
	}

	for _, s := range Decode(path) {
		if s.Kind == KindField && !isIdent(s.Name) {
			return false
		}

		if s.Kind == KindRef && s.Value != WildcardValue && !Valid(s.Value) && strings.ContainsAny(s.Value, "<>()[]") {
			return false
		}
	}

	return true
}
