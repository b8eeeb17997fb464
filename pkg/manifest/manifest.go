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

// Package manifest describes the shape of a module's state tree.
//
// A manifest is a tree of Nodes. Each node has a Kind; struct-like kinds
// (Struct, ArrayOfStruct, SetOfStruct) carry Fields describing the struct or
// the array element. Traversal is always in lexicographic field order.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind tags the variant of a Node.
type Kind uint8

const (
	KindScalar Kind = iota
	KindArrayOfPrimitive
	KindArrayOfStruct
	KindSetOfStruct
	KindReference
	KindStruct
)

var kindNames = map[Kind]string{
	KindScalar:           "scalar",
	KindArrayOfPrimitive: "arrayOfPrimitive",
	KindArrayOfStruct:    "arrayOfStruct",
	KindSetOfStruct:      "setOfStruct",
	KindReference:        "reference",
	KindStruct:           "struct",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown manifest kind %d", uint8(k))
	}

	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Names are matched
// case-insensitively.
func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if strings.EqualFold(name, string(text)) {
			*k = kind

			return nil
		}
	}

	return fmt.Errorf("unknown manifest kind %q", string(text))
}

// Primitive is the value type of scalars and primitive array items.
type Primitive string

const (
	PrimitiveString  Primitive = "string"
	PrimitiveInt     Primitive = "int"
	PrimitiveFloat   Primitive = "float"
	PrimitiveBoolean Primitive = "boolean"
)

// Node is one manifest entry.
type Node struct {
	Kind      Kind      `yaml:"kind" json:"kind"`
	Primitive Primitive `yaml:"type,omitempty" json:"type,omitempty"`
	// IsKey marks the identifying field of an array or set element.
	IsKey    bool `yaml:"isKey,omitempty" json:"isKey,omitempty"`
	Nullable bool `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	// Bounded enables the Min/Max checks: numeric range for numbers, length for
	// strings and arrays.
	Bounded bool     `yaml:"bounded,omitempty" json:"bounded,omitempty"`
	Min     *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	// RefType names the module or type a Reference points into.
	RefType string           `yaml:"refType,omitempty" json:"refType,omitempty"`
	Fields  map[string]*Node `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// IsStructLike reports whether the node carries Fields.
func (n *Node) IsStructLike() bool {
	if n == nil {
		return false
	}

	return n.Kind == KindStruct || n.Kind == KindArrayOfStruct || n.Kind == KindSetOfStruct
}

// IsCollection reports whether the node holds a list of elements.
func (n *Node) IsCollection() bool {
	if n == nil {
		return false
	}

	return n.Kind == KindArrayOfPrimitive || n.Kind == KindArrayOfStruct || n.Kind == KindSetOfStruct
}

// IsRecordField reports whether the node is emitted inside its parent's
// combined record when flattening: scalars, references and primitive arrays.
func (n *Node) IsRecordField() bool {
	if n == nil {
		return false
	}

	return n.Kind == KindScalar || n.Kind == KindReference || n.Kind == KindArrayOfPrimitive
}

// SortedFieldNames returns the field names in traversal order.
func (n *Node) SortedFieldNames() []string {
	if n == nil || len(n.Fields) == 0 {
		return nil
	}

	names := make([]string, 0, len(n.Fields))
	for name := range n.Fields {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// KeyField returns the name of the element field marked IsKey.
func (n *Node) KeyField() (string, bool) {
	for _, name := range n.SortedFieldNames() {
		if n.Fields[name].IsKey {
			return name, true
		}
	}

	return "", false
}

var (
	ErrMultipleKeys     = errors.New("more than one field is marked isKey")
	ErrMissingFields    = errors.New("struct-like node has no fields")
	ErrMissingPrimitive = errors.New("primitive node has no type")
	ErrNilNode          = errors.New("nil manifest node")
)

// Validate checks the whole tree below n.
func (n *Node) Validate() error {
	if n == nil {
		return ErrNilNode
	}

	var errs []error

	Walk(n, func(path string, node *Node) bool {
		if node == nil {
			errs = append(errs, fmt.Errorf("%s: %w", displayPath(path), ErrNilNode))

			return false
		}

		switch node.Kind {
		case KindScalar, KindArrayOfPrimitive:
			if !validPrimitive(node.Primitive) {
				errs = append(errs, fmt.Errorf("%s: %w", displayPath(path), ErrMissingPrimitive))
			}
		case KindStruct, KindArrayOfStruct, KindSetOfStruct:
			if len(node.Fields) == 0 {
				errs = append(errs, fmt.Errorf("%s: %w", displayPath(path), ErrMissingFields))
			}

			keys := 0
			for _, f := range node.Fields {
				if f != nil && f.IsKey {
					keys++
				}
			}

			if keys > 1 {
				errs = append(errs, fmt.Errorf("%s: %w", displayPath(path), ErrMultipleKeys))
			}
		}

		return true
	})

	return errors.Join(errs...)
}

func validPrimitive(p Primitive) bool {
	switch p {
	case PrimitiveString, PrimitiveInt, PrimitiveFloat, PrimitiveBoolean:
		return true
	default:
		return false
	}
}

func displayPath(path string) string {
	if path == "" {
		return "<root>"
	}

	return path
}
