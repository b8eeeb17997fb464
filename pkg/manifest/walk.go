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
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
)

// VisitFunc is called for every node reached by Walk, with the node's path in
// wildcard form ("items.[*].name"). Returning false skips the node's children.
type VisitFunc func(path string, node *Node) bool

// Walk visits n and its descendants depth first in sorted field order.
func Walk(n *Node, visit VisitFunc) {
	walk(nil, n, visit)
}

func walk(path qp.Path, n *Node, visit VisitFunc) {
	if !visit(path.String(), n) || n == nil {
		return
	}

	base := path
	if n.Kind == KindArrayOfStruct || n.Kind == KindSetOfStruct {
		base = path.Append(qp.Segment{Kind: qp.KindIndex, Wildcard: true})
	}

	for _, name := range n.SortedFieldNames() {
		walk(base.Append(qp.Field(name)), n.Fields[name], visit)
	}
}

// Lookup resolves path against the manifest rooted at root. Element segments
// (index, identity or reference) resolve to the collection node itself, since
// all elements share its description.
func Lookup(root *Node, path qp.Path) (*Node, bool) {
	node := root

	for i, seg := range path {
		if node == nil {
			return nil, false
		}

		switch seg.Kind {
		case qp.KindField, qp.KindRef:
			child, ok := node.Fields[seg.Name]
			if !ok || !node.IsStructLike() || child == nil {
				return nil, false
			}

			if seg.Kind == qp.KindRef && !child.IsCollection() {
				return nil, false
			}

			// struct-array fields are entered through an element segment
			if node.Kind != KindStruct && i > 0 && !isElement(path[i-1]) {
				return nil, false
			}

			node = child
		case qp.KindIndex, qp.KindID:
			if !node.IsCollection() {
				return nil, false
			}
		}
	}

	return node, true
}

func isElement(s qp.Segment) bool {
	return s.Kind == qp.KindIndex || s.Kind == qp.KindID || s.Kind == qp.KindRef
}
