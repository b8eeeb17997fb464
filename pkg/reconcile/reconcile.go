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

// Package reconcile merges an incoming module state with the local one.
//
// The local tree wins only where an unsent local edit lives and nothing else
// changed structurally; everything else follows the incoming tree. A remote
// echo that is structurally identical to the local tree never replaces it, so
// consumers holding the local tree keep the same value.
package reconcile

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/kvflat"
	"github.com/united-manufacturing-hub/statesync/pkg/lcs"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/statetree"
)

// Outcome names the branch a reconciliation took.
type Outcome string

const (
	// OutcomeTookOther: one side was absent and the other was returned.
	OutcomeTookOther Outcome = "took_other"
	// OutcomeKeptCurrent: both sides had the same content; current is returned as is.
	OutcomeKeptCurrent Outcome = "kept_current"
	// OutcomeAdoptedIncoming: no edit in flight and the content changed.
	OutcomeAdoptedIncoming Outcome = "adopted_incoming"
	// OutcomePreservedEdit: incoming was adopted with the local edit spliced in.
	OutcomePreservedEdit Outcome = "preserved_edit"
	// OutcomeStaleEdit: the edit was superseded by a newer local write; incoming wins.
	OutcomeStaleEdit Outcome = "stale_edit"
	// OutcomeEditDropped: incoming changed structurally around the edit; incoming wins
	// and the caller should surface a conflict.
	OutcomeEditDropped Outcome = "edit_dropped"
	// OutcomeRecovered: the merge failed and incoming was adopted.
	OutcomeRecovered Outcome = "recovered"
)

// Input is one reconciliation request.
type Input struct {
	// Module is used for logging and metrics only.
	Module   string
	Current  any
	Incoming any
	Manifest *manifest.Node
	// LastEditedPath is the path of the unsent local edit, nil when none is in flight.
	LastEditedPath *string
	// IsStale is true when a newer local write has been queued since the edit.
	IsStale bool
}

// Reconciler runs reconciliations.
type Reconciler struct {
	logger *zap.SugaredLogger
}

// NewReconciler creates a Reconciler. It panics if logger is nil.
func NewReconciler(logger *zap.SugaredLogger) *Reconciler {
	if logger == nil {
		panic("logger must not be nil")
	}

	return &Reconciler{logger: logger}
}

// Reconcile returns the tree to adopt. It never fails: any error or panic while
// merging yields Incoming.
func (r *Reconciler) Reconcile(in Input) (result any, outcome Outcome) {
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warnf("reconcile of module %s panicked, adopting incoming state: %v", in.Module, rec)
			result, outcome = in.Incoming, OutcomeRecovered
		}

		metrics.RecordReconcile(in.Module, string(outcome), time.Since(start))
	}()

	result, outcome, err := r.reconcile(in)
	if err != nil {
		r.logger.Warnf("reconcile of module %s failed, adopting incoming state: %v", in.Module, err)

		return in.Incoming, OutcomeRecovered
	}

	r.logger.Debugf("reconciled module %s: %s", in.Module, outcome)

	return result, outcome
}

func (r *Reconciler) reconcile(in Input) (any, Outcome, error) {
	if in.Current == nil {
		return in.Incoming, OutcomeTookOther, nil
	}

	if in.Incoming == nil {
		return in.Current, OutcomeTookOther, nil
	}

	if in.Manifest == nil {
		return nil, "", fmt.Errorf("no manifest for module %s", in.Module)
	}

	current := kvflat.Flatten(in.Manifest, in.Current, "")
	incoming := kvflat.Flatten(in.Manifest, in.Incoming, "")

	if in.LastEditedPath == nil {
		if Unchanged(in.Manifest, current, incoming) {
			return in.Current, OutcomeKeptCurrent, nil
		}

		return in.Incoming, OutcomeAdoptedIncoming, nil
	}

	if in.IsStale {
		return in.Incoming, OutcomeStaleEdit, nil
	}

	if Unchanged(in.Manifest, current, incoming) {
		return in.Current, OutcomeKeptCurrent, nil
	}

	edited := qp.Decode(*in.LastEditedPath)

	posCurrent, err := statetree.Positional(in.Manifest, in.Current, edited)
	if err != nil {
		return nil, "", fmt.Errorf("edited path %s not in current state: %w", *in.LastEditedPath, err)
	}

	posIncoming, err := statetree.Positional(in.Manifest, in.Incoming, edited)
	if err != nil || !posIncoming.Equal(posCurrent) {
		return in.Incoming, OutcomeEditDropped, nil
	}

	reCurrent := kvflat.ReindexArrays(current)
	reIncoming := kvflat.ReindexArrays(incoming)

	idxCurrent := kvflat.LongestPrefix(reCurrent, posCurrent)
	idxIncoming := kvflat.LongestPrefix(reIncoming, posIncoming)

	if idxCurrent < 0 || idxIncoming < 0 || reCurrent[idxCurrent].Path != reIncoming[idxIncoming].Path {
		return in.Incoming, OutcomeEditDropped, nil
	}

	if !samePathSet(reCurrent, reIncoming) {
		return in.Incoming, OutcomeEditDropped, nil
	}

	value, ok := statetree.Get(nil, in.Current, posCurrent)
	if !ok {
		return in.Incoming, OutcomeEditDropped, nil
	}

	merged, err := statetree.Set(nil, in.Incoming, posIncoming, value)
	if err != nil {
		return nil, "", fmt.Errorf("failed to splice edit at %s: %w", posIncoming, err)
	}

	return merged, OutcomePreservedEdit, nil
}

// Unchanged reports whether two flattenings of trees described by n hold the
// same rows and, for ordered struct arrays, the same element order. Set
// elements may appear in any order.
func Unchanged(n *manifest.Node, a, b []kvflat.Entry) bool {
	return SameContent(a, b) && maps.EqualFunc(elementOrder(n, a), elementOrder(n, b), slices.Equal[[]string])
}

// elementOrder lists the element tokens of every ordered struct array, keyed
// by the array path.
func elementOrder(n *manifest.Node, entries []kvflat.Entry) map[string][]string {
	order := map[string][]string{}

	for _, e := range entries {
		path := qp.Decode(e.Path)

		last, ok := path.Last()
		if !ok || last.Kind != qp.KindID {
			continue
		}

		parent := path.Parent()
		if node, ok := manifest.Lookup(n, parent); ok && node.Kind == manifest.KindArrayOfStruct {
			key := parent.String()
			order[key] = append(order[key], last.Value)
		}
	}

	return order
}

// SameContent reports whether two flattenings hold the same rows, ignoring
// their order.
func SameContent(a, b []kvflat.Entry) bool {
	if len(a) != len(b) {
		return false
	}

	return lcs.DiffStrings(sortedKeys(a), sortedKeys(b)).IsEmpty()
}

func sortedKeys(entries []kvflat.Entry) []string {
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = lcs.RowKey(e)
	}

	slices.Sort(keys)

	return keys
}

func samePathSet(a, b []kvflat.Entry) bool {
	if len(a) != len(b) {
		return false
	}

	pa := kvflat.Paths(a)
	pb := kvflat.Paths(b)
	slices.Sort(pa)
	slices.Sort(pb)

	return slices.Equal(pa, pb)
}
