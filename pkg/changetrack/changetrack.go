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

// Package changetrack holds the per-instance view state of a state editor:
// the command mode, what changed against a compared revision, unresolved
// conflicts, invalid paths per module and the paths copied over from a
// compared revision. All queries are pure lookups.
package changetrack

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
)

// CommandMode is what the user is currently doing.
type CommandMode string

const (
	ModeView    CommandMode = "view"
	ModeEdit    CommandMode = "edit"
	ModeCompare CommandMode = "compare"
)

// CompareFrom selects which side of a comparison is displayed.
type CompareFrom string

const (
	CompareNone   CompareFrom = "none"
	CompareBefore CompareFrom = "before"
	CompareAfter  CompareFrom = "after"
)

const (
	EventEdit    = "edit"
	EventCompare = "compare"
	EventView    = "view"
)

// ErrInvalidTransition is returned when a mode change is not allowed from the current mode.
var ErrInvalidTransition = errors.New("invalid mode transition")

// Inputs are the sources every derived set is rebuilt from.
type Inputs struct {
	Changeset  []string
	Conflicts  []string
	Invalidity map[string][]string
	Copied     []string
}

// Store is the change tracking state of one embedded instance.
type Store struct {
	name   string
	logger *zap.SugaredLogger
	fsm    *fsm.FSM

	mu         sync.RWMutex
	from       CompareFrom
	changeset  pathSet
	conflicts  pathSet
	invalidity map[string]pathSet
	copied     pathSet
}

// New creates a Store in view mode. name labels its metrics. It panics if
// logger is nil.
func New(name string, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		panic("logger must not be nil")
	}

	s := &Store{
		name:       name,
		logger:     logger,
		from:       CompareNone,
		changeset:  pathSet{},
		conflicts:  pathSet{},
		invalidity: map[string]pathSet{},
		copied:     pathSet{},
	}

	s.fsm = fsm.NewFSM(
		string(ModeView),
		fsm.Events{
			{Name: EventEdit, Src: []string{string(ModeView)}, Dst: string(ModeEdit)},
			{Name: EventCompare, Src: []string{string(ModeView), string(ModeEdit)}, Dst: string(ModeCompare)},
			{Name: EventView, Src: []string{string(ModeEdit), string(ModeCompare)}, Dst: string(ModeView)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugf("command mode %s -> %s", e.Src, e.Dst)
			},
			"leave_" + string(ModeCompare): func(_ context.Context, _ *fsm.Event) {
				s.mu.Lock()
				s.from = CompareNone
				s.mu.Unlock()
			},
		},
	)

	return s
}

// Mode returns the current command mode.
func (s *Store) Mode() CommandMode {
	return CommandMode(s.fsm.Current())
}

// From returns the displayed side of the comparison.
func (s *Store) From() CompareFrom {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.from
}

// Edit switches from view to edit mode.
func (s *Store) Edit(ctx context.Context) error {
	return s.event(ctx, EventEdit)
}

// Compare enters compare mode showing side from. Calling it while already
// comparing only switches the side.
func (s *Store) Compare(ctx context.Context, from CompareFrom) error {
	if from != CompareBefore && from != CompareAfter {
		return fmt.Errorf("%w: cannot compare from %q", ErrInvalidTransition, from)
	}

	if s.Mode() != ModeCompare {
		if err := s.event(ctx, EventCompare); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.from = from
	s.mu.Unlock()

	return nil
}

// View returns to view mode. It is a no-op in view mode.
func (s *Store) View(ctx context.Context) error {
	if s.Mode() == ModeView {
		return nil
	}

	return s.event(ctx, EventView)
}

func (s *Store) event(ctx context.Context, name string) error {
	if err := s.fsm.Event(ctx, name); err != nil {
		return fmt.Errorf("%w: %s from %s: %w", ErrInvalidTransition, name, s.fsm.Current(), err)
	}

	return nil
}

// Rebuild replaces every derived set.
func (s *Store) Rebuild(in Inputs) {
	invalidity := make(map[string]pathSet, len(in.Invalidity))
	for module, paths := range in.Invalidity {
		invalidity[module] = newPathSet(paths)
	}

	s.mu.Lock()
	s.changeset = newPathSet(in.Changeset)
	s.conflicts = newPathSet(in.Conflicts)
	s.invalidity = invalidity
	s.copied = newPathSet(in.Copied)
	s.mu.Unlock()

	s.reportConflicts()

	for module, paths := range invalidity {
		metrics.SetInvalidPaths(module, len(paths))
	}
}

// SetChangeset replaces the changeset.
func (s *Store) SetChangeset(paths []string) {
	s.mu.Lock()
	s.changeset = newPathSet(paths)
	s.mu.Unlock()
}

// SetInvalidity replaces the invalid paths of module.
func (s *Store) SetInvalidity(module string, paths []string) {
	s.mu.Lock()
	if len(paths) == 0 {
		delete(s.invalidity, module)
	} else {
		s.invalidity[module] = newPathSet(paths)
	}
	s.mu.Unlock()

	metrics.SetInvalidPaths(module, len(paths))
}

// AddConflict records an unresolved conflict at path.
func (s *Store) AddConflict(path string) {
	s.mu.Lock()
	s.conflicts.add(path)
	delete(s.copied, path)
	s.mu.Unlock()

	s.reportConflicts()
}

// ClearConflicts drops every conflict and the copy-list that resolved them.
func (s *Store) ClearConflicts() {
	s.mu.Lock()
	s.conflicts = pathSet{}
	s.copied = pathSet{}
	s.mu.Unlock()

	s.reportConflicts()
}

// MarkCopied records that the value at path was copied from the compared
// revision. A copied path and everything below it no longer counts as conflicting.
func (s *Store) MarkCopied(path string) {
	s.mu.Lock()
	s.copied.add(path)
	s.mu.Unlock()

	s.reportConflicts()
}

// Copied returns the copy-list in sorted order.
func (s *Store) Copied() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.copied.sorted()
}

// Changeset returns the changeset in sorted order.
func (s *Store) Changeset() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.changeset.sorted()
}

// Conflicts returns the unresolved conflicts in sorted order.
func (s *Store) Conflicts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.conflicts))
	for _, p := range s.conflicts.sorted() {
		if !s.isCopied(p) {
			out = append(out, p)
		}
	}

	return out
}

func (s *Store) reportConflicts() {
	metrics.SetConflicts(s.name, len(s.Conflicts()))
}

// WasAdded reports whether path is in the changeset while comparing from after.
func (s *Store) WasAdded(path string) bool {
	return s.changed(CompareAfter, path, false)
}

// WasAddedFuzzy is WasAdded, also matching changes above or below path.
func (s *Store) WasAddedFuzzy(path string) bool {
	return s.changed(CompareAfter, path, true)
}

// WasRemoved reports whether path is in the changeset while comparing from before.
func (s *Store) WasRemoved(path string) bool {
	return s.changed(CompareBefore, path, false)
}

// WasRemovedFuzzy is WasRemoved, also matching changes above or below path.
func (s *Store) WasRemovedFuzzy(path string) bool {
	return s.changed(CompareBefore, path, true)
}

func (s *Store) changed(from CompareFrom, path string, fuzzy bool) bool {
	if s.Mode() != ModeCompare {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.from != from {
		return false
	}

	if fuzzy {
		return s.changeset.matchFuzzy(path)
	}

	return s.changeset.has(path)
}

// HasConflict reports whether path has an unresolved conflict. Only true in compare mode.
func (s *Store) HasConflict(path string) bool {
	return s.conflicted(path, false)
}

// HasConflictFuzzy is HasConflict, also matching conflicts above or below path.
func (s *Store) HasConflictFuzzy(path string) bool {
	return s.conflicted(path, true)
}

func (s *Store) conflicted(path string, fuzzy bool) bool {
	if s.Mode() != ModeCompare {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for member := range s.conflicts {
		if s.isCopied(member) {
			continue
		}

		if member == path || (fuzzy && related(member, path)) {
			return true
		}
	}

	return false
}

// isCopied must be called with mu held.
func (s *Store) isCopied(path string) bool {
	p := qp.Decode(path)

	for c := range s.copied {
		if p.HasPrefix(qp.Decode(c)) {
			return true
		}
	}

	return false
}

// IsInvalid reports whether path is an invalid path of module.
func (s *Store) IsInvalid(module, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.invalidity[module].has(path)
}

// IsInvalidFuzzy is IsInvalid, also matching invalid paths above or below path.
func (s *Store) IsInvalidFuzzy(module, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.invalidity[module].matchFuzzy(path)
}

// Invalid returns the invalid paths of module in sorted order.
func (s *Store) Invalid(module string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.invalidity[module].sorted()
}
