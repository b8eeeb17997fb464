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

package instance

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/reconcile"
	"github.com/united-manufacturing-hub/statesync/pkg/statetree"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

func (i *Instance) handle(_ context.Context, msg *transport.Message) error {
	var err error

	switch msg.Command {
	case transport.CommandLoad:
		err = i.handleLoad(msg)
	case transport.CommandUpdate:
		err = i.handleUpdate(msg)
	case transport.CommandAck:
		err = i.handleAck(msg)
	default:
		err = fmt.Errorf("unexpected %s message from host", msg.Command)
	}

	if err != nil {
		metrics.IncErrorCount(metrics.ComponentInstance, i.cfg.Name)
	}

	return err
}

// handleLoad replaces every module. Edits in flight and unsent writes are dropped.
func (i *Instance) handleLoad(msg *transport.Message) error {
	var payload transport.LoadPayload
	if err := msg.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode load: %w", err)
	}

	i.mu.Lock()

	if i.closed {
		i.mu.Unlock()

		return ErrClosed
	}

	for _, module := range slices.Sorted(maps.Keys(payload)) {
		node, ok := i.manifests.Root(module)
		if !ok {
			i.logger.Warnf("ignoring module %s without manifest in load", module)

			continue
		}

		i.previous[module] = i.states[module]
		i.states[module] = payload[module]
		i.refreshInvalidity(module, node, payload[module])
	}

	i.lastEdited = map[string]lastEdit{}
	i.dirty = map[string]struct{}{}

	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}

	states := maps.Clone(i.states)
	subscribers := i.subscriberList()
	i.mu.Unlock()

	i.changes.ClearConflicts()
	i.logger.Infof("loaded %d modules", len(states))

	for _, module := range slices.Sorted(maps.Keys(states)) {
		notify(subscribers, module, states[module])
	}

	return nil
}

func (i *Instance) handleUpdate(msg *transport.Message) error {
	var payload transport.UpdatePayload
	if err := msg.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode update: %w", err)
	}

	node, ok := i.manifests.Root(payload.Module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, payload.Module)
	}

	i.mu.Lock()

	if i.closed {
		i.mu.Unlock()

		return ErrClosed
	}

	current := i.states[payload.Module]
	in := reconcile.Input{
		Module:   payload.Module,
		Current:  current,
		Incoming: payload.State,
		Manifest: node,
	}

	edit, editing := i.lastEdited[payload.Module]
	if editing {
		in.LastEditedPath = &edit.path
		in.IsStale = i.latestWrite[payload.Module] > edit.seq
	}

	result, outcome := i.reconciler.Reconcile(in)

	if outcome != reconcile.OutcomeKeptCurrent {
		i.previous[payload.Module] = current
		i.states[payload.Module] = result
		i.refreshInvalidity(payload.Module, node, result)
	}

	if outcome == reconcile.OutcomeEditDropped {
		delete(i.lastEdited, payload.Module)
		i.changes.AddConflict(conflictPath(node, result, edit.path))
	}

	subscribers := i.subscriberList()
	i.mu.Unlock()

	i.logger.Debugf("update of module %s: %s", payload.Module, outcome)

	if outcome != reconcile.OutcomeKeptCurrent {
		notify(subscribers, payload.Module, result)
	}

	return nil
}

// conflictPath renders path positionally against state, falling back to
// path itself when it no longer resolves.
func conflictPath(node *manifest.Node, state any, path string) string {
	pos, err := statetree.Positional(node, state, qp.Decode(path))
	if err != nil {
		return path
	}

	return pos.String()
}

func (i *Instance) handleAck(msg *transport.Message) error {
	var payload transport.AckPayload
	if err := msg.Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode ack: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if edit, ok := i.lastEdited[payload.Module]; ok && payload.Seq >= edit.seq {
		delete(i.lastEdited, payload.Module)
		i.logger.Debugf("host acknowledged module %s up to write %d", payload.Module, payload.Seq)
	}

	return nil
}
