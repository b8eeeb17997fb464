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

// Package instance is the embedded side of a state sync session. It holds the
// application state of every module, merges host updates with unsent local
// edits, and sends local writes back to the host after a debounce.
package instance

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/changetrack"
	"github.com/united-manufacturing-hub/statesync/pkg/hash"
	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	qp "github.com/united-manufacturing-hub/statesync/pkg/querypath"
	"github.com/united-manufacturing-hub/statesync/pkg/reconcile"
	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
	"github.com/united-manufacturing-hub/statesync/pkg/statetree"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

// DefaultDebounce is the quiet period after the last local write before it is sent.
const DefaultDebounce = 300 * time.Millisecond

var (
	// ErrNotEditMode is returned by Edit outside of edit mode.
	ErrNotEditMode = errors.New("instance is not in edit mode")
	// ErrUnknownModule is returned for modules without a manifest.
	ErrUnknownModule = errors.New("unknown module")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("instance is closed")
)

// Config configures an Instance.
type Config struct {
	// Name labels logs and metrics.
	Name        string
	Debounce    time.Duration
	Sender      transport.SenderConfig
	Reassembler transport.ReassemblerConfig
}

// Subscriber receives the new state of a module. It must not modify state.
type Subscriber func(module string, state any)

type lastEdit struct {
	path string
	seq  uint64
}

// Instance is one embedded state sync endpoint.
type Instance struct {
	cfg        Config
	manifests  manifest.Set
	logger     *zap.SugaredLogger
	reconciler *reconcile.Reconciler
	sender     *transport.Sender
	inbox      *transport.Inbox
	changes    *changetrack.Store

	mu          sync.Mutex
	states      map[string]any
	previous    map[string]any
	lastEdited  map[string]lastEdit
	latestWrite map[string]uint64
	writeSeq    uint64
	dirty       map[string]struct{}
	timer       *time.Timer
	subscribers map[int]Subscriber
	nextSubID   int
	closed      bool
}

// New creates an Instance posting to poster. It panics if poster or logger is nil.
func New(cfg Config, manifests manifest.Set, poster transport.Poster, logger *zap.SugaredLogger) *Instance {
	if logger == nil {
		panic("logger must not be nil")
	}

	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	if cfg.Name == "" {
		cfg.Name = "instance"
	}

	i := &Instance{
		cfg:         cfg,
		manifests:   manifests,
		logger:      logger,
		reconciler:  reconcile.NewReconciler(logger),
		sender:      transport.NewSender(poster, cfg.Sender, logger),
		changes:     changetrack.New(cfg.Name, logger),
		states:      map[string]any{},
		previous:    map[string]any{},
		lastEdited:  map[string]lastEdit{},
		latestWrite: map[string]uint64{},
		dirty:       map[string]struct{}{},
		subscribers: map[int]Subscriber{},
	}
	i.inbox = transport.NewInbox(transport.NewReassembler(cfg.Reassembler, logger), i.handle)

	return i
}

// Changes returns the change tracking store of this instance.
func (i *Instance) Changes() *changetrack.Store {
	return i.changes
}

// Inbox returns the Poster that host packets are delivered to.
func (i *Instance) Inbox() transport.Poster {
	return i.inbox
}

// HandlePacket processes one packet from the host.
func (i *Instance) HandlePacket(ctx context.Context, p transport.Packet) error {
	return i.inbox.Post(ctx, p)
}

// Ready asks the host for the initial load.
func (i *Instance) Ready(ctx context.Context) error {
	if i.isClosed() {
		return ErrClosed
	}

	_, err := i.sender.Send(ctx, nil, transport.CommandReady, nil)

	return err
}

// ApplicationState returns the current revision of module. The returned value
// is shared and must not be modified.
func (i *Instance) ApplicationState(module string) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	state, ok := i.states[module]

	return state, ok
}

// ApplicationStates returns the current revision of every module.
func (i *Instance) ApplicationStates() map[string]any {
	i.mu.Lock()
	defer i.mu.Unlock()

	return maps.Clone(i.states)
}

// Revision returns a fingerprint of the canonical JSON of module's state, or
// "" for an unknown module.
func (i *Instance) Revision(module string) string {
	state, ok := i.ApplicationState(module)
	if !ok {
		return ""
	}

	raw, err := safejson.Marshal(state)
	if err != nil {
		return ""
	}

	return hash.Sha3Hash(raw)
}

// Subscribe registers fn for state changes and returns a function removing it.
// Remote changes are delivered right away, local writes once debounced.
func (i *Instance) Subscribe(fn Subscriber) (unsubscribe func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := i.nextSubID
	i.nextSubID++
	i.subscribers[id] = fn

	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		delete(i.subscribers, id)
	}
}

// EnterEdit switches the command mode to edit.
func (i *Instance) EnterEdit(ctx context.Context) error {
	return i.changes.Edit(ctx)
}

// View switches the command mode back to view.
func (i *Instance) View(ctx context.Context) error {
	return i.changes.View(ctx)
}

// Compare switches to compare mode and rebuilds the changeset of module
// between the revision before the last remote change and the current one.
func (i *Instance) Compare(ctx context.Context, module string, from changetrack.CompareFrom) error {
	node, ok := i.manifests.Root(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	if err := i.changes.Compare(ctx, from); err != nil {
		return err
	}

	i.mu.Lock()
	before, after := i.previous[module], i.states[module]
	i.mu.Unlock()

	i.changes.SetChangeset(changetrack.ComputeChangeset(node, before, after, from))

	return nil
}

// SaveState replaces module's state with a local write.
func (i *Instance) SaveState(ctx context.Context, module string, state any) error {
	node, ok := i.manifests.Root(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	state, err := statetree.Clone(state)
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}

	i.states[module] = state
	i.recordWrite(module)
	i.refreshInvalidity(module, node, state)

	return nil
}

// Edit sets the value at path, a keyed or positional path into module's
// state. Only allowed in edit mode. The edit is protected from remote updates
// until the host acknowledges it.
func (i *Instance) Edit(ctx context.Context, module, path string, value any) error {
	if i.changes.Mode() != changetrack.ModeEdit {
		return ErrNotEditMode
	}

	node, ok := i.manifests.Root(module)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return ErrClosed
	}

	next, err := statetree.Set(node, i.states[module], qp.Decode(path), value)
	if err != nil {
		return fmt.Errorf("failed to edit %s of module %s: %w", path, module, err)
	}

	i.states[module] = next
	seq := i.recordWrite(module)
	i.lastEdited[module] = lastEdit{path: path, seq: seq}
	i.refreshInvalidity(module, node, next)

	return nil
}

// recordWrite must be called with mu held.
func (i *Instance) recordWrite(module string) uint64 {
	i.writeSeq++
	i.latestWrite[module] = i.writeSeq
	i.dirty[module] = struct{}{}

	if i.timer != nil {
		i.timer.Stop()
	}

	i.timer = time.AfterFunc(i.cfg.Debounce, i.flushDirty)

	return i.writeSeq
}

func (i *Instance) refreshInvalidity(module string, node *manifest.Node, state any) {
	i.changes.SetInvalidity(module, manifest.InvalidPaths(node, state))
}

// Flush sends pending local writes now and waits until their packets were posted.
func (i *Instance) Flush(ctx context.Context) error {
	i.mu.Lock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.mu.Unlock()

	i.flushDirty()

	return i.sender.Flush(ctx)
}

func (i *Instance) flushDirty() {
	i.mu.Lock()

	if i.closed || len(i.dirty) == 0 {
		i.mu.Unlock()

		return
	}

	modules := slices.Sorted(maps.Keys(i.dirty))
	saves := make([]transport.SavePayload, 0, len(modules))

	for _, module := range modules {
		saves = append(saves, transport.SavePayload{
			Module: module,
			Seq:    i.latestWrite[module],
			State:  i.states[module],
		})
	}

	i.dirty = map[string]struct{}{}
	subscribers := i.subscriberList()
	i.mu.Unlock()

	for _, save := range saves {
		if _, err := i.sender.Send(context.Background(), transport.Tag(save.Module), transport.CommandSave, save); err != nil {
			metrics.IncErrorCount(metrics.ComponentInstance, i.cfg.Name)
			sentry.ReportModuleError(i.logger, save.Module, "save", err)

			continue
		}

		i.logger.Debugf("sent module %s at write %d", save.Module, save.Seq)
		notify(subscribers, save.Module, save.State)
	}
}

// subscriberList must be called with mu held.
func (i *Instance) subscriberList() []Subscriber {
	ids := slices.Sorted(maps.Keys(i.subscribers))
	out := make([]Subscriber, 0, len(ids))

	for _, id := range ids {
		out = append(out, i.subscribers[id])
	}

	return out
}

func notify(subscribers []Subscriber, module string, state any) {
	for _, fn := range subscribers {
		fn(module, state)
	}
}

// Close stops the debounce timer and the sender. Unsent writes are dropped.
func (i *Instance) Close() {
	i.mu.Lock()
	i.closed = true

	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.mu.Unlock()

	i.sender.Close()
}

func (i *Instance) isClosed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.closed
}
