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

// Package host is the authoritative side of state sync. A Hub keeps the state
// of every module and one Session per connected instance; saves from one
// instance are acknowledged to it and then pushed to every session, the saving
// one included, as updates.
package host

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/manifest"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	"github.com/united-manufacturing-hub/statesync/pkg/statetree"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

var (
	// ErrUnknownModule is returned for modules without a manifest.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownSession is returned for session ids the hub does not know.
	ErrUnknownSession = errors.New("unknown session")
)

// Config configures a Hub.
type Config struct {
	Sender      transport.SenderConfig
	Reassembler transport.ReassemblerConfig
	// QueueSize bounds the packets held for a pulling session.
	QueueSize int
}

// Hub owns the module states and the sessions.
type Hub struct {
	cfg       Config
	manifests manifest.Set
	logger    *zap.SugaredLogger

	mu       sync.RWMutex
	states   map[string]any
	sessions map[string]*Session
	// commits of one module are serialized so every session sees them in
	// store order
	commits map[string]*sync.Mutex
}

// NewHub creates a Hub holding initial. It panics if logger is nil.
func NewHub(cfg Config, manifests manifest.Set, initial map[string]any, logger *zap.SugaredLogger) *Hub {
	if logger == nil {
		panic("logger must not be nil")
	}

	// the host side of every session owns the odd message ids
	cfg.Sender.FirstID = 1

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}

	states := maps.Clone(initial)
	if states == nil {
		states = map[string]any{}
	}

	return &Hub{
		cfg:       cfg,
		manifests: manifests,
		logger:    logger,
		states:    states,
		sessions:  map[string]*Session{},
		commits:   map[string]*sync.Mutex{},
	}
}

// Open starts a session whose outgoing packets go to poster.
func (h *Hub) Open(poster transport.Poster) *Session {
	id := uuid.NewString()
	log := h.logger.With("session", id)

	s := &Session{
		id:     id,
		hub:    h,
		logger: log,
		sender: transport.NewSender(poster, h.cfg.Sender, log),
	}
	s.inbox = transport.NewInbox(transport.NewReassembler(h.cfg.Reassembler, log), s.handle)

	h.mu.Lock()
	h.sessions[id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	metrics.SetSessions(n)
	log.Infof("session opened")

	return s
}

// Session returns the session with id.
func (h *Hub) Session(id string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[id]

	return s, ok
}

// Close ends the session with id.
func (h *Hub) Close(id string) error {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}

	s.sender.Close()
	metrics.SetSessions(n)
	s.logger.Infof("session closed")

	return nil
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		_ = h.Close(id)
	}
}

// Sessions returns the number of open sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

// State returns the current state of module.
func (h *Hub) State(module string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	state, ok := h.states[module]

	return state, ok
}

// States returns the current state of every module.
func (h *Hub) States() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return maps.Clone(h.states)
}

// PushUpdate replaces module's state and sends it to every session.
func (h *Hub) PushUpdate(ctx context.Context, module string, state any) error {
	return h.commit(ctx, module, state, nil)
}

// commit stores state, runs ack and broadcasts the stored state while holding
// the module's commit lock.
func (h *Hub) commit(ctx context.Context, module string, state any, ack func(ctx context.Context) error) error {
	unlock := h.lockModule(module)
	defer unlock()

	state, err := h.store(module, state)
	if err != nil {
		return err
	}

	if ack != nil {
		if err := ack(ctx); err != nil {
			return err
		}
	}

	h.broadcast(ctx, module, state)

	return nil
}

func (h *Hub) lockModule(module string) func() {
	h.mu.Lock()
	l, ok := h.commits[module]
	if !ok {
		l = &sync.Mutex{}
		h.commits[module] = l
	}
	h.mu.Unlock()

	l.Lock()

	return l.Unlock
}

func (h *Hub) store(module string, state any) (any, error) {
	node, ok := h.manifests.Root(module)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}

	state, err := statetree.Clone(state)
	if err != nil {
		return nil, err
	}

	if invalid := manifest.InvalidPaths(node, state); len(invalid) > 0 {
		h.logger.Debugf("module %s has %d invalid paths: %v", module, len(invalid), invalid)
	}

	h.mu.Lock()
	h.states[module] = state
	h.mu.Unlock()

	return state, nil
}

// broadcast sends an update to every session.
func (h *Hub) broadcast(ctx context.Context, module string, state any) {
	h.mu.RLock()
	targets := slices.Collect(maps.Values(h.sessions))
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(ctx, module, transport.CommandUpdate, transport.UpdatePayload{Module: module, State: state}); err != nil {
			s.logger.Warnf("failed to send update of module %s: %v", module, err)
		}
	}
}
