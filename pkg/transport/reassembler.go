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

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/encoding"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
)

const (
	// DefaultPendingTTL is how long an incomplete message waits for its
	// missing chunks.
	DefaultPendingTTL = 5 * time.Minute
	// DefaultCompletedTTL is how long delivered ids are remembered to reject
	// duplicate packets.
	DefaultCompletedTTL = 10 * time.Minute
)

// ErrInvalidPacket is returned for packets whose index or count is out of range,
// or that disagree with earlier packets of the same id.
var ErrInvalidPacket = errors.New("invalid packet")

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	PendingTTL   time.Duration
	CompletedTTL time.Duration
}

type buffer struct {
	chunks   []string
	filled   []bool
	received int
	tag      string
}

// Reassembler collects packets into messages.
//
// Packets of one id may arrive in any order; the message is decoded and
// returned by the Receive call that delivers its last missing chunk, and never
// again. When a tagged message completes, incomplete messages with a lower id
// on the same channel tag are dropped as superseded, and so is any packet that
// arrives later for a lower id on that tag. Incomplete messages that see no
// packet for PendingTTL are evicted.
type Reassembler struct {
	logger *zap.SugaredLogger

	mu        sync.Mutex
	pending   *expiremap.ExpireMap[int64, *buffer]
	completed *expiremap.ExpireMap[int64, struct{}]
	// latest is the highest completed id per channel tag
	latest map[string]int64
}

// NewReassembler creates a Reassembler. It panics if logger is nil.
func NewReassembler(cfg ReassemblerConfig, logger *zap.SugaredLogger) *Reassembler {
	if logger == nil {
		panic("logger must not be nil")
	}

	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}

	if cfg.CompletedTTL <= 0 {
		cfg.CompletedTTL = DefaultCompletedTTL
	}

	return &Reassembler{
		logger:    logger,
		pending:   expiremap.NewEx[int64, *buffer](cullInterval(cfg.PendingTTL), cfg.PendingTTL),
		completed: expiremap.NewEx[int64, struct{}](cullInterval(cfg.CompletedTTL), cfg.CompletedTTL),
		latest:    map[string]int64{},
	}
}

func cullInterval(ttl time.Duration) time.Duration {
	if ttl < 2*time.Second {
		return ttl / 2
	}

	return time.Second
}

// Receive adds p. It returns the message when p completes it, nil otherwise.
func (r *Reassembler) Receive(p Packet) (*Message, error) {
	if p.TotalPackets < 0 || p.Index < 0 || p.Index > p.TotalPackets {
		return nil, fmt.Errorf("%w: index %d of %d for message %d", ErrInvalidPacket, p.Index, p.TotalPackets, p.ID)
	}

	metrics.AddPackets("in", 1)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.completed.Load(p.ID); done {
		r.logger.Debugf("ignoring packet %d of finished message %d", p.Index, p.ID)

		return nil, nil
	}

	tag := tagOf(p.ChannelTag)
	if latest, seen := r.latest[tag]; seen && tag != "" && p.ID < latest {
		r.pending.Delete(p.ID)
		r.completed.Set(p.ID, struct{}{})
		metrics.SetPendingMessages(r.pending.Length())
		metrics.AddPrunedMessages(1)
		r.logger.Debugf("dropped packet %d of message %d, superseded by %d on %s", p.Index, p.ID, latest, tag)

		return nil, nil
	}

	buf, ok := r.load(p.ID)
	if !ok {
		buf = &buffer{
			chunks: make([]string, p.TotalPackets+1),
			filled: make([]bool, p.TotalPackets+1),
			tag:    tag,
		}
	}

	if len(buf.chunks) != p.TotalPackets+1 {
		return nil, fmt.Errorf("%w: message %d announced %d packets, earlier packets announced %d",
			ErrInvalidPacket, p.ID, p.TotalPackets+1, len(buf.chunks))
	}

	if !buf.filled[p.Index] {
		buf.chunks[p.Index] = p.Chunk
		buf.filled[p.Index] = true
		buf.received++
	}

	if buf.received < len(buf.chunks) {
		// Set refreshes the TTL
		r.pending.Set(p.ID, buf)
		metrics.SetPendingMessages(r.pending.Length())

		return nil, nil
	}

	r.pending.Delete(p.ID)
	r.completed.Set(p.ID, struct{}{})
	r.prune(p.ID, buf.tag)

	if buf.tag != "" {
		r.latest[buf.tag] = max(r.latest[buf.tag], p.ID)
	}

	metrics.SetPendingMessages(r.pending.Length())

	msg, err := decode(p.ID, p.ChannelTag, strings.Join(buf.chunks, ""))
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentTransport, "reassembler")

		return nil, err
	}

	metrics.IncMessages("in", string(msg.Command))

	return msg, nil
}

func (r *Reassembler) load(id int64) (*buffer, bool) {
	v, ok := r.pending.Load(id)
	if !ok || v == nil {
		return nil, false
	}

	return *v, true
}

// prune drops incomplete messages older than id on the same tag. Untagged
// messages are never dropped.
func (r *Reassembler) prune(id int64, tag string) {
	if tag == "" {
		return
	}

	var stale []int64

	r.pending.Range(func(other int64, buf *buffer) bool {
		if other < id && buf.tag == tag {
			stale = append(stale, other)
		}

		return true
	})

	for _, other := range stale {
		r.pending.Delete(other)
		r.completed.Set(other, struct{}{})
		r.logger.Debugf("dropped incomplete message %d, superseded by %d", other, id)
	}

	if len(stale) > 0 {
		metrics.AddPrunedMessages(len(stale))
	}
}

// Pending returns the number of incomplete messages.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.pending.Length()
}

func tagOf(tag *string) string {
	if tag == nil {
		return ""
	}

	return *tag
}

func decode(id int64, tag *string, text string) (*Message, error) {
	var env struct {
		Command Command         `json:"command"`
		Data    json.RawMessage `json:"data"`
	}

	if err := encoding.Decode(text, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message %d: %w", id, err)
	}

	if env.Command == "" {
		return nil, fmt.Errorf("message %d has no command", id)
	}

	return &Message{ID: id, ChannelTag: tag, Command: env.Command, Data: env.Data}, nil
}
