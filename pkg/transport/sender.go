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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/united-manufacturing-hub/statesync/pkg/encoding"
	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
)

// IDStride is the step between consecutive message ids of one Sender. Two
// peers starting at 0 and 1 never reuse each other's ids.
const IDStride = 2

// DefaultMaxInFlight bounds concurrent posts per Sender.
const DefaultMaxInFlight = 16

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("sender is closed")

// SenderConfig configures a Sender.
type SenderConfig struct {
	ChunkSize int
	// Compress enables zstd+base64 for payloads above encoding.CompressionThreshold.
	Compress bool
	// FirstID is the id of the first message.
	FirstID     int64
	MaxInFlight int64
}

// Sender serializes messages, cuts them into packets and posts every packet
// on its own goroutine. It owns the message id counter.
type Sender struct {
	poster Poster
	logger *zap.SugaredLogger
	cfg    SenderConfig

	nextID atomic.Int64
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	postErr error
	base    context.Context
	cancel  context.CancelFunc
}

// NewSender creates a Sender. It panics if poster or logger is nil.
func NewSender(poster Poster, cfg SenderConfig, logger *zap.SugaredLogger) *Sender {
	if poster == nil {
		panic("poster must not be nil")
	}

	if logger == nil {
		panic("logger must not be nil")
	}

	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}

	base, cancel := context.WithCancel(context.Background())

	s := &Sender{
		poster: poster,
		logger: logger,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxInFlight),
		base:   base,
		cancel: cancel,
	}
	s.nextID.Store(cfg.FirstID)

	return s
}

// Send encodes the envelope and dispatches its packets. It returns once the
// packets are queued; delivery happens asynchronously and in no particular
// order. Only encoding errors are returned. Values from ctx are passed on to
// the poster but its cancellation is not, so queued packets still go out.
func (s *Sender) Send(ctx context.Context, tag *string, command Command, data any) (int64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return 0, ErrSenderClosed
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	text, err := encoding.Encode(Envelope{Command: command, Data: data}, s.cfg.Compress)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s message: %w", command, err)
	}

	id := s.nextID.Add(IDStride) - IDStride
	chunks := Split(text, s.cfg.ChunkSize)
	postCtx := mergeValues(s.base, ctx)

	for i, chunk := range chunks {
		p := Packet{
			ID:           id,
			Chunk:        chunk,
			Index:        i,
			TotalPackets: len(chunks) - 1,
			ChannelTag:   tag,
		}

		s.wg.Add(1)

		go s.post(postCtx, p)
	}

	metrics.AddPackets("out", len(chunks))
	metrics.IncMessages("out", string(command))
	s.logger.Debugf("sending %s message %d in %d packets (%d bytes)", command, id, len(chunks), len(text))

	return id, nil
}

func (s *Sender) post(ctx context.Context, p Packet) {
	defer s.wg.Done()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.recordErr(fmt.Errorf("packet %d/%d of message %d not sent: %w", p.Index, p.TotalPackets, p.ID, err))

		return
	}
	defer s.sem.Release(1)

	if err := s.poster.Post(ctx, p); err != nil {
		s.recordErr(fmt.Errorf("failed to post packet %d/%d of message %d: %w", p.Index, p.TotalPackets, p.ID, err))
	}
}

func (s *Sender) recordErr(err error) {
	s.logger.Warnf("%v", err)
	metrics.IncErrorCount(metrics.ComponentTransport, "sender")

	s.mu.Lock()
	s.postErr = errors.Join(s.postErr, err)
	s.mu.Unlock()
}

// Flush waits until every dispatched packet was posted or ctx is done, and
// returns the post errors collected since the previous Flush.
func (s *Sender) Flush(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.postErr
	s.postErr = nil

	return err
}

// Close rejects further sends and cancels posts still waiting for a slot.
func (s *Sender) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
}

// NextID returns the id the next message will get.
func (s *Sender) NextID() int64 {
	return s.nextID.Load()
}

// valueCtx carries the values of one context and the lifetime of another.
type valueCtx struct {
	context.Context
	values context.Context
}

func (c valueCtx) Value(key any) any {
	if v := c.Context.Value(key); v != nil {
		return v
	}

	return c.values.Value(key)
}

func mergeValues(lifetime, values context.Context) context.Context {
	if values == nil {
		return lifetime
	}

	return valueCtx{Context: lifetime, values: values}
}
