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

package host

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

// DefaultQueueSize is the default bound of a Queue.
const DefaultQueueSize = 10000

// Queue holds outgoing packets of a session until the instance pulls them.
// When full, the oldest packets are dropped.
type Queue struct {
	limit  int
	logger *zap.SugaredLogger

	mu      sync.Mutex
	packets []transport.Packet
}

// NewQueue creates a Queue holding at most limit packets.
func NewQueue(limit int, logger *zap.SugaredLogger) *Queue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}

	return &Queue{limit: limit, logger: logger}
}

// Post implements transport.Poster.
func (q *Queue) Post(_ context.Context, p transport.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.packets = append(q.packets, p)

	if over := len(q.packets) - q.limit; over > 0 {
		q.logger.Warnf("pull queue full, dropping %d packets", over)
		q.packets = append(q.packets[:0:0], q.packets[over:]...)
	}

	return nil
}

// Drain returns and removes every queued packet.
func (q *Queue) Drain() []transport.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.packets
	q.packets = nil

	if out == nil {
		return []transport.Packet{}
	}

	return out
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.packets)
}
