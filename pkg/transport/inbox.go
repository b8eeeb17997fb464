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
	"fmt"
	"sync"
)

// Handler consumes a reassembled message.
type Handler func(ctx context.Context, msg *Message) error

// Inbox is the receiving end of a channel. Every packet posted to it goes
// through its Reassembler and each completed message is passed to the
// handler on the posting goroutine, one message at a time in completion order. An Inbox is itself a Poster, so a Sender
// posting straight into an Inbox is an in-process channel.
type Inbox struct {
	mu          sync.Mutex
	reassembler *Reassembler
	handler     Handler
}

// NewInbox creates an Inbox. It panics if reassembler or handler is nil.
func NewInbox(reassembler *Reassembler, handler Handler) *Inbox {
	if reassembler == nil {
		panic("reassembler must not be nil")
	}

	if handler == nil {
		panic("handler must not be nil")
	}

	return &Inbox{reassembler: reassembler, handler: handler}
}

// Post implements Poster.
func (i *Inbox) Post(ctx context.Context, packet Packet) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	msg, err := i.reassembler.Receive(packet)
	if err != nil {
		return err
	}

	if msg == nil {
		return nil
	}

	if err := i.handler(ctx, msg); err != nil {
		return fmt.Errorf("failed to handle %s message %d: %w", msg.Command, msg.ID, err)
	}

	return nil
}

// Pending returns the number of incomplete messages.
func (i *Inbox) Pending() int {
	return i.reassembler.Pending()
}
