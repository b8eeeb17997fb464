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
	"fmt"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

// Session is the host end of one connected instance.
type Session struct {
	id     string
	hub    *Hub
	logger *zap.SugaredLogger
	sender *transport.Sender
	inbox  *transport.Inbox
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Inbox returns the Poster the instance's packets are delivered to.
func (s *Session) Inbox() transport.Poster {
	return s.inbox
}

// Flush waits until the packets sent to the instance were posted.
func (s *Session) Flush(ctx context.Context) error {
	return s.sender.Flush(ctx)
}

func (s *Session) send(ctx context.Context, tag string, command transport.Command, data any) error {
	_, err := s.sender.Send(ctx, transport.Tag(tag), command, data)

	return err
}

func (s *Session) handle(ctx context.Context, msg *transport.Message) error {
	switch msg.Command {
	case transport.CommandReady:
		return s.send(ctx, "", transport.CommandLoad, transport.LoadPayload(s.hub.States()))
	case transport.CommandSave:
		var save transport.SavePayload
		if err := msg.Decode(&save); err != nil {
			return fmt.Errorf("failed to decode save: %w", err)
		}

		ack := func(ctx context.Context) error {
			s.logger.Debugf("applied module %s at write %d", save.Module, save.Seq)

			return s.send(ctx, "", transport.CommandAck, transport.AckPayload{Module: save.Module, Seq: save.Seq})
		}

		if err := s.hub.commit(ctx, save.Module, save.State, ack); err != nil {
			metrics.IncErrorCount(metrics.ComponentHost, s.id)

			return err
		}

		return nil
	default:
		metrics.IncErrorCount(metrics.ComponentHost, s.id)

		return fmt.Errorf("unexpected %s message from instance", msg.Command)
	}
}
