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

// Package transport moves serialized messages over a channel that only carries
// bounded-size text chunks.
//
// A message is the JSON envelope {"command": ..., "data": ...}, optionally zstd
// compressed and base64 encoded, cut into Packets. The receiving side
// reassembles packets of one id in any order and delivers each message once.
package transport

import (
	"context"
	"encoding/json"

	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
)

// Command is the verb of a message.
type Command string

const (
	// CommandReady is sent by an instance once it can accept state.
	CommandReady Command = "ready"
	// CommandLoad carries the full state of every module.
	CommandLoad Command = "load"
	// CommandUpdate carries the new state of one module.
	CommandUpdate Command = "update"
	// CommandSave carries a locally written module state to the host.
	CommandSave Command = "save"
	// CommandAck confirms a save.
	CommandAck Command = "ack"
)

// Packet is one chunk of a message on the wire.
type Packet struct {
	// ID identifies the message; all packets of a message share it.
	ID int64 `json:"id"`
	// Chunk is the slice of the encoded message carried by this packet.
	Chunk string `json:"chunk"`
	// Index is the 0-based position of Chunk.
	Index int `json:"index"`
	// TotalPackets is the number of packets of the message minus one.
	TotalPackets int `json:"totalPackets"`
	// ChannelTag optionally names the module the message concerns.
	ChannelTag *string `json:"channelTag"`
}

// Envelope is the payload that gets chunked.
type Envelope struct {
	Command Command `json:"command"`
	Data    any     `json:"data,omitempty"`
}

// Message is a reassembled envelope. Data stays raw until decoded.
type Message struct {
	ID         int64           `json:"id"`
	ChannelTag *string         `json:"channelTag,omitempty"`
	Command    Command         `json:"command"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the message data into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}

	return safejson.Unmarshal(m.Data, v)
}

// Tag returns the channel tag or "".
func (m *Message) Tag() string {
	if m.ChannelTag == nil {
		return ""
	}

	return *m.ChannelTag
}

// Poster delivers one packet to the other side.
type Poster interface {
	Post(ctx context.Context, packet Packet) error
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(ctx context.Context, packet Packet) error

// Post implements Poster.
func (f PosterFunc) Post(ctx context.Context, packet Packet) error {
	return f(ctx, packet)
}

// Tag returns a pointer to tag, or nil for "".
func Tag(tag string) *string {
	if tag == "" {
		return nil
	}

	return &tag
}
