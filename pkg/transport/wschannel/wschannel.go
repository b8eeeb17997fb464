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

// Package wschannel carries transport packets as JSON text frames over a
// websocket. The same Conn is used by the host after upgrading a request and
// by an instance after dialing.
package wschannel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/metrics"
	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

const (
	// WriteTimeout bounds a single frame write when the post context has no deadline.
	WriteTimeout = 10 * time.Second

	bufferSize = 16 * 1024
)

// ErrClosed is returned by Post after Close.
var ErrClosed = errors.New("websocket channel closed")

// Upgrader is used by Upgrade. Origin checks are left to the caller's router.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  bufferSize,
	WriteBufferSize: bufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is a packet channel over one websocket connection.
type Conn struct {
	ws     *websocket.Conn
	logger *zap.SugaredLogger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an established websocket. It panics if ws or logger is nil.
func New(ws *websocket.Conn, logger *zap.SugaredLogger) *Conn {
	if ws == nil {
		panic("websocket must not be nil")
	}

	if logger == nil {
		panic("logger must not be nil")
	}

	return &Conn{ws: ws, logger: logger, closed: make(chan struct{})}
}

// Dial connects to a host websocket endpoint such as ws://host:8080/ws.
func Dial(ctx context.Context, url string, header http.Header, logger *zap.SugaredLogger) (*Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 30 * time.Second,
		ReadBufferSize:   bufferSize,
		WriteBufferSize:  bufferSize,
	}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}

	return New(ws, logger), nil
}

// Upgrade turns an HTTP request into a Conn.
func Upgrade(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	return New(ws, logger), nil
}

// Post implements transport.Poster by writing p as one JSON text frame.
func (c *Conn) Post(ctx context.Context, p transport.Packet) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(WriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}

	raw, err := safejson.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode packet %d/%d of message %d: %w", p.Index, p.TotalPackets, p.ID, err)
	}

	if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("failed to write packet %d/%d of message %d: %w", p.Index, p.TotalPackets, p.ID, err)
	}

	return nil
}

// Serve reads packets and posts each one to inbox until the connection
// closes or ctx is done, then closes the Conn. A normal close returns nil.
// Packets the inbox rejects are logged and skipped.
func (c *Conn) Serve(ctx context.Context, inbox transport.Poster) error {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()
	defer c.Close()

	for {
		kind, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isClosed() {
				return nil
			}

			return fmt.Errorf("failed to read packet: %w", err)
		}

		if kind != websocket.TextMessage {
			c.logger.Warnf("dropping non-text frame of type %d", kind)
			metrics.IncErrorCount(metrics.ComponentTransport, "wschannel")

			continue
		}

		var p transport.Packet
		if err := safejson.Unmarshal(raw, &p); err != nil {
			c.logger.Warnf("dropping malformed frame: %v", err)
			metrics.IncErrorCount(metrics.ComponentTransport, "wschannel")

			continue
		}

		if err := inbox.Post(ctx, p); err != nil {
			c.logger.Warnf("failed to process packet %d/%d of message %d: %v", p.Index, p.TotalPackets, p.ID, err)
			metrics.IncErrorCount(metrics.ComponentTransport, "wschannel")
		}
	}
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()

		_ = c.ws.Close()
	})
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}
