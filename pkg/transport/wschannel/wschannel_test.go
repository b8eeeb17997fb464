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

package wschannel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/statesync/pkg/transport"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/wschannel"
)

type collector struct {
	mu   sync.Mutex
	msgs []*transport.Message
}

func (c *collector) handle(_ context.Context, msg *transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)

	return nil
}

func (c *collector) commands() []transport.Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]transport.Command, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Command)
	}

	return out
}

var _ = Describe("Conn", func() {
	var (
		log      *zap.SugaredLogger
		server   *httptest.Server
		atHost   *collector
		hostConn chan *wschannel.Conn
		ctx      context.Context
		cancel   context.CancelFunc
	)

	BeforeEach(func() {
		log = zaptest.NewLogger(GinkgoT()).Sugar()
		atHost = &collector{}
		hostConn = make(chan *wschannel.Conn, 1)
		ctx, cancel = context.WithCancel(context.Background())

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := wschannel.Upgrade(w, r, log)
			if err != nil {
				return
			}
			hostConn <- conn

			inbox := transport.NewInbox(transport.NewReassembler(transport.ReassemblerConfig{}, log), atHost.handle)
			_ = conn.Serve(ctx, inbox)
		}))
	})

	AfterEach(func() {
		cancel()
		server.Close()
	})

	wsURL := func() string {
		return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	}

	It("panics without a websocket or logger", func() {
		Expect(func() { wschannel.New(nil, log) }).To(Panic())
	})

	It("carries chunked messages in both directions", func() {
		client, err := wschannel.Dial(ctx, wsURL(), nil, log)
		Expect(err).ToNot(HaveOccurred())
		defer client.Close()

		atInstance := &collector{}
		go func() {
			defer GinkgoRecover()
			inbox := transport.NewInbox(transport.NewReassembler(transport.ReassemblerConfig{}, log), atInstance.handle)
			Expect(client.Serve(ctx, inbox)).To(Succeed())
		}()

		up := transport.NewSender(client, transport.SenderConfig{ChunkSize: 16}, log)
		defer up.Close()

		_, err = up.Send(ctx, transport.Tag("plant"), transport.CommandSave, map[string]any{"name": strings.Repeat("north", 20)})
		Expect(err).ToNot(HaveOccurred())
		Expect(up.Flush(ctx)).To(Succeed())
		Eventually(atHost.commands).Should(Equal([]transport.Command{transport.CommandSave}))

		var conn *wschannel.Conn
		Eventually(hostConn).Should(Receive(&conn))

		down := transport.NewSender(conn, transport.SenderConfig{FirstID: 1}, log)
		defer down.Close()

		_, err = down.Send(ctx, transport.Tag("plant"), transport.CommandAck, map[string]any{"module": "plant", "seq": 1})
		Expect(err).ToNot(HaveOccurred())
		Expect(down.Flush(ctx)).To(Succeed())
		Eventually(atInstance.commands).Should(Equal([]transport.Command{transport.CommandAck}))
	})

	It("skips malformed and binary frames", func() {
		ws, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(), nil)
		Expect(err).ToNot(HaveOccurred())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		defer ws.Close()

		Expect(ws.WriteMessage(websocket.TextMessage, []byte("{not json"))).To(Succeed())
		Expect(ws.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})).To(Succeed())
		Expect(ws.WriteMessage(websocket.TextMessage, []byte(`{"id":0,"chunk":"{\"command\":\"ready\"}","index":0,"totalPackets":0}`))).To(Succeed())

		Eventually(atHost.commands).Should(Equal([]transport.Command{transport.CommandReady}))
	})

	It("rejects posts after Close", func() {
		client, err := wschannel.Dial(ctx, wsURL(), nil, log)
		Expect(err).ToNot(HaveOccurred())

		client.Close()
		Eventually(client.Done()).Should(BeClosed())
		Expect(client.Post(ctx, transport.Packet{})).To(MatchError(wschannel.ErrClosed))
	})

	It("fails to dial a server that does not upgrade", func() {
		plain := httptest.NewServer(http.NotFoundHandler())
		defer plain.Close()

		_, err := wschannel.Dial(ctx, "ws"+strings.TrimPrefix(plain.URL, "http"), nil, log)
		Expect(err).To(HaveOccurred())
	})
})
