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

package httpchannel_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/httpchannel"
)

const host = "http://statesync.test"

var _ = Describe("Client", func() {
	var log *zap.SugaredLogger

	BeforeEach(func() {
		log = zaptest.NewLogger(GinkgoT()).Sugar()
		gock.InterceptClient(httpchannel.GetClient())
	})

	AfterEach(func() {
		// turn off all mocks, even the unmatched ones
		gock.OffAll()
		gock.RestoreClient(httpchannel.GetClient())
	})

	It("posts each packet as JSON to the session route", func() {
		gock.New(host).
			Post("/api/v1/sessions/abc/packets").
			MatchHeader("Content-Type", "application/json").
			MatchHeader("X-Instance", "north").
			AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
				body, err := io.ReadAll(req.Body)
				if err != nil {
					return false, err
				}

				var p transport.Packet
				if err := safejson.Unmarshal(body, &p); err != nil {
					return false, err
				}

				return p.ID == 4 && p.Index == 1 && p.TotalPackets == 2 && *p.ChannelTag == "plant", nil
			}).
			Reply(http.StatusAccepted)

		c := httpchannel.NewClient(host+"/", "abc", map[string]string{"X-Instance": "north"}, log)
		err := c.Post(context.Background(), transport.Packet{
			ID: 4, Chunk: "{}", Index: 1, TotalPackets: 2, ChannelTag: transport.Tag("plant"),
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(gock.IsDone()).To(BeTrue())
	})

	It("returns an error for non-2xx responses", func() {
		gock.New(host).
			Post("/api/v1/sessions/abc/packets").
			Reply(http.StatusNotFound).
			JSON(map[string]string{"error": "unknown session"})

		c := httpchannel.NewClient(host, "abc", nil, log)
		err := c.Post(context.Background(), transport.Packet{ID: 0})
		Expect(err).To(MatchError(ContainSubstring("unknown session")))
	})

	It("feeds a sender through the wire", func() {
		gock.New(host).
			Post("/api/v1/sessions/abc/packets").
			Times(3).
			Reply(http.StatusAccepted)

		c := httpchannel.NewClient(host, "abc", nil, log)
		s := transport.NewSender(c, transport.SenderConfig{ChunkSize: 8}, log)
		defer s.Close()

		_, err := s.Send(context.Background(), nil, transport.CommandReady, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Flush(context.Background())).To(Succeed())
		Expect(gock.IsDone()).To(BeTrue())
	})
})

var _ = Describe("Sessions", func() {
	var log *zap.SugaredLogger

	BeforeEach(func() {
		log = zaptest.NewLogger(GinkgoT()).Sugar()
		gock.InterceptClient(httpchannel.GetClient())
	})

	AfterEach(func() {
		gock.OffAll()
		gock.RestoreClient(httpchannel.GetClient())
	})

	It("creates a session", func() {
		gock.New(host).
			Post("/api/v1/sessions").
			Reply(http.StatusCreated).
			JSON(httpchannel.SessionResponse{ID: "abc"})

		id, err := httpchannel.CreateSession(context.Background(), host, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).To(Equal("abc"))
	})

	It("fails when the host returns no id", func() {
		gock.New(host).
			Post("/api/v1/sessions").
			Reply(http.StatusCreated).
			JSON(map[string]string{})

		_, err := httpchannel.CreateSession(context.Background(), host, nil)
		Expect(err).To(HaveOccurred())
	})

	It("pulls queued packets into an inbox", func() {
		gock.New(host).
			Get("/api/v1/sessions/abc/packets").
			Reply(http.StatusOK).
			JSON([]transport.Packet{
				{ID: 1, Chunk: `{"command":`, Index: 0, TotalPackets: 1},
				{ID: 1, Chunk: `"ready"}`, Index: 1, TotalPackets: 1},
			})

		var got []transport.Command
		inbox := transport.NewInbox(transport.NewReassembler(transport.ReassemblerConfig{}, log),
			func(_ context.Context, msg *transport.Message) error {
				got = append(got, msg.Command)

				return nil
			})

		c := httpchannel.NewClient(host, "abc", nil, log)
		n, err := c.PullInto(context.Background(), inbox)
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(got).To(Equal([]transport.Command{transport.CommandReady}))
	})

	It("keeps polling through failed pulls until cancelled", func() {
		gock.New(host).
			Get("/api/v1/sessions/abc/packets").
			Reply(http.StatusServiceUnavailable)
		gock.New(host).
			Get("/api/v1/sessions/abc/packets").
			Reply(http.StatusOK).
			JSON([]transport.Packet{{ID: 3, Chunk: `{"command":"ready"}`, Index: 0, TotalPackets: 0}})

		var (
			mu  sync.Mutex
			got []transport.Command
		)
		inbox := transport.NewInbox(transport.NewReassembler(transport.ReassemblerConfig{}, log),
			func(_ context.Context, msg *transport.Message) error {
				mu.Lock()
				defer mu.Unlock()
				got = append(got, msg.Command)

				return nil
			})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)

		c := httpchannel.NewClient(host, "abc", nil, log)
		go func() {
			done <- c.Poll(ctx, inbox, 5*time.Millisecond, 20*time.Millisecond)
		}()

		Eventually(func() []transport.Command {
			mu.Lock()
			defer mu.Unlock()

			return append([]transport.Command(nil), got...)
		}).Should(Equal([]transport.Command{transport.CommandReady}))

		cancel()
		Eventually(done).Should(Receive(MatchError(context.Canceled)))
	})
})

var _ = Describe("Handler", func() {
	var (
		log      *zap.SugaredLogger
		router   *gin.Engine
		mu       sync.Mutex
		received []*transport.Message
		failWith error
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		log = zaptest.NewLogger(GinkgoT()).Sugar()
		received = nil
		failWith = nil

		inbox := transport.NewInbox(transport.NewReassembler(transport.ReassemblerConfig{}, log),
			func(_ context.Context, msg *transport.Message) error {
				mu.Lock()
				defer mu.Unlock()
				received = append(received, msg)

				return failWith
			})

		router = gin.New()
		router.POST(httpchannel.PacketsPath(":id"), httpchannel.Handler(func(id string) (transport.Poster, bool) {
			return inbox, id == "abc"
		}, log))
	})

	post := func(session, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, httpchannel.PacketsPath(session), strings.NewReader(body))
		router.ServeHTTP(rec, req)

		return rec
	}

	It("accepts packets and delivers the completed message", func() {
		rec := post("abc", `{"id":2,"chunk":"{\"command\":\"ready\"}","index":0,"totalPackets":0,"channelTag":null}`)
		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(received).To(HaveLen(1))
		Expect(received[0].Command).To(Equal(transport.CommandReady))
	})

	It("answers 404 for unknown sessions", func() {
		Expect(post("nope", `{}`).Code).To(Equal(http.StatusNotFound))
	})

	It("answers 400 for malformed and invalid packets", func() {
		Expect(post("abc", `not json`).Code).To(Equal(http.StatusBadRequest))
		Expect(post("abc", `{"id":1,"chunk":"","index":5,"totalPackets":1}`).Code).To(Equal(http.StatusBadRequest))
	})

	It("answers 500 when the message cannot be handled", func() {
		failWith = errors.New("unknown module")
		rec := post("abc", `{"id":2,"chunk":"{\"command\":\"save\"}","index":0,"totalPackets":0}`)
		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		Expect(rec.Body.String()).To(ContainSubstring("unknown module"))
	})

	It("panics without lookup or logger", func() {
		Expect(func() { httpchannel.Handler(nil, log) }).To(Panic())
		Expect(func() {
			httpchannel.Handler(func(string) (transport.Poster, bool) { return nil, false }, nil)
		}).To(Panic())
	})
})
