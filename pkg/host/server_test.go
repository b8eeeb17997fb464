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

package host_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/statesync/pkg/host"
	"github.com/united-manufacturing-hub/statesync/pkg/instance"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/httpchannel"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/wschannel"
)

var _ = Describe("Server", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		log    *zap.SugaredLogger
		hub    *host.Hub
		server *host.Server
		ts     *httptest.Server
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		log = zaptest.NewLogger(GinkgoT()).Sugar()
		hub = host.NewHub(host.Config{}, manifests, map[string]any{"plant": plant("north", 1, 2)}, log)
		server = host.NewServer(hub, nil, log)
		ts = httptest.NewServer(server.Handler())
	})

	AfterEach(func() {
		cancel()
		Expect(server.Shutdown(context.Background())).To(Succeed())
		ts.Close()
	})

	request := func(method, path string) *http.Response {
		req, err := http.NewRequestWithContext(ctx, method, ts.URL+path, nil)
		Expect(err).ToNot(HaveOccurred())

		resp, err := ts.Client().Do(req)
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(resp.Body.Close)

		return resp
	}

	It("panics without a hub", func() {
		Expect(func() { host.NewServer(nil, nil, log) }).To(Panic())
	})

	It("reports health", func() {
		resp := request(http.MethodGet, "/healthz")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var body map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		Expect(body).To(HaveKeyWithValue("status", "online"))
		Expect(body).To(HaveKeyWithValue("sessions", BeNumerically("==", 0)))
		Expect(body).To(HaveKey("version"))
	})

	It("syncs an instance over websocket", func() {
		conn, err := wschannel.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil, log)
		Expect(err).ToNot(HaveOccurred())

		inst := instance.New(instance.Config{Debounce: 10 * time.Millisecond}, manifests, conn, log)
		defer inst.Close()

		go func() {
			defer GinkgoRecover()
			Expect(conn.Serve(ctx, inst.Inbox())).To(Succeed())
		}()

		Eventually(hub.Sessions).Should(Equal(1))

		Expect(inst.Ready(ctx)).To(Succeed())
		Eventually(stateOf(inst, "plant")).Should(Equal(plant("north", 1, 2)))

		Expect(inst.EnterEdit(ctx)).To(Succeed())
		Expect(inst.Edit(ctx, "plant", "name", "south")).To(Succeed())
		Eventually(func() any {
			state, _ := hub.State("plant")

			return state
		}).Should(Equal(plant("south", 1, 2)))

		conn.Close()
		Eventually(hub.Sessions).Should(BeZero())
	})

	Context("pulling sessions", func() {
		var (
			id     string
			client *httpchannel.Client
			inst   *instance.Instance
		)

		BeforeEach(func() {
			var err error
			id, err = httpchannel.CreateSession(ctx, ts.URL, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(id).ToNot(BeEmpty())

			client = httpchannel.NewClient(ts.URL, id, nil, log)
			inst = instance.New(instance.Config{Debounce: 10 * time.Millisecond}, manifests, client, log)
		})

		AfterEach(func() {
			inst.Close()
		})

		pulled := func() any {
			_, err := client.PullInto(ctx, inst.Inbox())
			Expect(err).ToNot(HaveOccurred())

			return stateOf(inst, "plant")()
		}

		It("loads and saves through push and pull", func() {
			Expect(inst.Ready(ctx)).To(Succeed())
			Eventually(pulled).Should(Equal(plant("north", 1, 2)))

			Expect(inst.EnterEdit(ctx)).To(Succeed())
			Expect(inst.Edit(ctx, "plant", "lines<b>.speed", 4.0)).To(Succeed())
			Expect(inst.Flush(ctx)).To(Succeed())

			Eventually(func() any {
				state, _ := hub.State("plant")

				return state
			}).Should(Equal(plant("north", 1, 4)))
		})

		It("serves the state of a module", func() {
			resp := request(http.MethodGet, httpchannel.SessionsPath+"/"+id+"/state/plant")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var state map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state).To(Equal(plant("north", 1, 2)))

			Expect(request(http.MethodGet, httpchannel.SessionsPath+"/"+id+"/state/warehouse").StatusCode).
				To(Equal(http.StatusNotFound))
		})

		It("forgets a deleted session", func() {
			Expect(request(http.MethodDelete, httpchannel.SessionsPath+"/"+id).StatusCode).To(Equal(http.StatusNoContent))
			Expect(request(http.MethodDelete, httpchannel.SessionsPath+"/"+id).StatusCode).To(Equal(http.StatusNotFound))
			Expect(request(http.MethodGet, httpchannel.PacketsPath(id)).StatusCode).To(Equal(http.StatusNotFound))

			Expect(client.Post(ctx, transport.Packet{ID: 0, Index: 0, TotalPackets: 0})).ToNot(Succeed())
			Expect(hub.Sessions()).To(BeZero())
		})
	})

	It("guards session routes with basic auth", func() {
		guarded := httptest.NewServer(host.NewServer(hub, gin.Accounts{"operator": "secret"}, log).Handler())
		defer guarded.Close()

		_, err := httpchannel.CreateSession(ctx, guarded.URL, nil)
		Expect(err).To(MatchError(ContainSubstring("401")))

		auth := map[string]string{"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte("operator:secret"))}
		id, err := httpchannel.CreateSession(ctx, guarded.URL, auth)
		Expect(err).ToNot(HaveOccurred())
		Expect(id).ToNot(BeEmpty())

		resp, err := guarded.Client().Get(guarded.URL + "/healthz")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("rejects pulls of unknown sessions", func() {
		Expect(request(http.MethodGet, httpchannel.PacketsPath("nope")).StatusCode).To(Equal(http.StatusNotFound))
		Expect(request(http.MethodGet, httpchannel.SessionsPath+"/nope/state/plant").StatusCode).To(Equal(http.StatusNotFound))
	})
})
