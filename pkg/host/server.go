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
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/sentry"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/httpchannel"
	"github.com/united-manufacturing-hub/statesync/pkg/transport/wschannel"
	"github.com/united-manufacturing-hub/statesync/pkg/version"
)

// Server exposes a Hub over HTTP.
//
//	GET    /healthz
//	GET    /ws                                  websocket session
//	POST   /api/v1/sessions                     open a pulling session
//	DELETE /api/v1/sessions/:id
//	POST   /api/v1/sessions/:id/packets         instance -> host
//	GET    /api/v1/sessions/:id/packets         host -> instance, drains the queue
//	GET    /api/v1/sessions/:id/state/:module
type Server struct {
	hub    *Hub
	logger *zap.SugaredLogger
	engine *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queues map[string]*Queue
	http   *http.Server
}

// NewServer creates a Server for hub. If accounts is not empty, the session
// routes require basic auth. It panics if hub or logger is nil.
func NewServer(hub *Hub, accounts gin.Accounts, logger *zap.SugaredLogger) *Server {
	if hub == nil {
		panic("hub must not be nil")
	}

	if logger == nil {
		panic("logger must not be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		hub:    hub,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		queues: map[string]*Queue{},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger.Desugar(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger.Desugar(), true))

	router.GET("/healthz", s.health)

	var guarded []gin.HandlerFunc
	if len(accounts) > 0 {
		guarded = append(guarded, gin.BasicAuth(accounts))
	}

	router.GET("/ws", append(guarded, s.websocket)...)

	api := router.Group(httpchannel.SessionsPath, guarded...)
	{
		api.POST("", s.openSession)
		api.DELETE("/:id", s.closeSession)
		api.POST("/:id/packets", httpchannel.Handler(s.lookup, logger))
		api.GET("/:id/packets", s.pull)
		api.GET("/:id/state/:module", gzip.Gzip(gzip.DefaultCompression), s.state)
	}

	s.engine = router

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.mu.Lock()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.http
	s.mu.Unlock()

	go func() {
		s.logger.Infof("listening on %s", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssuef(sentry.IssueTypeFatal, s.logger, "host server failed: %v", err)
		}
	}()
}

// Shutdown closes every session and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.Shutdown()

	s.mu.Lock()
	server := s.http
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	return server.Shutdown(ctx)
}

func (s *Server) lookup(id string) (transport.Poster, bool) {
	session, ok := s.hub.Session(id)
	if !ok {
		return nil, false
	}

	return session.Inbox(), true
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "online",
		"version":  version.GetAppVersion(),
		"sessions": s.hub.Sessions(),
	})
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := wschannel.Upgrade(c.Writer, c.Request, s.logger)
	if err != nil {
		s.logger.Warnf("websocket upgrade failed: %v", err)

		return
	}

	session := s.hub.Open(conn)
	defer func() {
		_ = s.hub.Close(session.ID())
	}()

	if err := conn.Serve(s.ctx, session.Inbox()); err != nil {
		s.logger.Warnf("session %s ended: %v", session.ID(), err)
	}
}

func (s *Server) openSession(c *gin.Context) {
	queue := NewQueue(s.hub.cfg.QueueSize, s.logger)
	session := s.hub.Open(queue)

	s.mu.Lock()
	s.queues[session.ID()] = queue
	s.mu.Unlock()

	c.JSON(http.StatusCreated, httpchannel.SessionResponse{ID: session.ID()})
}

func (s *Server) closeSession(c *gin.Context) {
	id := c.Param("id")

	if err := s.hub.Close(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

		return
	}

	s.mu.Lock()
	delete(s.queues, id)
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

func (s *Server) pull(c *gin.Context) {
	s.mu.Lock()
	queue, ok := s.queues[c.Param("id")]
	s.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pulling session"})

		return
	}

	c.JSON(http.StatusOK, queue.Drain())
}

func (s *Server) state(c *gin.Context) {
	if _, ok := s.hub.Session(c.Param("id")); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})

		return
	}

	state, ok := s.hub.State(c.Param("module"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown module"})

		return
	}

	c.JSON(http.StatusOK, state)
}
