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

// Package httpchannel posts transport packets to a host session over HTTP,
// one request per packet, and provides the gin handler that receives them.
package httpchannel

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/statesync/pkg/safejson"
	"github.com/united-manufacturing-hub/statesync/pkg/transport"
)

// maxPacketBody bounds the request body accepted by Handler.
const maxPacketBody = 1 << 20

var (
	clientOnce sync.Once
	httpClient *http.Client
)

// GetClient returns the shared HTTP client, with HTTP/2 disabled.
func GetClient() *http.Client {
	clientOnce.Do(func() {
		transport := &http.Transport{
			ForceAttemptHTTP2: false,
			TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		}

		httpClient = &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		}
	})

	return httpClient
}

// SessionsPath is the route sessions are created on.
const SessionsPath = "/api/v1/sessions"

// PacketsPath is the route a session's packets are pushed to and pulled from.
func PacketsPath(sessionID string) string {
	return SessionsPath + "/" + sessionID + "/packets"
}

// SessionResponse is the body answering a session creation.
type SessionResponse struct {
	ID string `json:"id"`
}

// CreateSession opens a session on the host at baseURL and returns its id.
func CreateSession(ctx context.Context, baseURL string, header map[string]string) (string, error) {
	var session SessionResponse
	if err := do(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+SessionsPath, nil, header, &session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	if session.ID == "" {
		return "", errors.New("host returned no session id")
	}

	return session.ID, nil
}

func do(ctx context.Context, method, url string, body any, header map[string]string, result any) (err error) {
	var reader io.Reader

	if body != nil {
		raw, err := safejson.Marshal(body)
		if err != nil {
			return err
		}

		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range header {
		req.Header.Set(k, v)
	}

	response, err := GetClient().Do(req)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := response.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("error closing response body: %w", closeErr)
		}
	}()

	raw, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		msg := string(raw)
		if len(msg) > 512 {
			msg = msg[:512]
		}

		return fmt.Errorf("%s: %s", response.Status, strings.TrimSpace(msg))
	}

	if result == nil || len(raw) == 0 {
		return nil
	}

	return safejson.Unmarshal(raw, result)
}

// Client posts packets to one host session.
type Client struct {
	url    string
	header map[string]string
	logger *zap.SugaredLogger
}

// NewClient creates a Client for the session on the host at baseURL, e.g.
// http://localhost:8080. header is added to every request.
func NewClient(baseURL, sessionID string, header map[string]string, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		panic("logger must not be nil")
	}

	return &Client{
		url:    strings.TrimSuffix(baseURL, "/") + PacketsPath(sessionID),
		header: header,
		logger: logger,
	}
}

// Post implements transport.Poster.
func (c *Client) Post(ctx context.Context, p transport.Packet) error {
	if err := do(ctx, http.MethodPost, c.url, p, c.header, nil); err != nil {
		return fmt.Errorf("failed to post packet %d/%d of message %d: %w", p.Index, p.TotalPackets, p.ID, err)
	}

	return nil
}

// Pull fetches the packets the host queued for this session.
func (c *Client) Pull(ctx context.Context) ([]transport.Packet, error) {
	var packets []transport.Packet
	if err := do(ctx, http.MethodGet, c.url, nil, c.header, &packets); err != nil {
		return nil, fmt.Errorf("failed to pull packets: %w", err)
	}

	return packets, nil
}

// PullInto pulls once and posts every packet to inbox. Packets the inbox
// rejects are logged and skipped.
func (c *Client) PullInto(ctx context.Context, inbox transport.Poster) (int, error) {
	packets, err := c.Pull(ctx)
	if err != nil {
		return 0, err
	}

	for _, p := range packets {
		if err := inbox.Post(ctx, p); err != nil {
			c.logger.Warnf("failed to process packet %d/%d of message %d: %v", p.Index, p.TotalPackets, p.ID, err)
		}
	}

	return len(packets), nil
}

// DefaultPollInterval is the pause between pulls when Poll is given none.
const DefaultPollInterval = 500 * time.Millisecond

// Poll pulls into inbox every interval until ctx is done. Failed pulls are
// retried with exponential backoff capped at maxBackoff.
func (c *Client) Poll(ctx context.Context, inbox transport.Poster, interval, maxBackoff time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = interval
	retry.MaxInterval = max(maxBackoff, interval)
	retry.MaxElapsedTime = 0
	retry.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		wait := interval
		if _, err := c.PullInto(ctx, inbox); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			wait = retry.NextBackOff()
			c.logger.Warnf("%v, retrying in %s", err, wait)
		} else {
			retry.Reset()
		}

		timer.Reset(wait)
	}
}

// Lookup resolves a session id to the inbox of that session.
type Lookup func(sessionID string) (transport.Poster, bool)

// Handler returns the gin handler for PacketsPath(":id").
//
// It answers 404 for unknown sessions, 400 for bodies that are not a valid
// packet, 500 when the completed message could not be handled, and 202
// otherwise.
func Handler(lookup Lookup, logger *zap.SugaredLogger) gin.HandlerFunc {
	if lookup == nil {
		panic("lookup must not be nil")
	}

	if logger == nil {
		panic("logger must not be nil")
	}

	return func(c *gin.Context) {
		inbox, ok := lookup(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})

			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPacketBody))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

			return
		}

		var p transport.Packet
		if err := safejson.Unmarshal(body, &p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed packet"})

			return
		}

		if err := inbox.Post(c.Request.Context(), p); err != nil {
			if errors.Is(err, transport.ErrInvalidPacket) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

				return
			}

			logger.Warnf("failed to process packet %d/%d of message %d: %v", p.Index, p.TotalPackets, p.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})

			return
		}

		c.Status(http.StatusAccepted)
	}
}
