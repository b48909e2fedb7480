/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/mixroom/internal/auth"
	"github.com/friendsincode/mixroom/internal/telemetry"
)

const (
	// wsReadLimit bounds a single inbound frame.
	wsReadLimit = 64 * 1024
	// wsSendBuffer is the per-connection outbound queue. A slow client
	// overflowing it loses the message (beacons and cursors are resent
	// continuously anyway; mutations re-sync via the next beacon version).
	wsSendBuffer = 128

	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 15 * time.Second
)

// wsConn adapts a websocket connection to the engine's Conn interface.
// Writes are serialized through a single writer goroutine.
type wsConn struct {
	id     string
	conn   *ws.Conn
	logger zerolog.Logger

	out chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu         sync.Mutex
	kickReason string
}

func (c *wsConn) ID() string { return c.id }

// Send marshals and enqueues a message. Non-blocking: returns false when
// the connection is closing or its buffer is full.
func (c *wsConn) Send(message any) bool {
	data, err := json.Marshal(message)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal outbound message")
		return false
	}
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

// Kick schedules the connection to close with a reason.
func (c *wsConn) Kick(reason string) {
	c.mu.Lock()
	c.kickReason = reason
	c.mu.Unlock()
	c.shutdown()
}

func (c *wsConn) shutdown() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// HandleWebSocket is the realtime endpoint. One websocket connection maps
// to at most one room member.
func (a *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// An invite token, when presented, must be valid before the upgrade.
	if token := r.URL.Query().Get("token"); token != "" && a.cfg.JWTSigningKey != "" {
		if _, err := auth.Parse([]byte(a.cfg.JWTSigningKey), token); err != nil {
			http.Error(w, "invalid invite token", http.StatusUnauthorized)
			return
		}
	}

	opts := &ws.AcceptOptions{}
	if len(a.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = a.cfg.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}

	conn, err := ws.Accept(w, r, opts)
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(wsReadLimit)

	connID := uuid.New().String()
	wc := &wsConn{
		id:     connID,
		conn:   conn,
		logger: a.logger.With().Str("conn_id", connID).Logger(),
		out:    make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
	}

	telemetry.WSConnections.Inc()
	defer telemetry.WSConnections.Dec()

	a.engine.Register(wc)
	defer a.engine.Disconnect(connID)

	wc.logger.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		wc.writeLoop(ctx)
	}()
	// A kick must interrupt a blocked read: close the socket out of band.
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
		case <-wc.closed:
			wc.mu.Lock()
			reason := wc.kickReason
			wc.mu.Unlock()
			if reason != "" {
				conn.Close(ws.StatusPolicyViolation, reason)
			} else {
				conn.Close(ws.StatusNormalClosure, "closing")
			}
		}
	}()

	// Read loop. Every inbound frame goes through the engine; malformed
	// frames are answered there, not here.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ws.CloseStatus(err) != ws.StatusNormalClosure && ctx.Err() == nil {
				wc.logger.Debug().Err(err).Msg("websocket read error")
			}
			wc.shutdown()
			cancel()
			wg.Wait()
			conn.Close(ws.StatusNormalClosure, "bye")
			return
		}
		a.engine.HandleMessage(connID, data)
	}
}

// writeLoop drains the outbound queue onto the wire and keeps the
// connection alive with pings.
func (c *wsConn) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-pingTicker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Msg("websocket ping failed")
				c.shutdown()
				return
			}
		case data := <-c.out:
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := c.conn.Write(writeCtx, ws.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug().Err(err).Msg("websocket write failed")
				c.shutdown()
				return
			}
		}
	}
}
