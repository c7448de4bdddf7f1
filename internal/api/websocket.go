// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxMessage   = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are already policed by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWebSocket streams a session's events to the client and accepts live
// frames from it. Only the writer goroutine writes data frames.
func serveWebSocket(c *gin.Context, manager *session.Manager, pushTimeout time.Duration) {
	id := c.Param("id")
	if _, ok := manager.Session(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c, "websocket upgrade failed", "session_id", id, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessage)

	hub := manager.Hub()
	sub := hub.Subscribe(id)
	written := make(chan struct{})
	go func() {
		defer close(written)
		for ev := range sub.C {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				slog.Warn("websocket write failed", "session_id", id, "error", err)
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "comparison complete"),
			time.Now().Add(wsWriteTimeout))
		// Unblocks the reader if the client never answers the close.
		_ = conn.SetReadDeadline(time.Now().Add(wsWriteTimeout))
	}()

	readFrames(c.Request.Context(), conn, manager, id, pushTimeout)

	hub.Unsubscribe(sub)
	<-written
}

// readFrames handles client messages until the connection closes. A client
// that disconnects without "end" leaves the session to the idle sweeper.
func readFrames(ctx context.Context, conn *websocket.Conn, manager *session.Manager, id string, pushTimeout time.Duration) {
	for {
		var msg FrameMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "websocket closed", "session_id", id, "error", err)
			}
			return
		}

		switch msg.Type {
		case "end":
			_ = manager.EndStream(id)
		case "frame", "keypoints", "":
			frame, err := msg.LiveFrame()
			if err != nil {
				slog.WarnContext(ctx, "discarding malformed frame", "session_id", id, "error", err)
				continue
			}
			pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
			err = manager.Push(pushCtx, id, frame)
			cancel()
			if errors.Is(err, model.ErrStreamEnded) || errors.Is(err, model.ErrSessionNotFound) {
				// Keep reading so the close handshake from the writer completes.
				continue
			}
			if err != nil {
				slog.WarnContext(ctx, "dropping live frame", "session_id", id, "error", err)
			}
		default:
			slog.WarnContext(ctx, "unknown websocket message", "session_id", id, "type", msg.Type)
		}
	}
}
