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

// Package api holds the gin routers of the motion service: comparison
// session control and live frame ingress, event streaming over WebSocket
// and Server-Sent Events, reference motion management and result history.
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/session"
)

// DefaultPushTimeout bounds how long a frame request waits for queue space.
const DefaultPushTimeout = 5 * time.Second

type startRequest struct {
	VideoId string `json:"video_id"`
	UserId  string `json:"user_id"`
}

type stopRequest struct {
	SessionId string `json:"session_id"`
}

// FrameMessage is a live frame as sent by clients over HTTP or WebSocket.
// Image is a base64 JPEG; Keypoints are used as-is when present.
type FrameMessage struct {
	Type      string                    `json:"type,omitempty"`
	Image     string                    `json:"image,omitempty"`
	Keypoints map[string]model.Keypoint `json:"keypoints,omitempty"`
}

// LiveFrame decodes the message.
func (f *FrameMessage) LiveFrame() (*session.LiveFrame, error) {
	if f.Keypoints != nil {
		return &session.LiveFrame{Keypoints: f.Keypoints}, nil
	}
	if f.Image == "" {
		return nil, errors.New("frame carries neither image nor keypoints")
	}
	// Browsers send data URLs.
	data := f.Image
	if i := strings.Index(data, ","); strings.HasPrefix(data, "data:") && i > 0 {
		data = data[i+1:]
	}
	image, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid image encoding: %w", err)
	}
	return &session.LiveFrame{Image: image}, nil
}

// SessionRouter registers the comparison routes.
func SessionRouter(r *gin.RouterGroup, manager *session.Manager, pushTimeout time.Duration) {
	if pushTimeout <= 0 {
		pushTimeout = DefaultPushTimeout
	}

	r.POST("/start_comparison", func(c *gin.Context) {
		var req startRequest
		_ = c.ShouldBindJSON(&req)
		if strings.TrimSpace(req.VideoId) == "" || strings.TrimSpace(req.UserId) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Video ID and User ID are required"})
			return
		}

		id, err := manager.Start(c.Request.Context(), req.VideoId, req.UserId)
		var busy *model.SessionBusyError
		var notFound *model.ReferenceNotFoundError
		switch {
		case errors.As(err, &busy):
			slog.InfoContext(c, "comparison rejected", "user_id", req.UserId, "reason", busy.Reason)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Comparison already running"})
		case errors.As(err, &notFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "video or motion data not found"})
		case err != nil:
			slog.ErrorContext(c, "failed to start comparison", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"message": "Comparison started", "session_id": id})
		}
	})

	r.POST("/stop_comparison", func(c *gin.Context) {
		var req stopRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SessionId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Session ID is required"})
			return
		}
		if err := manager.Stop(req.SessionId); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Comparison stopped"})
	})

	r.GET("/status", func(c *gin.Context) {
		running := manager.Running()
		c.JSON(http.StatusOK, gin.H{"comparison_running": len(running) > 0, "sessions": running})
	})

	sessions := r.Group("/sessions/:id")
	{
		sessions.GET("", func(c *gin.Context) {
			state, ok := manager.Session(c.Param("id"))
			if !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusOK, state)
		})

		sessions.POST("/frames", func(c *gin.Context) {
			var msg FrameMessage
			if err := c.ShouldBindJSON(&msg); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			frame, err := msg.LiveFrame()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx, cancel := context.WithTimeout(c.Request.Context(), pushTimeout)
			defer cancel()
			status, body := pushStatus(manager.Push(ctx, c.Param("id"), frame))
			c.JSON(status, body)
		})

		sessions.POST("/end", func(c *gin.Context) {
			if err := manager.EndStream(c.Param("id")); err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "stream ended"})
		})

		sessions.GET("/events", func(c *gin.Context) {
			id := c.Param("id")
			if _, ok := manager.Session(id); !ok {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			sub := manager.Hub().Subscribe(id)
			defer manager.Hub().Unsubscribe(sub)

			c.Stream(func(w io.Writer) bool {
				select {
				case ev, ok := <-sub.C:
					if !ok {
						return false
					}
					c.SSEvent(ev.Name, ev.Data)
					return !ev.Terminal()
				case <-c.Request.Context().Done():
					return false
				}
			})
		})

		sessions.GET("/ws", func(c *gin.Context) {
			serveWebSocket(c, manager, pushTimeout)
		})
	}
}

// pushStatus maps the outcome of a frame push to a response.
func pushStatus(err error) (int, gin.H) {
	switch {
	case err == nil:
		return http.StatusAccepted, gin.H{"message": "frame queued"}
	case errors.Is(err, model.ErrSessionNotFound):
		return http.StatusNotFound, gin.H{"error": "session not found"}
	case errors.Is(err, model.ErrStreamEnded):
		return http.StatusConflict, gin.H{"error": "session stream has ended"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, gin.H{"error": "frame queue is full"}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}
