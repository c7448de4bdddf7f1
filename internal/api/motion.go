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
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ifit-app/ifit-motion/internal/core/commands"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
)

type motionResponse struct {
	VideoId   string               `json:"video_id"`
	Fps       float64              `json:"fps"`
	FrameSkip int                  `json:"frame_skip"`
	Frames    []*model.FrameRecord `json:"frames"`
}

// MotionRouter registers the reference motion routes. Uploads are run
// through the local ingestion chain and removed afterwards.
func MotionRouter(r *gin.RouterGroup, store services.MotionStore, ingestion cor.Executable) {
	videos := r.Group("/videos/:id/motion")
	{
		videos.POST("", func(c *gin.Context) {
			videoId := c.Param("id")
			file, err := c.FormFile("video_file")
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "video_file is required"})
				return
			}
			opts, err := extractionOptions(c)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(file.Filename))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			_ = tmp.Close()
			if err := c.SaveUploadedFile(file, tmp.Name()); err != nil {
				_ = os.Remove(tmp.Name())
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}

			chainCtx := commands.NewLocalIngestionContext(videoId, tmp.Name(), opts)
			defer chainCtx.Close()
			chainCtx.AddTempFile(tmp.Name())
			chainCtx.SetContext(c.Request.Context())
			ingestion.Execute(chainCtx)

			if chainCtx.HasErrors() {
				var openErr *model.VideoOpenError
				for name, e := range chainCtx.GetErrors() {
					slog.ErrorContext(c, "motion ingestion failed", "video_id", videoId, "command", name, "error", e)
					if errors.As(e, &openErr) {
						c.JSON(http.StatusInternalServerError, gin.H{"error": "Error opening video file"})
						return
					}
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "motion extraction failed"})
				return
			}
			motionId, ok := cor.Get[string](chainCtx, commands.GetMotionIdParameterName())
			if !ok || motionId == "" {
				slog.ErrorContext(c, "motion ingestion finished without storing a sequence", "video_id", videoId)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "motion extraction failed"})
				return
			}
			c.JSON(http.StatusCreated, gin.H{"message": "Motion data stored", "id": motionId})
		})

		videos.GET("", func(c *gin.Context) {
			seq, found, err := store.Get(c, c.Param("id"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			if !found {
				c.JSON(http.StatusNotFound, gin.H{"error": "motion data not found"})
				return
			}
			c.JSON(http.StatusOK, motionResponse{VideoId: seq.VideoId, Fps: seq.Fps, FrameSkip: seq.FrameSkip, Frames: seq.Frames})
		})

		videos.DELETE("", func(c *gin.Context) {
			removed, err := store.Delete(c, c.Param("id"))
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"deleted": removed})
		})
	}
}

// extractionOptions reads the optional fps and frame_skip form fields.
// Nil means the configured defaults apply.
func extractionOptions(c *gin.Context) (*extractor.Options, error) {
	fps, skip := c.PostForm("fps"), c.PostForm("frame_skip")
	if fps == "" && skip == "" {
		return nil, nil
	}
	opts := &extractor.Options{}
	if fps != "" {
		v, err := strconv.ParseFloat(fps, 64)
		if err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid fps %q", fps)
		}
		opts.Fps = v
	}
	if skip != "" {
		v, err := strconv.Atoi(skip)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid frame_skip %q", skip)
		}
		opts.FrameSkip = v
	}
	return opts, nil
}
