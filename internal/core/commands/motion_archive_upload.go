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

// This file defines the optional last step of GCS-triggered ingestion: a JSON
// copy of the motion sequence is written next to other archived sequences so
// it can be inspected or re-imported with ifitctl.

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
)

// MotionArchiveUpload writes the sequence as gs://<bucket>/<video_id>/motion.json.
type MotionArchiveUpload struct {
	cor.BaseCommand
	client *storage.Client
	bucket string
}

func NewMotionArchiveUpload(name string, client *storage.Client, bucket string) *MotionArchiveUpload {
	return &MotionArchiveUpload{BaseCommand: *cor.NewBaseCommand(name), client: client, bucket: bucket}
}

// ArchiveObjectName returns the object name used for a video's archive.
func ArchiveObjectName(videoId string) string {
	return fmt.Sprintf("%s/motion.json", videoId)
}

func (c *MotionArchiveUpload) Execute(context cor.Context) {
	seq, ok := cor.Get[*model.MotionSequence](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a motion sequence in %s", c.GetInputParam()))
		return
	}
	data, err := json.Marshal(seq)
	if err != nil {
		c.Fail(context, err)
		return
	}

	obj := c.client.Bucket(c.bucket).Object(ArchiveObjectName(seq.VideoId))
	writer := obj.NewWriter(context.GetContext())
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		c.Fail(context, fmt.Errorf("failed to write gs://%s/%s: %w", c.bucket, obj.ObjectName(), err))
		return
	}
	// The object only exists once Close succeeds.
	if err := writer.Close(); err != nil {
		c.Fail(context, fmt.Errorf("failed to finalize gs://%s/%s: %w", c.bucket, obj.ObjectName(), err))
		return
	}

	c.Succeed(context)
	slog.InfoContext(context.GetContext(), "archived motion sequence", "object", fmt.Sprintf("gs://%s/%s", c.bucket, obj.ObjectName()))
	context.Add(c.GetOutputParam(), seq)
}
