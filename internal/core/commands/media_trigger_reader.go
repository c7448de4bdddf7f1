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

// This file defines the first command of the GCS-triggered ingestion chain.
//
// Logic Flow:
//  1. The raw Pub/Sub message body (a GCS object notification) arrives as the
//     chain input.
//  2. It is parsed into a cloud.GCSPubSubNotification and reduced to a
//     cloud.GCSObject.
//  3. The object is stored under the well-known GCS object key and as the
//     command output; the target video id is stored for later commands.

package commands

import (
	"encoding/json"
	"fmt"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
)

// MediaTriggerToGCSObject parses a GCS Pub/Sub notification.
type MediaTriggerToGCSObject struct {
	cor.BaseCommand
}

func NewMediaTriggerToGCSObject(name string) *MediaTriggerToGCSObject {
	return &MediaTriggerToGCSObject{BaseCommand: *cor.NewBaseCommand(name)}
}

func (c *MediaTriggerToGCSObject) Execute(context cor.Context) {
	in, ok := cor.Get[string](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a notification string in %s", c.GetInputParam()))
		return
	}

	var notification cloud.GCSPubSubNotification
	if err := json.Unmarshal([]byte(in), &notification); err != nil {
		c.Fail(context, fmt.Errorf("failed to unmarshal GCS notification: %w", err))
		return
	}
	msg, err := notification.ToObject()
	if err != nil {
		c.Fail(context, err)
		return
	}

	c.Succeed(context)
	context.Add(cloud.GetGCSObjectName(), msg)
	context.Add(GetVideoIdParameterName(), msg.VideoId())
	context.Add(c.GetOutputParam(), msg)
}
