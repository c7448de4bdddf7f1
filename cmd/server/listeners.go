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

package main

import (
	"context"
	"log/slog"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/commands"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/workflow"
)

// videoUploadListener is the subscription key for reference video uploads.
const videoUploadListener = "VideoUploadTopic"

// SetupListeners attaches the GCS-triggered ingestion workflow to the video
// upload subscription and starts receiving.
func SetupListeners(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients,
	keypointExtractor commands.KeypointExtractor, store services.MotionStore) {
	listener, ok := clients.PubSubListeners[videoUploadListener]
	if !ok {
		slog.Warn("no video upload subscription configured, ingestion runs over HTTP only")
		return
	}
	ingestion := workflow.NewMotionIngestionWorkflow(config, clients.StorageClient, keypointExtractor, store)
	listener.SetCommand(ingestion)
	listener.Listen(ctx)
}
