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

// Package workflow assembles commands into the pipelines the service runs:
// motion ingestion (GCS-triggered and local) and the idle session sweeper.
package workflow

import (
	"strings"

	"cloud.google.com/go/storage"
	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/commands"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/services"
)

// MotionIngestionWorkflow extracts a motion sequence from a reference video
// and stores it. It is triggered by GCS object notifications delivered over
// Pub/Sub.
type MotionIngestionWorkflow struct {
	cor.BaseCommand
	storageClient *storage.Client
	extractor     commands.KeypointExtractor
	store         services.MotionStore
	defaults      extractor.Options
	archiveBucket string
	chain         cor.Chain
}

// Execute runs the chain. The context input must be the raw notification.
func (m *MotionIngestionWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}

func (m *MotionIngestionWorkflow) initializeChain() {
	out := cor.NewBaseChain(m.GetName())

	// Step 1: Parse the notification into a GCS object and a video id.
	out.AddCommand(commands.NewMediaTriggerToGCSObject("motion-trigger-to-gcs-object"))

	// Step 2: Download the video; the temp file is removed with the context.
	out.AddCommand(commands.NewGCSToTempFile("gcs-to-temp-file", m.storageClient, "ingest-"))

	// Step 3: Reject files that are not video containers.
	out.AddCommand(commands.NewVideoFileCheck("video-file-check", false))

	// Step 4: Sample frames and estimate poses.
	out.AddCommand(commands.NewKeypointExtraction("keypoint-extraction", m.extractor, m.defaults))

	// Step 5: Store the sequence, replacing any earlier extraction.
	out.AddCommand(commands.NewMotionPersist("motion-persist", m.store))

	// Step 6: Archive a JSON copy when a bucket is configured.
	if len(strings.TrimSpace(m.archiveBucket)) > 0 {
		out.AddCommand(commands.NewMotionArchiveUpload("motion-archive-upload", m.storageClient, m.archiveBucket))
	}

	m.chain = out
}

// NewMotionIngestionWorkflow creates the GCS-triggered ingestion workflow.
func NewMotionIngestionWorkflow(
	config *cloud.Config,
	storageClient *storage.Client,
	keypointExtractor commands.KeypointExtractor,
	store services.MotionStore) *MotionIngestionWorkflow {
	out := &MotionIngestionWorkflow{
		BaseCommand:   *cor.NewBaseCommand("motion-ingestion-workflow"),
		storageClient: storageClient,
		extractor:     keypointExtractor,
		store:         store,
		defaults:      extractor.Options{FrameSkip: config.Extraction.FrameSkip},
		archiveBucket: config.Storage.MotionArchiveBucket,
	}
	out.initializeChain()
	return out
}

// LocalMotionIngestionWorkflow is the ingestion chain for a video already on
// local disk. The HTTP upload endpoint and ifitctl use it.
type LocalMotionIngestionWorkflow struct {
	cor.BaseCommand
	chain cor.Chain
}

// NewLocalMotionIngestionWorkflow creates the local ingestion workflow. With
// removeInput set, the input file is deleted when the context is closed.
func NewLocalMotionIngestionWorkflow(
	keypointExtractor commands.KeypointExtractor,
	store services.MotionStore,
	defaults extractor.Options,
	removeInput bool) *LocalMotionIngestionWorkflow {
	chain := cor.NewBaseChain("local-motion-ingestion-chain")
	chain.AddCommand(commands.NewVideoFileCheck("video-file-check", removeInput))
	chain.AddCommand(commands.NewKeypointExtraction("keypoint-extraction", keypointExtractor, defaults))
	if store != nil {
		chain.AddCommand(commands.NewMotionPersist("motion-persist", store))
	}
	return &LocalMotionIngestionWorkflow{
		BaseCommand: *cor.NewBaseCommand("local-motion-ingestion-workflow"),
		chain:       chain,
	}
}

// Execute runs the chain. Build the context with commands.NewLocalIngestionContext.
func (m *LocalMotionIngestionWorkflow) Execute(context cor.Context) {
	m.chain.Execute(context)
}
