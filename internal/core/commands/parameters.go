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

// Package commands provides the concrete implementations of the chain of
// responsibility Command interface used by the motion ingestion workflows.
//
// A GCS-triggered ingestion runs:
//
//	notification -> GCS object -> temp file -> video check -> keypoint
//	extraction -> motion persist -> (optional) archive upload
//
// Local ingestion enters the same chain at the video check.
package commands

import (
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
)

// GetVideoIdParameterName returns the context key holding the id of the video
// being ingested.
func GetVideoIdParameterName() string {
	return "__video_id__"
}

// GetExtractionOptionsParameterName returns the context key holding
// per-request extractor.Options. When absent, the command defaults apply.
func GetExtractionOptionsParameterName() string {
	return "__extraction_options__"
}

// GetMotionIdParameterName returns the context key holding the id of the
// persisted motion sequence.
func GetMotionIdParameterName() string {
	return "__motion_id__"
}

// NewLocalIngestionContext prepares a chain context for ingesting a video
// that is already on local disk.
func NewLocalIngestionContext(videoId string, path string, opts *extractor.Options) cor.Context {
	chainCtx := cor.NewBaseContext()
	chainCtx.Add(cor.CtxIn, path)
	chainCtx.Add(GetVideoIdParameterName(), videoId)
	if opts != nil {
		chainCtx.Add(GetExtractionOptionsParameterName(), opts)
	}
	return chainCtx
}
