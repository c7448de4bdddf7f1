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

// This file defines the command that turns a local video into a motion
// sequence.
//
// Logic Flow:
//  1. The local video path comes from the input parameter and the video id
//     from the video id parameter.
//  2. Per-request options, when present, override the defaults the command
//     was built with.
//  3. The KeypointExtractor samples the video and runs pose inference on a
//     worker pool.
//  4. The resulting *model.MotionSequence becomes the output.

package commands

import (
	goctx "context"
	"fmt"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"go.opentelemetry.io/otel/metric"
)

// KeypointExtractor is satisfied by *extractor.Extractor.
type KeypointExtractor interface {
	Extract(ctx goctx.Context, videoId string, videoPath string, opts extractor.Options) (*model.MotionSequence, error)
}

// KeypointExtraction runs a KeypointExtractor as a chain step.
type KeypointExtraction struct {
	cor.BaseCommand
	extractor      KeypointExtractor
	defaults       extractor.Options
	recordsCounter metric.Int64Counter
}

func NewKeypointExtraction(name string, keypointExtractor KeypointExtractor, defaults extractor.Options) *KeypointExtraction {
	out := &KeypointExtraction{
		BaseCommand: *cor.NewBaseCommand(name),
		extractor:   keypointExtractor,
		defaults:    defaults,
	}
	out.recordsCounter, _ = out.GetMeter().Int64Counter(fmt.Sprintf("%s.records", out.GetName()))
	return out
}

func (c *KeypointExtraction) IsExecutable(context cor.Context) bool {
	return c.BaseCommand.IsExecutable(context) && context.Get(GetVideoIdParameterName()) != nil
}

func (c *KeypointExtraction) Execute(context cor.Context) {
	path, ok := cor.Get[string](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a video path in %s", c.GetInputParam()))
		return
	}
	videoId, _ := cor.Get[string](context, GetVideoIdParameterName())

	opts := c.defaults
	if override, ok := cor.Get[*extractor.Options](context, GetExtractionOptionsParameterName()); ok {
		if override.FrameSkip > 0 {
			opts.FrameSkip = override.FrameSkip
		}
		if override.Fps > 0 {
			opts.Fps = override.Fps
		}
	}

	seq, err := c.extractor.Extract(context.GetContext(), videoId, path, opts)
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	c.recordsCounter.Add(context.GetContext(), int64(len(seq.Frames)))
	context.Add(c.GetOutputParam(), seq)
}
