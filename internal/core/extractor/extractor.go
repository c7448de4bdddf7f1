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

// Package extractor turns a reference video into a model.MotionSequence.
//
// Frames are sampled with ffmpeg, then a pool of workers runs the pose
// estimator on each sampled frame. Frames without a detected pose produce no
// record, so frame numbers in the output may have gaps.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Options tune a single extraction.
type Options struct {
	FrameSkip int     // Sample every Nth frame; values below 1 mean every frame.
	Fps       float64 // Overrides the probed frame rate when positive.
}

// Extractor runs sampling and pose inference.
type Extractor struct {
	sampler         Sampler
	estimator       pose.Estimator
	numberOfWorkers int
	joints          []string

	tracer            trace.Tracer
	frameCounter      metric.Int64Counter
	undetectedCounter metric.Int64Counter
	errorCounter      metric.Int64Counter
}

// NewExtractor creates an extractor. An empty joint list keeps the default
// vocabulary.
func NewExtractor(sampler Sampler, estimator pose.Estimator, numberOfWorkers int, joints []string) *Extractor {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	if len(joints) == 0 {
		joints = model.DefaultJoints
	}
	meter := otel.Meter(cor.MeterName)
	out := &Extractor{
		sampler:         sampler,
		estimator:       estimator,
		numberOfWorkers: numberOfWorkers,
		joints:          joints,
		tracer:          otel.Tracer("keypoint-extractor"),
	}
	out.frameCounter, _ = meter.Int64Counter("extractor.frames")
	out.undetectedCounter, _ = meter.Int64Counter("extractor.frames.undetected")
	out.errorCounter, _ = meter.Int64Counter("extractor.frames.error")
	return out
}

type frameResult struct {
	record *model.FrameRecord // nil when no pose was detected
	err    error
}

// Extract samples videoPath and returns the motion sequence for videoId.
// Sampling failures surface as model.VideoOpenError. An estimator failure on
// any frame fails the whole extraction.
func (e *Extractor) Extract(ctx context.Context, videoId string, videoPath string, opts Options) (*model.MotionSequence, error) {
	ctx, span := e.tracer.Start(ctx, "extract_keypoints")
	defer span.End()
	span.SetAttributes(attribute.String("video_id", videoId), attribute.Int("frame_skip", opts.FrameSkip))

	sampling, err := e.sampler.Sample(ctx, videoPath, opts.FrameSkip, opts.Fps)
	if err != nil {
		span.SetStatus(codes.Error, "sampling failed")
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(sampling.Dir); err != nil {
			slog.WarnContext(ctx, "failed to remove frame directory", "dir", sampling.Dir, "error", err)
		}
	}()

	seq := model.NewMotionSequence(videoId, sampling.Fps, opts.FrameSkip)

	var wg sync.WaitGroup
	jobs := make(chan *model.SampledFrame, len(sampling.Frames))
	results := make(chan *frameResult, len(sampling.Frames))
	for w := 0; w < e.numberOfWorkers; w++ {
		wg.Add(1)
		go e.worker(ctx, jobs, results, &wg)
	}
	for _, f := range sampling.Frames {
		jobs <- f
	}
	close(jobs)
	wg.Wait()
	close(results)

	var errs []error
	for r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
			continue
		}
		if r.record != nil {
			seq.Frames = append(seq.Frames, r.record)
		}
	}
	if len(errs) > 0 {
		span.SetStatus(codes.Error, "pose inference failed")
		return nil, fmt.Errorf("pose inference failed on %d of %d frames: %w", len(errs), len(sampling.Frames), errors.Join(errs...))
	}

	slices.SortFunc(seq.Frames, func(a, b *model.FrameRecord) int { return a.FrameNo - b.FrameNo })
	span.SetAttributes(attribute.Int("sampled", len(sampling.Frames)), attribute.Int("records", len(seq.Frames)))
	span.SetStatus(codes.Ok, "extracted")
	slog.InfoContext(ctx, "extracted motion sequence",
		"video_id", videoId, "fps", seq.Fps, "sampled", len(sampling.Frames), "records", len(seq.Frames))
	return seq, nil
}

func (e *Extractor) worker(ctx context.Context, jobs <-chan *model.SampledFrame, results chan<- *frameResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for f := range jobs {
		if err := ctx.Err(); err != nil {
			results <- &frameResult{err: err}
			continue
		}
		results <- e.estimateFrame(ctx, f)
	}
}

func (e *Extractor) estimateFrame(ctx context.Context, f *model.SampledFrame) *frameResult {
	ctx, span := e.tracer.Start(ctx, "estimate_frame")
	defer span.End()
	span.SetAttributes(attribute.Int("frame_no", f.FrameNo))
	e.frameCounter.Add(ctx, 1)

	image, err := os.ReadFile(f.Path)
	if err != nil {
		e.errorCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "read failed")
		return &frameResult{err: err}
	}
	keypoints, detected, err := e.estimator.Estimate(ctx, image)
	if err != nil {
		e.errorCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "estimate failed")
		return &frameResult{err: fmt.Errorf("frame %d: %w", f.FrameNo, err)}
	}

	rounded := make(map[string]model.Keypoint, len(e.joints))
	for _, j := range e.joints {
		if k, ok := keypoints[j]; ok {
			rounded[j] = k.Rounded()
		}
	}
	if !detected || len(rounded) == 0 {
		e.undetectedCounter.Add(ctx, 1)
		return &frameResult{}
	}
	return &frameResult{record: &model.FrameRecord{
		FrameNo:   f.FrameNo,
		Timestamp: model.Round3(f.Timestamp),
		Keypoints: rounded,
	}}
}
