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
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/session"
	"github.com/spf13/cobra"
)

const inMemoryDB = "file::memory:"

var (
	compareUserId    string
	compareWeight    float64
	compareFrameSkip int
	compareSave      bool
)

var compareCmd = &cobra.Command{
	Use:   "compare <reference> <performance>",
	Short: "Score a performance against a reference",
	Long: `Scores a performance against a reference through the session comparator.
Each argument is either a motion sequence file (.json, .yaml) or a video,
which is extracted first. The performance is replayed at its own frame rate
to derive the exercise duration used for the fitness metrics.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		loader := &motionLoader{frameSkip: compareFrameSkip}
		reference, err := loader.load(ctx, args[0])
		if err != nil {
			return fmt.Errorf("reference: %w", err)
		}
		live, err := loader.load(ctx, args[1])
		if err != nil {
			return fmt.Errorf("performance: %w", err)
		}

		path := inMemoryDB
		if compareSave {
			path = dbPath
		}
		results, err := services.OpenSQLiteStore(ctx, path)
		if err != nil {
			return err
		}
		defer results.Close()

		_, err = runComparison(ctx, reference, live, compareUserId, compareWeight, results, cmd.OutOrStdout())
		return err
	},
}

func init() {
	compareCmd.Flags().StringVar(&compareUserId, "user-id", "local", "User the result is recorded for")
	compareCmd.Flags().Float64Var(&compareWeight, "weight", 70, "Body weight in kg")
	compareCmd.Flags().IntVar(&compareFrameSkip, "frame-skip", 0, "Sampling stride for video arguments (defaults to the configured stride)")
	compareCmd.Flags().BoolVar(&compareSave, "save", false, "Store the result in the database")
}

// motionLoader reads sequence files and extracts videos, building the
// extractor on first use.
type motionLoader struct {
	frameSkip int
	config    *cloud.Config
	extractor *extractor.Extractor
}

func (l *motionLoader) load(ctx context.Context, path string) (*model.MotionSequence, error) {
	if isSequenceFile(path) {
		return readSequence(path)
	}
	if l.extractor == nil {
		config, err := loadConfig()
		if err != nil {
			return nil, err
		}
		ke, err := newExtractor(ctx, config)
		if err != nil {
			return nil, err
		}
		l.config, l.extractor = config, ke
	}
	opts := extractor.Options{FrameSkip: l.frameSkip}
	if opts.FrameSkip < 1 {
		opts.FrameSkip = l.config.Extraction.FrameSkip
	}
	return extractSequence(ctx, l.extractor, nil, videoIdFromPath(path), path, opts)
}

// replayClock reports a fixed start time plus an offset the caller moves.
type replayClock struct {
	start  time.Time
	offset atomic.Int64
}

func (c *replayClock) now() time.Time {
	return c.start.Add(time.Duration(c.offset.Load()))
}

// playbackDuration is how long the performance lasts at its record rate.
func playbackDuration(seq *model.MotionSequence) time.Duration {
	rps := seq.RecordsPerSecond()
	if rps <= 0 {
		return 0
	}
	return time.Duration(float64(len(seq.Frames)) / rps * float64(time.Second))
}

// runComparison replays live against reference through a session manager and
// prints the per-frame scores (with --verbose) and the summary.
func runComparison(ctx context.Context, reference *model.MotionSequence, live *model.MotionSequence,
	userId string, weightKg float64, results services.ResultStore, w io.Writer) (*model.Result, error) {
	if err := live.Validate(); err != nil {
		return nil, fmt.Errorf("performance: %w", err)
	}
	motions, err := services.OpenSQLiteStore(ctx, inMemoryDB)
	if err != nil {
		return nil, err
	}
	defer motions.Close()
	if reference.VideoId == "" {
		reference.VideoId = "reference"
	}
	if _, err := motions.Save(ctx, reference); err != nil {
		return nil, err
	}

	clock := &replayClock{start: time.Now()}
	manager := session.NewManager(ctx, motions, services.StaticProfiles{userId: weightKg}, results, nil,
		session.NewHub(len(live.Frames)+2), session.Options{FrameBufferSize: 64}).WithClock(clock.now)
	defer func() { _ = manager.Shutdown(context.WithoutCancel(ctx)) }()

	id, err := manager.Start(ctx, reference.VideoId, userId)
	if err != nil {
		return nil, err
	}
	sub := manager.Hub().Subscribe(id)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub.C {
			if score, ok := ev.Data.(*model.AccuracyScore); ok && verbose {
				fmt.Fprintf(w, "frame %4d  %6.2f  %s\n", score.FrameNo, score.Accuracy, score.Feedback)
			}
			if e, ok := ev.Data.(*model.ComparisonError); ok {
				fmt.Fprintln(w, warningStyle.Render(e.Message))
			}
		}
	}()

	for _, f := range live.Frames {
		kp := f.Keypoints
		if kp == nil {
			kp = map[string]model.Keypoint{}
		}
		if err := manager.Push(ctx, id, &session.LiveFrame{Keypoints: kp}); err != nil {
			return nil, err
		}
	}
	clock.offset.Store(int64(playbackDuration(live)))
	if err := manager.EndStream(id); err != nil {
		return nil, err
	}
	result, err := manager.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	<-printed

	printResult(w, reference, live, result)
	return result, nil
}

func printResult(w io.Writer, reference *model.MotionSequence, live *model.MotionSequence, r *model.Result) {
	fmt.Fprintln(w, titleStyle.Render("Comparison "+r.Status))
	fmt.Fprintln(w, field("Reference", fmt.Sprintf("%s (%d records)", reference.VideoId, len(reference.Frames))))
	fmt.Fprintln(w, field("Performance", fmt.Sprintf("%s (%d records)", live.VideoId, len(live.Frames))))
	fmt.Fprintln(w, field("Accuracy", fmt.Sprintf("%.2f", r.AccuracyScore)))
	fmt.Fprintln(w, field("Motion matching", fmt.Sprintf("%.2f", r.MotionMatchingScore)))
	fmt.Fprintln(w, field("Steps", r.StepsTaken))
	fmt.Fprintln(w, field("Duration", fmt.Sprintf("%.2f min", r.ExerciseDuration)))
	fmt.Fprintln(w, field("Calories", fmt.Sprintf("%.2f kcal", r.CaloriesBurned)))
	fmt.Fprintln(w, field("Performance score", fmt.Sprintf("%.2f", r.PerformanceScore)))
	fmt.Fprintln(w, successStyle.Render(r.UserFeedback))
}
