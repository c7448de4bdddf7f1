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
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ifit-app/ifit-motion/internal/core/commands"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/workflow"
	"github.com/spf13/cobra"
)

var (
	extractVideoId   string
	extractFrameSkip int
	extractFps       float64
	extractOutput    string
	extractSave      bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <video>",
	Short: "Extract a motion sequence from a dance video",
	Long: `Samples every Nth frame of the video with ffmpeg, estimates the pose in
each sampled frame and writes the resulting motion sequence as JSON or YAML.
With --save the sequence is also stored in the SQLite database, replacing any
earlier sequence of the same video.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		config, err := loadConfig()
		if err != nil {
			return err
		}
		ke, err := newExtractor(ctx, config)
		if err != nil {
			return err
		}

		var store services.MotionStore
		if extractSave {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()
			store = s
		}

		videoId := extractVideoId
		if videoId == "" {
			videoId = videoIdFromPath(args[0])
		}
		opts := extractor.Options{FrameSkip: extractFrameSkip, Fps: extractFps}
		if opts.FrameSkip < 1 {
			opts.FrameSkip = config.Extraction.FrameSkip
		}
		seq, err := extractSequence(ctx, ke, store, videoId, args[0], opts)
		if err != nil {
			return err
		}

		output := extractOutput
		if output == "" {
			output = videoId + ".json"
		}
		if err := writeSequence(output, seq); err != nil {
			return err
		}
		printExtraction(cmd.OutOrStdout(), seq, output, extractSave)
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractVideoId, "video-id", "", "Video id (defaults to the file name without extension)")
	extractCmd.Flags().IntVar(&extractFrameSkip, "frame-skip", 0, "Sample every Nth frame (defaults to the configured stride)")
	extractCmd.Flags().Float64Var(&extractFps, "fps", 0, "Override the frame rate reported by ffprobe")
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "Output file, .json or .yaml (defaults to <video-id>.json)")
	extractCmd.Flags().BoolVar(&extractSave, "save", false, "Also store the sequence in the database")
}

func videoIdFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// extractSequence runs the local ingestion chain on a video, persisting the
// result when store is not nil. The video itself is left in place.
func extractSequence(ctx context.Context, ke commands.KeypointExtractor, store services.MotionStore,
	videoId string, path string, opts extractor.Options) (*model.MotionSequence, error) {
	ingestion := workflow.NewLocalMotionIngestionWorkflow(ke, store, opts, false)
	chainCtx := commands.NewLocalIngestionContext(videoId, path, nil)
	defer chainCtx.Close()
	chainCtx.SetContext(ctx)
	ingestion.Execute(chainCtx)

	if chainCtx.HasErrors() {
		var errs []error
		for name, err := range chainCtx.GetErrors() {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return nil, errors.Join(errs...)
	}
	seq, ok := cor.Get[*model.MotionSequence](chainCtx, cor.CtxIn)
	if !ok {
		return nil, errors.New("extraction produced no motion sequence")
	}
	return seq, nil
}

func printExtraction(w io.Writer, seq *model.MotionSequence, output string, saved bool) {
	fmt.Fprintln(w, titleStyle.Render("Motion extracted"))
	fmt.Fprintln(w, field("Video", seq.VideoId))
	fmt.Fprintln(w, field("Frame rate", fmt.Sprintf("%.3f fps", seq.Fps)))
	fmt.Fprintln(w, field("Frame skip", seq.FrameSkip))
	fmt.Fprintln(w, field("Records", len(seq.Frames)))
	fmt.Fprintln(w, field("Written to", output))
	if saved {
		fmt.Fprintln(w, successStyle.Render("Stored in "+dbPath))
	}
	if len(seq.Frames) == 0 {
		fmt.Fprintln(w, warningStyle.Render("No pose was detected in any sampled frame"))
	}
}
