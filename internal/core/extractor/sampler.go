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

package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"github.com/ifit-app/ifit-motion/internal/core/model"
)

// Sampling is the set of frames written by a Sampler. Dir holds the JPEGs
// and belongs to the caller, who must remove it.
type Sampling struct {
	Fps    float64
	Dir    string
	Frames []*model.SampledFrame
}

// Sampler decodes every frameSkip-th frame of a video to a JPEG file. A
// positive fps replaces the rate probed from the container.
type Sampler interface {
	Sample(ctx context.Context, videoPath string, frameSkip int, fps float64) (*Sampling, error)
}

const (
	// magic bytes needed by filetype.
	headerSize = 261

	framePattern = "frame_%06d.jpg"
)

// CheckVideoFile verifies that path exists and starts with the magic bytes of
// a known video container. It returns the detected MIME type.
func CheckVideoFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &model.VideoOpenError{Path: path, Err: err}
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", &model.VideoOpenError{Path: path, Err: err}
	}
	head = head[:n]
	if !filetype.IsVideo(head) {
		return "", &model.VideoOpenError{Path: path, Err: errors.New("not a video container")}
	}
	kind, _ := filetype.Match(head)
	return kind.MIME.Value, nil
}

// ParseFrameRate parses an ffprobe rate such as "30/1" or "30000/1001".
func ParseFrameRate(rate string) (float64, error) {
	rate = strings.TrimSpace(rate)
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
	}
	d := 1.0
	if found {
		if d, err = strconv.ParseFloat(den, 64); err != nil {
			return 0, fmt.Errorf("invalid frame rate %q: %w", rate, err)
		}
	}
	if n <= 0 || d <= 0 {
		return 0, fmt.Errorf("invalid frame rate %q", rate)
	}
	return n / d, nil
}

// FFmpegSampler implements Sampler with the ffprobe and ffmpeg binaries.
type FFmpegSampler struct {
	FFmpegCommand  string // Path of the ffmpeg executable.
	FFprobeCommand string // Path of the ffprobe executable.
	TempDir        string // Parent of the frame directories; os.TempDir when empty.
}

func NewFFmpegSampler(ffmpegCommand string, ffprobeCommand string) *FFmpegSampler {
	return &FFmpegSampler{FFmpegCommand: ffmpegCommand, FFprobeCommand: ffprobeCommand}
}

func (s *FFmpegSampler) probeFps(ctx context.Context, videoPath string) (float64, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.FFprobeCommand,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	// Only the first line matters if the container reports several streams.
	line, _, _ := strings.Cut(stdout.String(), "\n")
	return ParseFrameRate(line)
}

// Sample writes frames 0, N, 2N... of videoPath into a new temp directory.
// Any decode failure is reported as a VideoOpenError and the directory is
// removed.
func (s *FFmpegSampler) Sample(ctx context.Context, videoPath string, frameSkip int, fps float64) (out *Sampling, err error) {
	if frameSkip < 1 {
		frameSkip = 1
	}
	if fps <= 0 {
		if fps, err = s.probeFps(ctx, videoPath); err != nil {
			return nil, &model.VideoOpenError{Path: videoPath, Err: err}
		}
	}

	dir, err := os.MkdirTemp(s.TempDir, "ifit-frames-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.FFmpegCommand,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", videoPath,
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, frameSkip),
		"-vsync", "0",
		"-q:v", "2",
		filepath.Join(dir, framePattern))
	cmd.Stderr = &stderr
	slog.DebugContext(ctx, "sampling frames", "video", videoPath, "frame_skip", frameSkip, "fps", fps)
	if err = cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.VideoOpenError{Path: videoPath, Err: fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(stderr.String()))}
	}

	frames, err := collectFrames(dir, frameSkip, fps)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		err = &model.VideoOpenError{Path: videoPath, Err: errors.New("no frames decoded")}
		return nil, err
	}
	return &Sampling{Fps: fps, Dir: dir, Frames: frames}, nil
}

// collectFrames maps ffmpeg's 1-based output numbering back to source frame
// indexes: the i-th written file is source frame (i-1)*frameSkip.
func collectFrames(dir string, frameSkip int, fps float64) ([]*model.SampledFrame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	frames := make([]*model.SampledFrame, 0, len(entries))
	for _, e := range entries {
		var seq int
		if _, err := fmt.Sscanf(e.Name(), framePattern, &seq); err != nil || seq < 1 {
			continue
		}
		frameNo := (seq - 1) * frameSkip
		frames = append(frames, &model.SampledFrame{
			FrameNo:   frameNo,
			Timestamp: float64(frameNo) / fps,
			Path:      filepath.Join(dir, e.Name()),
		})
	}
	slices.SortFunc(frames, func(a, b *model.SampledFrame) int { return a.FrameNo - b.FrameNo })
	return frames, nil
}
