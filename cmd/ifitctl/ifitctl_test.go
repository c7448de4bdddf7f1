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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	test "github.com/ifit-app/ifit-motion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wristSequence(videoId string, fps float64, frameSkip int, points ...[2]float64) *model.MotionSequence {
	seq := model.NewMotionSequence(videoId, fps, frameSkip)
	for i, p := range points {
		seq.Frames = append(seq.Frames, &model.FrameRecord{
			FrameNo:   i * frameSkip,
			Keypoints: test.Pose(map[string][2]float64{model.JointLeftWrist: p}),
		})
	}
	return seq
}

func TestRunComparison(t *testing.T) {
	ctx := context.Background()
	reference := wristSequence("salsa", 30, 1, [2]float64{0.2, 0.3}, [2]float64{0.2, 0.3}, [2]float64{0.2, 0.3})
	live := wristSequence("attempt", 30, 3, [2]float64{0.2, 0.3}, [2]float64{0.25, 0.35}, [2]float64{1.0, 1.0})

	results, err := services.OpenSQLiteStore(ctx, inMemoryDB)
	require.NoError(t, err)
	defer results.Close()

	var out bytes.Buffer
	r, err := runComparison(ctx, reference, live, "u1", 60, results, &out)
	require.NoError(t, err)
	assert.InDelta(t, 64.31, r.AccuracyScore, 0.01)
	assert.Equal(t, 3, r.StepsTaken)
	// Three records at 10 records per second.
	assert.InDelta(t, 0.3/60, r.ExerciseDuration, 1e-9)
	assert.InDelta(t, 5*60*(0.3/60)/60, r.CaloriesBurned, 1e-9)
	assert.Contains(t, out.String(), "Comparison completed")
	assert.Contains(t, out.String(), "GOOD!")

	stored, err := results.FindByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, r.SessionId, stored[0].SessionId)
}

func TestRunComparisonWithoutPerformance(t *testing.T) {
	ctx := context.Background()
	reference := wristSequence("salsa", 30, 1, [2]float64{0.2, 0.3})
	results, err := services.OpenSQLiteStore(ctx, inMemoryDB)
	require.NoError(t, err)
	defer results.Close()

	r, err := runComparison(ctx, reference, model.NewMotionSequence("empty", 30, 1), "u1", 60, results, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalFrames)
	assert.Equal(t, 0.0, r.AccuracyScore)
	assert.Equal(t, "KEEP TRYING!", r.UserFeedback)
}

func TestSequenceFiles(t *testing.T) {
	dir := t.TempDir()
	seq := test.GetReferenceSequence("salsa")

	for _, name := range []string{"salsa.yaml", "salsa.json"} {
		path := filepath.Join(dir, name)
		require.True(t, isSequenceFile(path))
		require.NoError(t, writeSequence(path, seq))
		got, err := readSequence(path)
		require.NoError(t, err)
		assert.Equal(t, seq.VideoId, got.VideoId)
		assert.Equal(t, seq.FrameSkip, got.FrameSkip)
		require.Len(t, got.Frames, 3)
		assert.Equal(t, 0.3, got.Frames[1].Keypoints[model.JointLeftWrist].X)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "salsa.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "frame_skip: 3")
	assert.False(t, isSequenceFile("salsa.mp4"))
}

func TestReadSequenceRejectsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"null-frame.json": `{"video_id":"r","fps":30,"frames":[null]}`,
		"no-fps.json":     `{"video_id":"r","fps":0,"frames":[{"frame_no":0}]}`,
		"repeated.json":   `{"video_id":"r","fps":30,"frames":[{"frame_no":5},{"frame_no":5},{"frame_no":1}]}`,
		"backwards.yaml":  "video_id: r\nfps: 30\nframes:\n  - frame_no: 3\n  - frame_no: 0\n",
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		_, err := readSequence(path)
		assert.ErrorIs(t, err, model.ErrInvalidMotionSequence, name)
	}
}

func TestRunComparisonRejectsMalformedSequences(t *testing.T) {
	ctx := context.Background()
	results, err := services.OpenSQLiteStore(ctx, inMemoryDB)
	require.NoError(t, err)
	defer results.Close()

	good := wristSequence("salsa", 30, 1, [2]float64{0.2, 0.3}, [2]float64{0.2, 0.3})
	broken := wristSequence("broken", 30, 1, [2]float64{0.2, 0.3}, [2]float64{0.2, 0.3})
	broken.Frames[0] = nil

	_, err = runComparison(ctx, broken, good, "u1", 60, results, &bytes.Buffer{})
	assert.ErrorIs(t, err, model.ErrInvalidMotionSequence)
	_, err = runComparison(ctx, good, broken, "u1", 60, results, &bytes.Buffer{})
	assert.ErrorIs(t, err, model.ErrInvalidMotionSequence)
}

func TestCompareCommandWithSequenceFiles(t *testing.T) {
	dir := t.TempDir()
	ref := filepath.Join(dir, "reference.yaml")
	perf := filepath.Join(dir, "performance.json")
	require.NoError(t, writeSequence(ref, test.GetReferenceSequence("salsa")))
	require.NoError(t, writeSequence(perf, test.GetReferenceSequence("attempt")))

	var out bytes.Buffer
	rootCmd.SetArgs([]string{"compare", ref, perf, "--weight", "55", "--user-id", "u7"})
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "PERFECT!")
	assert.Contains(t, out.String(), "100.00")
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, videoId string, _ string, opts extractor.Options) (*model.MotionSequence, error) {
	seq := test.GetReferenceSequence(videoId)
	seq.FrameSkip = opts.FrameSkip
	return seq, nil
}

func TestExtractSequence(t *testing.T) {
	ctx := context.Background()
	store := test.NewSQLiteStore(t)
	video := test.WriteFakeVideo(t, t.TempDir(), "rumba.mp4")

	seq, err := extractSequence(ctx, stubExtractor{}, store, videoIdFromPath(video), video, extractor.Options{FrameSkip: 6})
	require.NoError(t, err)
	assert.Equal(t, "rumba", seq.VideoId)
	assert.Equal(t, 6, seq.FrameSkip)
	assert.FileExists(t, video)

	_, found, err := store.Get(ctx, "rumba")
	require.NoError(t, err)
	assert.True(t, found)

	notes := filepath.Join(t.TempDir(), "notes.mp4")
	require.NoError(t, os.WriteFile(notes, []byte("not a video"), 0o600))
	_, err = extractSequence(ctx, stubExtractor{}, nil, "notes", notes, extractor.Options{})
	var openErr *model.VideoOpenError
	assert.ErrorAs(t, err, &openErr)
}
