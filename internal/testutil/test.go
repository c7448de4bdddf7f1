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

// Package test provides helpers and fixtures shared by the test suites:
// configuration loading, Pub/Sub notification payloads, tiny video files and
// reference motion sequences.
package test

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
)

// StateManager caches the configuration across tests of one package.
type StateManager struct {
	config *cloud.Config
}

var state = &StateManager{}

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// ConfigDir returns the repository's configs directory, independent of the
// package the test runs in.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at the test configuration.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads configs/.env.toml with the .env.test.toml overlay once and
// returns the cached result afterwards.
func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

// GetTestVideoUploadMessageText returns a GCS notification for a reference
// video whose target id is carried in object metadata.
func GetTestVideoUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "ifit_reference_videos/dance/salsa-basic.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/ifit_reference_videos/o/dance%2Fsalsa-basic.mp4",
  "name": "dance/salsa-basic.mp4",
  "bucket": "ifit_reference_videos",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "size": "25934803",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "metadata": { "video_id": "vid-salsa-001" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// GetTestVideoUploadMessageWithoutMetadata returns a notification whose video
// id must be derived from the object name.
func GetTestVideoUploadMessageWithoutMetadata() string {
	return `{
  "kind": "storage#object",
  "id": "ifit_reference_videos/warmup-002.mov/1728615848664299",
  "name": "warmup-002.mov",
  "bucket": "ifit_reference_videos",
  "generation": "1728615848664299",
  "contentType": "video/quicktime",
  "size": "1048576"
}`
}

// Mp4Header is the start of an ISO base media file, enough for magic byte
// detection.
var Mp4Header = append([]byte{0x00, 0x00, 0x00, 0x18}, []byte("ftypisom\x00\x00\x02\x00isomiso2")...)

// WriteFakeVideo writes a file that passes the video container check but
// cannot be decoded.
func WriteFakeVideo(t *testing.T, dir string, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, append(append([]byte{}, Mp4Header...), make([]byte, 1024)...), 0o600); err != nil {
		t.Fatalf("failed to write fake video: %v", err)
	}
	return p
}

// Pose builds a keypoint map from joint → (x, y) pairs with full visibility.
func Pose(points map[string][2]float64) map[string]model.Keypoint {
	out := make(map[string]model.Keypoint, len(points))
	for j, p := range points {
		out[j] = model.Keypoint{X: p[0], Y: p[1], Visibility: 1}
	}
	return out
}

// GetReferenceSequence returns a three-record single-joint sequence at 30 fps
// with frame skip 3. Records sit at (0.5,0.5), (0.3,0.4) and (0.2,0.3).
func GetReferenceSequence(videoId string) *model.MotionSequence {
	seq := model.NewMotionSequence(videoId, 30, 3)
	for i, p := range [][2]float64{{0.5, 0.5}, {0.3, 0.4}, {0.2, 0.3}} {
		seq.Frames = append(seq.Frames, &model.FrameRecord{
			FrameNo:   i * 3,
			Timestamp: model.Round3(float64(i*3) / 30),
			Keypoints: Pose(map[string][2]float64{model.JointLeftWrist: p}),
		})
	}
	return seq
}

// NewSQLiteStore opens a throwaway SQLite store in the test's temp dir.
func NewSQLiteStore(t *testing.T) *services.SQLiteStore {
	t.Helper()
	store, err := services.OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "ifit-test.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
