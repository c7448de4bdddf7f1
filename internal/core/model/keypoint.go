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

// Package model defines the data structures shared by the extractor, the
// session comparator and the stores.
//
// This file holds the pose primitives: a Keypoint is one joint position, a
// FrameRecord is the set of keypoints seen in one sampled frame, and a
// MotionSequence is the ordered reference choreography for a video.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Joint names for the pose landmarks tracked by the service. The names match
// the landmark naming of the upstream pose model so that client-side
// estimators can send keypoints without translation.
const (
	JointNose          = "nose"
	JointLeftShoulder  = "left_shoulder"
	JointRightShoulder = "right_shoulder"
	JointLeftElbow     = "left_elbow"
	JointRightElbow    = "right_elbow"
	JointLeftWrist     = "left_wrist"
	JointRightWrist    = "right_wrist"
	JointLeftHip       = "left_hip"
	JointRightHip      = "right_hip"
	JointLeftKnee      = "left_knee"
	JointRightKnee     = "right_knee"
	JointLeftAnkle     = "left_ankle"
	JointRightAnkle    = "right_ankle"
)

// DefaultJoints is the vocabulary used when no joint list is configured.
var DefaultJoints = []string{
	JointNose,
	JointLeftShoulder, JointRightShoulder,
	JointLeftElbow, JointRightElbow,
	JointLeftWrist, JointRightWrist,
	JointLeftHip, JointRightHip,
	JointLeftKnee, JointRightKnee,
	JointLeftAnkle, JointRightAnkle,
}

// Keypoint is a single joint position. X and Y are normalized image
// coordinates, Z is relative depth and Visibility is the detector's
// confidence that the joint is in view.
type Keypoint struct {
	X          float64 `json:"x" yaml:"x"`
	Y          float64 `json:"y" yaml:"y"`
	Z          float64 `json:"z" yaml:"z"`
	Visibility float64 `json:"visibility" yaml:"visibility"`
}

// Rounded returns the keypoint with every component rounded to 3 decimals.
func (k Keypoint) Rounded() Keypoint {
	return Keypoint{X: Round3(k.X), Y: Round3(k.Y), Z: Round3(k.Z), Visibility: Round3(k.Visibility)}
}

// Round3 rounds half away from zero at the third decimal.
func Round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FrameRecord holds the keypoints detected in one sampled source frame.
type FrameRecord struct {
	FrameNo   int                 `json:"frame_no" yaml:"frame_no"`   // Source frame index, strictly increasing within a sequence.
	Timestamp float64             `json:"timestamp" yaml:"timestamp"` // Seconds from the start of the video.
	Keypoints map[string]Keypoint `json:"keypoints" yaml:"keypoints"`
}

// MotionSequence is the reference choreography extracted from a video.
type MotionSequence struct {
	Id        string         `json:"id" yaml:"id"`
	VideoId   string         `json:"video_id" yaml:"video_id"`
	Fps       float64        `json:"fps" yaml:"fps"`               // Frame rate of the source video.
	FrameSkip int            `json:"frame_skip" yaml:"frame_skip"` // Sampling stride used at extraction.
	Frames    []*FrameRecord `json:"frames" yaml:"frames"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// NewMotionSequence creates an empty sequence for a video. The id is a
// name-based UUID of the video id so that re-extraction addresses the same
// logical record.
func NewMotionSequence(videoId string, fps float64, frameSkip int) *MotionSequence {
	if frameSkip < 1 {
		frameSkip = 1
	}
	return &MotionSequence{
		Id:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(videoId)).String(),
		VideoId:   videoId,
		Fps:       fps,
		FrameSkip: frameSkip,
		Frames:    make([]*FrameRecord, 0),
		CreatedAt: time.Now(),
	}
}

// RecordsPerSecond is the rate at which the sequence's records advance in
// real time.
func (m *MotionSequence) RecordsPerSecond() float64 {
	if m.Fps <= 0 {
		return 0
	}
	skip := m.FrameSkip
	if skip < 1 {
		skip = 1
	}
	return m.Fps / float64(skip)
}

// Validate checks that the sequence can drive a comparison: a positive frame
// rate, no missing frames and strictly increasing frame numbers. An empty
// sequence is valid.
func (m *MotionSequence) Validate() error {
	if m.Fps <= 0 || math.IsNaN(m.Fps) || math.IsInf(m.Fps, 0) {
		return fmt.Errorf("%w: video %s has fps %v", ErrInvalidMotionSequence, m.VideoId, m.Fps)
	}
	for i, f := range m.Frames {
		if f == nil {
			return fmt.Errorf("%w: video %s has no record at position %d", ErrInvalidMotionSequence, m.VideoId, i)
		}
		if i > 0 && f.FrameNo <= m.Frames[i-1].FrameNo {
			return fmt.Errorf("%w: video %s frame %d at position %d does not follow frame %d",
				ErrInvalidMotionSequence, m.VideoId, f.FrameNo, i, m.Frames[i-1].FrameNo)
		}
	}
	return nil
}
