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

// Package model defines the core data structures for the application.
// This file contains structures that only live in memory while a workflow
// or a session is running; they are never persisted in this form.
package model

// SampledFrame is one frame written by the frame sampler.
type SampledFrame struct {
	FrameNo   int     // Source frame index.
	Timestamp float64 // Seconds from the start of the video.
	Path      string  // Local JPEG path.
}

// PoseLandmark is one landmark in a pose estimator's JSON answer.
type PoseLandmark struct {
	Name       string  `json:"name"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// PoseEstimate is the structured answer expected from a generative pose
// estimator. Detected is false when no person is in the frame.
type PoseEstimate struct {
	Detected  bool            `json:"detected"`
	Landmarks []*PoseLandmark `json:"landmarks"`
}

// Keypoints converts the estimate into a keypoint map restricted to the
// given vocabulary. An empty vocabulary keeps every landmark.
func (p *PoseEstimate) Keypoints(vocabulary []string) map[string]Keypoint {
	out := make(map[string]Keypoint, len(p.Landmarks))
	allowed := make(map[string]bool, len(vocabulary))
	for _, j := range vocabulary {
		allowed[j] = true
	}
	for _, l := range p.Landmarks {
		if l == nil || (len(allowed) > 0 && !allowed[l.Name]) {
			continue
		}
		out[l.Name] = Keypoint{X: l.X, Y: l.Y, Z: l.Z, Visibility: l.Visibility}
	}
	return out
}
