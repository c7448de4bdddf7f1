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

package pose_test

import (
	"strings"
	"testing"

	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/zeebo/assert"
)

func TestParsePoseEstimate(t *testing.T) {
	answer := "```json\n" + `{"detected": true, "landmarks": [
		{"name": "left_wrist", "x": 0.2, "y": 0.3, "z": 0, "visibility": 0.9},
		{"name": "left_pinky", "x": 0.21, "y": 0.31, "z": 0, "visibility": 0.9}
	]}` + "\n```"

	keypoints, detected, err := pose.ParsePoseEstimate(answer, model.DefaultJoints)
	assert.Nil(t, err)
	assert.That(t, detected)
	assert.Equal(t, len(keypoints), 1)
	assert.Equal(t, keypoints[model.JointLeftWrist].X, 0.2)
}

func TestParsePoseEstimateNoPerson(t *testing.T) {
	_, detected, err := pose.ParsePoseEstimate(`{"detected": false, "landmarks": []}`, nil)
	assert.Nil(t, err)
	assert.That(t, !detected)

	// Landmarks outside the vocabulary leave nothing to score.
	_, detected, err = pose.ParsePoseEstimate(`{"detected": true, "landmarks": [{"name": "left_pinky"}]}`, model.DefaultJoints)
	assert.Nil(t, err)
	assert.That(t, !detected)
}

func TestParsePoseEstimateMalformed(t *testing.T) {
	_, _, err := pose.ParsePoseEstimate("I see a dancer", nil)
	assert.NotNil(t, err)
}

func TestRenderPosePrompt(t *testing.T) {
	prompt, err := pose.RenderPosePrompt(pose.DefaultPosePrompt, []string{model.JointNose, model.JointLeftKnee})
	assert.Nil(t, err)
	assert.That(t, len(prompt) > 0)
	assert.That(t, strings.Contains(prompt, "nose, left_knee"))
	assert.That(t, strings.Contains(prompt, `"detected":true`))

	_, err = pose.RenderPosePrompt("{{ .JOINTS ", nil)
	assert.NotNil(t, err)
}
