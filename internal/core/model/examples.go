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

// Package model defines the data structures for the application. This file
// provides a hardcoded example of the pose estimator's answer.
//
// The example is embedded in the estimator prompt as a "few-shot" sample so
// that the model returns JSON in exactly the shape PoseEstimate expects.
package model

// GetExamplePoseEstimate returns a plausible standing pose covering every
// default joint.
func GetExamplePoseEstimate() *PoseEstimate {
	return &PoseEstimate{
		Detected: true,
		Landmarks: []*PoseLandmark{
			{Name: JointNose, X: 0.502, Y: 0.148, Z: -0.311, Visibility: 0.998},
			{Name: JointLeftShoulder, X: 0.571, Y: 0.262, Z: -0.102, Visibility: 0.995},
			{Name: JointRightShoulder, X: 0.433, Y: 0.259, Z: -0.097, Visibility: 0.996},
			{Name: JointLeftElbow, X: 0.604, Y: 0.381, Z: -0.054, Visibility: 0.942},
			{Name: JointRightElbow, X: 0.401, Y: 0.377, Z: -0.061, Visibility: 0.951},
			{Name: JointLeftWrist, X: 0.612, Y: 0.488, Z: -0.118, Visibility: 0.903},
			{Name: JointRightWrist, X: 0.389, Y: 0.492, Z: -0.125, Visibility: 0.911},
			{Name: JointLeftHip, X: 0.548, Y: 0.531, Z: 0.004, Visibility: 0.989},
			{Name: JointRightHip, X: 0.458, Y: 0.533, Z: -0.003, Visibility: 0.990},
			{Name: JointLeftKnee, X: 0.553, Y: 0.702, Z: 0.021, Visibility: 0.934},
			{Name: JointRightKnee, X: 0.451, Y: 0.705, Z: 0.017, Visibility: 0.938},
			{Name: JointLeftAnkle, X: 0.557, Y: 0.861, Z: 0.093, Visibility: 0.871},
			{Name: JointRightAnkle, X: 0.447, Y: 0.864, Z: 0.088, Visibility: 0.866},
		},
	}
}
