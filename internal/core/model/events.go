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

package model

// Event names published on a session's event channel.
const (
	EventVideoFrame         = "video_frame"
	EventAccuracyScore      = "accuracy_score"
	EventComparisonComplete = "comparison_complete"
	EventComparisonError    = "comparison_error"
)

// Event is one message on a session's event channel. Data holds one of the
// payload types below.
type Event struct {
	Name      string `json:"event"`
	SessionId string `json:"session_id"`
	Data      any    `json:"data"`
}

// Terminal reports whether the event ends the session's stream.
func (e Event) Terminal() bool {
	return e.Name == EventComparisonComplete
}

// VideoFrame carries a base64 JPEG of a processed live frame.
type VideoFrame struct {
	FrameNo int    `json:"frame_no"`
	Frame   string `json:"frame"`
}

// AccuracyScore is published once per received frame.
type AccuracyScore struct {
	FrameNo  int     `json:"frame_no"`
	Accuracy float64 `json:"accuracy"`
	Feedback string  `json:"feedback"`
}

// ComparisonComplete summarizes a finished session.
type ComparisonComplete struct {
	FinalScore         float64 `json:"final_score"`
	CaloriesBurned     float64 `json:"calories_burned"`
	StepsTaken         int     `json:"steps_taken"`
	StepsPerMinute     float64 `json:"steps_per_minute"`
	ExerciseDuration   float64 `json:"exercise_duration"`
	MovementEfficiency float64 `json:"movement_efficiency"`
	PerformanceScore   float64 `json:"performance_score"`
	EnergyExpenditure  float64 `json:"energy_expenditure"`
	UserFeedback       string  `json:"user_feedback"`
	Status             string  `json:"status"`
}

// NewComparisonComplete projects a result onto the completion payload.
func NewComparisonComplete(r *Result) *ComparisonComplete {
	return &ComparisonComplete{
		FinalScore:         r.AccuracyScore,
		CaloriesBurned:     r.CaloriesBurned,
		StepsTaken:         r.StepsTaken,
		StepsPerMinute:     r.StepsPerMinute,
		ExerciseDuration:   r.ExerciseDuration,
		MovementEfficiency: r.MovementEfficiency,
		PerformanceScore:   r.PerformanceScore,
		EnergyExpenditure:  r.EnergyExpenditure,
		UserFeedback:       r.UserFeedback,
		Status:             r.Status,
	}
}

// ComparisonError reports a failure during a session.
type ComparisonError struct {
	Message string `json:"message"`
}
