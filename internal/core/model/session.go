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

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a comparison session.
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// Terminal reports whether no further transitions can happen.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAborted
}

// SessionState is the running tally of a live comparison. The counters obey
// ScoreSum <= 100*StepsTaken, StepsTaken <= ActiveFrames <= TotalFrames and
// FrameIndex <= len(reference frames).
type SessionState struct {
	SessionId    string        `json:"session_id"`
	VideoId      string        `json:"video_id"`
	UserId       string        `json:"user_id"`
	Status       SessionStatus `json:"status"`
	StartTime    time.Time     `json:"start_time"`
	LastFrameAt  time.Time     `json:"last_frame_at"`
	FrameIndex   int           `json:"frame_index"`
	ScoreSum     float64       `json:"score_sum"`
	TotalFrames  int           `json:"total_frames"`
	ActiveFrames int           `json:"active_frames"`
	StepsTaken   int           `json:"steps_taken"`
}

// NewSessionState creates an idle session with a fresh random id.
func NewSessionState(videoId string, userId string) *SessionState {
	return &SessionState{
		SessionId: uuid.NewString(),
		VideoId:   videoId,
		UserId:    userId,
		Status:    SessionIdle,
	}
}

// FinalAverage is the mean score over every received frame. Frames without
// a pose count as zero.
func (s *SessionState) FinalAverage() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.TotalFrames)
}

// MatchingAverage is the mean score over the frames that were actually
// compared with the reference.
func (s *SessionState) MatchingAverage() float64 {
	if s.StepsTaken == 0 {
		return 0
	}
	return s.ScoreSum / float64(s.StepsTaken)
}

// Result is the persisted record of a finished session.
type Result struct {
	Id                  string    `json:"id" bigquery:"id"`
	SessionId           string    `json:"session_id" bigquery:"session_id"`
	UserId              string    `json:"user_id" bigquery:"user_id"`
	VideoId             string    `json:"video_id" bigquery:"video_id"`
	Status              string    `json:"status" bigquery:"status"`
	AccuracyScore       float64   `json:"accuracy_score" bigquery:"accuracy_score"`
	MotionMatchingScore float64   `json:"motion_matching_score" bigquery:"motion_matching_score"`
	CaloriesBurned      float64   `json:"calories_burned" bigquery:"calories_burned"`
	ExerciseDuration    float64   `json:"exercise_duration" bigquery:"exercise_duration"` // Minutes.
	StepsTaken          int       `json:"steps_taken" bigquery:"steps_taken"`
	StepsPerMinute      float64   `json:"steps_per_minute" bigquery:"steps_per_minute"`
	MovementEfficiency  float64   `json:"movement_efficiency" bigquery:"movement_efficiency"`
	PerformanceScore    float64   `json:"performance_score" bigquery:"performance_score"`
	EnergyExpenditure   float64   `json:"energy_expenditure" bigquery:"energy_expenditure"`
	UserFeedback        string    `json:"user_feedback" bigquery:"user_feedback"`
	ActiveFrames        int       `json:"active_frames" bigquery:"active_frames"`
	TotalFrames         int       `json:"total_frames" bigquery:"total_frames"`
	CreatedAt           time.Time `json:"created_at" bigquery:"created_at"`
}

// NewResult creates a result shell for a session; metric fields are filled
// by the caller.
func NewResult(state *SessionState) *Result {
	return &Result{
		Id:           uuid.NewString(),
		SessionId:    state.SessionId,
		UserId:       state.UserId,
		VideoId:      state.VideoId,
		Status:       string(state.Status),
		ActiveFrames: state.ActiveFrames,
		TotalFrames:  state.TotalFrames,
		StepsTaken:   state.StepsTaken,
		CreatedAt:    time.Now(),
	}
}
