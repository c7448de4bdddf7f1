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
	"errors"
	"fmt"
)

// ErrStreamEnded is returned when a frame is pushed to a session whose input
// has already been closed.
var ErrStreamEnded = errors.New("session stream has ended")

// ErrSessionNotFound is returned for operations on an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidMotionSequence wraps every Validate failure.
var ErrInvalidMotionSequence = errors.New("invalid motion sequence")

// VideoOpenError means a video source could not be opened or decoded.
type VideoOpenError struct {
	Path string
	Err  error
}

func (e *VideoOpenError) Error() string {
	return fmt.Sprintf("cannot open video %s: %v", e.Path, e.Err)
}

func (e *VideoOpenError) Unwrap() error {
	return e.Err
}

// ReferenceNotFoundError means a session could not start because the user's
// weight or the video's motion sequence is missing.
type ReferenceNotFoundError struct {
	VideoId string
	UserId  string
	Missing string // "motion" or "weight"
}

func (e *ReferenceNotFoundError) Error() string {
	if e.Missing == "weight" {
		return fmt.Sprintf("no weight recorded for user %s", e.UserId)
	}
	return fmt.Sprintf("no motion data found for video %s", e.VideoId)
}

// SessionBusyError is returned when a start would exceed the allowed number
// of running sessions.
type SessionBusyError struct {
	UserId string
	Reason string
}

func (e *SessionBusyError) Error() string {
	return fmt.Sprintf("comparison already running for user %s: %s", e.UserId, e.Reason)
}
