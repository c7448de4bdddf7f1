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

// Package services contains the data access layer. This file centralizes the
// BigQuery SQL used by the stores. Table names are injected with
// fmt.Sprintf; values are always bound as named query parameters.
package services

const (
	// QryLatestMotionByVideo returns the newest sequence stored for a video.
	// Streaming inserts cannot be updated in place, so "last write wins" is
	// resolved at read time by created_at.
	//
	// Placeholders:
	// - `%s`: The fully qualified name of the motion table.
	// Parameters:
	// - `@video_id`: The video id.
	QryLatestMotionByVideo = "SELECT * FROM `%s` WHERE video_id = @video_id ORDER BY created_at DESC LIMIT 1"

	// QryDeleteMotionByVideo removes every stored sequence of a video.
	QryDeleteMotionByVideo = "DELETE FROM `%s` WHERE video_id = @video_id"

	// QryResultsByUser lists a user's results, newest first.
	//
	// Parameters:
	// - `@user_id`: The user id.
	// - `@limit`: The maximum number of rows.
	QryResultsByUser = "SELECT * FROM `%s` WHERE user_id = @user_id ORDER BY created_at DESC LIMIT @limit"

	// QryUserWeight reads the body weight used for calorie estimates.
	QryUserWeight = "SELECT weight FROM `%s` WHERE id = @user_id LIMIT 1"
)
