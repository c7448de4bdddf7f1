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

package pose

// Feedback labels shown to the dancer.
const (
	FeedbackPerfect    = "PERFECT!"
	FeedbackGreat      = "GREAT!"
	FeedbackGood       = "GOOD!"
	FeedbackKeepTrying = "KEEP TRYING!"
)

// Feedback maps a 0..100 score to its label.
func Feedback(score float64) string {
	switch {
	case score >= 90:
		return FeedbackPerfect
	case score >= 75:
		return FeedbackGreat
	case score >= 50:
		return FeedbackGood
	default:
		return FeedbackKeepTrying
	}
}
