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

// Package pose compares body poses and turns video frames into keypoints.
//
// The Scorer is the single similarity function used by both live sessions
// and offline comparisons; there is no other scoring path.
package pose

import (
	"maps"
	"math"
	"slices"

	"github.com/ifit-app/ifit-motion/internal/core/model"
)

// Scorer computes a 0..100 similarity between two keypoint sets.
//
// Each joint present in both sets scores max(0, 1-d), where d is the
// Euclidean distance of the x,y coordinates. The overall score is the mean
// over comparable joints times 100. Sets of different cardinality score 0,
// as does a pair with no comparable joints.
type Scorer struct {
	// MinVisibility treats joints below this confidence as missing. Zero
	// disables the filter.
	MinVisibility float64
}

// NewScorer returns a scorer with the given visibility threshold.
func NewScorer(minVisibility float64) *Scorer {
	return &Scorer{MinVisibility: minVisibility}
}

// Score returns the similarity of live to reference in [0, 100].
func (s *Scorer) Score(reference, live map[string]model.Keypoint) float64 {
	if len(reference) == 0 || len(reference) != len(live) {
		return 0
	}

	// Sorted iteration keeps the floating point sum stable across calls.
	total := 0.0
	compared := 0
	for _, name := range slices.Sorted(maps.Keys(reference)) {
		ref := reference[name]
		cur, ok := live[name]
		if !ok || !s.visible(ref) || !s.visible(cur) {
			continue
		}
		total += JointScore(ref, cur)
		compared++
	}
	if compared == 0 {
		return 0
	}
	return total / float64(compared) * 100
}

func (s *Scorer) visible(k model.Keypoint) bool {
	return s.MinVisibility <= 0 || k.Visibility >= s.MinVisibility
}

// JointScore is the per-joint similarity in [0, 1].
func JointScore(a, b model.Keypoint) float64 {
	d := math.Hypot(a.X-b.X, a.Y-b.Y)
	return math.Max(0, 1-d)
}
