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

package services

import (
	"context"

	"github.com/ifit-app/ifit-motion/internal/core/model"
)

// DefaultResultLimit bounds result listings when the caller gives no limit.
const DefaultResultLimit = 50

// MotionStore persists reference motion sequences keyed by video id.
// Absence is reported through found, never as an error.
type MotionStore interface {
	Save(ctx context.Context, seq *model.MotionSequence) (id string, err error)
	Get(ctx context.Context, videoId string) (seq *model.MotionSequence, found bool, err error)
	Delete(ctx context.Context, videoId string) (removed int64, err error)
}

// ResultStore persists finished session results.
type ResultStore interface {
	Create(ctx context.Context, result *model.Result) error
	FindByUser(ctx context.Context, userId string, limit int) ([]*model.Result, error)
}

// ProfileStore answers user profile lookups.
type ProfileStore interface {
	GetWeight(ctx context.Context, userId string) (weightKg float64, found bool, err error)
}

// StaticProfiles is a fixed in-memory ProfileStore, used by the CLI where
// the weight comes from a flag.
type StaticProfiles map[string]float64

func (s StaticProfiles) GetWeight(_ context.Context, userId string) (float64, bool, error) {
	w, ok := s[userId]
	return w, ok && w > 0, nil
}
