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

package commands

import (
	"fmt"
	"log/slog"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
)

// MotionPersist saves the extracted sequence to the motion store. Saving again
// for the same video replaces what readers see.
type MotionPersist struct {
	cor.BaseCommand
	store services.MotionStore
}

func NewMotionPersist(name string, store services.MotionStore) *MotionPersist {
	return &MotionPersist{BaseCommand: *cor.NewBaseCommand(name), store: store}
}

func (c *MotionPersist) Execute(context cor.Context) {
	seq, ok := cor.Get[*model.MotionSequence](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a motion sequence in %s", c.GetInputParam()))
		return
	}
	id, err := c.store.Save(context.GetContext(), seq)
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	slog.InfoContext(context.GetContext(), "persisted motion sequence", "video_id", seq.VideoId, "id", id, "records", len(seq.Frames))
	context.Add(GetMotionIdParameterName(), id)
	context.Add(c.GetOutputParam(), seq)
}
