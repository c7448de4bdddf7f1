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
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
)

// VideoFileCheck rejects inputs that are not video containers before any
// decoding starts. With removeInput set, the checked file is tracked for
// removal with the context whatever the outcome, so uploads never linger.
type VideoFileCheck struct {
	cor.BaseCommand
	removeInput bool
}

func NewVideoFileCheck(name string, removeInput bool) *VideoFileCheck {
	return &VideoFileCheck{BaseCommand: *cor.NewBaseCommand(name), removeInput: removeInput}
}

func (c *VideoFileCheck) Execute(context cor.Context) {
	path, ok := cor.Get[string](context, c.GetInputParam())
	if !ok {
		c.Fail(context, fmt.Errorf("expected a file path in %s", c.GetInputParam()))
		return
	}
	if c.removeInput {
		context.AddTempFile(path)
	}

	mime, err := extractor.CheckVideoFile(path)
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context)
	slog.DebugContext(context.GetContext(), "video accepted", "path", path, "mime", mime)
	context.Add(c.GetOutputParam(), path)
}
