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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ifit-app/ifit-motion/internal/core/model"
	"gopkg.in/yaml.v3"
)

// isSequenceFile reports whether path names a motion sequence file rather
// than a video.
func isSequenceFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func readSequence(path string) (*model.MotionSequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	seq := &model.MotionSequence{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, seq)
	default:
		err = json.Unmarshal(data, seq)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if seq.FrameSkip < 1 {
		seq.FrameSkip = 1
	}
	if err := seq.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// writeSequence writes YAML for .yaml/.yml paths and indented JSON otherwise.
func writeSequence(path string, seq *model.MotionSequence) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(seq)
	default:
		data, err = json.MarshalIndent(seq, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
