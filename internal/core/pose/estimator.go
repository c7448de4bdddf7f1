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

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/h2non/filetype"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
)

// Estimator detects a single person's pose in an encoded image. A frame with
// no person returns detected == false and a nil error; err is reserved for
// failures of the estimator itself.
type Estimator interface {
	Estimate(ctx context.Context, image []byte) (keypoints map[string]model.Keypoint, detected bool, err error)
}

// DefaultPosePrompt is used when no pose template is configured.
const DefaultPosePrompt = `Locate the single most prominent person in the image and report the
normalized image coordinates (0..1, origin top-left) of these landmarks:
{{ .JOINTS }}

Answer with JSON only, in exactly this shape:
{{ .EXAMPLE_JSON }}

If no person is visible answer {"detected": false, "landmarks": []}.`

// GenAIEstimator asks a Vertex AI multimodal model for the pose in a frame.
type GenAIEstimator struct {
	model        *cloud.QuotaAwareGenerativeAIModel
	prompt       string
	joints       []string
	tracer       trace.Tracer
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	retries      metric.Int64Counter
}

// NewGenAIEstimator renders the prompt template once and returns an
// estimator bound to the given model. An empty template selects
// DefaultPosePrompt and an empty joint list selects model.DefaultJoints.
func NewGenAIEstimator(generativeModel *cloud.QuotaAwareGenerativeAIModel, promptTemplate string, joints []string) (*GenAIEstimator, error) {
	if generativeModel == nil {
		return nil, fmt.Errorf("pose estimator requires a model")
	}
	if len(joints) == 0 {
		joints = model.DefaultJoints
	}
	if strings.TrimSpace(promptTemplate) == "" {
		promptTemplate = DefaultPosePrompt
	}
	prompt, err := RenderPosePrompt(promptTemplate, joints)
	if err != nil {
		return nil, err
	}

	meter := otel.Meter(cor.MeterName)
	out := &GenAIEstimator{
		model:  generativeModel,
		prompt: prompt,
		joints: joints,
		tracer: otel.Tracer("pose-estimator"),
	}
	out.inputTokens, _ = meter.Int64Counter("pose-estimator.gemini.token.input")
	out.outputTokens, _ = meter.Int64Counter("pose-estimator.gemini.token.output")
	out.retries, _ = meter.Int64Counter("pose-estimator.gemini.retry")
	return out, nil
}

// RenderPosePrompt fills a pose prompt template with the joint list and the
// example answer.
func RenderPosePrompt(promptTemplate string, joints []string) (string, error) {
	tmpl, err := template.New("pose").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid pose prompt template: %w", err)
	}
	example, err := json.Marshal(model.GetExamplePoseEstimate())
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{
		"JOINTS":       strings.Join(joints, ", "),
		"EXAMPLE_JSON": string(example),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render pose prompt: %w", err)
	}
	return buf.String(), nil
}

// Estimate implements Estimator.
func (g *GenAIEstimator) Estimate(ctx context.Context, image []byte) (map[string]model.Keypoint, bool, error) {
	ctx, span := g.tracer.Start(ctx, "estimate-pose")
	defer span.End()

	mimeType := "image/jpeg"
	if kind, err := filetype.Match(image); err == nil && kind != filetype.Unknown {
		mimeType = kind.MIME.Value
	}

	text, err := cloud.GenerateMultiModalResponse(ctx, g.inputTokens, g.outputTokens, g.retries, 0, g.model,
		cloud.NewImageContent(g.prompt, image, mimeType))
	if err != nil {
		return nil, false, fmt.Errorf("pose model call failed: %w", err)
	}
	return ParsePoseEstimate(text, g.joints)
}

// ParsePoseEstimate decodes a model answer and keeps only the given joints.
// Answers flagged as undetected, or with no usable landmarks, are "no pose".
func ParsePoseEstimate(text string, joints []string) (map[string]model.Keypoint, bool, error) {
	var estimate model.PoseEstimate
	if err := json.Unmarshal([]byte(cloud.TrimJSONFence(text)), &estimate); err != nil {
		return nil, false, fmt.Errorf("malformed pose answer: %w", err)
	}
	if !estimate.Detected {
		return nil, false, nil
	}
	keypoints := estimate.Keypoints(joints)
	if len(keypoints) == 0 {
		return nil, false, nil
	}
	return keypoints, true, nil
}
