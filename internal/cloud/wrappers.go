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

// Package cloud provides components for interacting with Google Cloud services.
// This file implements a decorator around the GenAI models client that keeps
// pose estimation calls inside the project's Vertex AI quota.
//
// Extraction fans frames out to a worker pool, so without a shared limiter a
// single long video would burst far past the per-minute quota. Every caller
// of a given model shares one token bucket.
package cloud

import (
	"context"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// QuotaAwareGenerativeAIModel pairs a model name and generation settings with
// a token bucket limiter.
type QuotaAwareGenerativeAIModel struct {
	GenerativeContentConfig *genai.GenerateContentConfig // Generation settings applied to every call.
	ModelName               string                       // Vertex AI model name.
	ModelHandle             *genai.Models                // Shared models service of the GenAI client.
	RateLimit               *rate.Limiter                // Token bucket shared by all callers of this model.
}

// NewQuotaAwareModel wraps a model so that at most requestsPerSecond calls
// start per second, with bursts up to the same size.
//
// Inputs:
//   - wrapped: The generation settings for the model.
//   - name: The Vertex AI model name.
//   - handle: The models service of an initialized GenAI client.
//   - requestsPerSecond: The sustained request rate. Values below 1 are raised to 1.
//
// Outputs:
//   - *QuotaAwareGenerativeAIModel: The rate-limited model.
func NewQuotaAwareModel(wrapped *genai.GenerateContentConfig, name string, handle *genai.Models, requestsPerSecond int) *QuotaAwareGenerativeAIModel {
	if requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	return &QuotaAwareGenerativeAIModel{
		GenerativeContentConfig: wrapped,
		ModelName:               name,
		ModelHandle:             handle,
		RateLimit:               rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// GenerateContent blocks until the limiter grants a token and then calls the
// model. It returns early with the context's error if ctx ends while waiting.
func (q *QuotaAwareGenerativeAIModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	if err := q.RateLimit.Wait(ctx); err != nil {
		return nil, err
	}
	return q.ModelHandle.GenerateContent(ctx, q.ModelName, content, q.GenerativeContentConfig)
}
