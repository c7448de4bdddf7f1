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
// This file creates and holds every client the service needs, acting as a
// small dependency injection container that is built once at startup and
// passed to the stores, workflows and listeners.
//
// Logic Flow:
//  1. NewCloudServiceClients is called at application startup with the loaded Config.
//  2. It initializes clients for Storage, Pub/Sub, GenAI, and BigQuery.
//  3. It creates one PubSubListener per configured subscription and one
//     rate-limited model per configured pose model.
//  4. Everything is bundled into a ServiceClients value.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"google.golang.org/genai"
)

// ServiceClients is the central container for clients of external Google
// Cloud services.
type ServiceClients struct {
	StorageClient   *storage.Client                         // Client for Google Cloud Storage (GCS).
	PubsubClient    *pubsub.Client                          // Client for Google Cloud Pub/Sub.
	GenAIClient     *genai.Client                           // Client for Vertex AI generative models.
	BiqQueryClient  *bigquery.Client                        // Client for Google Cloud BigQuery.
	PubSubListeners map[string]*PubSubListener              // Active Pub/Sub listeners, keyed by a logical name from the config.
	PoseModels      map[string]*QuotaAwareGenerativeAIModel // Rate-limited pose estimation models, keyed by a logical name.
}

// Close shuts down all client connections and reports every failure.
func (c *ServiceClients) Close() error {
	var err error
	if c.StorageClient != nil {
		err = errors.Join(err, c.StorageClient.Close())
	}
	if c.PubsubClient != nil {
		err = errors.Join(err, c.PubsubClient.Close())
	}
	if c.BiqQueryClient != nil {
		err = errors.Join(err, c.BiqQueryClient.Close())
	}
	return err
}

// PoseModel returns the model configured for extraction.
func (c *ServiceClients) PoseModel(name string) (*QuotaAwareGenerativeAIModel, error) {
	m, ok := c.PoseModels[name]
	if !ok {
		return nil, fmt.Errorf("pose model %q is not configured", name)
	}
	return m, nil
}

// NewCloudServiceClients initializes all Google Cloud clients based on the
// provided configuration.
//
// Inputs:
//   - ctx: The root context.Context for the application.
//   - config: The loaded application configuration.
//
// Outputs:
//   - *ServiceClients: The initialized clients.
//   - error: An error if any of the clients fail to initialize.
func NewCloudServiceClients(ctx context.Context, config *Config) (cloud *ServiceClients, err error) {
	sc, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}

	pc, err := pubsub.NewClient(ctx, config.Application.GoogleProjectId)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	gc, err := NewGenAIClient(ctx, config)
	if err != nil {
		return nil, err
	}

	bc, err := bigquery.NewClient(ctx, config.Application.GoogleProjectId)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}

	// Commands are attached later, once the workflows are built.
	subscriptions := make(map[string]*PubSubListener)
	for subKey, values := range config.TopicSubscriptions {
		actual, err := NewPubSubListener(pc, values.Name, nil)
		if err != nil {
			return nil, err
		}
		subscriptions[subKey] = actual
	}

	poseModels := NewPoseModels(gc, config)

	cloud = &ServiceClients{
		StorageClient:   sc,
		PubsubClient:    pc,
		GenAIClient:     gc,
		BiqQueryClient:  bc,
		PubSubListeners: subscriptions,
		PoseModels:      poseModels,
	}
	return cloud, nil
}

// NewGenAIClient creates a Vertex AI client for the configured project and
// location.
func NewGenAIClient(ctx context.Context, config *Config) (*genai.Client, error) {
	slog.Info("creating genai client", "project", config.Application.GoogleProjectId, "location", config.Application.GoogleLocation)
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  config.Application.GoogleProjectId,
		Location: config.Application.GoogleLocation,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return gc, nil
}

// NewPoseModels wraps every configured pose model in its own rate limiter.
func NewPoseModels(gc *genai.Client, config *Config) map[string]*QuotaAwareGenerativeAIModel {
	poseModels := make(map[string]*QuotaAwareGenerativeAIModel)
	for key, values := range config.PoseModels {
		settings := &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](values.Temperature),
			TopP:              genai.Ptr[float32](values.TopP),
			TopK:              genai.Ptr[float32](values.TopK),
			MaxOutputTokens:   values.MaxTokens,
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: values.SystemInstructions}}},
			SafetySettings:    DefaultSafetySettings,
			ResponseMIMEType:  values.OutputFormat,
		}
		poseModels[key] = NewQuotaAwareModel(settings, values.Model, gc.Models, values.RateLimit)
		slog.Info("configured pose model", "key", key, "model", values.Model, "rate_limit", values.RateLimit)
	}
	return poseModels
}
