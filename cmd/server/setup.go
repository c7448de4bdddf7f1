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
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/session"
	"github.com/ifit-app/ifit-motion/internal/core/workflow"
)

// StateManager holds the components shared by the routes and listeners.
type StateManager struct {
	config    *cloud.Config
	cloud     *cloud.ServiceClients
	motions   services.MotionStore
	results   services.ResultStore
	profiles  services.ProfileStore
	manager   *session.Manager
	ingestion *workflow.LocalMotionIngestionWorkflow
	closers   []func() error
}

var state = &StateManager{}

// SetupOS defaults the configuration location to ./configs and the runtime
// to "local" unless the environment already says otherwise.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() (*cloud.Config, error) {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			return nil, fmt.Errorf("failed to setup os: %w", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			return nil, err
		}
		state.config = config
	}
	return state.config, nil
}

// openStores builds the motion, result and profile stores for the
// configured backend.
func openStores(ctx context.Context, config *cloud.Config, clients *cloud.ServiceClients) error {
	switch config.Application.StoreBackend {
	case cloud.StoreBackendSQLite:
		store, err := services.OpenSQLiteStore(ctx, config.SQLite.Path)
		if err != nil {
			return err
		}
		state.closers = append(state.closers, store.Close)
		state.motions, state.results, state.profiles = store, store, store
	case cloud.StoreBackendBigQuery:
		ds := config.BigQueryDataSource
		state.motions = &services.MotionService{BigqueryClient: clients.BiqQueryClient, DatasetName: ds.DatasetName, MotionTable: ds.MotionTable}
		state.results = &services.ResultService{BigqueryClient: clients.BiqQueryClient, DatasetName: ds.DatasetName, ResultTable: ds.ResultTable}
		state.profiles = &services.ProfileService{BigqueryClient: clients.BiqQueryClient, DatasetName: ds.DatasetName, UserTable: ds.UserTable}
	default:
		return fmt.Errorf("unknown store backend %q", config.Application.StoreBackend)
	}
	slog.Info("stores ready", "backend", config.Application.StoreBackend)
	return nil
}

// InitState connects to the cloud services and builds the stores, the
// keypoint extractor, the session manager and the background workflows.
func InitState(ctx context.Context, config *cloud.Config) error {
	clients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = clients
	state.closers = append(state.closers, clients.Close)

	if err := openStores(ctx, config, clients); err != nil {
		return err
	}

	poseModel, err := clients.PoseModel(config.Extraction.PoseModel)
	if err != nil {
		return err
	}
	estimator, err := pose.NewGenAIEstimator(poseModel, config.PromptTemplates.PosePrompt, config.Extraction.Joints)
	if err != nil {
		return err
	}

	keypointExtractor := extractor.NewExtractor(
		extractor.NewFFmpegSampler(config.Extraction.FFmpegCommand, config.Extraction.FFprobeCommand),
		estimator,
		config.Application.ThreadPoolSize,
		config.Extraction.Joints)
	defaults := extractor.Options{FrameSkip: config.Extraction.FrameSkip}
	state.ingestion = workflow.NewLocalMotionIngestionWorkflow(keypointExtractor, state.motions, defaults, true)

	state.manager = session.NewManager(ctx, state.motions, state.profiles, state.results, estimator,
		session.NewHub(session.DefaultSubscriberBuffer), session.OptionsFromConfig(config.Session))

	sweeper := workflow.NewSessionSweeperWorkflow(state.manager,
		time.Duration(config.Session.IdleTimeoutInSeconds)*time.Second,
		time.Duration(config.Session.SweepIntervalInSeconds)*time.Second)
	sweeper.StartTimer(ctx)

	SetupListeners(ctx, config, clients, keypointExtractor, state.motions)
	return nil
}

// Close releases store and client connections.
func (s *StateManager) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
	s.closers = nil
}
