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

	"github.com/charmbracelet/lipgloss"
	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/telemetry"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	dbPath     string
	configDir  string
	runtimeEnv string
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Width(22)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

var rootCmd = &cobra.Command{
	Use:   "ifitctl",
	Short: "Extract and compare dance motion offline",
	Long: `ifitctl extracts reference motion from dance videos and scores
performances against it without running the server.

  ifitctl extract salsa.mp4 --video-id salsa-basic -o salsa.yaml
  ifitctl compare salsa.yaml attempt.mp4 --weight 68`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(telemetry.NewLogger(cmd.ErrOrStderr(), level))
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "ifit-motion.db", "SQLite database for stored sequences and results")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "configs", "Directory holding the .env TOML files")
	rootCmd.PersistentFlags().StringVar(&runtimeEnv, "runtime", "local", "Configuration overlay to load")
	rootCmd.AddCommand(extractCmd, compareCmd)
}

func loadConfig() (*cloud.Config, error) {
	if err := os.Setenv(cloud.EnvConfigFilePrefix, configDir); err != nil {
		return nil, err
	}
	if err := os.Setenv(cloud.EnvConfigRuntime, runtimeEnv); err != nil {
		return nil, err
	}
	config := cloud.NewConfig()
	if err := cloud.LoadConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// newExtractor builds the ffmpeg + generative model extractor described by
// the configuration.
func newExtractor(ctx context.Context, config *cloud.Config) (*extractor.Extractor, error) {
	gc, err := cloud.NewGenAIClient(ctx, config)
	if err != nil {
		return nil, err
	}
	poseModel, ok := cloud.NewPoseModels(gc, config)[config.Extraction.PoseModel]
	if !ok {
		return nil, fmt.Errorf("pose model %q is not configured", config.Extraction.PoseModel)
	}
	estimator, err := pose.NewGenAIEstimator(poseModel, config.PromptTemplates.PosePrompt, config.Extraction.Joints)
	if err != nil {
		return nil, err
	}
	return extractor.NewExtractor(
		extractor.NewFFmpegSampler(config.Extraction.FFmpegCommand, config.Extraction.FFprobeCommand),
		estimator,
		config.Application.ThreadPoolSize,
		config.Extraction.Joints), nil
}

func openStore(ctx context.Context) (*services.SQLiteStore, error) {
	return services.OpenSQLiteStore(ctx, dbPath)
}

func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}
