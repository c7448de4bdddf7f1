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

// Package cloud defines the data structures for application configuration,
// loaded from TOML files, together with the clients for the Google Cloud
// services the motion service depends on.
//
// Structs:
//   - BigQueryDataSource: BigQuery dataset and the motion, result and user tables.
//   - SQLiteDataSource: Location of the local SQLite database.
//   - PromptTemplates: Text templates for prompts sent to GenAI models.
//   - VertexAiLLMModel: Configuration for a Vertex AI model used for pose estimation.
//   - TopicSubscription: Configuration for a single Pub/Sub topic subscription.
//   - Storage: Cloud Storage buckets for source videos and motion archives.
//   - Extraction: Frame sampling and joint vocabulary settings.
//   - Session: Limits and behaviour of live comparison sessions.
//   - Config: The top-level struct that aggregates all other configuration structs.
package cloud

import "google.golang.org/genai"

// Store backends selectable with application.store_backend.
const (
	StoreBackendBigQuery = "bigquery"
	StoreBackendSQLite   = "sqlite"
)

// DefaultSafetySettings disables content blocking for pose estimation.
// Dance footage is routinely misclassified by the default thresholds.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// BigQueryDataSource represents the configuration for a BigQuery data source.
type BigQueryDataSource struct {
	DatasetName string `toml:"dataset"`      // The name of the BigQuery dataset.
	MotionTable string `toml:"motion_table"` // Table holding extracted motion sequences.
	ResultTable string `toml:"result_table"` // Table holding session results.
	UserTable   string `toml:"user_table"`   // Table holding user profiles (id, weight).
}

// SQLiteDataSource locates the SQLite database used by the sqlite backend.
type SQLiteDataSource struct {
	Path string `toml:"path"` // File path, or "file::memory:?cache=shared" for an in-memory database.
}

// PromptTemplates holds the templates for different types of prompts.
type PromptTemplates struct {
	PosePrompt string `toml:"pose"` // Template for single-frame pose estimation.
}

// VertexAiLLMModel represents the configuration for a Vertex AI model.
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI model.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the model.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter.
	TopP               float32 `toml:"top_p"`               // The top_p parameter.
	TopK               float32 `toml:"top_k"`               // The top_k parameter.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of output tokens.
	OutputFormat       string  `toml:"output_format"`       // The response MIME type, e.g. "application/json".
	RateLimit          int     `toml:"rate_limit"`          // The rate limit in requests per second.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // The timeout for the subscription in seconds.
}

// Storage represents the configuration for storage buckets.
type Storage struct {
	VideoInputBucket    string `toml:"video_input_bucket"`    // Bucket receiving reference dance videos.
	MotionArchiveBucket string `toml:"motion_archive_bucket"` // Optional bucket for JSON copies of extracted sequences.
}

// Extraction controls how reference videos are turned into motion sequences.
type Extraction struct {
	FFmpegCommand  string   `toml:"ffmpeg_command"`  // Path to the ffmpeg executable.
	FFprobeCommand string   `toml:"ffprobe_command"` // Path to the ffprobe executable.
	FrameSkip      int      `toml:"frame_skip"`      // Default sampling stride (1, 3 and 6 are typical).
	Joints         []string `toml:"joints"`          // Joint vocabulary kept from each estimate.
	PoseModel      string   `toml:"pose_model"`      // Key into PoseModels used by the estimator.
}

// Session controls live comparison sessions.
type Session struct {
	MaxConcurrentSessions  int     `toml:"max_concurrent_sessions"`   // Process-wide cap on running sessions; 0 means unlimited.
	FrameBufferSize        int     `toml:"frame_buffer_size"`         // Capacity of each session's live frame queue.
	PaceToReferenceFps     bool    `toml:"pace_to_reference_fps"`     // Throttle steps to the reference record rate.
	PersistAbortedSessions bool    `toml:"persist_aborted_sessions"`  // Store partial results of aborted sessions.
	IdleTimeoutInSeconds   int     `toml:"idle_timeout_in_seconds"`   // Abort running sessions that receive no frames for this long.
	SweepIntervalInSeconds int     `toml:"sweep_interval_in_seconds"` // How often the idle sweeper runs.
	PushTimeoutInSeconds   int     `toml:"push_timeout_in_seconds"`   // Upper bound a producer waits for queue space.
	EmitVideoFrames        bool    `toml:"emit_video_frames"`         // Publish processed frames as video_frame events.
	MinVisibility          float64 `toml:"min_visibility"`            // Joints below this confidence are ignored by the scorer.
}

// Config represents the overall configuration for the application, loaded from TOML files.
type Config struct {
	// Application holds general application settings.
	Application struct {
		Name            string `toml:"name"`              // The name of the application.
		GoogleProjectId string `toml:"google_project_id"` // The Google Cloud project ID.
		GoogleLocation  string `toml:"location"`          // The Google Cloud location.
		ThreadPoolSize  int    `toml:"thread_pool_size"`  // Worker pool size for frame pose estimation.
		StoreBackend    string `toml:"store_backend"`     // "bigquery" or "sqlite".
		ListenAddress   string `toml:"listen_address"`    // HTTP listen address.
		LogFile         string `toml:"log_file"`          // Optional log file mirrored with stdout.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`               // Storage configuration.
	BigQueryDataSource BigQueryDataSource           `toml:"big_query_data_source"` // BigQuery data source configuration.
	SQLite             SQLiteDataSource             `toml:"sqlite"`                // SQLite data source configuration.
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`      // Prompt templates configuration.
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"`   // Pub/Sub subscriptions keyed by a logical name (e.g., "VideoUploadTopic").
	PoseModels         map[string]VertexAiLLMModel  `toml:"pose_models"`           // Vertex AI models keyed by a logical name (e.g., "pose-flash").
	Extraction         Extraction                   `toml:"extraction"`            // Extraction configuration.
	Session            Session                      `toml:"session"`               // Session configuration.
}

// NewConfig creates a Config with initialized maps and the defaults that
// apply when the TOML files leave a value unset.
func NewConfig() *Config {
	c := &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		PoseModels:         make(map[string]VertexAiLLMModel),
	}
	c.Application.Name = "ifit-motion"
	c.Application.ThreadPoolSize = 4
	c.Application.StoreBackend = StoreBackendBigQuery
	c.Application.ListenAddress = ":8080"
	c.Extraction.FFmpegCommand = "ffmpeg"
	c.Extraction.FFprobeCommand = "ffprobe"
	c.Extraction.FrameSkip = 3
	c.Session.FrameBufferSize = 32
	c.Session.PersistAbortedSessions = true
	c.Session.IdleTimeoutInSeconds = 60
	c.Session.SweepIntervalInSeconds = 15
	c.Session.PushTimeoutInSeconds = 5
	return c
}
