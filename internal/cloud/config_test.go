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

package cloud_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	test "github.com/ifit-app/ifit-motion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

// TestLoadConfigOverlay checks that the runtime file overrides the base file
// and that defaults survive when neither file sets a value.
func TestLoadConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env.toml", `
[application]
name = "ifit-motion"
google_project_id = "base-project"
store_backend = "bigquery"

[session]
max_concurrent_sessions = 1
frame_buffer_size = 8

[pose_models.pose-flash]
model = "gemini-2.0-flash"
rate_limit = 5
`)
	writeFile(t, dir, ".env.unit.toml", `
[application]
store_backend = "sqlite"

[session]
max_concurrent_sessions = 0
`)
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	config := cloud.NewConfig()
	require.NoError(t, cloud.LoadConfig(config))

	assert.Equal(t, "base-project", config.Application.GoogleProjectId)
	assert.Equal(t, cloud.StoreBackendSQLite, config.Application.StoreBackend)
	assert.Equal(t, 0, config.Session.MaxConcurrentSessions)
	assert.Equal(t, 8, config.Session.FrameBufferSize)
	assert.True(t, config.Session.PersistAbortedSessions)
	assert.Equal(t, 3, config.Extraction.FrameSkip)
	assert.Equal(t, "gemini-2.0-flash", config.PoseModels["pose-flash"].Model)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".env.toml", "[application\nname=")
	t.Setenv(cloud.EnvConfigFilePrefix, dir)
	t.Setenv(cloud.EnvConfigRuntime, "unit")

	assert.Error(t, cloud.LoadConfig(cloud.NewConfig()))
}

func TestGCSObjectVideoId(t *testing.T) {
	n := &cloud.GCSPubSubNotification{Bucket: "dance-videos", Name: "routines/salsa-basic.mp4", ContentType: "video/mp4"}
	obj, err := n.ToObject()
	require.NoError(t, err)
	assert.Equal(t, "salsa-basic", obj.VideoId())

	obj.Metadata = map[string]string{cloud.VideoIdMetadataKey: "42"}
	assert.Equal(t, "42", obj.VideoId())

	_, err = (&cloud.GCSPubSubNotification{ID: "x"}).ToObject()
	assert.Error(t, err)
}

func TestTrimJSONFence(t *testing.T) {
	assert.Equal(t, `{"detected":true}`, cloud.TrimJSONFence("```json\n{\"detected\":true}\n```"))
	assert.Equal(t, `{"a":1}`, cloud.TrimJSONFence(` {"a":1} `))
}

func TestRepositoryConfiguration(t *testing.T) {
	config := test.GetConfig()

	assert.Equal(t, "ifit-motion-test", config.Application.GoogleProjectId)
	assert.Equal(t, cloud.StoreBackendSQLite, config.Application.StoreBackend)
	assert.Equal(t, "ifit_motion_test", config.BigQueryDataSource.DatasetName)
	assert.Equal(t, "motion_sequences", config.BigQueryDataSource.MotionTable)
	assert.Equal(t, 2, config.Session.MaxConcurrentSessions)
	assert.Equal(t, 3, config.Extraction.FrameSkip)
	assert.Len(t, config.Extraction.Joints, 13)
	assert.Contains(t, config.PromptTemplates.PosePrompt, "{{ .JOINTS }}")
	require.Contains(t, config.PoseModels, config.Extraction.PoseModel)
	require.Contains(t, config.TopicSubscriptions, "VideoUploadTopic")
}
