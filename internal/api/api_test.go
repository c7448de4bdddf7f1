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

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/ifit-app/ifit-motion/internal/api"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/extractor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/session"
	"github.com/ifit-app/ifit-motion/internal/core/workflow"
	test "github.com/ifit-app/ifit-motion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, videoId string, _ string, opts extractor.Options) (*model.MotionSequence, error) {
	seq := test.GetReferenceSequence(videoId)
	if opts.FrameSkip > 0 {
		seq.FrameSkip = opts.FrameSkip
	}
	return seq, nil
}

type server struct {
	*httptest.Server
	manager *session.Manager
	store   *services.SQLiteStore
}

func newServer(t *testing.T) *server {
	t.Helper()
	store := test.NewSQLiteStore(t)
	_, err := store.Save(context.Background(), test.GetReferenceSequence("salsa"))
	require.NoError(t, err)

	manager := session.NewManager(context.Background(), store, services.StaticProfiles{"u1": 70, "u2": 65},
		store, nil, session.NewHub(0), session.Options{FrameBufferSize: 8})
	ingestion := workflow.NewLocalMotionIngestionWorkflow(stubExtractor{}, store, extractor.Options{FrameSkip: 3}, true)

	r := gin.New()
	group := r.Group("/api")
	api.SessionRouter(group, manager, time.Second)
	api.MotionRouter(group, store, ingestion)
	api.ResultRouter(group, store)

	s := &server{Server: httptest.NewServer(r), manager: manager, store: store}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
		s.Close()
	})
	return s
}

func (s *server) postJSON(t *testing.T, path string, body any) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(s.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func decode(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	out := make(map[string]any)
	_ = json.NewDecoder(r).Decode(&out)
	return out
}

func (s *server) start(t *testing.T, videoId, userId string) string {
	t.Helper()
	status, body := s.postJSON(t, "/api/start_comparison", map[string]string{"video_id": videoId, "user_id": userId})
	require.Equal(t, http.StatusOK, status, "%v", body)
	return body["session_id"].(string)
}

func keypoints(x, y float64) map[string]any {
	return map[string]any{"keypoints": map[string]any{model.JointLeftWrist: map[string]float64{"x": x, "y": y}}}
}

func TestStartComparison(t *testing.T) {
	s := newServer(t)

	status, body := s.postJSON(t, "/api/start_comparison", map[string]string{"video_id": "salsa"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Video ID and User ID are required", body["error"])

	status, body = s.postJSON(t, "/api/start_comparison", map[string]string{"video_id": "tango", "user_id": "u1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "video or motion data not found", body["error"])

	status, body = s.postJSON(t, "/api/start_comparison", map[string]string{"video_id": "salsa", "user_id": "nobody"})
	assert.Equal(t, http.StatusNotFound, status)

	id := s.start(t, "salsa", "u1")
	status, body = s.postJSON(t, "/api/start_comparison", map[string]string{"video_id": "salsa", "user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Comparison already running", body["error"])

	resp, err := http.Get(s.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	statusBody := decode(t, resp.Body)
	assert.Equal(t, true, statusBody["comparison_running"])
	sessions := statusBody["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].(map[string]any)["session_id"])
}

func TestStopComparison(t *testing.T) {
	s := newServer(t)
	status, _ := s.postJSON(t, "/api/stop_comparison", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = s.postJSON(t, "/api/stop_comparison", map[string]string{"session_id": "missing"})
	assert.Equal(t, http.StatusNotFound, status)

	id := s.start(t, "salsa", "u1")
	status, body := s.postJSON(t, "/api/stop_comparison", map[string]string{"session_id": id})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Comparison stopped", body["message"])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := s.manager.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(model.SessionCompleted), r.Status)
}

func TestFramesAndResults(t *testing.T) {
	s := newServer(t)
	id := s.start(t, "salsa", "u1")

	status, _ := s.postJSON(t, "/api/sessions/"+id+"/frames", keypoints(0.5, 0.5))
	assert.Equal(t, http.StatusAccepted, status)
	status, _ = s.postJSON(t, "/api/sessions/"+id+"/frames", map[string]string{"image": "%%%"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = s.postJSON(t, "/api/sessions/missing/frames", keypoints(0.5, 0.5))
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.postJSON(t, "/api/sessions/"+id+"/end", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = s.postJSON(t, "/api/sessions/"+id+"/frames", keypoints(0.5, 0.5))
	assert.Equal(t, http.StatusConflict, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.manager.Wait(ctx, id)
	require.NoError(t, err)

	resp, err := http.Get(s.URL + "/api/users/u1/results")
	require.NoError(t, err)
	defer resp.Body.Close()
	var results []*model.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&results))
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].SessionId)
	assert.Equal(t, 100.0, results[0].AccuracyScore)
}

func TestServerSentEvents(t *testing.T) {
	s := newServer(t)
	id := s.start(t, "salsa", "u1")

	resp, err := http.Get(s.URL + "/api/sessions/" + id + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return s.manager.Hub().Subscribers(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	status, _ := s.postJSON(t, "/api/sessions/"+id+"/frames", keypoints(0.5, 0.5))
	require.Equal(t, http.StatusAccepted, status)
	status, _ = s.postJSON(t, "/api/sessions/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, status)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stream := string(raw)
	scoreAt := strings.Index(stream, "event:accuracy_score")
	completeAt := strings.Index(stream, "event:comparison_complete")
	require.GreaterOrEqual(t, scoreAt, 0, stream)
	assert.Greater(t, completeAt, scoreAt)

	resp, err = http.Get(s.URL + "/api/sessions/missing/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func TestWebSocketSession(t *testing.T) {
	s := newServer(t)
	id := s.start(t, "salsa", "u1")

	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.manager.Hub().Subscribers(id) == 1 }, 2*time.Second, 5*time.Millisecond)

	frame := keypoints(0.3, 0.4)
	frame["type"] = "keypoints"
	require.NoError(t, conn.WriteJSON(frame))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "end"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var events []wireEvent
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "%v", err)
			break
		}
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, model.EventAccuracyScore, events[0].Event)
	var score model.AccuracyScore
	require.NoError(t, json.Unmarshal(events[0].Data, &score))
	assert.Equal(t, 1, score.FrameNo)
	// The live pose matches the reference's first record exactly only at
	// (0.5, 0.5); (0.3, 0.4) is about 0.22 away.
	assert.InDelta(t, 77.64, score.Accuracy, 0.01)
	assert.Equal(t, model.EventComparisonComplete, events[1].Event)
}

func upload(t *testing.T, url string, filename string, content []byte, fields map[string]string) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile("video_file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())

	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func TestMotionRoutes(t *testing.T) {
	s := newServer(t)
	video, err := os.ReadFile(test.WriteFakeVideo(t, t.TempDir(), "rumba.mp4"))
	require.NoError(t, err)
	url := s.URL + "/api/videos/rumba/motion"

	status, _ := upload(t, url, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = upload(t, url, "rumba.mp4", video, map[string]string{"frame_skip": "zero"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, body := upload(t, url, "notes.mp4", []byte("just text"), nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Error opening video file", body["error"])

	status, body = upload(t, url, "rumba.mp4", video, map[string]string{"frame_skip": "6"})
	require.Equal(t, http.StatusCreated, status, "%v", body)
	assert.Equal(t, model.NewMotionSequence("rumba", 30, 1).Id, body["id"])

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	got := decode(t, resp.Body)
	assert.Equal(t, 30.0, got["fps"])
	assert.Equal(t, 6.0, got["frame_skip"])
	assert.Len(t, got["frames"], 3)

	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 1.0, decode(t, resp.Body)["deleted"])

	resp, err = http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// silentIngestion succeeds without recording a motion id.
type silentIngestion struct{}

func (silentIngestion) Execute(cor.Context) {}

func TestMotionUploadWithoutStoredSequence(t *testing.T) {
	r := gin.New()
	api.MotionRouter(r.Group("/api"), test.NewSQLiteStore(t), silentIngestion{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	video, err := os.ReadFile(test.WriteFakeVideo(t, t.TempDir(), "rumba.mp4"))
	require.NoError(t, err)
	status, body := upload(t, srv.URL+"/api/videos/rumba/motion", "rumba.mp4", video, nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "motion extraction failed", body["error"])
}
