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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ifit-app/ifit-motion/internal/cloud"
	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// retainFinished bounds how many finished sessions stay queryable.
const retainFinished = 256

// Options configure the session manager.
type Options struct {
	MaxConcurrentSessions  int // 0 means unlimited.
	FrameBufferSize        int
	PaceToReferenceFps     bool
	PersistAbortedSessions bool
	EmitVideoFrames        bool
	MinVisibility          float64
}

// OptionsFromConfig maps the [session] configuration block.
func OptionsFromConfig(c cloud.Session) Options {
	return Options{
		MaxConcurrentSessions:  c.MaxConcurrentSessions,
		FrameBufferSize:        c.FrameBufferSize,
		PaceToReferenceFps:     c.PaceToReferenceFps,
		PersistAbortedSessions: c.PersistAbortedSessions,
		EmitVideoFrames:        c.EmitVideoFrames,
		MinVisibility:          c.MinVisibility,
	}
}

type sessionMetrics struct {
	frames    metric.Int64Counter
	detected  metric.Int64Counter
	started   metric.Int64Counter
	completed metric.Int64Counter
	aborted   metric.Int64Counter
	scores    metric.Float64Histogram
}

func newSessionMetrics() *sessionMetrics {
	meter := otel.Meter(cor.MeterName)
	m := &sessionMetrics{}
	m.frames, _ = meter.Int64Counter("session.frames")
	m.detected, _ = meter.Int64Counter("session.frames.detected")
	m.started, _ = meter.Int64Counter("session.started")
	m.completed, _ = meter.Int64Counter("session.completed")
	m.aborted, _ = meter.Int64Counter("session.aborted")
	m.scores, _ = meter.Float64Histogram("session.frame.score")
	return m
}

func (m *sessionMetrics) frame(ctx context.Context, detected bool, score float64) {
	if m == nil {
		return
	}
	m.frames.Add(ctx, 1)
	if detected {
		m.detected.Add(ctx, 1)
		m.scores.Record(ctx, score)
	}
}

func (m *sessionMetrics) finished(ctx context.Context, status model.SessionStatus) {
	if m == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if status == model.SessionAborted {
		m.aborted.Add(ctx, 1)
	} else {
		m.completed.Add(ctx, 1)
	}
}

// Manager maps session ids to running comparators. A user may run one
// session at a time and Options.MaxConcurrentSessions caps the process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Comparator
	byUser   map[string]string // user id -> running session id, "" while reserved
	finished []string

	motions   services.MotionStore
	profiles  services.ProfileStore
	results   services.ResultStore
	estimator pose.Estimator
	scorer    *pose.Scorer
	hub       *Hub
	opts      Options
	metrics   *sessionMetrics
	now       func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. Sessions run under ctx; cancelling it aborts
// them all. The estimator may be nil when clients only send keypoints.
func NewManager(
	ctx context.Context,
	motions services.MotionStore,
	profiles services.ProfileStore,
	results services.ResultStore,
	estimator pose.Estimator,
	hub *Hub,
	opts Options) *Manager {
	baseCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		sessions:  make(map[string]*Comparator),
		byUser:    make(map[string]string),
		motions:   motions,
		profiles:  profiles,
		results:   results,
		estimator: estimator,
		scorer:    pose.NewScorer(opts.MinVisibility),
		hub:       hub,
		opts:      opts,
		metrics:   newSessionMetrics(),
		now:       time.Now,
		baseCtx:   baseCtx,
		cancel:    cancel,
	}
}

// WithClock replaces the time source. Use before the first Start.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Hub returns the hub sessions publish to.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Start begins a comparison of userId against videoId and returns the new
// session id. It fails with *model.SessionBusyError when the user already
// runs a session or the process cap is reached, and with
// *model.ReferenceNotFoundError when the weight or motion data is missing.
func (m *Manager) Start(ctx context.Context, videoId string, userId string) (string, error) {
	videoId, userId = strings.TrimSpace(videoId), strings.TrimSpace(userId)
	if videoId == "" || userId == "" {
		return "", errors.New("video id and user id are required")
	}
	if err := m.reserve(userId); err != nil {
		return "", err
	}

	weight, reference, err := m.loadReference(ctx, videoId, userId)
	if err != nil {
		m.mu.Lock()
		delete(m.byUser, userId)
		m.mu.Unlock()
		return "", err
	}

	c := newComparator(m.baseCtx, model.NewSessionState(videoId, userId), reference, weight, comparatorDeps{
		scorer:    m.scorer,
		estimator: m.estimator,
		results:   m.results,
		publish:   m.hub.Publish,
		now:       m.now,
		metrics:   m.metrics,
		onFinish:  m.release,
		opts:      m.opts,
	})

	m.mu.Lock()
	if m.baseCtx.Err() != nil {
		delete(m.byUser, userId)
		m.mu.Unlock()
		c.cancel()
		return "", &model.SessionBusyError{UserId: userId, Reason: "manager is shutting down"}
	}
	m.sessions[c.Id()] = c
	m.byUser[userId] = c.Id()
	// Add under mu so Shutdown, which cancels under mu, never waits
	// concurrently with it.
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.started.Add(ctx, 1, metric.WithAttributes(attribute.String("video_id", videoId)))
	slog.InfoContext(ctx, "comparison started", "session_id", c.Id(), "video_id", videoId, "user_id", userId,
		"reference_records", len(reference.Frames))

	go func() {
		defer m.wg.Done()
		c.Run()
	}()
	return c.Id(), nil
}

func (m *Manager) reserve(userId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.baseCtx.Err() != nil {
		return &model.SessionBusyError{UserId: userId, Reason: "manager is shutting down"}
	}
	if _, busy := m.byUser[userId]; busy {
		return &model.SessionBusyError{UserId: userId, Reason: "user already has a running session"}
	}
	if m.opts.MaxConcurrentSessions > 0 && len(m.byUser) >= m.opts.MaxConcurrentSessions {
		return &model.SessionBusyError{UserId: userId, Reason: fmt.Sprintf("limit of %d concurrent sessions reached", m.opts.MaxConcurrentSessions)}
	}
	m.byUser[userId] = ""
	return nil
}

func (m *Manager) loadReference(ctx context.Context, videoId string, userId string) (float64, *model.MotionSequence, error) {
	weight, found, err := m.profiles.GetWeight(ctx, userId)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load profile of user %s: %w", userId, err)
	}
	if !found {
		return 0, nil, &model.ReferenceNotFoundError{VideoId: videoId, UserId: userId, Missing: "weight"}
	}
	reference, found, err := m.motions.Get(ctx, videoId)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load motion data of video %s: %w", videoId, err)
	}
	if !found || len(reference.Frames) == 0 {
		return 0, nil, &model.ReferenceNotFoundError{VideoId: videoId, UserId: userId, Missing: "motion"}
	}
	if err := reference.Validate(); err != nil {
		slog.WarnContext(ctx, "stored motion data is unusable", "video_id", videoId, "error", err)
		return 0, nil, &model.ReferenceNotFoundError{VideoId: videoId, UserId: userId, Missing: "motion"}
	}
	return weight, reference, nil
}

func (m *Manager) release(c *Comparator) {
	state := c.Snapshot()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byUser[state.UserId] == c.Id() {
		delete(m.byUser, state.UserId)
	}
	m.finished = append(m.finished, c.Id())
	for len(m.finished) > retainFinished {
		delete(m.sessions, m.finished[0])
		m.finished = m.finished[1:]
	}
}

func (m *Manager) get(sessionId string) (*Comparator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[sessionId]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	return c, nil
}

// Push queues a live frame for a session. See Comparator.Push.
func (m *Manager) Push(ctx context.Context, sessionId string, frame *LiveFrame) error {
	c, err := m.get(sessionId)
	if err != nil {
		return err
	}
	return c.Push(ctx, frame)
}

// EndStream marks the end of a session's input; the session completes after
// its queued frames.
func (m *Manager) EndStream(sessionId string) error {
	c, err := m.get(sessionId)
	if err != nil {
		return err
	}
	c.EndStream()
	return nil
}

// Stop completes a session now.
func (m *Manager) Stop(sessionId string) error {
	c, err := m.get(sessionId)
	if err != nil {
		return err
	}
	c.Stop()
	return nil
}

// Abort ends a session as aborted.
func (m *Manager) Abort(sessionId string, reason string) error {
	c, err := m.get(sessionId)
	if err != nil {
		return err
	}
	c.Abort(reason)
	return nil
}

// Wait blocks until the session finishes and returns its result.
func (m *Manager) Wait(ctx context.Context, sessionId string) (*model.Result, error) {
	c, err := m.get(sessionId)
	if err != nil {
		return nil, err
	}
	select {
	case <-c.Done():
		return c.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Session returns the state of a running or recently finished session.
func (m *Manager) Session(sessionId string) (model.SessionState, bool) {
	c, err := m.get(sessionId)
	if err != nil {
		return model.SessionState{}, false
	}
	return c.Snapshot(), true
}

// Running returns the states of all running sessions ordered by start time.
func (m *Manager) Running() []model.SessionState {
	m.mu.Lock()
	comparators := make([]*Comparator, 0, len(m.byUser))
	for _, id := range m.byUser {
		if c, ok := m.sessions[id]; ok {
			comparators = append(comparators, c)
		}
	}
	m.mu.Unlock()

	out := make([]model.SessionState, 0, len(comparators))
	for _, c := range comparators {
		if s := c.Snapshot(); s.Status == model.SessionRunning {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b model.SessionState) int { return a.StartTime.Compare(b.StartTime) })
	return out
}

// AbortIdle aborts running sessions whose last frame is older than idleFor.
func (m *Manager) AbortIdle(ctx context.Context, idleFor time.Duration) []string {
	cutoff := m.now().Add(-idleFor)
	aborted := make([]string, 0)
	for _, s := range m.Running() {
		if s.LastFrameAt.Before(cutoff) {
			if err := m.Abort(s.SessionId, fmt.Sprintf("no frames received for %s", idleFor)); err == nil {
				aborted = append(aborted, s.SessionId)
			}
		}
	}
	return aborted
}

// Shutdown aborts every running session and waits for them to publish their
// final events, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	running := make([]*Comparator, 0, len(m.byUser))
	for _, id := range m.byUser {
		if c, ok := m.sessions[id]; ok {
			running = append(running, c)
		}
	}
	m.mu.Unlock()
	for _, c := range running {
		c.Abort("server shutting down")
	}
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
