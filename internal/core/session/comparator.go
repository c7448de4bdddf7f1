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

// Package session runs live comparisons of a dancer's pose stream against a
// reference motion sequence.
//
// Each session is a Comparator running on its own goroutine. Producers push
// live frames into a bounded queue; a full queue blocks the producer, which
// is the only backpressure in the pipeline. Per-frame scores and the final
// summary are published on a Hub.
package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ifit-app/ifit-motion/internal/core/fitness"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

// persistTimeout bounds the result write after a session ends.
const persistTimeout = 10 * time.Second

// LiveFrame is one frame from the dancer's camera. It carries either a JPEG
// for server-side pose estimation or keypoints computed by the client.
type LiveFrame struct {
	Image     []byte
	Keypoints map[string]model.Keypoint
}

// Comparator owns the state of one session.
type Comparator struct {
	mu     sync.Mutex
	state  model.SessionState
	result *model.Result

	reference *model.MotionSequence
	weightKg  float64
	scorer    *pose.Scorer
	estimator pose.Estimator
	results   services.ResultStore
	publish   func(*model.Event)
	limiter   *rate.Limiter
	now       func() time.Time
	metrics   *sessionMetrics
	onFinish  func(*Comparator)

	persistAborted  bool
	emitVideoFrames bool

	frames      chan *LiveFrame
	endOfStream chan struct{}
	endOnce     sync.Once
	stopped     chan struct{}
	stopOnce    sync.Once
	abortReason string // guarded by mu
	done        chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
}

type comparatorDeps struct {
	scorer    *pose.Scorer
	estimator pose.Estimator
	results   services.ResultStore
	publish   func(*model.Event)
	now       func() time.Time
	metrics   *sessionMetrics
	onFinish  func(*Comparator) // called before comparison_complete is published
	opts      Options
}

func newComparator(parent context.Context, state *model.SessionState, reference *model.MotionSequence, weightKg float64, deps comparatorDeps) *Comparator {
	bufferSize := deps.opts.FrameBufferSize
	if bufferSize < 1 {
		bufferSize = 1
	}
	c := &Comparator{
		state:           *state,
		reference:       reference,
		weightKg:        weightKg,
		scorer:          deps.scorer,
		estimator:       deps.estimator,
		results:         deps.results,
		publish:         deps.publish,
		now:             deps.now,
		metrics:         deps.metrics,
		onFinish:        deps.onFinish,
		persistAborted:  deps.opts.PersistAbortedSessions,
		emitVideoFrames: deps.opts.EmitVideoFrames,
		frames:          make(chan *LiveFrame, bufferSize),
		endOfStream:     make(chan struct{}),
		stopped:         make(chan struct{}),
		done:            make(chan struct{}),
	}
	if deps.opts.PaceToReferenceFps {
		if rps := reference.RecordsPerSecond(); rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
	c.runCtx, c.cancel = context.WithCancel(parent)

	start := c.now()
	c.state.Status = model.SessionRunning
	c.state.StartTime = start
	c.state.LastFrameAt = start
	return c
}

// Id returns the session id.
func (c *Comparator) Id() string {
	return c.state.SessionId
}

// Snapshot returns a copy of the current state.
func (c *Comparator) Snapshot() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the session has finished and its events are published.
func (c *Comparator) Done() <-chan struct{} {
	return c.done
}

// Result is the session summary, available after Done is closed.
func (c *Comparator) Result() *model.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Push queues a live frame, blocking while the queue is full. It fails with
// model.ErrStreamEnded once the stream was ended or the session finished,
// and with the context error if ctx expires first.
func (c *Comparator) Push(ctx context.Context, frame *LiveFrame) error {
	select {
	case <-c.endOfStream:
		return model.ErrStreamEnded
	case <-c.done:
		return model.ErrStreamEnded
	default:
	}
	select {
	case c.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.endOfStream:
		return model.ErrStreamEnded
	case <-c.done:
		return model.ErrStreamEnded
	}
}

// EndStream signals that no more frames will come. Queued frames are still
// processed before the session completes.
func (c *Comparator) EndStream() {
	c.endOnce.Do(func() { close(c.endOfStream) })
}

// Stop completes the session without processing queued frames.
func (c *Comparator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopped)
		c.cancel()
	})
}

// Abort ends the session as aborted. The first reason wins.
func (c *Comparator) Abort(reason string) {
	c.mu.Lock()
	if c.abortReason == "" {
		c.abortReason = reason
	}
	c.mu.Unlock()
	c.cancel()
}

// Run processes frames until the stream ends, the session is stopped or
// aborted, or ctx is cancelled. It always publishes comparison_complete
// last.
func (c *Comparator) Run() {
	defer close(c.done)
	defer c.cancel()

	tracer := otel.Tracer("session-comparator")
	ctx, span := tracer.Start(c.runCtx, "comparison_session")
	span.SetAttributes(
		attribute.String("session_id", c.state.SessionId),
		attribute.String("video_id", c.state.VideoId),
		attribute.String("user_id", c.state.UserId),
	)
	defer span.End()

	status, reason := c.loop(ctx)
	c.finish(status, reason)

	snapshot := c.Snapshot()
	span.SetAttributes(attribute.Int("total_frames", snapshot.TotalFrames), attribute.Int("steps_taken", snapshot.StepsTaken))
	if status == model.SessionAborted {
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
}

func (c *Comparator) loop(ctx context.Context) (model.SessionStatus, string) {
	for {
		select {
		case f := <-c.frames:
			c.step(ctx, f)
		case <-c.endOfStream:
			for {
				select {
				case f := <-c.frames:
					c.step(ctx, f)
					if ctx.Err() != nil {
						return c.interruption()
					}
				default:
					return model.SessionCompleted, ""
				}
			}
		case <-ctx.Done():
			return c.interruption()
		}
	}
}

// interruption classifies why the run context ended.
func (c *Comparator) interruption() (model.SessionStatus, string) {
	select {
	case <-c.stopped:
		return model.SessionCompleted, ""
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abortReason != "" {
		return model.SessionAborted, c.abortReason
	}
	return model.SessionAborted, "session cancelled"
}

func (c *Comparator) step(ctx context.Context, f *LiveFrame) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
	}

	live, detected := c.detect(ctx, f)
	if ctx.Err() != nil {
		// Stopped mid-inference; the frame is not counted.
		return
	}

	c.mu.Lock()
	c.state.TotalFrames++
	c.state.LastFrameAt = c.now()
	score := 0.0
	if detected {
		c.state.ActiveFrames++
		if c.state.FrameIndex < len(c.reference.Frames) {
			score = c.scorer.Score(c.reference.Frames[c.state.FrameIndex].Keypoints, live)
			c.state.ScoreSum += score
			c.state.StepsTaken++
			c.state.FrameIndex++
		}
	}
	frameNo := c.state.TotalFrames
	sessionId := c.state.SessionId
	c.mu.Unlock()

	c.metrics.frame(ctx, detected, score)

	if c.emitVideoFrames && len(f.Image) > 0 {
		c.publish(&model.Event{Name: model.EventVideoFrame, SessionId: sessionId, Data: &model.VideoFrame{
			FrameNo: frameNo,
			Frame:   base64.StdEncoding.EncodeToString(f.Image),
		}})
	}
	c.publish(&model.Event{Name: model.EventAccuracyScore, SessionId: sessionId, Data: &model.AccuracyScore{
		FrameNo:  frameNo,
		Accuracy: round2(score),
		Feedback: pose.Feedback(score),
	}})
}

// detect returns the live keypoints of a frame. Estimator failures count as
// a frame without a pose.
func (c *Comparator) detect(ctx context.Context, f *LiveFrame) (map[string]model.Keypoint, bool) {
	if f.Keypoints != nil {
		return f.Keypoints, len(f.Keypoints) > 0
	}
	if len(f.Image) == 0 || c.estimator == nil {
		return nil, false
	}
	kp, ok, err := c.estimator.Estimate(ctx, f.Image)
	if err != nil {
		if ctx.Err() == nil {
			slog.WarnContext(ctx, "pose estimation failed, counting frame as undetected", "session_id", c.state.SessionId, "error", err)
		}
		return nil, false
	}
	return kp, ok && len(kp) > 0
}

func (c *Comparator) finish(status model.SessionStatus, reason string) {
	end := c.now()

	c.mu.Lock()
	c.state.Status = status
	state := c.state
	c.mu.Unlock()

	final := state.FinalAverage()
	duration := end.Sub(state.StartTime).Minutes()
	if duration < 0 {
		duration = 0
	}
	m := fitness.Compute(fitness.Input{
		WeightKg:        c.weightKg,
		DurationMinutes: duration,
		StepsTaken:      state.StepsTaken,
		AccuracyScore:   final,
		ActiveFrames:    state.ActiveFrames,
		TotalFrames:     state.TotalFrames,
	})

	result := model.NewResult(&state)
	result.AccuracyScore = final
	result.MotionMatchingScore = state.MatchingAverage()
	result.CaloriesBurned = m.CaloriesBurned
	result.ExerciseDuration = duration
	result.StepsPerMinute = m.StepsPerMinute
	result.MovementEfficiency = m.MovementEfficiency
	result.PerformanceScore = m.PerformanceScore
	result.EnergyExpenditure = m.EnergyExpenditure
	result.UserFeedback = pose.Feedback(final)
	result.CreatedAt = end

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	if status == model.SessionAborted {
		c.publish(&model.Event{Name: model.EventComparisonError, SessionId: state.SessionId,
			Data: &model.ComparisonError{Message: reason}})
	}

	if status == model.SessionCompleted || c.persistAborted {
		// The run context is already cancelled for stopped sessions.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.runCtx), persistTimeout)
		err := c.results.Create(ctx, result)
		cancel()
		if err != nil {
			slog.Error("failed to persist session result", "session_id", state.SessionId, "error", err)
			c.publish(&model.Event{Name: model.EventComparisonError, SessionId: state.SessionId,
				Data: &model.ComparisonError{Message: fmt.Sprintf("failed to save result: %v", err)}})
		}
	}

	c.metrics.finished(c.runCtx, status)
	slog.Info("comparison finished", "session_id", state.SessionId, "status", status,
		"final_score", final, "total_frames", state.TotalFrames, "steps_taken", state.StepsTaken)

	if c.onFinish != nil {
		c.onFinish(c)
	}

	c.publish(&model.Event{Name: model.EventComparisonComplete, SessionId: state.SessionId,
		Data: model.NewComparisonComplete(result)})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
