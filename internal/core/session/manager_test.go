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

package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ifit-app/ifit-motion/internal/core/model"
	"github.com/ifit-app/ifit-motion/internal/core/pose"
	"github.com/ifit-app/ifit-motion/internal/core/services"
	"github.com/ifit-app/ifit-motion/internal/core/session"
	test "github.com/ifit-app/ifit-motion/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 10, 11, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memResults struct {
	mu      sync.Mutex
	results []*model.Result
	err     error
}

func (m *memResults) Create(_ context.Context, r *model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.results = append(m.results, r)
	return nil
}

func (m *memResults) FindByUser(_ context.Context, userId string, _ int) ([]*model.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Result, 0)
	for _, r := range m.results {
		if r.UserId == userId {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memResults) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// wristSequence is the reference used by the end-to-end scenario: three
// records at 30 fps, all with the left wrist at (0.2, 0.3).
func wristSequence(videoId string) *model.MotionSequence {
	seq := model.NewMotionSequence(videoId, 30, 1)
	for i := 0; i < 3; i++ {
		seq.Frames = append(seq.Frames, &model.FrameRecord{
			FrameNo:   i,
			Keypoints: test.Pose(map[string][2]float64{model.JointLeftWrist: {0.2, 0.3}}),
		})
	}
	return seq
}

func wrist(x, y float64) *session.LiveFrame {
	return &session.LiveFrame{Keypoints: test.Pose(map[string][2]float64{model.JointLeftWrist: {x, y}})}
}

type fixture struct {
	manager *session.Manager
	results *memResults
	clock   *clock
	motions *services.SQLiteStore
}

func newFixture(t *testing.T, opts session.Options, estimator pose.Estimator) *fixture {
	t.Helper()
	motions := test.NewSQLiteStore(t)
	_, err := motions.Save(context.Background(), wristSequence("v1"))
	require.NoError(t, err)
	_, err = motions.Save(context.Background(), test.GetReferenceSequence("v2"))
	require.NoError(t, err)

	f := &fixture{results: &memResults{}, clock: newClock(), motions: motions}
	if opts.FrameBufferSize == 0 {
		opts.FrameBufferSize = 8
	}
	f.manager = session.NewManager(context.Background(), motions,
		services.StaticProfiles{"u1": 70, "u2": 60, "u3": 80}, f.results, estimator, session.NewHub(64), opts).
		WithClock(f.clock.Now)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.manager.Shutdown(ctx)
	})
	return f
}

func collect(t *testing.T, sub *session.Subscription) []*model.Event {
	t.Helper()
	var events []*model.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for session events, got %d", len(events))
			return events
		}
	}
}

func wait(t *testing.T, m *session.Manager, id string) *model.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return r
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()

	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	sub := f.manager.Hub().Subscribe(id)

	require.NoError(t, f.manager.Push(ctx, id, wrist(0.2, 0.3)))
	require.NoError(t, f.manager.Push(ctx, id, wrist(0.25, 0.35)))
	// Farther than 1 from the reference, so it scores 0.
	require.NoError(t, f.manager.Push(ctx, id, wrist(1.0, 1.0)))
	f.clock.Advance(2 * time.Minute)
	require.NoError(t, f.manager.EndStream(id))

	events := collect(t, sub)
	require.Len(t, events, 4)
	wantScores := []float64{100, 92.93, 0}
	wantFeedback := []string{"PERFECT!", "PERFECT!", "KEEP TRYING!"}
	for i := 0; i < 3; i++ {
		require.Equal(t, model.EventAccuracyScore, events[i].Name)
		score := events[i].Data.(*model.AccuracyScore)
		assert.Equal(t, i+1, score.FrameNo)
		assert.Equal(t, wantScores[i], score.Accuracy)
		assert.Equal(t, wantFeedback[i], score.Feedback)
	}
	require.Equal(t, model.EventComparisonComplete, events[3].Name)
	complete := events[3].Data.(*model.ComparisonComplete)
	assert.InDelta(t, 64.31, complete.FinalScore, 0.01)
	assert.Equal(t, "GOOD!", complete.UserFeedback)
	assert.Equal(t, 3, complete.StepsTaken)
	assert.Equal(t, "completed", complete.Status)

	r := wait(t, f.manager, id)
	assert.InDelta(t, 64.3096, r.AccuracyScore, 0.0001)
	assert.InDelta(t, 64.3096, r.MotionMatchingScore, 0.0001)
	assert.Equal(t, 2.0, r.ExerciseDuration)
	assert.InDelta(t, 5*70*2/60.0, r.CaloriesBurned, 1e-9)
	assert.InDelta(t, r.CaloriesBurned*4184, r.EnergyExpenditure, 1e-6)
	assert.Equal(t, 1.5, r.StepsPerMinute)
	assert.InDelta(t, 0.643096*3, r.MovementEfficiency, 0.0001)
	assert.Equal(t, 3, r.TotalFrames)
	assert.Equal(t, 3, r.ActiveFrames)
	assert.Equal(t, 1, f.results.count())
	assert.Empty(t, f.manager.Running())
}

func TestSecondStartIsRejectedWithoutTouchingRunningSession(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()

	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	require.NoError(t, f.manager.Push(ctx, id, wrist(0.2, 0.3)))
	require.Eventually(t, func() bool {
		s, _ := f.manager.Session(id)
		return s.TotalFrames == 1
	}, 2*time.Second, 5*time.Millisecond)
	before, _ := f.manager.Session(id)

	_, err = f.manager.Start(ctx, "v2", "u1")
	var busy *model.SessionBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "u1", busy.UserId)

	after, ok := f.manager.Session(id)
	require.True(t, ok)
	assert.Equal(t, before, after)
	assert.Equal(t, model.SessionRunning, after.Status)

	// Another user is free to start.
	other, err := f.manager.Start(ctx, "v2", "u2")
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
	assert.Len(t, f.manager.Running(), 2)
}

func TestConcurrencyCap(t *testing.T) {
	f := newFixture(t, session.Options{MaxConcurrentSessions: 1}, nil)
	ctx := context.Background()

	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	_, err = f.manager.Start(ctx, "v1", "u2")
	var busy *model.SessionBusyError
	require.ErrorAs(t, err, &busy)

	require.NoError(t, f.manager.Stop(id))
	wait(t, f.manager, id)
	_, err = f.manager.Start(ctx, "v1", "u2")
	assert.NoError(t, err)
}

func TestReferenceNotFoundReleasesReservation(t *testing.T) {
	f := newFixture(t, session.Options{MaxConcurrentSessions: 1}, nil)
	ctx := context.Background()

	_, err := f.manager.Start(ctx, "missing-video", "u1")
	var notFound *model.ReferenceNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "motion", notFound.Missing)

	_, err = f.manager.Start(ctx, "v1", "unknown-user")
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "weight", notFound.Missing)

	_, err = f.manager.Start(ctx, "v1", "u1")
	assert.NoError(t, err)
}

// rawMotions serves sequences without the checks a real store applies on
// save, standing in for rows written by another tool.
type rawMotions map[string]*model.MotionSequence

func (r rawMotions) Save(_ context.Context, seq *model.MotionSequence) (string, error) {
	r[seq.VideoId] = seq
	return seq.Id, nil
}

func (r rawMotions) Get(_ context.Context, videoId string) (*model.MotionSequence, bool, error) {
	seq, ok := r[videoId]
	return seq, ok, nil
}

func (r rawMotions) Delete(_ context.Context, videoId string) (int64, error) {
	delete(r, videoId)
	return 1, nil
}

func TestCorruptReferenceIsNotFound(t *testing.T) {
	nilFrame := wristSequence("nil-frame")
	nilFrame.Frames[1] = nil
	unordered := wristSequence("unordered")
	unordered.Frames[2].FrameNo = 0
	noFps := wristSequence("no-fps")
	noFps.Fps = 0

	motions := rawMotions{}
	for _, seq := range []*model.MotionSequence{nilFrame, unordered, noFps} {
		_, _ = motions.Save(context.Background(), seq)
	}
	m := session.NewManager(context.Background(), motions, services.StaticProfiles{"u1": 70},
		&memResults{}, nil, session.NewHub(8), session.Options{FrameBufferSize: 8})
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	for videoId := range motions {
		_, err := m.Start(context.Background(), videoId, "u1")
		var notFound *model.ReferenceNotFoundError
		require.ErrorAs(t, err, &notFound, videoId)
		assert.Equal(t, "motion", notFound.Missing)
	}
	assert.Empty(t, m.Running())
}

func TestStartRequiresIds(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	_, err := f.manager.Start(context.Background(), " ", "u1")
	assert.Error(t, err)
	assert.Empty(t, f.manager.Running())
}

func TestSessionWithoutFrames(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	id, err := f.manager.Start(context.Background(), "v1", "u1")
	require.NoError(t, err)
	require.NoError(t, f.manager.EndStream(id))

	r := wait(t, f.manager, id)
	assert.Equal(t, 0, r.TotalFrames)
	assert.Equal(t, 0.0, r.AccuracyScore)
	assert.Equal(t, 0.0, r.CaloriesBurned)
	assert.Equal(t, "KEEP TRYING!", r.UserFeedback)
	assert.Equal(t, string(model.SessionCompleted), r.Status)
	assert.Equal(t, 1, f.results.count())
}

func TestReferenceExhaustedKeepsCounting(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, f.manager.Push(ctx, id, wrist(0.2, 0.3)))
	}
	require.NoError(t, f.manager.EndStream(id))

	r := wait(t, f.manager, id)
	assert.Equal(t, 5, r.TotalFrames)
	assert.Equal(t, 5, r.ActiveFrames)
	assert.Equal(t, 3, r.StepsTaken)
	assert.Equal(t, 60.0, r.AccuracyScore)
	assert.Equal(t, 100.0, r.MotionMatchingScore)
}

func TestUndetectedFramesDegradeAverage(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	sub := f.manager.Hub().Subscribe(id)

	require.NoError(t, f.manager.Push(ctx, id, &session.LiveFrame{Keypoints: map[string]model.Keypoint{}}))
	require.NoError(t, f.manager.Push(ctx, id, wrist(0.2, 0.3)))
	require.NoError(t, f.manager.EndStream(id))

	events := collect(t, sub)
	require.Len(t, events, 3)
	assert.Equal(t, 0.0, events[0].Data.(*model.AccuracyScore).Accuracy)
	assert.Equal(t, 100.0, events[1].Data.(*model.AccuracyScore).Accuracy)

	r := wait(t, f.manager, id)
	assert.Equal(t, 2, r.TotalFrames)
	assert.Equal(t, 1, r.ActiveFrames)
	assert.Equal(t, 1, r.StepsTaken)
	assert.Equal(t, 50.0, r.AccuracyScore)
}

func TestPushErrors(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()

	assert.ErrorIs(t, f.manager.Push(ctx, "nope", wrist(0, 0)), model.ErrSessionNotFound)
	assert.ErrorIs(t, f.manager.Stop("nope"), model.ErrSessionNotFound)

	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	require.NoError(t, f.manager.EndStream(id))
	assert.ErrorIs(t, f.manager.Push(ctx, id, wrist(0, 0)), model.ErrStreamEnded)
	wait(t, f.manager, id)
	assert.ErrorIs(t, f.manager.Push(ctx, id, wrist(0, 0)), model.ErrStreamEnded)
}

func TestStopCompletesWithPartialTotals(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	require.NoError(t, f.manager.Push(ctx, id, wrist(0.2, 0.3)))
	require.Eventually(t, func() bool {
		s, _ := f.manager.Session(id)
		return s.TotalFrames == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.manager.Stop(id))
	r := wait(t, f.manager, id)
	assert.Equal(t, string(model.SessionCompleted), r.Status)
	assert.Equal(t, 1, r.TotalFrames)
	assert.Equal(t, 1, f.results.count())
}

func TestAbortPublishesErrorThenComplete(t *testing.T) {
	for _, persist := range []bool{true, false} {
		f := newFixture(t, session.Options{PersistAbortedSessions: persist}, nil)
		id, err := f.manager.Start(context.Background(), "v1", "u1")
		require.NoError(t, err)
		sub := f.manager.Hub().Subscribe(id)

		require.NoError(t, f.manager.Abort(id, "camera disconnected"))
		events := collect(t, sub)
		require.Len(t, events, 2)
		assert.Equal(t, model.EventComparisonError, events[0].Name)
		assert.Equal(t, "camera disconnected", events[0].Data.(*model.ComparisonError).Message)
		assert.Equal(t, model.EventComparisonComplete, events[1].Name)
		assert.Equal(t, "aborted", events[1].Data.(*model.ComparisonComplete).Status)

		wait(t, f.manager, id)
		if persist {
			assert.Equal(t, 1, f.results.count())
		} else {
			assert.Zero(t, f.results.count())
		}
	}
}

func TestPersistenceFailureIsReported(t *testing.T) {
	f := newFixture(t, session.Options{}, nil)
	f.results.err = errors.New("table not found")
	id, err := f.manager.Start(context.Background(), "v1", "u1")
	require.NoError(t, err)
	sub := f.manager.Hub().Subscribe(id)
	require.NoError(t, f.manager.EndStream(id))

	events := collect(t, sub)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventComparisonError, events[0].Name)
	assert.Contains(t, events[0].Data.(*model.ComparisonError).Message, "table not found")
	assert.Equal(t, model.EventComparisonComplete, events[1].Name)
}

func TestAbortIdle(t *testing.T) {
	f := newFixture(t, session.Options{PersistAbortedSessions: true}, nil)
	ctx := context.Background()
	idle, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	active, err := f.manager.Start(ctx, "v1", "u2")
	require.NoError(t, err)

	aborted := f.manager.AbortIdle(ctx, time.Minute)
	assert.Equal(t, []string{idle}, aborted)

	r := wait(t, f.manager, idle)
	assert.Equal(t, string(model.SessionAborted), r.Status)
	s, ok := f.manager.Session(active)
	require.True(t, ok)
	assert.Equal(t, model.SessionRunning, s.Status)
}

func TestShutdownAbortsRunningSessions(t *testing.T) {
	f := newFixture(t, session.Options{PersistAbortedSessions: true}, nil)
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.manager.Shutdown(shutdownCtx))

	s, ok := f.manager.Session(id)
	require.True(t, ok)
	assert.Equal(t, model.SessionAborted, s.Status)
	assert.Equal(t, 1, f.results.count())

	_, err = f.manager.Start(ctx, "v1", "u2")
	var busy *model.SessionBusyError
	assert.ErrorAs(t, err, &busy)
}

func TestStartRacingShutdown(t *testing.T) {
	users := []string{"u1", "u2", "u3"}
	for i := 0; i < 20; i++ {
		f := newFixture(t, session.Options{}, nil)
		ctx := context.Background()

		var wg sync.WaitGroup
		errs := make([]error, len(users))
		for n, user := range users {
			wg.Add(1)
			go func(n int, user string) {
				defer wg.Done()
				_, errs[n] = f.manager.Start(ctx, "v1", user)
			}(n, user)
		}
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		require.NoError(t, f.manager.Shutdown(shutdownCtx))
		cancel()
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				var busy *model.SessionBusyError
				assert.ErrorAs(t, err, &busy)
			}
		}
		// Every session that got registered was waited for.
		assert.Empty(t, f.manager.Running())
	}
}

// gatedEstimator blocks every call until released, and maps image bytes to
// a wrist position.
type gatedEstimator struct {
	gate chan struct{}
	fail string
}

func (g *gatedEstimator) Estimate(ctx context.Context, image []byte) (map[string]model.Keypoint, bool, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	switch string(image) {
	case g.fail:
		return nil, false, errors.New("model overloaded")
	case "nobody":
		return nil, false, nil
	}
	return test.Pose(map[string][2]float64{model.JointLeftWrist: {0.2, 0.3}}), true, nil
}

func TestImageFramesUseEstimator(t *testing.T) {
	f := newFixture(t, session.Options{EmitVideoFrames: true}, &gatedEstimator{fail: "broken"})
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)
	sub := f.manager.Hub().Subscribe(id)

	for _, img := range []string{"dancer", "nobody", "broken"} {
		require.NoError(t, f.manager.Push(ctx, id, &session.LiveFrame{Image: []byte(img)}))
	}
	require.NoError(t, f.manager.EndStream(id))

	events := collect(t, sub)
	require.Len(t, events, 7)
	assert.Equal(t, model.EventVideoFrame, events[0].Name)
	assert.Equal(t, "ZGFuY2Vy", events[0].Data.(*model.VideoFrame).Frame)
	assert.Equal(t, model.EventAccuracyScore, events[1].Name)
	assert.Equal(t, 100.0, events[1].Data.(*model.AccuracyScore).Accuracy)
	assert.Equal(t, model.EventComparisonComplete, events[6].Name)

	r := wait(t, f.manager, id)
	assert.Equal(t, 3, r.TotalFrames)
	assert.Equal(t, 1, r.ActiveFrames)
}

func TestPushBlocksWhenQueueIsFull(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, session.Options{FrameBufferSize: 1}, &gatedEstimator{gate: gate})
	ctx := context.Background()
	id, err := f.manager.Start(ctx, "v1", "u1")
	require.NoError(t, err)

	// First frame is taken by the comparator and blocks in the estimator,
	// the second fills the queue.
	require.NoError(t, f.manager.Push(ctx, id, &session.LiveFrame{Image: []byte("a")}))
	require.Eventually(t, func() bool {
		short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		return f.manager.Push(short, id, &session.LiveFrame{Image: []byte("b")}) == nil
	}, 2*time.Second, 5*time.Millisecond)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.manager.Push(short, id, &session.LiveFrame{Image: []byte("c")}), context.DeadlineExceeded)

	close(gate)
	require.NoError(t, f.manager.EndStream(id))
	r := wait(t, f.manager, id)
	assert.Equal(t, 2, r.TotalFrames)
}

func TestPacingFollowsReferenceRate(t *testing.T) {
	f := newFixture(t, session.Options{PaceToReferenceFps: true}, nil)
	ctx := context.Background()
	// v2 runs at 30 fps with frame skip 3: 10 records per second.
	id, err := f.manager.Start(ctx, "v2", "u1")
	require.NoError(t, err)

	began := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, f.manager.Push(ctx, id, wrist(0.5, 0.5)))
	}
	require.NoError(t, f.manager.EndStream(id))
	wait(t, f.manager, id)
	// The first step passes immediately, the other three wait ~100ms each.
	assert.GreaterOrEqual(t, time.Since(began), 250*time.Millisecond)
}
