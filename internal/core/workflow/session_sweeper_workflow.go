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

package workflow

import (
	goctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ifit-app/ifit-motion/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// IdleSessionReaper aborts running sessions that have not received a frame
// for longer than idleFor and returns their ids.
type IdleSessionReaper interface {
	AbortIdle(ctx goctx.Context, idleFor time.Duration) []string
}

// SessionSweeperWorkflow periodically aborts abandoned sessions, such as a
// browser tab that closed without ending its stream.
type SessionSweeperWorkflow struct {
	cor.BaseCommand
	reaper   IdleSessionReaper
	idleFor  time.Duration
	interval time.Duration
}

func NewSessionSweeperWorkflow(reaper IdleSessionReaper, idleFor time.Duration, interval time.Duration) *SessionSweeperWorkflow {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &SessionSweeperWorkflow{
		BaseCommand: *cor.NewBaseCommand("session-sweeper"),
		reaper:      reaper,
		idleFor:     idleFor,
		interval:    interval,
	}
}

// IsExecutable is true whenever an idle timeout is configured; the sweeper
// needs no chain input.
func (s *SessionSweeperWorkflow) IsExecutable(_ cor.Context) bool {
	return s.idleFor > 0
}

func (s *SessionSweeperWorkflow) Execute(context cor.Context) {
	aborted := s.reaper.AbortIdle(context.GetContext(), s.idleFor)
	if len(aborted) > 0 {
		slog.InfoContext(context.GetContext(), "aborted idle sessions", "count", len(aborted), "sessions", aborted)
	}
	s.Succeed(context)
	context.Add(cor.CtxOut, aborted)
}

// StartTimer runs the sweeper on a ticker until ctx is done.
func (s *SessionSweeperWorkflow) StartTimer(ctx goctx.Context) {
	if !s.IsExecutable(nil) {
		slog.Info("session sweeper disabled", "idle_timeout", s.idleFor)
		return
	}
	tracer := otel.Tracer("session-sweeper")
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				traceCtx, span := tracer.Start(ctx, fmt.Sprintf("%s_tick", s.GetName()))
				chainCtx := cor.NewBaseContext()
				chainCtx.SetContext(traceCtx)
				s.Execute(chainCtx)
				if chainCtx.HasErrors() {
					span.SetStatus(codes.Error, "sweep failed")
				} else {
					span.SetStatus(codes.Ok, "swept")
				}
				span.End()
				chainCtx.Close()
			case <-ctx.Done():
				return
			}
		}
	}()
}
