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

package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ifit-app/ifit-motion/internal/core/model"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS motion_sequences (
	video_id   TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	fps        REAL NOT NULL,
	frame_skip INTEGER NOT NULL,
	frames     TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	id                    TEXT PRIMARY KEY,
	session_id            TEXT NOT NULL,
	user_id               TEXT NOT NULL,
	video_id              TEXT NOT NULL,
	status                TEXT NOT NULL,
	accuracy_score        REAL NOT NULL,
	motion_matching_score REAL NOT NULL,
	calories_burned       REAL NOT NULL,
	exercise_duration     REAL NOT NULL,
	steps_taken           INTEGER NOT NULL,
	steps_per_minute      REAL NOT NULL,
	movement_efficiency   REAL NOT NULL,
	performance_score     REAL NOT NULL,
	energy_expenditure    REAL NOT NULL,
	user_feedback         TEXT NOT NULL,
	active_frames         INTEGER NOT NULL,
	total_frames          INTEGER NOT NULL,
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS results_user_created ON results (user_id, created_at);
CREATE TABLE IF NOT EXISTS users (
	id     TEXT PRIMARY KEY,
	weight REAL NOT NULL
);`

// Fixed-width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements MotionStore, ResultStore and ProfileStore on a
// single local SQLite file. It backs the CLI and single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the database at path and
// applies the schema.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, seq *model.MotionSequence) (string, error) {
	if err := seq.Validate(); err != nil {
		return "", err
	}
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = time.Now()
	}
	frames, err := json.Marshal(seq.Frames)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO motion_sequences (video_id, id, fps, frame_skip, frames, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		seq.VideoId, seq.Id, seq.Fps, seq.FrameSkip, string(frames), seq.CreatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to save motion for video %s: %w", seq.VideoId, err)
	}
	return seq.Id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, videoId string) (*model.MotionSequence, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fps, frame_skip, frames, created_at FROM motion_sequences WHERE video_id = ?`, videoId)
	seq := &model.MotionSequence{VideoId: videoId}
	var frames, created string
	err := row.Scan(&seq.Id, &seq.Fps, &seq.FrameSkip, &frames, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(frames), &seq.Frames); err != nil {
		return nil, false, fmt.Errorf("corrupt frames for video %s: %w", videoId, err)
	}
	if seq.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return nil, false, err
	}
	return seq, true, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, videoId string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM motion_sequences WHERE video_id = ?`, videoId)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Create(ctx context.Context, r *model.Result) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (id, session_id, user_id, video_id, status, accuracy_score, motion_matching_score,
			calories_burned, exercise_duration, steps_taken, steps_per_minute, movement_efficiency,
			performance_score, energy_expenditure, user_feedback, active_frames, total_frames, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Id, r.SessionId, r.UserId, r.VideoId, r.Status, r.AccuracyScore, r.MotionMatchingScore,
		r.CaloriesBurned, r.ExerciseDuration, r.StepsTaken, r.StepsPerMinute, r.MovementEfficiency,
		r.PerformanceScore, r.EnergyExpenditure, r.UserFeedback, r.ActiveFrames, r.TotalFrames,
		r.CreatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to save result for session %s: %w", r.SessionId, err)
	}
	return nil
}

func (s *SQLiteStore) FindByUser(ctx context.Context, userId string, limit int) ([]*model.Result, error) {
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, user_id, video_id, status, accuracy_score, motion_matching_score,
			calories_burned, exercise_duration, steps_taken, steps_per_minute, movement_efficiency,
			performance_score, energy_expenditure, user_feedback, active_frames, total_frames, created_at
		FROM results WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userId, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*model.Result, 0)
	for rows.Next() {
		r := &model.Result{}
		var created string
		if err := rows.Scan(&r.Id, &r.SessionId, &r.UserId, &r.VideoId, &r.Status, &r.AccuracyScore,
			&r.MotionMatchingScore, &r.CaloriesBurned, &r.ExerciseDuration, &r.StepsTaken, &r.StepsPerMinute,
			&r.MovementEfficiency, &r.PerformanceScore, &r.EnergyExpenditure, &r.UserFeedback,
			&r.ActiveFrames, &r.TotalFrames, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveProfile upserts a user's weight.
func (s *SQLiteStore) SaveProfile(ctx context.Context, userId string, weightKg float64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO users (id, weight) VALUES (?, ?)`, userId, weightKg)
	return err
}

func (s *SQLiteStore) GetWeight(ctx context.Context, userId string) (float64, bool, error) {
	var w float64
	err := s.db.QueryRowContext(ctx, `SELECT weight FROM users WHERE id = ?`, userId).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return w, w > 0, nil
}
