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
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"google.golang.org/api/iterator"
)

// MotionService is the BigQuery implementation of MotionStore. BigQuery has
// no map type, so keypoints are stored as a repeated record per frame.
type MotionService struct {
	BigqueryClient *bigquery.Client // Client for interacting with Google BigQuery.
	DatasetName    string           // The name of the BigQuery dataset (e.g., "ifit_ds").
	MotionTable    string           // The name of the table holding motion sequences.
}

type motionRow struct {
	Id        string      `bigquery:"id"`
	VideoId   string      `bigquery:"video_id"`
	Fps       float64     `bigquery:"fps"`
	FrameSkip int         `bigquery:"frame_skip"`
	Frames    []*frameRow `bigquery:"frames"`
	CreatedAt time.Time   `bigquery:"created_at"`
}

type frameRow struct {
	FrameNo   int            `bigquery:"frame_no"`
	Timestamp float64        `bigquery:"timestamp"`
	Keypoints []*keypointRow `bigquery:"keypoints"`
}

type keypointRow struct {
	Joint      string  `bigquery:"joint"`
	X          float64 `bigquery:"x"`
	Y          float64 `bigquery:"y"`
	Z          float64 `bigquery:"z"`
	Visibility float64 `bigquery:"visibility"`
}

func toMotionRow(seq *model.MotionSequence) *motionRow {
	row := &motionRow{
		Id:        seq.Id,
		VideoId:   seq.VideoId,
		Fps:       seq.Fps,
		FrameSkip: seq.FrameSkip,
		Frames:    make([]*frameRow, 0, len(seq.Frames)),
		CreatedAt: seq.CreatedAt,
	}
	for _, f := range seq.Frames {
		fr := &frameRow{FrameNo: f.FrameNo, Timestamp: f.Timestamp, Keypoints: make([]*keypointRow, 0, len(f.Keypoints))}
		// Sorted joints keep rows byte-stable across re-extractions.
		joints := make([]string, 0, len(f.Keypoints))
		for j := range f.Keypoints {
			joints = append(joints, j)
		}
		slices.Sort(joints)
		for _, j := range joints {
			k := f.Keypoints[j]
			fr.Keypoints = append(fr.Keypoints, &keypointRow{Joint: j, X: k.X, Y: k.Y, Z: k.Z, Visibility: k.Visibility})
		}
		row.Frames = append(row.Frames, fr)
	}
	return row
}

func (r *motionRow) toModel() *model.MotionSequence {
	seq := &model.MotionSequence{
		Id:        r.Id,
		VideoId:   r.VideoId,
		Fps:       r.Fps,
		FrameSkip: r.FrameSkip,
		Frames:    make([]*model.FrameRecord, 0, len(r.Frames)),
		CreatedAt: r.CreatedAt,
	}
	for _, f := range r.Frames {
		rec := &model.FrameRecord{FrameNo: f.FrameNo, Timestamp: f.Timestamp, Keypoints: make(map[string]model.Keypoint, len(f.Keypoints))}
		for _, k := range f.Keypoints {
			rec.Keypoints[k.Joint] = model.Keypoint{X: k.X, Y: k.Y, Z: k.Z, Visibility: k.Visibility}
		}
		seq.Frames = append(seq.Frames, rec)
	}
	return seq
}

// GetFQN returns the table name in `project.dataset.table` form.
func (s *MotionService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.MotionTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// Save streams the sequence into the motion table. An earlier sequence for
// the same video stays in the table but is shadowed by the newer created_at.
func (s *MotionService) Save(ctx context.Context, seq *model.MotionSequence) (string, error) {
	if err := seq.Validate(); err != nil {
		return "", err
	}
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = time.Now()
	}
	inserter := s.BigqueryClient.Dataset(s.DatasetName).Table(s.MotionTable).Inserter()
	if err := inserter.Put(ctx, toMotionRow(seq)); err != nil {
		return "", fmt.Errorf("bigquery insert failed for video %s: %w", seq.VideoId, err)
	}
	return seq.Id, nil
}

// Get returns the newest sequence for a video.
func (s *MotionService) Get(ctx context.Context, videoId string) (*model.MotionSequence, bool, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryLatestMotionByVideo, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "video_id", Value: videoId}}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, false, err
	}
	var row motionRow
	err = itr.Next(&row)
	if errors.Is(err, iterator.Done) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return row.toModel(), true, nil
}

// Delete removes all sequences of a video with a DML statement. Rows still
// in the streaming buffer cannot be deleted by BigQuery and make the job
// fail; callers see that error.
func (s *MotionService) Delete(ctx context.Context, videoId string) (int64, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryDeleteMotionByVideo, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "video_id", Value: videoId}}
	job, err := q.Run(ctx)
	if err != nil {
		return 0, err
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, err
	}
	if err := status.Err(); err != nil {
		return 0, err
	}
	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
