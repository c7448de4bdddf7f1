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
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/ifit-app/ifit-motion/internal/core/model"
	"google.golang.org/api/iterator"
)

// ResultService is the BigQuery implementation of ResultStore.
type ResultService struct {
	BigqueryClient *bigquery.Client
	DatasetName    string
	ResultTable    string
}

func (s *ResultService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ResultTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// Create streams a result row. model.Result carries the column tags.
func (s *ResultService) Create(ctx context.Context, result *model.Result) error {
	inserter := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ResultTable).Inserter()
	if err := inserter.Put(ctx, result); err != nil {
		return fmt.Errorf("bigquery insert failed for session %s: %w", result.SessionId, err)
	}
	return nil
}

// FindByUser lists a user's results, newest first.
func (s *ResultService) FindByUser(ctx context.Context, userId string, limit int) ([]*model.Result, error) {
	if limit <= 0 {
		limit = DefaultResultLimit
	}
	q := s.BigqueryClient.Query(fmt.Sprintf(QryResultsByUser, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userId},
		{Name: "limit", Value: limit},
	}
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Result, 0)
	for {
		var r model.Result
		err := itr.Next(&r)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, nil
}

// ProfileService is the BigQuery implementation of ProfileStore.
type ProfileService struct {
	BigqueryClient *bigquery.Client
	DatasetName    string
	UserTable      string
}

func (s *ProfileService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.UserTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// GetWeight reads a user's weight. Unknown users and non-positive weights
// are reported as not found.
func (s *ProfileService) GetWeight(ctx context.Context, userId string) (float64, bool, error) {
	q := s.BigqueryClient.Query(fmt.Sprintf(QryUserWeight, s.GetFQN()))
	q.Parameters = []bigquery.QueryParameter{{Name: "user_id", Value: userId}}
	itr, err := q.Read(ctx)
	if err != nil {
		return 0, false, err
	}
	var row struct {
		Weight bigquery.NullFloat64 `bigquery:"weight"`
	}
	err = itr.Next(&row)
	if errors.Is(err, iterator.Done) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !row.Weight.Valid || row.Weight.Float64 <= 0 {
		return 0, false, nil
	}
	return row.Weight.Float64, true, nil
}
