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

// Package fitness turns a session's tallies into exercise metrics.
package fitness

// JoulesPerKilocalorie converts dietary calories to joules.
const JoulesPerKilocalorie = 4184.0

// Input is everything Compute needs from a finished session.
type Input struct {
	WeightKg        float64
	DurationMinutes float64
	StepsTaken      int
	AccuracyScore   float64 // Final average score, 0..100.
	ActiveFrames    int
	TotalFrames     int
}

// Metrics are the derived exercise figures of a session.
type Metrics struct {
	ActivityLevel      float64 // Share of frames with a detected pose.
	Met                float64 // Metabolic equivalent of task.
	CaloriesBurned     float64 // kcal.
	StepsPerMinute     float64
	EnergyExpenditure  float64 // Joules.
	MovementEfficiency float64
	PerformanceScore   float64
}

// Compute derives the session metrics. It is a pure function of its input.
//
// MET scales linearly from 1 (idle) to 5 (a pose in every frame); calories
// are MET * weight * hours and are zero when no pose was ever detected.
// Efficiency weighs the step count by accuracy, and performance averages
// accuracy with efficiency; both are zero without steps. Zero durations
// yield zero rates rather than infinities.
func Compute(in Input) Metrics {
	var m Metrics
	if in.TotalFrames > 0 {
		m.ActivityLevel = float64(in.ActiveFrames) / float64(in.TotalFrames)
	}
	m.Met = 1 + 4*m.ActivityLevel

	if m.ActivityLevel > 0 && in.DurationMinutes > 0 {
		m.CaloriesBurned = m.Met * in.WeightKg * in.DurationMinutes / 60
	}
	if in.DurationMinutes > 0 {
		m.StepsPerMinute = float64(in.StepsTaken) / in.DurationMinutes
	}
	m.EnergyExpenditure = m.CaloriesBurned * JoulesPerKilocalorie

	if in.StepsTaken > 0 {
		m.MovementEfficiency = in.AccuracyScore / 100 * float64(in.StepsTaken)
		m.PerformanceScore = (in.AccuracyScore + m.MovementEfficiency) / 2
	}
	return m
}
