package assign

import (
	"time"

	"crewline/internal/feature"
	"crewline/internal/predictor"
)

// Outcome is one immutable history record used for training. Complexity,
// DeadlineHours, OpenTasks and MeanSuccess are the snapshots captured at
// assignment time, so retraining reproduces the exact inputs the ranker
// saw, regardless of later edits to the live records.
type Outcome struct {
	UserID        string
	Complexity    float64
	DeadlineHours float64
	OpenTasks     int
	MeanSuccess   float64
	Success       float64
}

// Dataset builds one labeled sample per outcome through the feature
// builder, from stored snapshots only.
func Dataset(outcomes []Outcome) ([]predictor.Sample, error) {
	samples := make([]predictor.Sample, 0, len(outcomes))
	for _, o := range outcomes {
		v, err := feature.Build(feature.Inputs{
			UserID:        o.UserID,
			Complexity:    o.Complexity,
			DeadlineHours: o.DeadlineHours,
			OpenTasks:     o.OpenTasks,
			MeanSuccess:   o.MeanSuccess,
		})
		if err != nil {
			return nil, err
		}
		samples = append(samples, predictor.Sample{Features: v, Label: o.Success})
	}
	return samples, nil
}

// Retrain fits a candidate snapshot from the outcome history. It does not
// install the result; the orchestrator persists the artifact first and then
// swaps it in via Install, so a failed fit or failed persist leaves the
// active snapshot untouched.
func (e *Engine) Retrain(outcomes []Outcome, now time.Time) (*predictor.Snapshot, error) {
	samples, err := Dataset(outcomes)
	if err != nil {
		return nil, err
	}
	return predictor.Fit(samples, predictor.Params{
		Trees:       e.params.Trees,
		Seed:        e.params.Seed,
		MinOutcomes: e.params.MinOutcomes,
	}, now)
}

// SuccessScore combines quality and time efficiency into the scalar
// training target. Quality normalizes to [0,1]; efficiency is
// 1 - actual/deadline clipped to [0,1], and a zero deadline contributes
// nothing. Monotonic: better quality or faster completion never lowers
// the score.
func (e *Engine) SuccessScore(quality int, actualHours, deadlineHours float64) float64 {
	q := float64(quality) / 5.0
	var eff float64
	if deadlineHours > 0 {
		eff = 1.0 - actualHours/deadlineHours
		if eff < 0 {
			eff = 0
		} else if eff > 1 {
			eff = 1
		}
	}
	return e.params.QualityWeight*q + e.params.EfficiencyWeight*eff
}
