package predictor

import (
	"encoding/json"
	"errors"
	"time"

	"crewline/internal/feature"
)

// Snapshot is an immutable trained model plus its training metadata.
// Install/replace is the caller's concern; a snapshot itself never changes
// after Fit or DecodeSnapshot returns.
type Snapshot struct {
	trees         []tree
	SchemaVersion int
	DatasetSize   int
	TrainedAt     time.Time
}

// Ready reports whether the snapshot can be trusted for scoring: fitted,
// trained on at least min outcomes, and produced under the current feature
// schema. Nil receivers report false.
func (s *Snapshot) Ready(min int) bool {
	if s == nil || len(s.trees) == 0 {
		return false
	}
	if min <= 0 {
		min = DefaultMinOutcomes
	}
	return s.DatasetSize >= min && s.SchemaVersion == feature.SchemaVersion
}

// Score averages the trees' predictions for the vector. Higher is better.
// Fails with ErrNotReady on a nil or unfitted snapshot.
func (s *Snapshot) Score(v feature.Vector) (float64, error) {
	if s == nil || len(s.trees) == 0 {
		return 0, ErrNotReady
	}
	var sum float64
	for _, t := range s.trees {
		sum += t.predict(v)
	}
	return sum / float64(len(s.trees)), nil
}

type artifact struct {
	SchemaVersion int    `json:"schema_version"`
	DatasetSize   int    `json:"dataset_size"`
	TrainedAt     string `json:"trained_at"`
	Trees         []tree `json:"trees"`
}

// EncodeSnapshot serializes a snapshot for the single-slot model store.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil || len(s.trees) == 0 {
		return nil, ErrNotReady
	}
	return json.Marshal(artifact{
		SchemaVersion: s.SchemaVersion,
		DatasetSize:   s.DatasetSize,
		TrainedAt:     s.TrainedAt.UTC().Format(time.RFC3339),
		Trees:         s.trees,
	})
}

// DecodeSnapshot restores a snapshot from its stored artifact.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	if len(a.Trees) == 0 {
		return nil, errors.New("artifact holds no trees")
	}
	trainedAt, err := time.Parse(time.RFC3339, a.TrainedAt)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		trees:         a.Trees,
		SchemaVersion: a.SchemaVersion,
		DatasetSize:   a.DatasetSize,
		TrainedAt:     trainedAt,
	}, nil
}
