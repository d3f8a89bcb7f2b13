package feature

import (
	"fmt"
	"math"

	"github.com/zeebo/xxh3"
)

// SchemaVersion tags the shape and order of vectors produced by Build.
// Snapshots trained under a different version must not be applied.
const SchemaVersion = 1

// Size is the number of entries in a schema v1 vector.
const Size = 5

// Vector is a fixed-order numeric feature vector:
// [user code, complexity, deadline hours, open tasks, mean success].
type Vector [Size]float64

// Inputs are the per-candidate signals a vector is built from. OpenTasks
// and MeanSuccess describe the user at scoring time; for training they come
// from the outcome's stored snapshot, never the live records.
type Inputs struct {
	UserID        string
	Complexity    float64
	DeadlineHours float64
	OpenTasks     int
	MeanSuccess   float64
}

// SchemaError reports a malformed or out-of-range record. Never retried;
// callers surface it immediately.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("feature schema: %s %s", e.Field, e.Reason)
}

// 20 bits keep the code exact in a float64 and small enough for cheap
// tree splits; collisions are irrelevant at team scale.
const userCodeMask = 1<<20 - 1

// UserCode maps a user identifier to a stable numeric code. The same id
// yields the same code across runs and processes.
func UserCode(userID string) float64 {
	return float64(xxh3.HashString(userID) & userCodeMask)
}

// Build turns Inputs into a schema v1 vector. Identical inputs produce
// identical vectors.
func Build(in Inputs) (Vector, error) {
	if in.UserID == "" {
		return Vector{}, &SchemaError{Field: "user_id", Reason: "required"}
	}
	if math.IsNaN(in.Complexity) || in.Complexity < 0 || in.Complexity > 1 {
		return Vector{}, &SchemaError{Field: "complexity", Reason: "must be in [0,1]"}
	}
	if math.IsNaN(in.DeadlineHours) || math.IsInf(in.DeadlineHours, 0) || in.DeadlineHours < 0 {
		return Vector{}, &SchemaError{Field: "deadline_hours", Reason: "must be >= 0"}
	}
	if in.OpenTasks < 0 {
		return Vector{}, &SchemaError{Field: "open_tasks", Reason: "must be >= 0"}
	}
	if math.IsNaN(in.MeanSuccess) || in.MeanSuccess < 0 || in.MeanSuccess > 1 {
		return Vector{}, &SchemaError{Field: "mean_success", Reason: "must be in [0,1]"}
	}
	return Vector{
		UserCode(in.UserID),
		in.Complexity,
		in.DeadlineHours,
		float64(in.OpenTasks),
		in.MeanSuccess,
	}, nil
}
