package feature

import (
	"testing"

	"pgregory.net/rapid"
)

func genInputs(t *rapid.T) Inputs {
	return Inputs{
		UserID:        rapid.StringMatching(`[a-z][a-z0-9-]{0,15}`).Draw(t, "userID"),
		Complexity:    rapid.Float64Range(0, 1).Draw(t, "complexity"),
		DeadlineHours: rapid.Float64Range(0, 720).Draw(t, "deadlineHours"),
		OpenTasks:     rapid.IntRange(0, 50).Draw(t, "openTasks"),
		MeanSuccess:   rapid.Float64Range(0, 1).Draw(t, "meanSuccess"),
	}
}

func TestBuildDeterminismProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genInputs(t)
		first, err := Build(in)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		second, err := Build(in)
		if err != nil {
			t.Fatalf("build again: %v", err)
		}
		if first != second {
			t.Fatalf("vectors differ for identical inputs: %v vs %v", first, second)
		}
	})
}

func TestBuildEchoesInputsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := genInputs(t)
		v, err := Build(in)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if v[0] != UserCode(in.UserID) {
			t.Fatalf("user code slot %v, want %v", v[0], UserCode(in.UserID))
		}
		if v[1] != in.Complexity || v[2] != in.DeadlineHours {
			t.Fatalf("task slots %v, inputs %+v", v, in)
		}
		if v[3] != float64(in.OpenTasks) || v[4] != in.MeanSuccess {
			t.Fatalf("history slots %v, inputs %+v", v, in)
		}
	})
}
