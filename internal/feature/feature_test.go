package feature

import (
	"errors"
	"math"
	"testing"
)

func TestBuildVectorOrder(t *testing.T) {
	in := Inputs{
		UserID:        "alice",
		Complexity:    0.4,
		DeadlineHours: 12,
		OpenTasks:     3,
		MeanSuccess:   0.75,
	}
	v, err := Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v[0] != UserCode("alice") {
		t.Fatalf("user code slot: got %v want %v", v[0], UserCode("alice"))
	}
	if v[1] != 0.4 || v[2] != 12 || v[3] != 3 || v[4] != 0.75 {
		t.Fatalf("unexpected vector %v", v)
	}
}

func TestBuildDeterministic(t *testing.T) {
	in := Inputs{UserID: "bob", Complexity: 0.9, DeadlineHours: 2.5, OpenTasks: 1, MeanSuccess: 0.2}
	a, err := Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	b, err := Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a != b {
		t.Fatalf("same inputs produced different vectors: %v vs %v", a, b)
	}
}

func TestUserCodeStable(t *testing.T) {
	if UserCode("carol") != UserCode("carol") {
		t.Fatal("user code not stable")
	}
	if UserCode("carol") == UserCode("dave") {
		t.Fatal("distinct ids mapped to the same code")
	}
	code := UserCode("carol")
	if code < 0 || code > float64(userCodeMask) {
		t.Fatalf("code %v outside mask range", code)
	}
	if code != math.Trunc(code) {
		t.Fatalf("code %v not integral", code)
	}
}

func TestBuildRejectsMalformed(t *testing.T) {
	base := Inputs{UserID: "u", Complexity: 0.5, DeadlineHours: 1, OpenTasks: 0, MeanSuccess: 0}
	cases := []struct {
		name   string
		mutate func(*Inputs)
		field  string
	}{
		{"missing user", func(in *Inputs) { in.UserID = "" }, "user_id"},
		{"complexity high", func(in *Inputs) { in.Complexity = 1.2 }, "complexity"},
		{"complexity negative", func(in *Inputs) { in.Complexity = -0.1 }, "complexity"},
		{"complexity nan", func(in *Inputs) { in.Complexity = math.NaN() }, "complexity"},
		{"deadline negative", func(in *Inputs) { in.DeadlineHours = -1 }, "deadline_hours"},
		{"deadline inf", func(in *Inputs) { in.DeadlineHours = math.Inf(1) }, "deadline_hours"},
		{"open negative", func(in *Inputs) { in.OpenTasks = -1 }, "open_tasks"},
		{"mean success high", func(in *Inputs) { in.MeanSuccess = 1.5 }, "mean_success"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := Build(in)
			if err == nil {
				t.Fatal("expected schema error")
			}
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SchemaError, got %T", err)
			}
			if se.Field != tc.field {
				t.Fatalf("field: got %s want %s", se.Field, tc.field)
			}
		})
	}
}
