package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"crewline/internal/assign"
	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/engine"
	"crewline/internal/feature"
	"crewline/internal/migrate"
	"crewline/internal/predictor"
	"crewline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("crew")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func addUser(t *testing.T, env testEnv, id, name string) {
	t.Helper()
	if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{ID: id, Name: name, ActorID: "tester"}); err != nil {
		t.Fatalf("create user %s: %v", id, err)
	}
}

func addTask(t *testing.T, env testEnv, title string, complexity, deadline float64) string {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:         title,
		Complexity:    complexity,
		DeadlineHours: deadline,
		ActorID:       "tester",
	})
	if err != nil {
		t.Fatalf("create task %q: %v", title, err)
	}
	return task.ID
}

func wantConflict(t *testing.T, err error) {
	t.Helper()
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

// seedOutcomes runs n tasks through assign and outcome with varied
// quality and hours so the training labels are not degenerate.
func seedOutcomes(t *testing.T, env testEnv, n int) {
	t.Helper()
	qualities := []int{5, 4, 3, 4, 2}
	for i := 0; i < n; i++ {
		id := addTask(t, env, fmt.Sprintf("warmup %d", i), 0.15*float64(i), 10)
		if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"}); err != nil {
			t.Fatalf("assign warmup %d: %v", i, err)
		}
		if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{
			TaskID:      id,
			ActualHours: float64(i + 2),
			Quality:     qualities[i%len(qualities)],
			ActorID:     "tester",
		}); err != nil {
			t.Fatalf("record warmup %d: %v", i, err)
		}
	}
}

func TestAssignPendingBalancesWorkload(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"ana", "ben", "cam"} {
		addUser(t, env, id, id)
	}
	addTask(t, env, "first sweep", 0.3, 8)
	addTask(t, env, "second sweep", 0.5, 8)
	addTask(t, env, "third sweep", 0.7, 8)

	assignments, err := env.Engine.AssignPending(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("assign pending: %v", err)
	}
	if len(assignments) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(assignments))
	}
	for _, a := range assignments {
		if a.Source != assign.SourceColdStart {
			t.Fatalf("expected cold start, got %s", a.Source)
		}
	}
	// with no history every user should end up holding exactly one task
	for _, id := range []string{"ana", "ben", "cam"} {
		u, err := env.Engine.Repo.GetUser(env.Ctx, id)
		if err != nil {
			t.Fatalf("get user %s: %v", id, err)
		}
		if u.OpenTasks != 1 {
			t.Fatalf("user %s holds %d open tasks, want 1", id, u.OpenTasks)
		}
	}
}

func TestAssignPrefersIdleUser(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	addUser(t, env, "ben", "Ben")
	t1 := addTask(t, env, "warm the pool", 0.4, 8)
	t2 := addTask(t, env, "second task", 0.4, 8)

	a1, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: t1, ActorID: "tester"})
	if err != nil {
		t.Fatalf("assign t1: %v", err)
	}
	a2, ranked, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: t2, ActorID: "tester"})
	if err != nil {
		t.Fatalf("assign t2: %v", err)
	}
	if a2.UserID == a1.UserID {
		t.Fatalf("expected idle user to win, both went to %s", a1.UserID)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 ranked candidates, got %d", len(ranked))
	}
	if ranked[0].UserID != a2.UserID || ranked[0].Score <= ranked[1].Score {
		t.Fatalf("ranked list not ordered by score: %+v", ranked)
	}
}

func TestAssignWithoutCandidates(t *testing.T) {
	env := newTestEnv(t)
	id := addTask(t, env, "orphan", 0.5, 8)
	_, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"})
	if !errors.Is(err, assign.ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}
}

func TestReassignRequiresForce(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	addUser(t, env, "ben", "Ben")
	id := addTask(t, env, "contested", 0.5, 8)

	a1, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, _, err = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"})
	wantConflict(t, err)

	a2, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester", Force: true})
	if err != nil {
		t.Fatalf("force reassign: %v", err)
	}
	if a2.UserID == a1.UserID {
		t.Fatalf("expected reassignment to move off the loaded user")
	}
	// prior assignee's slot must be released
	prior, err := env.Engine.Repo.GetUser(env.Ctx, a1.UserID)
	if err != nil {
		t.Fatalf("get prior: %v", err)
	}
	if prior.OpenTasks != 0 {
		t.Fatalf("prior assignee still holds %d open tasks", prior.OpenTasks)
	}
	if got := env.Engine.Core.Ledger().Open(a1.UserID); got != 0 {
		t.Fatalf("ledger still counts %d for prior assignee", got)
	}

	// a completed task cannot be reassigned even with force
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id, ActualHours: 3, Quality: 4, ActorID: "tester"}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	_, _, err = env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester", Force: true})
	wantConflict(t, err)
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	id := addTask(t, env, "stateful", 0.5, 8)

	// start before assign is invalid
	_, err := env.Engine.StartTask(env.Ctx, id, "tester")
	wantConflict(t, err)

	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	task, err := env.Engine.StartTask(env.Ctx, id, "tester")
	if err != nil || task.Status != "in_progress" {
		t.Fatalf("start: %v status=%s", err, task.Status)
	}
	_, err = env.Engine.StartTask(env.Ctx, id, "tester")
	wantConflict(t, err)

	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id, ActualHours: 4, Quality: 4, ActorID: "tester"}); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	task, err = env.Engine.Repo.GetTask(env.Ctx, id)
	if err != nil || task.Status != "completed" || task.CompletedAt == nil {
		t.Fatalf("expected completed task, got %+v err=%v", task, err)
	}
	_, err = env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id, ActualHours: 4, Quality: 4, ActorID: "tester"})
	wantConflict(t, err)
}

func TestOutcomeCopiesAssignmentSnapshot(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	id := addTask(t, env, "snapshotted", 0.7, 12)
	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	snap, err := env.Engine.Repo.GetAssignment(env.Ctx, id)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	o, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id, ActualHours: 4, Quality: 4, ActorID: "tester"})
	if err != nil {
		t.Fatalf("outcome: %v", err)
	}
	if o.UserID != snap.UserID || o.Complexity != snap.Complexity ||
		o.DeadlineHours != snap.DeadlineHours || o.OpenTasks != snap.OpenTasks ||
		o.MeanSuccess != snap.MeanSuccess {
		t.Fatalf("outcome fields diverge from assignment snapshot:\n  outcome    %+v\n  assignment %+v", o, snap)
	}
	if o.Success <= 0 || o.Success > 1 {
		t.Fatalf("success score out of range: %f", o.Success)
	}

	// a second task: outcome for a user who is not the assignee is refused
	id2 := addTask(t, env, "misattributed", 0.3, 8)
	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id2, ActorID: "tester"}); err != nil {
		t.Fatalf("assign 2: %v", err)
	}
	_, err = env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id2, UserID: "ghost", ActualHours: 2, Quality: 3, ActorID: "tester"})
	wantConflict(t, err)

	// quality outside 1..5 is a validation error
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id2, ActualHours: 2, Quality: 9, ActorID: "tester"}); err == nil {
		t.Fatalf("expected quality validation error")
	}
}

func TestRetrainLifecycle(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	addUser(t, env, "ben", "Ben")

	res, err := env.Engine.RetrainModel(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("early retrain: %v", err)
	}
	if res.Trained || res.Status != "insufficient_data" {
		t.Fatalf("expected refusal on empty log, got %+v", res)
	}

	seedOutcomes(t, env, 5)

	res, err = env.Engine.RetrainModel(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("retrain: %v", err)
	}
	if !res.Trained || res.Status != "trained" || res.DatasetSize != 5 {
		t.Fatalf("unexpected retrain result: %+v", res)
	}
	if res.TrainedAt != "2025-03-01T00:00:00Z" {
		t.Fatalf("unexpected trained_at: %s", res.TrainedAt)
	}

	info, err := env.Engine.ModelInfo(env.Ctx)
	if err != nil {
		t.Fatalf("model info: %v", err)
	}
	if !info.Ready || info.DatasetSize != 5 || info.OutcomeCount != 5 || info.SchemaVersion != feature.SchemaVersion {
		t.Fatalf("unexpected model info: %+v", info)
	}

	// the artifact round-trips from the store
	rec, err := env.Engine.Repo.GetModel(env.Ctx, engine.ModelSlot)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	restored, err := predictor.DecodeSnapshot(rec.Artifact)
	if err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	if !restored.Ready(env.Engine.Core.Params().MinOutcomes) {
		t.Fatalf("restored snapshot not ready")
	}

	// once trained, assignment scores come from the model
	id := addTask(t, env, "scored by forest", 0.5, 8)
	a, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"})
	if err != nil {
		t.Fatalf("assign after train: %v", err)
	}
	if a.Source != assign.SourceModel {
		t.Fatalf("expected model source, got %s", a.Source)
	}

	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT count(*) FROM events WHERE type='model.retrained'`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var count int
	rows.Next()
	rows.Scan(&count)
	if count != 1 {
		t.Fatalf("expected one retrain event, got %d", count)
	}
}

func TestRetrainRefusalKeepsStoredModel(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	addUser(t, env, "ben", "Ben")
	seedOutcomes(t, env, 5)
	if _, err := env.Engine.RetrainModel(env.Ctx, "tester"); err != nil {
		t.Fatalf("retrain: %v", err)
	}

	strictCfg := config.Default("crew")
	strictCfg.Assignment.MinOutcomes = 50
	strict := engine.New(env.Engine.DB, strictCfg)
	res, err := strict.RetrainModel(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("strict retrain: %v", err)
	}
	if res.Trained || res.Status != "insufficient_data" || res.DatasetSize != 5 {
		t.Fatalf("expected refusal, got %+v", res)
	}
	if strict.Core.ActiveSnapshot() != nil {
		t.Fatalf("refusal must not install a snapshot")
	}
	rec, err := env.Engine.Repo.GetModel(env.Ctx, engine.ModelSlot)
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if rec.DatasetSize != 5 {
		t.Fatalf("stored artifact changed on refusal: %+v", rec)
	}
}

func TestRemoveUserKeepsHistory(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	done := addTask(t, env, "finished work", 0.4, 8)
	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: done, ActorID: "tester"}); err != nil {
		t.Fatalf("assign done: %v", err)
	}
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: done, ActualHours: 3, Quality: 5, ActorID: "tester"}); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	open := addTask(t, env, "open work", 0.4, 8)
	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: open, ActorID: "tester"}); err != nil {
		t.Fatalf("assign open: %v", err)
	}

	err := env.Engine.RemoveUser(env.Ctx, "ana", "tester", false)
	wantConflict(t, err)

	if err := env.Engine.RemoveUser(env.Ctx, "ana", "tester", true); err != nil {
		t.Fatalf("force remove: %v", err)
	}
	if _, err := env.Engine.Repo.GetUser(env.Ctx, "ana"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected user gone, got %v", err)
	}
	// the open task returns to the pool
	task, err := env.Engine.Repo.GetTask(env.Ctx, open)
	if err != nil || task.Status != "unassigned" || task.AssigneeID != nil {
		t.Fatalf("open task not released: %+v err=%v", task, err)
	}
	// the completed task and its outcome survive
	task, err = env.Engine.Repo.GetTask(env.Ctx, done)
	if err != nil || task.Status != "completed" {
		t.Fatalf("completed task lost: %+v err=%v", task, err)
	}
	n, err := env.Engine.Repo.CountOutcomes(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("outcome history lost: n=%d err=%v", n, err)
	}
	if got := env.Engine.Core.Ledger().Open("ana"); got != 0 {
		t.Fatalf("ledger still counts %d for removed user", got)
	}
}

func TestEventAppendOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	addUser(t, env, "ana", "Ana")
	id := addTask(t, env, "evented", 0.5, 8)
	if _, _, err := env.Engine.AssignTask(env.Ctx, engine.AssignOptions{TaskID: id, ActorID: "tester"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, id, "tester"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.RecordOutcome(env.Ctx, engine.OutcomeOptions{TaskID: id, ActualHours: 4, Quality: 4, ActorID: "tester"}); err != nil {
		t.Fatalf("outcome: %v", err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, id)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	seen := map[string]bool{}
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatalf("scan: %v", err)
		}
		seen[typ] = true
	}
	for _, want := range []string{"task.created", "task.assigned", "task.started", "outcome.recorded"} {
		if !seen[want] {
			t.Fatalf("missing event %s, saw %v", want, seen)
		}
	}
}
