package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"crewline/internal/assign"
	"crewline/internal/config"
	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/metrics"
	"crewline/internal/predictor"
	"crewline/internal/repo"
)

// ModelSlot is the single snapshot slot; retraining overwrites it
// wholesale and startup restores from it.
const ModelSlot = "active"

// neutralMeanSuccess is the pool prior for users with no outcome history.
const neutralMeanSuccess = 0.5

// ConflictError marks operations refused because of the current record
// state, not because the request was malformed.
type ConflictError struct {
	Reason string
}

func (c ConflictError) Error() string { return c.Reason }

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Core    *assign.Engine
	Metrics metrics.Collector
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Config:  cfg,
		Core:    assign.New(coreParams(cfg)),
		Metrics: metrics.NewNop(),
		Now:     time.Now,
	}
}

func coreParams(cfg *config.Config) assign.Params {
	if cfg == nil {
		return assign.Params{}
	}
	return assign.Params{
		MinOutcomes:      cfg.Assignment.MinOutcomes,
		Trees:            cfg.Assignment.Trees,
		Seed:             cfg.Assignment.Seed,
		WorkloadWeight:   cfg.Assignment.WorkloadWeight,
		OverloadWeight:   cfg.Assignment.OverloadWeight,
		QualityWeight:    cfg.Assignment.QualityWeight,
		EfficiencyWeight: cfg.Assignment.EfficiencyWeight,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// UserCreateOptions are parameters for registering a user.
type UserCreateOptions struct {
	ID      string
	Name    string
	ActorID string
}

func (e Engine) CreateUser(ctx context.Context, opts UserCreateOptions) (domain.User, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.User{}, errors.New("name is required")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.New().String()
	}
	if _, err := e.Repo.GetUser(ctx, id); err == nil {
		return domain.User{}, ConflictError{fmt.Sprintf("user %s already exists", id)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	u := domain.User{
		ID:        id,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, "user.created", "user", u.ID, opts.ActorID, events.EventPayload{"name": u.Name}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// RemoveUser deletes a user. A user holding open tasks is refused unless
// forced; force releases their tasks back to the unassigned pool first.
// Outcome history always survives removal.
func (e Engine) RemoveUser(ctx context.Context, userID, actorID string, force bool) error {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.OpenTasks > 0 && !force {
		return ConflictError{fmt.Sprintf("user %s holds %d open tasks", userID, u.OpenTasks)}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if u.OpenTasks > 0 {
		held, err := e.Repo.ListTasks(ctx, repo.TaskFilters{AssigneeID: userID})
		if err != nil {
			return err
		}
		now := e.now().UTC().Format(time.RFC3339)
		for _, t := range held {
			if t.Status != "assigned" && t.Status != "in_progress" {
				continue
			}
			t.Status = "unassigned"
			t.AssigneeID = nil
			t.UpdatedAt = now
			if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
				return err
			}
			if err := e.Repo.DeleteAssignment(ctx, tx, t.ID); err != nil {
				return err
			}
		}
	}
	if err := e.Repo.DeleteUser(ctx, tx, userID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "user.removed", "user", userID, actorID, events.EventPayload{"open_tasks_released": u.OpenTasks}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.Core.Ledger().Remove(userID)
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID            string
	Title         string
	Complexity    float64
	DeadlineHours float64
	ActorID       string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if math.IsNaN(opts.Complexity) || opts.Complexity < 0 || opts.Complexity > 1 {
		return domain.Task{}, errors.New("complexity must be between 0 and 1")
	}
	if math.IsNaN(opts.DeadlineHours) || math.IsInf(opts.DeadlineHours, 0) || opts.DeadlineHours < 0 {
		return domain.Task{}, errors.New("deadline hours must be a non-negative number")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:            id,
		Title:         strings.TrimSpace(opts.Title),
		Complexity:    opts.Complexity,
		DeadlineHours: opts.DeadlineHours,
		Status:        "unassigned",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title":      t.Title,
		"complexity": t.Complexity,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// RemoveTask deletes a task. Assigned tasks are refused unless forced;
// force releases the assignee's open slot. Recorded outcomes survive.
func (e Engine) RemoveTask(ctx context.Context, taskID, actorID string, force bool) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	assignee := ""
	if t.AssigneeID != nil && t.Status != "completed" {
		if !force {
			return ConflictError{fmt.Sprintf("task %s is assigned to %s", taskID, *t.AssigneeID)}
		}
		assignee = *t.AssigneeID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if assignee != "" {
		if err := e.Repo.AdjustUserCounters(ctx, tx, assignee, -1, 0); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.removed", "task", taskID, actorID, events.EventPayload{"status": t.Status}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if assignee != "" {
		e.Core.Ledger().Release(assignee)
	}
	return nil
}

// AssignOptions are parameters for assigning one task.
type AssignOptions struct {
	TaskID  string
	ActorID string
	Force   bool
}

// AssignTask ranks every registered user for the task and assigns the
// winner. Force reassigns an already-assigned task, releasing the prior
// assignee. The returned ranked list is the full scored pool for audit.
func (e Engine) AssignTask(ctx context.Context, opts AssignOptions) (domain.Assignment, []assign.Ranked, error) {
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Assignment{}, nil, err
	}
	if t.Status == "completed" {
		return domain.Assignment{}, nil, ConflictError{fmt.Sprintf("task %s already completed", t.ID)}
	}
	prior := ""
	if t.AssigneeID != nil {
		if !opts.Force {
			return domain.Assignment{}, nil, ConflictError{fmt.Sprintf("task %s already assigned to %s", t.ID, *t.AssigneeID)}
		}
		prior = *t.AssigneeID
	}
	candidates, err := e.candidatePool(ctx)
	if err != nil {
		return domain.Assignment{}, nil, err
	}
	decision, err := e.Core.Assign(assign.Task{ID: t.ID, Complexity: t.Complexity, DeadlineHours: t.DeadlineHours}, candidates)
	if err != nil {
		return domain.Assignment{}, nil, err
	}
	a := domain.Assignment{
		TaskID:        t.ID,
		UserID:        decision.UserID,
		Complexity:    t.Complexity,
		DeadlineHours: t.DeadlineHours,
		OpenTasks:     decision.OpenTasks,
		MeanSuccess:   decision.MeanSuccess,
		Score:         decision.Score,
		Source:        decision.Source,
		AssignedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.persistAssignment(ctx, t, a, prior, opts.ActorID); err != nil {
		// The winner's ledger slot was acquired during ranking; give it
		// back so memory and database stay in step.
		e.Core.Ledger().Release(decision.UserID)
		return domain.Assignment{}, nil, err
	}
	if prior != "" {
		e.Core.Ledger().Release(prior)
	}
	e.Metrics.RecordAssignment(a.Source, a.Score)
	e.Metrics.SetOpenTasks(e.totalOpen())
	return a, decision.Ranked, nil
}

func (e Engine) persistAssignment(ctx context.Context, t domain.Task, a domain.Assignment, prior, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if prior != "" {
		if err := e.Repo.AdjustUserCounters(ctx, tx, prior, -1, 0); err != nil {
			return err
		}
	}
	t.Status = "assigned"
	t.AssigneeID = &a.UserID
	t.UpdatedAt = a.AssignedAt
	t.CompletedAt = nil
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	if err := e.Repo.UpsertAssignment(ctx, tx, a); err != nil {
		return err
	}
	if err := e.Repo.AdjustUserCounters(ctx, tx, a.UserID, 1, 0); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.assigned", "task", t.ID, actorID, events.EventPayload{
		"user_id": a.UserID,
		"score":   a.Score,
		"source":  a.Source,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// candidatePool builds the ranker's input from every registered user and
// their outcome history.
func (e Engine) candidatePool(ctx context.Context) ([]assign.Candidate, error) {
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	aggs, err := e.Repo.AggregatesByUser(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]assign.Candidate, 0, len(users))
	for _, u := range users {
		mean := neutralMeanSuccess
		if agg, ok := aggs[u.ID]; ok && agg.Count > 0 {
			mean = agg.MeanSuccess
		}
		candidates = append(candidates, assign.Candidate{UserID: u.ID, MeanSuccess: mean})
	}
	return candidates, nil
}

// AssignPending assigns every unassigned task in creation order, one at a
// time, so each assignment sees the workload the previous one produced.
func (e Engine) AssignPending(ctx context.Context, actorID string) ([]domain.Assignment, error) {
	tasks, err := e.Repo.ListUnassignedTasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Assignment
	for _, t := range tasks {
		a, _, err := e.AssignTask(ctx, AssignOptions{TaskID: t.ID, ActorID: actorID})
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// StartTask moves an assigned task to in_progress.
func (e Engine) StartTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if err := ensureTaskTransition(t.Status, "in_progress", false); err != nil {
		return t, err
	}
	t.Status = "in_progress"
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, "task.started", "task", t.ID, actorID, events.EventPayload{}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

func ensureTaskTransition(oldStatus, newStatus string, force bool) error {
	if force {
		return nil
	}
	switch oldStatus {
	case "unassigned":
		if newStatus == "assigned" {
			return nil
		}
	case "assigned":
		if newStatus == "in_progress" || newStatus == "completed" || newStatus == "unassigned" {
			return nil
		}
	case "in_progress":
		if newStatus == "completed" || newStatus == "unassigned" {
			return nil
		}
	}
	return ConflictError{fmt.Sprintf("invalid task status transition %s -> %s", oldStatus, newStatus)}
}

// OutcomeOptions are parameters for recording a completed task.
type OutcomeOptions struct {
	TaskID      string
	UserID      string
	ActualHours float64
	Quality     int
	ActorID     string
}

// RecordOutcome appends the task's outcome to the training log and marks
// the task completed. Feature fields are copied from the assignment
// snapshot, never from the live records, so later edits cannot rewrite
// history.
func (e Engine) RecordOutcome(ctx context.Context, opts OutcomeOptions) (domain.Outcome, error) {
	if opts.Quality < 1 || opts.Quality > 5 {
		return domain.Outcome{}, errors.New("quality must be between 1 and 5")
	}
	if math.IsNaN(opts.ActualHours) || math.IsInf(opts.ActualHours, 0) || opts.ActualHours <= 0 {
		return domain.Outcome{}, errors.New("actual hours must be a positive number")
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Outcome{}, err
	}
	if t.Status == "completed" {
		return domain.Outcome{}, ConflictError{fmt.Sprintf("task %s already completed", t.ID)}
	}
	if err := ensureTaskTransition(t.Status, "completed", false); err != nil {
		return domain.Outcome{}, err
	}
	if t.AssigneeID == nil {
		return domain.Outcome{}, ConflictError{fmt.Sprintf("task %s has no assignee", t.ID)}
	}
	userID := opts.UserID
	if userID == "" {
		userID = *t.AssigneeID
	}
	if userID != *t.AssigneeID {
		return domain.Outcome{}, ConflictError{fmt.Sprintf("task %s is assigned to %s, not %s", t.ID, *t.AssigneeID, userID)}
	}
	snap, err := e.Repo.GetAssignment(ctx, opts.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Outcome{}, ConflictError{fmt.Sprintf("task %s has no assignment snapshot", t.ID)}
		}
		return domain.Outcome{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	o := domain.Outcome{
		TaskID:        t.ID,
		UserID:        userID,
		Complexity:    snap.Complexity,
		DeadlineHours: snap.DeadlineHours,
		OpenTasks:     snap.OpenTasks,
		MeanSuccess:   snap.MeanSuccess,
		ActualHours:   opts.ActualHours,
		Quality:       opts.Quality,
		Success:       e.Core.SuccessScore(opts.Quality, opts.ActualHours, snap.DeadlineHours),
		RecordedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Outcome{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertOutcome(ctx, tx, o)
	if err != nil {
		return domain.Outcome{}, err
	}
	o.ID = id
	t.Status = "completed"
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Outcome{}, err
	}
	if err := e.Repo.AdjustUserCounters(ctx, tx, userID, -1, 1); err != nil {
		return domain.Outcome{}, err
	}
	if err := e.Events.Append(ctx, tx, "outcome.recorded", "task", t.ID, opts.ActorID, events.EventPayload{
		"user_id": userID,
		"quality": o.Quality,
		"success": o.Success,
	}); err != nil {
		return domain.Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Outcome{}, err
	}
	e.Core.Ledger().Release(userID)
	e.Metrics.RecordOutcome()
	e.Metrics.SetOpenTasks(e.totalOpen())
	return o, nil
}

// RetrainResult reports one retrain attempt. Refusals (too little data,
// degenerate fit) are statuses, not errors; only infrastructure failures
// surface as errors.
type RetrainResult struct {
	Trained     bool   `json:"trained"`
	Status      string `json:"status" enum:"trained,insufficient_data,error"`
	DatasetSize int    `json:"dataset_size"`
	TrainedAt   string `json:"trained_at,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// RetrainModel fits a fresh snapshot from the full outcome log, persists
// it, then installs it. A refused fit leaves the active snapshot and the
// stored artifact untouched.
func (e Engine) RetrainModel(ctx context.Context, actorID string) (RetrainResult, error) {
	rows, err := e.Repo.AllOutcomes(ctx)
	if err != nil {
		return RetrainResult{}, err
	}
	snap, err := e.Core.Retrain(coreOutcomes(rows), e.now().UTC())
	if err != nil {
		if errors.Is(err, predictor.ErrInsufficientData) {
			e.Metrics.RecordRetrain("insufficient_data")
			return RetrainResult{
				Status:      "insufficient_data",
				DatasetSize: len(rows),
				Reason:      fmt.Sprintf("have %d outcomes, need %d", len(rows), e.Core.Params().MinOutcomes),
			}, nil
		}
		var te *predictor.TrainError
		if errors.As(err, &te) {
			e.Metrics.RecordRetrain("error")
			return RetrainResult{Status: "error", DatasetSize: len(rows), Reason: te.Error()}, nil
		}
		return RetrainResult{}, err
	}
	artifact, err := predictor.EncodeSnapshot(snap)
	if err != nil {
		return RetrainResult{}, err
	}
	rec := domain.ModelRecord{
		Slot:          ModelSlot,
		SchemaVersion: snap.SchemaVersion,
		DatasetSize:   snap.DatasetSize,
		TrainedAt:     snap.TrainedAt.UTC().Format(time.RFC3339),
		Artifact:      artifact,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RetrainResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveModel(ctx, tx, rec); err != nil {
		return RetrainResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "model.retrained", "model", ModelSlot, actorID, events.EventPayload{
		"dataset_size": snap.DatasetSize,
	}); err != nil {
		return RetrainResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return RetrainResult{}, err
	}
	// Persisted first, installed second: a crash between the two leaves
	// the stored artifact ahead of memory, which the next startup fixes.
	e.Core.Install(snap)
	e.Metrics.RecordRetrain("trained")
	e.Metrics.SetDatasetSize(snap.DatasetSize)
	return RetrainResult{
		Trained:     true,
		Status:      "trained",
		DatasetSize: snap.DatasetSize,
		TrainedAt:   rec.TrainedAt,
	}, nil
}

func coreOutcomes(rows []domain.Outcome) []assign.Outcome {
	out := make([]assign.Outcome, len(rows))
	for i, o := range rows {
		out[i] = assign.Outcome{
			UserID:        o.UserID,
			Complexity:    o.Complexity,
			DeadlineHours: o.DeadlineHours,
			OpenTasks:     o.OpenTasks,
			MeanSuccess:   o.MeanSuccess,
			Success:       o.Success,
		}
	}
	return out
}

// NoteOptions are parameters for attaching a progress note to a task.
type NoteOptions struct {
	TaskID   string
	AuthorID string
	Body     string
	Progress *int
	ActorID  string
}

func (e Engine) AddNote(ctx context.Context, opts NoteOptions) (domain.Note, error) {
	if strings.TrimSpace(opts.Body) == "" {
		return domain.Note{}, errors.New("body is required")
	}
	if opts.Progress != nil && (*opts.Progress < 0 || *opts.Progress > 100) {
		return domain.Note{}, errors.New("progress must be between 0 and 100")
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.Note{}, err
	}
	author := opts.AuthorID
	if author == "" {
		author = opts.ActorID
	}
	n := domain.Note{
		TaskID:    t.ID,
		AuthorID:  author,
		Body:      opts.Body,
		Progress:  opts.Progress,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Note{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertNote(ctx, tx, n)
	if err != nil {
		return domain.Note{}, err
	}
	n.ID = id
	if err := e.Events.Append(ctx, tx, "note.added", "task", t.ID, opts.ActorID, events.EventPayload{"author_id": author}); err != nil {
		return domain.Note{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Note{}, err
	}
	return n, nil
}

func (e Engine) ListNotes(ctx context.Context, taskID string) ([]domain.Note, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListNotes(ctx, taskID)
}

// UserStats returns a user's derived history aggregates.
func (e Engine) UserStats(ctx context.Context, userID string) (domain.UserStats, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	agg, err := e.Repo.UserAggregate(ctx, userID)
	if err != nil {
		return domain.UserStats{}, err
	}
	return statsFor(u, agg), nil
}

// ListUserStats returns aggregates for every user, in id order.
func (e Engine) ListUserStats(ctx context.Context) ([]domain.UserStats, error) {
	users, err := e.Repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	aggs, err := e.Repo.AggregatesByUser(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.UserStats, 0, len(users))
	for _, u := range users {
		out = append(out, statsFor(u, aggs[u.ID]))
	}
	return out, nil
}

func statsFor(u domain.User, agg repo.OutcomeAggregate) domain.UserStats {
	s := domain.UserStats{
		UserID:         u.ID,
		Name:           u.Name,
		OpenTasks:      u.OpenTasks,
		CompletedTasks: u.CompletedTasks,
	}
	if agg.Count > 0 {
		s.MeanQuality = agg.MeanQuality
		s.MeanHours = agg.MeanHours
		s.MeanSuccess = agg.MeanSuccess
	}
	s.SkillLevel = skillLevel(s.MeanQuality, agg.Count)
	return s
}

func skillLevel(meanQuality float64, outcomes int) string {
	switch {
	case outcomes == 0:
		return "Learning"
	case meanQuality >= 4:
		return "Expert"
	case meanQuality >= 3:
		return "Good"
	default:
		return "Learning"
	}
}

// ModelInfo describes the active snapshot and the data available to the
// next retrain.
type ModelInfo struct {
	Ready         bool   `json:"ready"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	DatasetSize   int    `json:"dataset_size"`
	TrainedAt     string `json:"trained_at,omitempty"`
	MinOutcomes   int    `json:"min_outcomes"`
	OutcomeCount  int    `json:"outcome_count"`
}

func (e Engine) ModelInfo(ctx context.Context) (ModelInfo, error) {
	count, err := e.Repo.CountOutcomes(ctx)
	if err != nil {
		return ModelInfo{}, err
	}
	info := ModelInfo{
		MinOutcomes:  e.Core.Params().MinOutcomes,
		OutcomeCount: count,
	}
	if snap := e.Core.ActiveSnapshot(); snap != nil {
		info.Ready = snap.Ready(info.MinOutcomes)
		info.SchemaVersion = snap.SchemaVersion
		info.DatasetSize = snap.DatasetSize
		info.TrainedAt = snap.TrainedAt.UTC().Format(time.RFC3339)
	}
	return info, nil
}

// Dashboard is the one-call team overview.
type Dashboard struct {
	TaskCounts map[string]int     `json:"task_counts"`
	Users      []domain.UserStats `json:"users"`
	Model      ModelInfo          `json:"model"`
}

func (e Engine) Dashboard(ctx context.Context) (Dashboard, error) {
	counts, err := e.Repo.CountTasksByStatus(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	users, err := e.ListUserStats(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	model, err := e.ModelInfo(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{TaskCounts: counts, Users: users, Model: model}, nil
}

func (e Engine) totalOpen() int {
	total := 0
	for _, n := range e.Core.Ledger().Snapshot() {
		total += n
	}
	return total
}
