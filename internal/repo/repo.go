package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crewline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO users(id,name,open_tasks,completed_tasks,created_at) VALUES (?,?,?,?,?)`,
		u.ID, u.Name, u.OpenTasks, u.CompletedTasks, u.CreatedAt)
	return err
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.OpenTasks, &u.CompletedTasks, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT id,name,open_tasks,completed_tasks,created_at FROM users WHERE id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return scanUser(tx.QueryRowContext(ctx, `SELECT id,name,open_tasks,completed_tasks,created_at FROM users WHERE id=?`, id))
}

// ListUsers returns every registered user in id order. The stable order is
// what makes candidate pools and their tie-breaks reproducible.
func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,open_tasks,completed_tasks,created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.OpenTasks, &u.CompletedTasks, &u.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustUserCounters applies deltas to a user's open/completed counters.
// Open counts never go below zero.
func (r Repo) AdjustUserCounters(ctx context.Context, tx *sql.Tx, id string, openDelta, completedDelta int) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET open_tasks=MAX(0, open_tasks+?), completed_tasks=completed_tasks+? WHERE id=?`,
		openDelta, completedDelta, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,title,complexity,deadline_hours,status,assignee_id,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Complexity, t.DeadlineHours, t.Status, nullableStringPtr(t.AssigneeID), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, complexity=?, deadline_hours=?, status=?, assignee_id=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, t.Complexity, t.DeadlineHours, t.Status, nullableStringPtr(t.AssigneeID), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	return err
}

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assigneeID, completedAt sql.NullString
	err := scan(&t.ID, &t.Title, &t.Complexity, &t.DeadlineHours, &t.Status, &assigneeID, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

const taskColumns = `id,title,complexity,deadline_hours,status,assignee_id,created_at,updated_at,completed_at`

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id).Scan)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskFilters struct {
	Status          string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListUnassignedTasks returns unassigned tasks oldest first, the order the
// pending-assignment sweep walks them in.
func (r Repo) ListUnassignedTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status='unassigned' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

// UpsertAssignment records the feature snapshot for a task's current
// assignment, replacing any prior row on reassignment.
func (r Repo) UpsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(task_id,user_id,complexity,deadline_hours,open_tasks,mean_success,score,source,assigned_at) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET user_id=excluded.user_id, complexity=excluded.complexity, deadline_hours=excluded.deadline_hours, open_tasks=excluded.open_tasks, mean_success=excluded.mean_success, score=excluded.score, source=excluded.source, assigned_at=excluded.assigned_at`,
		a.TaskID, a.UserID, a.Complexity, a.DeadlineHours, a.OpenTasks, a.MeanSuccess, a.Score, a.Source, a.AssignedAt)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE task_id=?`, taskID)
	return err
}

func scanAssignment(row *sql.Row) (domain.Assignment, error) {
	var a domain.Assignment
	err := row.Scan(&a.TaskID, &a.UserID, &a.Complexity, &a.DeadlineHours, &a.OpenTasks, &a.MeanSuccess, &a.Score, &a.Source, &a.AssignedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

const assignmentColumns = `task_id,user_id,complexity,deadline_hours,open_tasks,mean_success,score,source,assigned_at`

func (r Repo) GetAssignment(ctx context.Context, taskID string) (domain.Assignment, error) {
	return scanAssignment(r.DB.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE task_id=?`, taskID))
}

func (r Repo) GetAssignmentTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.Assignment, error) {
	return scanAssignment(tx.QueryRowContext(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE task_id=?`, taskID))
}

func (r Repo) InsertOutcome(ctx context.Context, tx *sql.Tx, o domain.Outcome) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO outcomes(task_id,user_id,complexity,deadline_hours,open_tasks,mean_success,actual_hours,quality,success,recorded_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		o.TaskID, o.UserID, o.Complexity, o.DeadlineHours, o.OpenTasks, o.MeanSuccess, o.ActualHours, o.Quality, o.Success, o.RecordedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// AllOutcomes returns the full outcome log in insertion order. This is the
// training dataset; it is never filtered or truncated.
func (r Repo) AllOutcomes(ctx context.Context) ([]domain.Outcome, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,complexity,deadline_hours,open_tasks,mean_success,actual_hours,quality,success,recorded_at FROM outcomes ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.ID, &o.TaskID, &o.UserID, &o.Complexity, &o.DeadlineHours, &o.OpenTasks, &o.MeanSuccess, &o.ActualHours, &o.Quality, &o.Success, &o.RecordedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountOutcomes(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM outcomes`).Scan(&n)
	return n, err
}

// OutcomeAggregate is a user's derived history: recomputed from the
// outcome log on read, never stored.
type OutcomeAggregate struct {
	UserID      string
	Count       int
	MeanQuality float64
	MeanHours   float64
	MeanSuccess float64
}

func (r Repo) UserAggregate(ctx context.Context, userID string) (OutcomeAggregate, error) {
	agg := OutcomeAggregate{UserID: userID}
	err := r.DB.QueryRowContext(ctx, `SELECT count(*), COALESCE(AVG(quality),0), COALESCE(AVG(actual_hours),0), COALESCE(AVG(success),0) FROM outcomes WHERE user_id=?`, userID).
		Scan(&agg.Count, &agg.MeanQuality, &agg.MeanHours, &agg.MeanSuccess)
	return agg, err
}

func (r Repo) AggregatesByUser(ctx context.Context) (map[string]OutcomeAggregate, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id, count(*), AVG(quality), AVG(actual_hours), AVG(success) FROM outcomes GROUP BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]OutcomeAggregate{}
	for rows.Next() {
		var agg OutcomeAggregate
		if err := rows.Scan(&agg.UserID, &agg.Count, &agg.MeanQuality, &agg.MeanHours, &agg.MeanSuccess); err != nil {
			return nil, err
		}
		res[agg.UserID] = agg
	}
	return res, rows.Err()
}

func (r Repo) InsertNote(ctx context.Context, tx *sql.Tx, n domain.Note) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO notes(task_id,author_id,body,progress,created_at) VALUES (?,?,?,?,?)`,
		n.TaskID, n.AuthorID, n.Body, nullableIntPtr(n.Progress), n.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) ListNotes(ctx context.Context, taskID string) ([]domain.Note, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author_id,body,progress,created_at FROM notes WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Note
	for rows.Next() {
		var n domain.Note
		var progress sql.NullInt64
		if err := rows.Scan(&n.ID, &n.TaskID, &n.AuthorID, &n.Body, &progress, &n.CreatedAt); err != nil {
			return nil, err
		}
		if progress.Valid {
			p := int(progress.Int64)
			n.Progress = &p
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// SaveModel overwrites the named snapshot slot wholesale.
func (r Repo) SaveModel(ctx context.Context, tx *sql.Tx, rec domain.ModelRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO model_snapshots(slot,schema_version,dataset_size,trained_at,artifact) VALUES (?,?,?,?,?)
ON CONFLICT(slot) DO UPDATE SET schema_version=excluded.schema_version, dataset_size=excluded.dataset_size, trained_at=excluded.trained_at, artifact=excluded.artifact`,
		rec.Slot, rec.SchemaVersion, rec.DatasetSize, rec.TrainedAt, rec.Artifact)
	return err
}

func (r Repo) GetModel(ctx context.Context, slot string) (domain.ModelRecord, error) {
	var rec domain.ModelRecord
	err := r.DB.QueryRowContext(ctx, `SELECT slot,schema_version,dataset_size,trained_at,artifact FROM model_snapshots WHERE slot=?`, slot).
		Scan(&rec.Slot, &rec.SchemaVersion, &rec.DatasetSize, &rec.TrainedAt, &rec.Artifact)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,ts,type,entity_kind,entity_id,actor_id,payload FROM events WHERE id>? ORDER BY id ASC LIMIT ?`
	return r.queryEvents(ctx, query, cursor, limit)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if entityID.Valid {
			e.EntityID = entityID.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
