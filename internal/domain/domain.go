package domain

type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OpenTasks      int    `json:"open_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Complexity    float64 `json:"complexity"`
	DeadlineHours float64 `json:"deadline_hours"`
	Status        string  `json:"status" enum:"unassigned,assigned,in_progress,completed"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
}

// Assignment captures the ranker's inputs and verdict for one task at the
// moment it was assigned. One row per task, replaced on reassignment.
type Assignment struct {
	TaskID        string  `json:"task_id"`
	UserID        string  `json:"user_id"`
	Complexity    float64 `json:"complexity"`
	DeadlineHours float64 `json:"deadline_hours"`
	OpenTasks     int     `json:"open_tasks"`
	MeanSuccess   float64 `json:"mean_success"`
	Score         float64 `json:"score"`
	Source        string  `json:"source" enum:"model,cold_start"`
	AssignedAt    string  `json:"assigned_at" format:"date-time"`
}

// Outcome is one completed task. Complexity, DeadlineHours, OpenTasks and
// MeanSuccess are snapshots from assignment time, never the live records.
// Rows are append-only.
type Outcome struct {
	ID            int64   `json:"id"`
	TaskID        string  `json:"task_id"`
	UserID        string  `json:"user_id"`
	Complexity    float64 `json:"complexity"`
	DeadlineHours float64 `json:"deadline_hours"`
	OpenTasks     int     `json:"open_tasks"`
	MeanSuccess   float64 `json:"mean_success"`
	ActualHours   float64 `json:"actual_hours"`
	Quality       int     `json:"quality"`
	Success       float64 `json:"success"`
	RecordedAt    string  `json:"recorded_at" format:"date-time"`
}

type Note struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Progress  *int   `json:"progress,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ModelRecord is the persisted form of the active predictor snapshot:
// a single named slot overwritten wholesale on retrain.
type ModelRecord struct {
	Slot          string `json:"slot"`
	SchemaVersion int    `json:"schema_version"`
	DatasetSize   int    `json:"dataset_size"`
	TrainedAt     string `json:"trained_at" format:"date-time"`
	Artifact      []byte `json:"-"`
}

// UserStats are derived aggregates, recomputed from outcomes on read.
type UserStats struct {
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	OpenTasks      int     `json:"open_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	MeanQuality    float64 `json:"mean_quality"`
	MeanHours      float64 `json:"mean_hours"`
	MeanSuccess    float64 `json:"mean_success"`
	SkillLevel     string  `json:"skill_level" enum:"Learning,Good,Expert"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
