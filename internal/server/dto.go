package server

import (
	"encoding/json"

	"crewline/internal/assign"
	"crewline/internal/domain"
	"crewline/internal/engine"
)

// Request payloads

type CreateUserRequest struct {
	ID   *string `json:"id,omitempty"`
	Name string  `json:"name"`
}

type CreateTaskRequest struct {
	ID            *string `json:"id,omitempty"`
	Title         string  `json:"title"`
	Complexity    float64 `json:"complexity" minimum:"0" maximum:"1"`
	DeadlineHours float64 `json:"deadline_hours" minimum:"0"`
}

type RecordOutcomeRequest struct {
	UserID      *string `json:"user_id,omitempty"`
	ActualHours float64 `json:"actual_hours"`
	Quality     int     `json:"quality" minimum:"1" maximum:"5"`
}

type AddNoteRequest struct {
	AuthorID *string `json:"author_id,omitempty"`
	Body     string  `json:"body"`
	Progress *int    `json:"progress,omitempty" minimum:"0" maximum:"100"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OpenTasks      int    `json:"open_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
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

type AssignmentResponse struct {
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

type RankedResponse struct {
	UserID    string  `json:"user_id"`
	OpenTasks int     `json:"open_tasks"`
	Base      float64 `json:"base"`
	Penalty   float64 `json:"penalty"`
	Score     float64 `json:"score"`
}

// AssignResponse pairs the winning assignment with the full scored pool.
type AssignResponse struct {
	Assignment AssignmentResponse `json:"assignment"`
	Ranked     []RankedResponse   `json:"ranked"`
}

type AssignRunResponse struct {
	Assigned []AssignmentResponse `json:"assigned"`
	Count    int                  `json:"count"`
}

type OutcomeResponse struct {
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

type NoteResponse struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Progress  *int   `json:"progress,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type UserStatsResponse struct {
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	OpenTasks      int     `json:"open_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	MeanQuality    float64 `json:"mean_quality"`
	MeanHours      float64 `json:"mean_hours"`
	MeanSuccess    float64 `json:"mean_success"`
	SkillLevel     string  `json:"skill_level" enum:"Learning,Good,Expert"`
}

type ModelResponse struct {
	Ready         bool   `json:"ready"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	DatasetSize   int    `json:"dataset_size"`
	TrainedAt     string `json:"trained_at,omitempty" format:"date-time"`
	MinOutcomes   int    `json:"min_outcomes"`
	OutcomeCount  int    `json:"outcome_count"`
}

type RetrainResponse struct {
	Trained     bool   `json:"trained"`
	Status      string `json:"status" enum:"trained,insufficient_data,error"`
	DatasetSize int    `json:"dataset_size"`
	TrainedAt   string `json:"trained_at,omitempty" format:"date-time"`
	Reason      string `json:"reason,omitempty"`
}

type DashboardResponse struct {
	TaskCounts map[string]int      `json:"task_counts"`
	Users      []UserStatsResponse `json:"users"`
	Model      ModelResponse       `json:"model"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIKeyResponse never carries the key material; the plaintext appears
// once in CreateAPIKeyResponse and the stored hash stays internal.
type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func userResponse(u domain.User) UserResponse {
	return UserResponse(u)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse(a)
}

func outcomeResponse(o domain.Outcome) OutcomeResponse {
	return OutcomeResponse(o)
}

func noteResponse(n domain.Note) NoteResponse {
	return NoteResponse(n)
}

func statsResponse(s domain.UserStats) UserStatsResponse {
	return UserStatsResponse(s)
}

func modelResponse(m engine.ModelInfo) ModelResponse {
	return ModelResponse(m)
}

func retrainResponse(r engine.RetrainResult) RetrainResponse {
	return RetrainResponse(r)
}

func dashboardResponse(d engine.Dashboard) DashboardResponse {
	return DashboardResponse{
		TaskCounts: d.TaskCounts,
		Users:      mapStats(d.Users),
		Model:      modelResponse(d.Model),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:        k.ID,
		ActorID:   k.ActorID,
		Name:      k.Name,
		CreatedAt: k.CreatedAt,
	}
}

func mapUsers(items []domain.User) []UserResponse {
	res := make([]UserResponse, 0, len(items))
	for _, u := range items {
		res = append(res, userResponse(u))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapAssignments(items []domain.Assignment) []AssignmentResponse {
	res := make([]AssignmentResponse, 0, len(items))
	for _, a := range items {
		res = append(res, assignmentResponse(a))
	}
	return res
}

func mapRanked(items []assign.Ranked) []RankedResponse {
	res := make([]RankedResponse, 0, len(items))
	for _, r := range items {
		res = append(res, RankedResponse(r))
	}
	return res
}

func mapNotes(items []domain.Note) []NoteResponse {
	res := make([]NoteResponse, 0, len(items))
	for _, n := range items {
		res = append(res, noteResponse(n))
	}
	return res
}

func mapStats(items []domain.UserStats) []UserStatsResponse {
	res := make([]UserStatsResponse, 0, len(items))
	for _, s := range items {
		res = append(res, statsResponse(s))
	}
	return res
}

func mapAPIKeys(items []domain.APIKey) []APIKeyResponse {
	res := make([]APIKeyResponse, 0, len(items))
	for _, k := range items {
		res = append(res, apiKeyResponse(k))
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return map[string]any{}
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
