package crewlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Crewline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	OpenTasks      int    `json:"open_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Complexity    float64 `json:"complexity"`
	DeadlineHours float64 `json:"deadline_hours"`
	Status        string  `json:"status"`
	AssigneeID    *string `json:"assignee_id,omitempty"`
}

// Assignment is the ranker's verdict for one task.
type Assignment struct {
	TaskID     string  `json:"task_id"`
	UserID     string  `json:"user_id"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
	AssignedAt string  `json:"assigned_at"`
}

// Ranked is one scored candidate from an assignment run.
type Ranked struct {
	UserID    string  `json:"user_id"`
	OpenTasks int     `json:"open_tasks"`
	Base      float64 `json:"base"`
	Penalty   float64 `json:"penalty"`
	Score     float64 `json:"score"`
}

// AssignResult pairs the winning assignment with the scored pool.
type AssignResult struct {
	Assignment Assignment `json:"assignment"`
	Ranked     []Ranked   `json:"ranked"`
}

// Outcome is one completed task's training row.
type Outcome struct {
	ID          int64   `json:"id"`
	TaskID      string  `json:"task_id"`
	UserID      string  `json:"user_id"`
	ActualHours float64 `json:"actual_hours"`
	Quality     int     `json:"quality"`
	Success     float64 `json:"success"`
	RecordedAt  string  `json:"recorded_at"`
}

// Note is a task progress note.
type Note struct {
	ID        int64  `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	Progress  *int   `json:"progress,omitempty"`
	CreatedAt string `json:"created_at"`
}

// ModelInfo describes the active predictor snapshot.
type ModelInfo struct {
	Ready         bool   `json:"ready"`
	SchemaVersion int    `json:"schema_version"`
	DatasetSize   int    `json:"dataset_size"`
	TrainedAt     string `json:"trained_at"`
	MinOutcomes   int    `json:"min_outcomes"`
	OutcomeCount  int    `json:"outcome_count"`
}

// RetrainResult reports a retrain attempt; refusals are statuses, not errors.
type RetrainResult struct {
	Trained     bool   `json:"trained"`
	Status      string `json:"status"`
	DatasetSize int    `json:"dataset_size"`
	TrainedAt   string `json:"trained_at"`
	Reason      string `json:"reason"`
}

// UserStats are per-user history aggregates.
type UserStats struct {
	UserID         string  `json:"user_id"`
	Name           string  `json:"name"`
	OpenTasks      int     `json:"open_tasks"`
	CompletedTasks int     `json:"completed_tasks"`
	MeanQuality    float64 `json:"mean_quality"`
	MeanHours      float64 `json:"mean_hours"`
	MeanSuccess    float64 `json:"mean_success"`
	SkillLevel     string  `json:"skill_level"`
}

// Dashboard is the team overview.
type Dashboard struct {
	TaskCounts map[string]int `json:"task_counts"`
	Users      []UserStats    `json:"users"`
	Model      ModelInfo      `json:"model"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateUser registers a user. Pass an empty id to let the server mint one.
func (c *Client) CreateUser(ctx context.Context, id, name string) (User, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	var resp User
	err := c.do(ctx, http.MethodPost, c.apiPath("users"), body, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, complexity, deadlineHours float64) (Task, error) {
	body := map[string]any{
		"title":          title,
		"complexity":     complexity,
		"deadline_hours": deadlineHours,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.apiPath("tasks"), body, &resp)
	return resp, err
}

// Assign routes a task to the best-ranked user.
func (c *Client) Assign(ctx context.Context, taskID string, force bool) (AssignResult, error) {
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/assign", url.PathEscape(taskID)))
	if force {
		endpoint += "?force=true"
	}
	var resp AssignResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Start marks an assigned task in progress.
func (c *Client) Start(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/start", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// RecordOutcome completes a task with its actual hours and quality grade.
func (c *Client) RecordOutcome(ctx context.Context, taskID string, actualHours float64, quality int) (Outcome, error) {
	body := map[string]any{
		"actual_hours": actualHours,
		"quality":      quality,
	}
	var resp Outcome
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/outcome", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Retrain refits the model from the outcome log.
func (c *Client) Retrain(ctx context.Context) (RetrainResult, error) {
	var resp RetrainResult
	err := c.do(ctx, http.MethodPost, c.apiPath("model/retrain"), nil, &resp)
	return resp, err
}

// Model returns the active model state.
func (c *Client) Model(ctx context.Context) (ModelInfo, error) {
	var resp ModelInfo
	err := c.do(ctx, http.MethodGet, c.apiPath("model"), nil, &resp)
	return resp, err
}

// Dashboard returns the team overview.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, c.apiPath("dashboard"), nil, &resp)
	return resp, err
}

// AddNote attaches a progress note to a task.
func (c *Client) AddNote(ctx context.Context, taskID, body string, progress *int) (Note, error) {
	payload := map[string]any{"body": body}
	if progress != nil {
		payload["progress"] = *progress
	}
	var resp Note
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/notes", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, payload, &resp)
	return resp, err
}

// Notes lists a task's notes.
func (c *Client) Notes(ctx context.Context, taskID string) ([]Note, error) {
	var resp []Note
	endpoint := c.apiPath(fmt.Sprintf("tasks/%s/notes", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	return "v0/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
