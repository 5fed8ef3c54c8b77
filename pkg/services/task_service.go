// Package services implements persistence services over the PostgreSQL
// schema: monitoring tasks and their execution results.
package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prismsec/prism/pkg/models"
)

// writeTimeout bounds critical writes so request cancellation cannot leave
// half-finished task state behind.
const writeTimeout = 10 * time.Second

// TaskService manages monitoring task lifecycle
type TaskService struct {
	db     *stdsql.DB
	logger *slog.Logger
}

// NewTaskService creates a new TaskService
func NewTaskService(db *stdsql.DB, logger *slog.Logger) *TaskService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskService{db: db, logger: logger}
}

// ValidateThresholdCondition enforces the save-time contract for threshold
// conditions: empty is allowed (no evaluation), anything else must decode as
// a JSON object. Free-form expressions are rejected outright; nothing in the
// system ever evaluates a condition as code.
func ValidateThresholdCondition(condition string) error {
	trimmed := strings.TrimSpace(condition)
	if trimmed == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return NewValidationError("threshold_condition", "must be a JSON object")
	}
	return nil
}

// Create validates and persists a new monitoring task.
func (s *TaskService) Create(httpCtx context.Context, req models.CreateTaskRequest) (*models.MonitoringTask, error) {
	if req.Title == "" {
		return nil, NewValidationError("title", "required")
	}
	if req.ToolName == "" {
		return nil, NewValidationError("tool_name", "required")
	}
	if req.IntervalMinutes < 1 {
		return nil, NewValidationError("interval_minutes", "must be at least 1")
	}
	if err := ValidateThresholdCondition(req.ThresholdCondition); err != nil {
		return nil, err
	}

	task := &models.MonitoringTask{
		ID:                 uuid.NewString(),
		Title:              req.Title,
		ToolName:           req.ToolName,
		ToolArgs:           req.ToolArgs,
		ThresholdCondition: strings.TrimSpace(req.ThresholdCondition),
		IntervalMinutes:    req.IntervalMinutes,
		Enabled:            true,
		TargetAgent:        req.TargetAgent,
		ActionToolName:     req.ActionToolName,
		ActionToolArgs:     req.ActionToolArgs,
		CreatedAt:          time.Now().UTC(),
	}
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}
	if task.ToolArgs == nil {
		task.ToolArgs = map[string]any{}
	}
	if task.TargetAgent == "" {
		task.TargetAgent = models.TargetAll
	}

	argsJSON, err := json.Marshal(task.ToolArgs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool_args: %w", err)
	}

	// Use background context with timeout for critical write
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitoring_tasks
		 (id, title, tool_name, tool_args, threshold_condition, interval_minutes,
		  enabled, target_agent, action_tool_name, action_tool_args, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		task.ID, task.Title, task.ToolName, argsJSON, task.ThresholdCondition,
		task.IntervalMinutes, task.Enabled, task.TargetAgent,
		nullString(task.ActionToolName), nullString(task.ActionToolArgs), task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	s.logger.Info("Monitoring task created",
		"task_id", task.ID,
		"title", task.Title,
		"tool", task.ToolName,
		"interval_minutes", task.IntervalMinutes)
	return task, nil
}

// Get loads one task by ID.
func (s *TaskService) Get(ctx context.Context, id string) (*models.MonitoringTask, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return task, nil
}

// List returns all tasks, newest first.
func (s *TaskService) List(ctx context.Context) ([]*models.MonitoringTask, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListEnabled returns the tasks the scheduler may run.
func (s *TaskService) ListEnabled(ctx context.Context) ([]*models.MonitoringTask, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// SetEnabled flips a task's scheduler eligibility.
func (s *TaskService) SetEnabled(httpCtx context.Context, id string, enabled bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE monitoring_tasks SET enabled = $2 WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastRun advances a task's last_run marker. Called after every run,
// successful or not, so a permanently failing task cannot hot-loop.
func (s *TaskService) UpdateLastRun(httpCtx context.Context, id string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE monitoring_tasks SET last_run = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last_run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a task; its results cascade away with it.
func (s *TaskService) Delete(httpCtx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM monitoring_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.logger.Info("Monitoring task deleted", "task_id", id)
	return nil
}

const taskSelect = `SELECT id, title, tool_name, tool_args, threshold_condition,
	interval_minutes, enabled, target_agent, action_tool_name, action_tool_args,
	last_run, created_at FROM monitoring_tasks`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.MonitoringTask, error) {
	var (
		task       models.MonitoringTask
		argsJSON   []byte
		actionName stdsql.NullString
		actionArgs stdsql.NullString
		lastRun    stdsql.NullTime
	)
	err := row.Scan(&task.ID, &task.Title, &task.ToolName, &argsJSON,
		&task.ThresholdCondition, &task.IntervalMinutes, &task.Enabled,
		&task.TargetAgent, &actionName, &actionArgs, &lastRun, &task.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(argsJSON) > 0 {
		if err := json.Unmarshal(argsJSON, &task.ToolArgs); err != nil {
			return nil, fmt.Errorf("failed to decode tool_args: %w", err)
		}
	}
	task.ActionToolName = actionName.String
	task.ActionToolArgs = actionArgs.String
	if lastRun.Valid {
		t := lastRun.Time
		task.LastRun = &t
	}
	return &task, nil
}

func collectTasks(rows *stdsql.Rows) ([]*models.MonitoringTask, error) {
	var tasks []*models.MonitoringTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

func nullString(s string) stdsql.NullString {
	return stdsql.NullString{String: s, Valid: s != ""}
}
