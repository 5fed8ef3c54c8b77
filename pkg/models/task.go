package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TargetAll is the sentinel stored in MonitoringTask.TargetAgent meaning the
// tool addresses its own scope and no per-target fan-out happens.
const TargetAll = "all"

// MonitoringTask is a persisted scheduled tool invocation with an optional
// threshold condition and response action.
type MonitoringTask struct {
	ID                 string         `json:"id"`
	Title              string         `json:"title"`
	ToolName           string         `json:"tool_name"`
	ToolArgs           map[string]any `json:"tool_args"`
	ThresholdCondition string         `json:"threshold_condition"`
	IntervalMinutes    int            `json:"interval_minutes"`
	Enabled            bool           `json:"enabled"`
	TargetAgent        string         `json:"target_agent"` // "all" or a JSON array of asset identifiers
	ActionToolName     string         `json:"action_tool_name,omitempty"`
	ActionToolArgs     string         `json:"action_tool_args,omitempty"`
	LastRun            *time.Time     `json:"last_run,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Targets decodes TargetAgent into an explicit fan-out list. "all" (or empty)
// yields nil, meaning no fan-out. A JSON array yields its elements. Any other
// value is a single target.
func (t *MonitoringTask) Targets() []string {
	raw := strings.TrimSpace(t.TargetAgent)
	if raw == "" || raw == TargetAll {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var list []string
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			return list
		}
	}
	return []string{raw}
}

// Due reports whether the task should run at now: never run before, or the
// configured interval has fully elapsed since the last run.
func (t *MonitoringTask) Due(now time.Time) bool {
	if t.LastRun == nil {
		return true
	}
	return now.Sub(*t.LastRun) >= time.Duration(t.IntervalMinutes)*time.Minute
}

// CreateTaskRequest contains fields for creating a monitoring task.
type CreateTaskRequest struct {
	Title              string         `json:"title"`
	ToolName           string         `json:"tool_name"`
	ToolArgs           map[string]any `json:"tool_args,omitempty"`
	ThresholdCondition string         `json:"threshold_condition,omitempty"`
	IntervalMinutes    int            `json:"interval_minutes"`
	TargetAgent        string         `json:"target_agent,omitempty"`
	ActionToolName     string         `json:"action_tool_name,omitempty"`
	ActionToolArgs     string         `json:"action_tool_args,omitempty"`
	Enabled            *bool          `json:"enabled,omitempty"`
}

// TaskListResponse contains a task list with its total count.
type TaskListResponse struct {
	Tasks      []*MonitoringTask `json:"tasks"`
	TotalCount int               `json:"total_count"`
}
