package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/services"
)

// defaultIntervalMinutes is the cadence used when a design omits one.
const defaultIntervalMinutes = 5

// Deployer persists monitoring tasks designed in the builder modes. The
// dispatcher advertises deploy_monitoring_task only to those modes.
type Deployer struct {
	tasks  *services.TaskService
	logger *slog.Logger
}

// NewDeployer creates a deployer writing through the task service.
func NewDeployer(tasks *services.TaskService, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{tasks: tasks, logger: logger}
}

// Deploy normalizes the designed task fields and inserts the task. Models
// produce loosely typed payloads, so every field accepts both its canonical
// form and the common string encodings.
func (d *Deployer) Deploy(ctx context.Context, args map[string]any) map[string]any {
	title, _ := args["title"].(string)
	toolName, _ := args["tool_name"].(string)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(toolName) == "" {
		return errorResult("deploy_monitoring_task requires title and tool_name")
	}

	toolArgs, err := asArgsMap(args["tool_args"])
	if err != nil {
		return errorResult("invalid tool_args: %s", err)
	}
	threshold, err := asJSONString(args["threshold_condition"])
	if err != nil {
		return errorResult("invalid threshold_condition: %s", err)
	}
	targetAgent, err := asTargetAgent(args["target_agent"])
	if err != nil {
		return errorResult("invalid target_agent: %s", err)
	}
	interval, err := asMinutes(args["interval_minutes"])
	if err != nil {
		return errorResult("invalid interval_minutes: %s", err)
	}
	if interval == 0 {
		interval = defaultIntervalMinutes
	}
	actionArgs, err := asJSONString(args["action_tool_args"])
	if err != nil {
		return errorResult("invalid action_tool_args: %s", err)
	}
	actionTool, _ := args["action_tool_name"].(string)

	req := models.CreateTaskRequest{
		Title:              title,
		ToolName:           toolName,
		ToolArgs:           toolArgs,
		ThresholdCondition: threshold,
		IntervalMinutes:    interval,
		TargetAgent:        targetAgent,
		ActionToolName:     actionTool,
		ActionToolArgs:     actionArgs,
	}
	task, err := d.tasks.Create(ctx, req)
	if err != nil {
		return errorResult("failed to deploy monitoring task: %s", err)
	}

	d.logger.Info("Monitoring task deployed",
		"task_id", task.ID, "title", task.Title, "interval_minutes", task.IntervalMinutes)
	return map[string]any{
		"status":  "success",
		"task_id": task.ID,
		"title":   task.Title,
	}
}

// asArgsMap accepts a map or its JSON string encoding.
func asArgsMap(v any) (map[string]any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return val, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return nil, nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err != nil {
			return nil, fmt.Errorf("not a JSON object: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// asJSONString accepts a string as-is or re-encodes a structured value.
func asJSONString(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

// asTargetAgent accepts "all", a single identifier, or a list of
// identifiers. Lists are stored JSON-encoded.
func asTargetAgent(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return models.TargetAll, nil
	case string:
		if strings.TrimSpace(val) == "" {
			return models.TargetAll, nil
		}
		return val, nil
	case []any, []string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// asMinutes accepts an int, a JSON number, or a numeric string.
func asMinutes(v any) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case int:
		return val, nil
	case float64:
		return int(val), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("not a number: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
