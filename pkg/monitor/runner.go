package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prismsec/prism/pkg/models"
	"github.com/prismsec/prism/pkg/tools"
)

// targetPlaceholder is substituted with the resolved IP in every
// string-valued argument during host-command fan-out.
const targetPlaceholder = "{target}"

// ToolDispatcher executes one tool call; failures come back as result maps
// with status "error".
type ToolDispatcher interface {
	Execute(ctx context.Context, toolName string, args any) map[string]any
}

// TaskStore loads tasks and advances their run marker. *services.TaskService
// satisfies it.
type TaskStore interface {
	Get(ctx context.Context, id string) (*models.MonitoringTask, error)
	UpdateLastRun(ctx context.Context, id string, at time.Time) error
}

// ResultStore persists execution outcomes. *services.ResultService
// satisfies it.
type ResultStore interface {
	Insert(ctx context.Context, taskID string, status models.Status, log *models.ExecutionLog) (*models.MonitoringResult, error)
}

// Masker redacts secrets from execution logs before persistence.
type Masker interface {
	MaskAny(ctx context.Context, v any) any
}

// Runner executes monitoring tasks end to end: dispatch, threshold
// evaluation, response action, persistence. Safe to run concurrently for
// distinct task ids.
type Runner struct {
	tasks      TaskStore
	results    ResultStore
	dispatcher ToolDispatcher
	masker     Masker
	logger     *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithRunnerMasker sets the secret masker applied to persisted logs.
func WithRunnerMasker(masker Masker) RunnerOption {
	return func(r *Runner) { r.masker = masker }
}

// NewRunner builds a Runner over the task and result stores.
func NewRunner(tasks TaskStore, results ResultStore, dispatcher ToolDispatcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		tasks:      tasks,
		results:    results,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one monitoring task and persists the outcome. Everything
// past task loading is caught: a panicking execution is persisted as an
// error-status result with the stack trace, and last_run advances either
// way so a broken task cannot hot-loop.
func (r *Runner) Run(ctx context.Context, taskID string) (*models.MonitoringResult, error) {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	status, log := r.execute(ctx, task)

	if r.masker != nil {
		log.RawOutput = r.masker.MaskAny(ctx, log.RawOutput)
		if log.Action != nil {
			log.Action.Result = r.masker.MaskAny(ctx, log.Action.Result)
		}
	}

	result, insertErr := r.results.Insert(ctx, task.ID, status, log)
	if insertErr != nil {
		r.logger.Error("Failed to persist monitoring result", "task_id", task.ID, "error", insertErr)
	}
	if err := r.tasks.UpdateLastRun(ctx, task.ID, time.Now().UTC()); err != nil {
		r.logger.Error("Failed to advance last_run", "task_id", task.ID, "error", err)
	}
	if insertErr != nil {
		return nil, fmt.Errorf("failed to persist monitoring result: %w", insertErr)
	}

	r.logger.Info("Monitoring task executed",
		"task_id", task.ID, "title", task.Title, "status", status)
	return result, nil
}

// execute performs dispatch, threshold evaluation, and the response action,
// converting panics into an error-status log.
func (r *Runner) execute(ctx context.Context, task *models.MonitoringTask) (status models.Status, log *models.ExecutionLog) {
	log = &models.ExecutionLog{
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		ToolName:   task.ToolName,
		ExecutedAt: time.Now().UTC(),
	}
	status = models.StatusUnknown
	defer func() {
		if rec := recover(); rec != nil {
			status = models.StatusError
			log.Error = fmt.Sprintf("panic: %v", rec)
			log.Traceback = string(debug.Stack())
			log.FinalStatus = status
			r.logger.Error("Monitoring task panicked", "task_id", task.ID, "panic", rec)
		}
	}()

	targets := task.Targets()
	fanOut := task.ToolName == tools.NameExecuteHostCommand && len(targets) > 0
	raw := r.dispatch(ctx, task, targets, fanOut, log)
	log.RawOutput = raw

	if failed, message := invocationFailed(raw, fanOut, targets); failed {
		status = models.StatusError
		log.Error = message
		log.FinalStatus = status
		return status, log
	}

	status, log.ThresholdEval = Evaluate(task.ThresholdCondition, raw)
	log.FinalStatus = status

	if status == models.StatusRed && task.ActionToolName != "" {
		log.Action = r.runAction(ctx, task, targets, raw)
	}
	return status, log
}

// dispatch routes the task's tool call. Host commands with explicit targets
// fan out per IP; every other tool runs once, with agent_id injected for
// single-target tasks.
func (r *Runner) dispatch(ctx context.Context, task *models.MonitoringTask, targets []string, fanOut bool, log *models.ExecutionLog) map[string]any {
	if fanOut {
		log.ToolArgsSent = cloneArgs(task.ToolArgs)
		composite := make(map[string]any, len(targets))
		for _, ip := range targets {
			args := substituteTarget(task.ToolArgs, ip)
			args["target"] = ip
			composite[ip] = r.dispatcher.Execute(ctx, task.ToolName, args)
		}
		return composite
	}

	args := cloneArgs(task.ToolArgs)
	if len(targets) == 1 {
		if _, exists := args["agent_id"]; !exists {
			args["agent_id"] = targets[0]
		}
	}
	log.ToolArgsSent = args
	return r.dispatcher.Execute(ctx, task.ToolName, args)
}

// runAction templates and dispatches the task's response action, recording
// the outcome either way.
func (r *Runner) runAction(ctx context.Context, task *models.MonitoringTask, targets []string, raw map[string]any) *models.ActionRecord {
	record := &models.ActionRecord{ToolName: task.ActionToolName}

	args, err := RenderAction(task.ActionToolArgs, raw, targets)
	if err != nil {
		record.Error = err.Error()
		r.logger.Error("Response action templating failed",
			"task_id", task.ID, "action", task.ActionToolName, "error", err)
		return record
	}

	record.Args = args
	record.Result = r.dispatcher.Execute(ctx, task.ActionToolName, args)
	if failed, message := resultError(record.Result); failed {
		record.Error = message
		r.logger.Warn("Response action failed",
			"task_id", task.ID, "action", task.ActionToolName, "error", message)
	} else {
		r.logger.Info("Response action executed",
			"task_id", task.ID, "action", task.ActionToolName)
	}
	return record
}

// invocationFailed reports whether the tool invocation itself failed: a
// single error result, or a fan-out where every target errored. A fan-out
// with at least one reachable target still goes through threshold
// evaluation.
func invocationFailed(raw map[string]any, fanOut bool, targets []string) (bool, string) {
	if !fanOut {
		return resultError(raw)
	}
	var messages []string
	for _, ip := range targets {
		failed, message := resultError(raw[ip])
		if !failed {
			return false, ""
		}
		messages = append(messages, fmt.Sprintf("%s: %s", ip, message))
	}
	return true, strings.Join(messages, "; ")
}

func resultError(result any) (bool, string) {
	m, ok := result.(map[string]any)
	if !ok {
		return false, ""
	}
	if s, ok := m["status"].(string); ok && s == "error" {
		message, _ := m["message"].(string)
		if message == "" {
			message = "tool execution failed"
		}
		return true, message
	}
	return false, ""
}

// substituteTarget replaces the {target} placeholder in every string-valued
// argument and returns the copy.
func substituteTarget(args map[string]any, ip string) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = strings.ReplaceAll(s, targetPlaceholder, ip)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	return out
}
