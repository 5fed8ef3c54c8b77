package models

import "time"

// MonitoringResult is one persisted execution record for a task.
type MonitoringResult struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"task_id"`
	Status    Status        `json:"status"`
	Data      *ExecutionLog `json:"result_data"`
	CreatedAt time.Time     `json:"created_at"`
}

// ExecutionLog is the audit record persisted with every task run. It is
// written on success and on failure alike; later review must be able to
// reconstruct exactly what was sent and what came back.
type ExecutionLog struct {
	TaskID        string         `json:"task_id"`
	TaskTitle     string         `json:"task_title"`
	ToolName      string         `json:"tool_name"`
	ExecutedAt    time.Time      `json:"executed_at"`
	ToolArgsSent  map[string]any `json:"tool_args_sent,omitempty"`
	RawOutput     any            `json:"raw_output,omitempty"`
	ThresholdEval *ThresholdEval `json:"threshold_eval,omitempty"`
	FinalStatus   Status         `json:"final_status"`
	Action        *ActionRecord  `json:"action_execution,omitempty"`
	Error         string         `json:"error,omitempty"`
	Traceback     string         `json:"traceback,omitempty"`
}

// ThresholdEval records how the threshold condition was applied to a result.
type ThresholdEval struct {
	Condition string   `json:"condition"`
	Mode      string   `json:"mode"`
	Triggered []string `json:"triggered,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ActionRecord records the follow-up action dispatched after a red evaluation.
type ActionRecord struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args,omitempty"`
	Result   any            `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}
