package models

// Status classifies a monitoring evaluation outcome.
type Status string

const (
	// StatusGreen means every threshold rule passed.
	StatusGreen Status = "green"
	// StatusAmber means the result needs human review (non-fatal rule
	// failures, reserved evaluation modes, or evaluation errors).
	StatusAmber Status = "amber"
	// StatusRed means a fatal rule fired; the task's response action runs.
	StatusRed Status = "red"
	// StatusError means the tool invocation itself failed.
	StatusError Status = "error"
	// StatusUnknown is used when no evaluation took place.
	StatusUnknown Status = "unknown"
)
