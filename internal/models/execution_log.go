package models

import "time"

// ExecutionStatus is the state of one automation run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCanceled  ExecutionStatus = "canceled"
)

// ActionResultStatus is the outcome of a single action within a run.
type ActionResultStatus string

const (
	ActionResultSuccess ActionResultStatus = "success"
	ActionResultFailed  ActionResultStatus = "failed"
)

// ActionResult records one action attempt. A run's results list has exactly
// one entry per attempted action, in pipeline order, even when actions fail.
type ActionResult struct {
	ActionType ActionType         `json:"action_type"`
	ActionName string             `json:"action_name"`
	Status     ActionResultStatus `json:"status"`
	Result     interface{}        `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
}

// ExecutionLog is the persisted record of one run of one automation.
// Logs are immutable once completed/failed and survive deletion of the
// automation for audit.
type ExecutionLog struct {
	ID           string                 `gorm:"primaryKey;size:36" json:"id"`
	AutomationID string                 `gorm:"index;size:36" json:"automation_id"`
	Status       ExecutionStatus        `gorm:"index;size:16" json:"status"`
	TriggerData  map[string]interface{} `gorm:"serializer:json;type:text" json:"trigger_data"`
	ActionResults []ActionResult        `gorm:"serializer:json;type:text" json:"action_results"`
	Error        string                 `json:"error,omitempty"`
	ExecutedBy   string                 `gorm:"size:64" json:"executed_by"`
	StartTime    time.Time              `json:"start_time"`
	EndTime      *time.Time             `json:"end_time,omitempty"`
	CreatedAt    time.Time              `gorm:"index" json:"created_at"`
}

// Failed reports whether any action in the run failed.
func (l *ExecutionLog) Failed() bool {
	if l.Status == ExecutionStatusFailed {
		return true
	}
	for _, r := range l.ActionResults {
		if r.Status == ActionResultFailed {
			return true
		}
	}
	return false
}
