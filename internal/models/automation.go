package models

import (
	"fmt"
	"time"
)

// AutomationStatus is the lifecycle state of an automation. Only active
// automations are eligible to fire.
type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"
	AutomationStatusActive   AutomationStatus = "active"
	AutomationStatusInactive AutomationStatus = "inactive"
	AutomationStatusError    AutomationStatus = "error"
)

// TriggerType enumerates how an automation can be started.
type TriggerType string

const (
	TriggerTypeEvent     TriggerType = "event"
	TriggerTypeSchedule  TriggerType = "schedule"
	TriggerTypeCondition TriggerType = "condition"
	TriggerTypeManual    TriggerType = "manual"
)

// Operation is the change-feed operation an event trigger watches.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationAny    Operation = "any"
)

// Operator enumerates the supported condition operators.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorExists      Operator = "exists"
	OperatorNotExists   Operator = "not_exists"
)

// ActionType enumerates the supported side effects. The engine never
// interprets these beyond dispatching them to the action executor.
type ActionType string

const (
	ActionCreateTask          ActionType = "create_task"
	ActionUpdateRecord        ActionType = "update_record"
	ActionSendEmail           ActionType = "send_email"
	ActionSendNotification    ActionType = "send_notification"
	ActionCreateCalendarEvent ActionType = "create_calendar_event"
	ActionCallWebhook         ActionType = "call_webhook"
	ActionCustomFunction      ActionType = "custom_function"
)

// TriggerSpec describes when an automation fires. Config is type-specific:
// event triggers carry {collection, operation}, schedule triggers carry
// {frequency, time}. Manual/condition triggers need no config.
type TriggerSpec struct {
	Type   TriggerType            `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// EventConfig extracts the {collection, operation} pair from an event
// trigger's config. Missing keys are a setup error, not a crash.
func (t TriggerSpec) EventConfig() (collection string, op Operation, err error) {
	if t.Type != TriggerTypeEvent {
		return "", "", fmt.Errorf("trigger type %q is not event-based", t.Type)
	}
	collection, _ = t.Config["collection"].(string)
	if collection == "" {
		return "", "", fmt.Errorf("event trigger missing collection")
	}
	opStr, _ := t.Config["operation"].(string)
	if opStr == "" {
		return "", "", fmt.Errorf("event trigger missing operation")
	}
	op = Operation(opStr)
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete, OperationAny:
	default:
		return "", "", fmt.Errorf("unsupported operation: %s", opStr)
	}
	return collection, op, nil
}

// ScheduleConfig extracts {frequency, time} from a schedule trigger's config.
func (t TriggerSpec) ScheduleConfig() (frequency, at string, err error) {
	if t.Type != TriggerTypeSchedule {
		return "", "", fmt.Errorf("trigger type %q is not schedule-based", t.Type)
	}
	frequency, _ = t.Config["frequency"].(string)
	if frequency == "" {
		return "", "", fmt.Errorf("schedule trigger missing frequency")
	}
	at, _ = t.Config["time"].(string)
	return frequency, at, nil
}

// Condition is one declarative predicate against the triggering record.
// Field is a dot-path into nested maps.
type Condition struct {
	Field    string      `json:"field"`
	Operator Operator    `json:"operator"`
	Value    interface{} `json:"value,omitempty"`
}

// Action is one side-effecting step in an automation's pipeline. Order is the
// execution sequence number; ties fall back to definition order. Config may
// carry mustache-style placeholders ({{name}}) which the engine treats as
// opaque strings; substitution is the action executor's job.
type Action struct {
	Type   ActionType             `json:"type"`
	Name   string                 `json:"name"`
	Order  int                    `json:"order"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// Automation is a stored rule: trigger + conditions + ordered actions.
// Conditions combine with logical AND; an empty list always matches.
type Automation struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	Name        string           `gorm:"not null" json:"name"`
	Description string           `json:"description,omitempty"`
	Status      AutomationStatus `gorm:"index;size:16" json:"status"`
	Trigger     TriggerSpec      `gorm:"serializer:json;type:text" json:"trigger"`
	Conditions  []Condition      `gorm:"serializer:json;type:text" json:"conditions"`
	Actions     []Action         `gorm:"serializer:json;type:text" json:"actions"`

	CreatedBy   string   `gorm:"index;size:64" json:"created_by"`
	WorkspaceID string   `gorm:"index;size:64" json:"workspace_id"`
	IsSystem    bool     `json:"is_system"`
	Tags        []string `gorm:"serializer:json;type:text" json:"tags"`

	// Run counters, mutated only by the listener manager after a run
	// resolves, via atomic increments.
	ExecutionCount int64      `json:"execution_count"`
	ErrorCount     int64      `json:"error_count"`
	LastExecutedAt *time.Time `json:"last_executed_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
