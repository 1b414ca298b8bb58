package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"flowdesk/internal/models"
)

// Built-in automation templates. Config values use mustache-style
// placeholders ({{name}}, {{3_days_from_now}}) which the engine passes
// through untouched; the action executor substitutes them.
const (
	TemplateLeadFollowUp       = "lead_follow_up"
	TemplateTaskReminder       = "task_reminder"
	TemplateNewUserWelcome     = "new_user_welcome"
	TemplateDataSync           = "data_sync"
	TemplateCustomerOnboarding = "customer_onboarding"
)

func builtinTemplates() map[string]AutomationCreateRequest {
	return map[string]AutomationCreateRequest{
		TemplateLeadFollowUp: {
			Name:        "Lead follow-up",
			Description: "Create a follow-up task when a lead becomes qualified",
			Trigger: models.TriggerSpec{
				Type:   models.TriggerTypeEvent,
				Config: map[string]interface{}{"collection": "leads", "operation": "update"},
			},
			Conditions: []models.Condition{
				{Field: "status", Operator: models.OperatorEquals, Value: "qualified"},
			},
			Actions: []models.Action{
				{
					Type:  models.ActionCreateTask,
					Name:  "Create follow-up task",
					Order: 1,
					Config: map[string]interface{}{
						"title":    "Follow up with {{name}}",
						"due_date": "{{3_days_from_now}}",
						"priority": "high",
					},
				},
			},
			Tags: []string{"sales", "leads"},
		},
		TemplateTaskReminder: {
			Name:        "Task reminder",
			Description: "Notify the assignee daily about tasks due soon",
			Trigger: models.TriggerSpec{
				Type:   models.TriggerTypeSchedule,
				Config: map[string]interface{}{"frequency": "daily", "time": "09:00"},
			},
			Actions: []models.Action{
				{
					Type:  models.ActionSendNotification,
					Name:  "Send due-task reminder",
					Order: 1,
					Config: map[string]interface{}{
						"recipient": "{{assignee}}",
						"message":   "Task {{title}} is due {{due_date}}",
					},
				},
			},
			Tags: []string{"tasks"},
		},
		TemplateNewUserWelcome: {
			Name:        "New-user welcome",
			Description: "Send a welcome email when a user is created",
			Trigger: models.TriggerSpec{
				Type:   models.TriggerTypeEvent,
				Config: map[string]interface{}{"collection": "users", "operation": "create"},
			},
			Actions: []models.Action{
				{
					Type:  models.ActionSendEmail,
					Name:  "Send welcome email",
					Order: 1,
					Config: map[string]interface{}{
						"to":       "{{email}}",
						"subject":  "Welcome to the team, {{name}}",
						"template": "welcome",
					},
				},
			},
			Tags: []string{"onboarding", "users"},
		},
		TemplateDataSync: {
			Name:        "Data sync",
			Description: "Push customer changes to the external system of record",
			Trigger: models.TriggerSpec{
				Type:   models.TriggerTypeEvent,
				Config: map[string]interface{}{"collection": "customers", "operation": "any"},
			},
			Actions: []models.Action{
				{
					Type:  models.ActionCallWebhook,
					Name:  "Sync to external system",
					Order: 1,
					Config: map[string]interface{}{
						"url":    "{{sync_endpoint}}",
						"method": "POST",
					},
				},
			},
			Tags: []string{"integration"},
		},
		TemplateCustomerOnboarding: {
			Name:        "Customer onboarding",
			Description: "Kick off the onboarding sequence for new customers",
			Trigger: models.TriggerSpec{
				Type:   models.TriggerTypeEvent,
				Config: map[string]interface{}{"collection": "customers", "operation": "create"},
			},
			Actions: []models.Action{
				{
					Type:  models.ActionCreateTask,
					Name:  "Schedule kickoff call",
					Order: 1,
					Config: map[string]interface{}{
						"title":    "Kickoff call with {{company}}",
						"due_date": "{{3_days_from_now}}",
					},
				},
				{
					Type:  models.ActionCreateCalendarEvent,
					Name:  "Book onboarding session",
					Order: 2,
					Config: map[string]interface{}{
						"title":    "Onboarding: {{company}}",
						"duration": "60m",
					},
				},
				{
					Type:  models.ActionSendEmail,
					Name:  "Send onboarding packet",
					Order: 3,
					Config: map[string]interface{}{
						"to":       "{{email}}",
						"template": "onboarding_packet",
					},
				},
			},
			Tags: []string{"onboarding", "customers"},
		},
	}
}

// TemplateTypes lists the available template identifiers, sorted.
func TemplateTypes() []string {
	templates := builtinTemplates()
	types := make([]string, 0, len(templates))
	for t := range templates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// CreateFromTemplate instantiates a built-in template, shallow-merging the
// override fields (name, trigger, conditions, actions, ...) over the
// template's definition before creating it through the registry. Overridden
// list fields replace the template's lists wholesale.
func (s *AutomationService) CreateFromTemplate(ctx context.Context, templateType string, overrides map[string]interface{}, createdBy string) (*models.Automation, error) {
	template, ok := builtinTemplates()[templateType]
	if !ok {
		return nil, fmt.Errorf("unknown template type: %s", templateType)
	}
	template.IsSystem = true

	if len(overrides) > 0 {
		base, err := json.Marshal(template)
		if err != nil {
			return nil, err
		}
		var merged map[string]interface{}
		if err := json.Unmarshal(base, &merged); err != nil {
			return nil, err
		}
		for k, v := range overrides {
			if systemOwnedFields[k] {
				return nil, fmt.Errorf("field %q is system-owned and cannot be overridden", k)
			}
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("invalid overrides: %w", err)
		}
		if err := json.Unmarshal(raw, &template); err != nil {
			return nil, fmt.Errorf("invalid overrides: %w", err)
		}
	}

	return s.Create(ctx, &template, createdBy)
}
