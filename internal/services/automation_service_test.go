package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowdesk/internal/models"
)

func eventTrigger(collection string, op models.Operation) models.TriggerSpec {
	return models.TriggerSpec{
		Type: models.TriggerTypeEvent,
		Config: map[string]interface{}{
			"collection": collection,
			"operation":  string(op),
		},
	}
}

func TestAutomationService_CreateDefaultsAndValidation(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "lead follow-up",
		Trigger: eventTrigger("leads", models.OperationUpdate),
		Actions: []models.Action{{Type: models.ActionCreateTask, Name: "task"}},
	}, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Error("id not assigned")
	}
	if created.Status != models.AutomationStatusDraft {
		t.Errorf("status = %s, want draft default", created.Status)
	}
	if created.CreatedBy != "system" {
		t.Errorf("created_by = %q, want system default", created.CreatedBy)
	}
	if created.ExecutionCount != 0 || created.ErrorCount != 0 {
		t.Error("counters must start at zero")
	}

	badCases := []struct {
		name string
		req  AutomationCreateRequest
	}{
		{"missing name", AutomationCreateRequest{Trigger: eventTrigger("leads", models.OperationUpdate)}},
		{"unknown trigger type", AutomationCreateRequest{Name: "x", Trigger: models.TriggerSpec{Type: "timer"}}},
		{"event trigger missing collection", AutomationCreateRequest{Name: "x", Trigger: models.TriggerSpec{
			Type: models.TriggerTypeEvent, Config: map[string]interface{}{"operation": "update"}}}},
		{"event trigger bad operation", AutomationCreateRequest{Name: "x", Trigger: models.TriggerSpec{
			Type: models.TriggerTypeEvent, Config: map[string]interface{}{"collection": "leads", "operation": "upsert"}}}},
		{"bad condition operator", AutomationCreateRequest{Name: "x", Trigger: eventTrigger("leads", models.OperationUpdate),
			Conditions: []models.Condition{{Field: "status", Operator: "like"}}}},
		{"bad action type", AutomationCreateRequest{Name: "x", Trigger: eventTrigger("leads", models.OperationUpdate),
			Actions: []models.Action{{Type: "launch_rocket"}}}},
		{"bad status", AutomationCreateRequest{Name: "x", Status: "archived", Trigger: eventTrigger("leads", models.OperationUpdate)}},
	}
	for _, tc := range badCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, &tc.req, "u"); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAutomationService_GetNotFound(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("got %v, want ErrAutomationNotFound", err)
	}
}

func TestAutomationService_UpdateRejectsSystemOwnedFields(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "a",
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, field := range []string{"id", "created_at", "created_by", "execution_count", "error_count", "last_executed_at"} {
		if _, err := svc.Update(ctx, created.ID, map[string]interface{}{field: "x"}); err == nil {
			t.Errorf("patching %q must be rejected", field)
		} else if !strings.Contains(err.Error(), "system-owned") {
			t.Errorf("patching %q: unexpected error %v", field, err)
		}
	}

	// Unknown fields are rejected too, they are neither writable nor ignorable.
	if _, err := svc.Update(ctx, created.ID, map[string]interface{}{"nickname": "x"}); err == nil {
		t.Error("unknown patch field must be rejected")
	}
}

func TestAutomationService_UpdateAppliesPatch(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "before",
		Trigger: eventTrigger("leads", models.OperationUpdate),
		Tags:    []string{"sales"},
	}, "u")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	updated, err := svc.Update(ctx, created.ID, map[string]interface{}{
		"name":   "after",
		"status": "active",
		"conditions": []map[string]interface{}{
			{"field": "status", "operator": "equals", "value": "qualified"},
		},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "after" {
		t.Errorf("name = %q", updated.Name)
	}
	if updated.Status != models.AutomationStatusActive {
		t.Errorf("status = %s", updated.Status)
	}
	if len(updated.Conditions) != 1 || updated.Conditions[0].Field != "status" {
		t.Errorf("conditions = %+v", updated.Conditions)
	}
	// Untouched fields survive a partial patch.
	if len(updated.Tags) != 1 || updated.Tags[0] != "sales" {
		t.Errorf("tags = %v", updated.Tags)
	}

	// Every JSON-serialized column is patchable.
	updated, err = svc.Update(ctx, created.ID, map[string]interface{}{
		"trigger": map[string]interface{}{
			"type":   "event",
			"config": map[string]interface{}{"collection": "customers", "operation": "create"},
		},
		"actions": []map[string]interface{}{
			{"type": "send_email", "name": "welcome", "order": 1},
		},
		"tags": []string{"onboarding", "priority"},
	})
	if err != nil {
		t.Fatalf("Update serialized fields: %v", err)
	}
	if col, op, err := updated.Trigger.EventConfig(); err != nil || col != "customers" || op != models.OperationCreate {
		t.Errorf("trigger = %+v (%v)", updated.Trigger, err)
	}
	if len(updated.Actions) != 1 || updated.Actions[0].Type != models.ActionSendEmail {
		t.Errorf("actions = %+v", updated.Actions)
	}
	if len(updated.Tags) != 2 || updated.Tags[0] != "onboarding" {
		t.Errorf("tags = %v", updated.Tags)
	}

	if _, err := svc.Update(ctx, created.ID, map[string]interface{}{"status": "paused"}); err == nil {
		t.Error("invalid status value must be rejected")
	}
	if _, err := svc.Update(ctx, "missing", map[string]interface{}{"name": "x"}); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("update missing: got %v", err)
	}
}

func TestAutomationService_Delete(t *testing.T) {
	db := newTestDB(t)
	svc := NewAutomationService(db, nil)
	logs := NewExecutionLogService(db, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "to delete",
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	log, err := logs.Start(ctx, created.ID, nil, "system")
	if err != nil {
		t.Fatalf("Start log: %v", err)
	}
	if err := logs.Complete(ctx, log, nil); err != nil {
		t.Fatalf("Complete log: %v", err)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
	if err := svc.Delete(ctx, created.ID); !errors.Is(err, ErrAutomationNotFound) {
		t.Errorf("second delete: got %v", err)
	}

	// Execution history outlives the definition.
	remaining, err := logs.List(ctx, created.ID, ExecutionLogFilter{})
	if err != nil {
		t.Fatalf("List logs: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("logs after delete: got %d, want 1", len(remaining))
	}
}

func TestAutomationService_ListFilters(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()

	mk := func(name, workspace string, status models.AutomationStatus, tags []string, system bool) *models.Automation {
		a, err := svc.Create(ctx, &AutomationCreateRequest{
			Name:        name,
			Status:      status,
			Trigger:     eventTrigger("leads", models.OperationUpdate),
			WorkspaceID: workspace,
			IsSystem:    system,
			Tags:        tags,
		}, "u")
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		time.Sleep(5 * time.Millisecond)
		return a
	}

	first := mk("one", "ws1", models.AutomationStatusActive, []string{"sales", "priority"}, false)
	mk("two", "ws1", models.AutomationStatusDraft, []string{"ops"}, true)
	mk("three", "ws2", models.AutomationStatusActive, nil, false)

	all, err := svc.List(ctx, AutomationListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d, want 3", len(all))
	}
	if all[0].Name != "three" || all[2].Name != "one" {
		t.Errorf("not newest-first: %s %s %s", all[0].Name, all[1].Name, all[2].Name)
	}

	active, err := svc.List(ctx, AutomationListFilter{Status: models.AutomationStatusActive})
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("active: got %d, want 2", len(active))
	}

	ws1, err := svc.List(ctx, AutomationListFilter{WorkspaceID: "ws1"})
	if err != nil {
		t.Fatalf("List ws1: %v", err)
	}
	if len(ws1) != 2 {
		t.Errorf("ws1: got %d, want 2", len(ws1))
	}

	system := true
	sys, err := svc.List(ctx, AutomationListFilter{IsSystem: &system})
	if err != nil {
		t.Fatalf("List system: %v", err)
	}
	if len(sys) != 1 || sys[0].Name != "two" {
		t.Errorf("system filter: %+v", sys)
	}

	// Tags match any-of.
	tagged, err := svc.List(ctx, AutomationListFilter{Tags: []string{"sales", "ops"}})
	if err != nil {
		t.Fatalf("List tagged: %v", err)
	}
	if len(tagged) != 2 {
		t.Errorf("tag any-of: got %d, want 2", len(tagged))
	}

	none, err := svc.List(ctx, AutomationListFilter{Tags: []string{"billing"}})
	if err != nil {
		t.Fatalf("List untagged: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown tag: got %d, want 0", len(none))
	}

	// Cursor pagination: everything created before the newest row.
	cursor := all[0].CreatedAt
	older, err := svc.List(ctx, AutomationListFilter{CreatedBefore: &cursor})
	if err != nil {
		t.Fatalf("List older: %v", err)
	}
	if len(older) != 2 {
		t.Errorf("cursor: got %d, want 2", len(older))
	}

	limited, err := svc.List(ctx, AutomationListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != all[0].ID {
		t.Errorf("limit 1: got %d", len(limited))
	}

	_ = first
}

func TestAutomationService_ListActiveByTriggerType(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "event active",
		Status:  models.AutomationStatusActive,
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "event draft",
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:   "scheduled active",
		Status: models.AutomationStatusActive,
		Trigger: models.TriggerSpec{
			Type:   models.TriggerTypeSchedule,
			Config: map[string]interface{}{"frequency": "daily", "time": "09:00"},
		},
	}, "u"); err != nil {
		t.Fatalf("create: %v", err)
	}

	events, err := svc.ListActiveEventTriggered(ctx)
	if err != nil {
		t.Fatalf("ListActiveEventTriggered: %v", err)
	}
	if len(events) != 1 || events[0].Name != "event active" {
		t.Errorf("event-triggered: %+v", events)
	}

	scheduled, err := svc.ListActiveScheduled(ctx)
	if err != nil {
		t.Fatalf("ListActiveScheduled: %v", err)
	}
	if len(scheduled) != 1 || scheduled[0].Name != "scheduled active" {
		t.Errorf("scheduled: %+v", scheduled)
	}
}

func TestAutomationService_RecordRunCounters(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "counted",
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.RecordRun(ctx, created.ID, false); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := svc.RecordRun(ctx, created.ID, false); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := svc.RecordRun(ctx, created.ID, true); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExecutionCount != 2 {
		t.Errorf("execution_count = %d, want 2", got.ExecutionCount)
	}
	if got.ErrorCount != 1 {
		t.Errorf("error_count = %d, want 1", got.ErrorCount)
	}
	if got.LastExecutedAt == nil {
		t.Error("last_executed_at not set")
	}
}

func TestAutomationService_RecordRunConcurrentIncrementsAreAdditive(t *testing.T) {
	svc := NewAutomationService(newTestDB(t), nil)
	ctx := context.Background()
	created, err := svc.Create(ctx, &AutomationCreateRequest{
		Name:    "racy",
		Trigger: eventTrigger("leads", models.OperationUpdate),
	}, "u")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc.RecordRun(ctx, created.ID, false)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ExecutionCount != n {
		t.Errorf("execution_count = %d, want %d", got.ExecutionCount, n)
	}
}
