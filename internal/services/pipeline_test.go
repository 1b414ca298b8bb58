package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"flowdesk/internal/models"
)

// recordingExecutor remembers every invocation and fails the action types
// listed in failTypes.
type recordingExecutor struct {
	mu        sync.Mutex
	calls     []Invocation
	failTypes map[models.ActionType]error
}

func (e *recordingExecutor) Invoke(ctx context.Context, inv Invocation) (interface{}, error) {
	e.mu.Lock()
	e.calls = append(e.calls, inv)
	e.mu.Unlock()
	if err, ok := e.failTypes[inv.ActionType]; ok {
		return nil, err
	}
	return map[string]interface{}{"ok": true}, nil
}

func (e *recordingExecutor) invocations() []Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Invocation, len(e.calls))
	copy(out, e.calls)
	return out
}

func TestRunActions_FailureDoesNotShortCircuit(t *testing.T) {
	exec := &recordingExecutor{failTypes: map[models.ActionType]error{
		models.ActionSendEmail: errors.New("smtp unreachable"),
	}}
	actions := []models.Action{
		{Type: models.ActionCreateTask, Name: "first", Order: 0},
		{Type: models.ActionSendEmail, Name: "second", Order: 1},
		{Type: models.ActionSendNotification, Name: "third", Order: 2},
	}

	results := RunActions(context.Background(), exec, actions, map[string]interface{}{"k": "v"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Status != models.ActionResultSuccess {
		t.Errorf("result 0: got %s, want success", results[0].Status)
	}
	if results[1].Status != models.ActionResultFailed {
		t.Errorf("result 1: got %s, want failed", results[1].Status)
	}
	if results[1].Error != "smtp unreachable" {
		t.Errorf("result 1 error: got %q", results[1].Error)
	}
	if results[2].Status != models.ActionResultSuccess {
		t.Errorf("result 2: got %s, want success (pipeline must not stop at the failure)", results[2].Status)
	}
	if got := len(exec.invocations()); got != 3 {
		t.Errorf("executor invoked %d times, want 3", got)
	}
}

func TestRunActions_OrderField(t *testing.T) {
	exec := &recordingExecutor{}
	actions := []models.Action{
		{Type: models.ActionCallWebhook, Name: "late", Order: 5},
		{Type: models.ActionCreateTask, Name: "early", Order: 1},
		{Type: models.ActionSendEmail, Name: "middle", Order: 3},
	}

	results := RunActions(context.Background(), exec, actions, nil)
	wantNames := []string{"early", "middle", "late"}
	for i, want := range wantNames {
		if results[i].ActionName != want {
			t.Errorf("results[%d].ActionName = %q, want %q", i, results[i].ActionName, want)
		}
	}
	// The input slice stays in its declared order.
	if actions[0].Name != "late" {
		t.Errorf("input slice was mutated: %q", actions[0].Name)
	}
}

func TestRunActions_TiesKeepDefinitionOrder(t *testing.T) {
	exec := &recordingExecutor{}
	actions := []models.Action{
		{Type: models.ActionCreateTask, Name: "a", Order: 0},
		{Type: models.ActionSendEmail, Name: "b", Order: 0},
		{Type: models.ActionCallWebhook, Name: "c", Order: 0},
	}
	results := RunActions(context.Background(), exec, actions, nil)
	for i, want := range []string{"a", "b", "c"} {
		if results[i].ActionName != want {
			t.Errorf("results[%d].ActionName = %q, want %q", i, results[i].ActionName, want)
		}
	}
}

func TestRunActions_NilExecutor(t *testing.T) {
	actions := []models.Action{{Type: models.ActionSendEmail, Name: "only"}}
	results := RunActions(context.Background(), nil, actions, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != models.ActionResultFailed {
		t.Errorf("status = %s, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "no action executor") {
		t.Errorf("error = %q", results[0].Error)
	}
}

func TestRunActions_PanicBecomesFailedResult(t *testing.T) {
	exec := ActionExecutorFunc(func(ctx context.Context, inv Invocation) (interface{}, error) {
		if inv.ActionType == models.ActionCallWebhook {
			panic("nil pointer in executor")
		}
		return "done", nil
	})
	actions := []models.Action{
		{Type: models.ActionCallWebhook, Name: "boom", Order: 0},
		{Type: models.ActionCreateTask, Name: "after", Order: 1},
	}
	results := RunActions(context.Background(), exec, actions, nil)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != models.ActionResultFailed {
		t.Errorf("panicking action: status = %s, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "panic") {
		t.Errorf("panicking action error = %q", results[0].Error)
	}
	if results[1].Status != models.ActionResultSuccess {
		t.Errorf("action after panic: status = %s, want success", results[1].Status)
	}
}

func TestRunActions_EmptyPipeline(t *testing.T) {
	results := RunActions(context.Background(), &recordingExecutor{}, nil, map[string]interface{}{"x": 1})
	if len(results) != 0 {
		t.Fatalf("expected 0 results, got %d", len(results))
	}
}

func TestRunActions_PassesConfigAndTriggerData(t *testing.T) {
	exec := &recordingExecutor{}
	trigger := map[string]interface{}{"record_id": "rec-1"}
	actions := []models.Action{{
		Type:   models.ActionSendEmail,
		Name:   "welcome",
		Config: map[string]interface{}{"to": "{{email}}", "subject": "Welcome, {{name}}!"},
	}}

	RunActions(context.Background(), exec, actions, trigger)
	calls := exec.invocations()
	if len(calls) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(calls))
	}
	// Placeholders travel through untouched; substitution is the executor's job.
	if calls[0].ActionConfig["subject"] != "Welcome, {{name}}!" {
		t.Errorf("config was altered: %v", calls[0].ActionConfig["subject"])
	}
	if calls[0].TriggerData["record_id"] != "rec-1" {
		t.Errorf("trigger data missing: %v", calls[0].TriggerData)
	}
}
