package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"flowdesk/internal/models"
)

// Invocation is the opaque payload handed to the action executor for one
// action. The engine never interprets ActionConfig; placeholder substitution
// and the actual side effect belong to the executor.
type Invocation struct {
	ActionType   models.ActionType      `json:"action_type"`
	ActionConfig map[string]interface{} `json:"action_config"`
	TriggerData  map[string]interface{} `json:"trigger_data"`
}

// ActionExecutor is the external capability that performs an action's side
// effect. It may be slow or unavailable; errors are captured per action.
type ActionExecutor interface {
	Invoke(ctx context.Context, inv Invocation) (interface{}, error)
}

// ActionExecutorFunc adapts a function to the ActionExecutor interface.
type ActionExecutorFunc func(ctx context.Context, inv Invocation) (interface{}, error)

func (f ActionExecutorFunc) Invoke(ctx context.Context, inv Invocation) (interface{}, error) {
	return f(ctx, inv)
}

// RunActions executes actions in ascending Order (definition order breaks
// ties) against triggerData. A failing action does not stop the pipeline;
// every later action still runs with the original trigger data. The returned
// slice always has one result per action, so callers can persist a complete
// log regardless of failures.
func RunActions(ctx context.Context, executor ActionExecutor, actions []models.Action, triggerData map[string]interface{}) []models.ActionResult {
	ordered := make([]models.Action, len(actions))
	copy(ordered, actions)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	results := make([]models.ActionResult, 0, len(ordered))
	for _, action := range ordered {
		res := models.ActionResult{
			ActionType: action.Type,
			ActionName: action.Name,
			StartTime:  time.Now(),
		}
		payload, err := invokeAction(ctx, executor, Invocation{
			ActionType:   action.Type,
			ActionConfig: action.Config,
			TriggerData:  triggerData,
		})
		res.EndTime = time.Now()
		if err != nil {
			res.Status = models.ActionResultFailed
			res.Error = err.Error()
		} else {
			res.Status = models.ActionResultSuccess
			res.Result = payload
		}
		results = append(results, res)
	}
	return results
}

// invokeAction isolates a single executor call: a missing executor or a
// panicking one becomes a failed result rather than a crashed run.
func invokeAction(ctx context.Context, executor ActionExecutor, inv Invocation) (payload interface{}, err error) {
	if executor == nil {
		return nil, fmt.Errorf("no action executor configured")
	}
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("action executor panic: %v", r)
		}
	}()
	return executor.Invoke(ctx, inv)
}
