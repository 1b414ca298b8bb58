package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowdesk/internal/metrics"
	"flowdesk/internal/models"
	"flowdesk/internal/store"

	"github.com/sirupsen/logrus"
)

// ChangeFeed is the slice of the record store the listener manager needs.
type ChangeFeed interface {
	Subscribe(collection string, fn store.Handler) store.UnsubscribeFunc
}

// ListenerManager orchestrates event-triggered automations: it owns the set
// of change-feed subscriptions and, per qualifying event, runs conditions →
// pipeline → log → counters. One automation's failure never stops the others;
// schedule/manual triggers come in through ExecuteAutomation instead of a
// subscription.
type ListenerManager struct {
	registry *AutomationService
	logs     *ExecutionLogService
	feed     ChangeFeed
	executor ActionExecutor
	hub      *ExecutionEventHub
	logger   *logrus.Logger

	mu            sync.Mutex
	subscriptions map[string]store.UnsubscribeFunc
	// eventCounters holds one extra subscription per distinct watched
	// collection so events_seen counts store events, not (event,
	// subscription) pairs.
	eventCounters map[string]store.UnsubscribeFunc
}

func NewListenerManager(registry *AutomationService, logs *ExecutionLogService, feed ChangeFeed, executor ActionExecutor, logger *logrus.Logger) *ListenerManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &ListenerManager{
		registry:      registry,
		logs:          logs,
		feed:          feed,
		executor:      executor,
		logger:        logger,
		subscriptions: make(map[string]store.UnsubscribeFunc),
		eventCounters: make(map[string]store.UnsubscribeFunc),
	}
}

// SetEventHub attaches an optional websocket feed for run outcomes.
func (m *ListenerManager) SetEventHub(hub *ExecutionEventHub) {
	m.hub = hub
}

func subscriptionKey(collection string, op models.Operation) string {
	return collection + "|" + string(op)
}

// EnableListeners registers one subscription per distinct (collection,
// operation) pair referenced by active event-triggered automations.
// Re-enabling is idempotent: previous subscriptions are dropped first. An
// automation with a malformed trigger config is skipped with a warning and
// does not block the rest.
func (m *ListenerManager) EnableListeners(ctx context.Context) error {
	m.DisableListeners()

	automations, err := m.registry.ListActiveEventTriggered(ctx)
	if err != nil {
		return fmt.Errorf("load active automations: %w", err)
	}

	groups := make(map[string][]models.Automation)
	ops := make(map[string]models.Operation)
	collections := make(map[string]string)
	for _, a := range automations {
		collection, op, err := a.Trigger.EventConfig()
		if err != nil {
			m.logger.Warnf("automation %s (%s): listener not registered: %v", a.Name, a.ID, err)
			continue
		}
		key := subscriptionKey(collection, op)
		groups[key] = append(groups[key], a)
		ops[key] = op
		collections[key] = collection
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, group := range groups {
		op := ops[key]
		automations := group
		unsub := m.feed.Subscribe(collections[key], func(evt store.ChangeEvent) {
			m.handleChange(op, automations, evt)
		})
		m.subscriptions[key] = unsub
	}
	for _, collection := range collections {
		if _, ok := m.eventCounters[collection]; ok {
			continue
		}
		m.eventCounters[collection] = m.feed.Subscribe(collection, func(store.ChangeEvent) {
			metrics.IncEventSeen()
		})
	}
	m.logger.Infof("automation listeners enabled: %d subscriptions for %d automations",
		len(m.subscriptions), len(automations))
	return nil
}

// DisableListeners unsubscribes everything. Idempotent; in-flight runs
// complete on their own, only new dispatches stop.
func (m *ListenerManager) DisableListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, unsub := range m.subscriptions {
		unsub()
		delete(m.subscriptions, key)
	}
	for collection, unsub := range m.eventCounters {
		unsub()
		delete(m.eventCounters, collection)
	}
}

// SubscriptionCount reports the active subscription count, for stats.
func (m *ListenerManager) SubscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscriptions)
}

// handleChange evaluates one change-feed event against every automation
// registered for its (collection, operation) pair. Each automation is
// independent: no ordering is guaranteed across them, and a failure in one
// does not affect the others.
func (m *ListenerManager) handleChange(op models.Operation, automations []models.Automation, evt store.ChangeEvent) {
	if op != models.OperationAny && string(evt.Type) != string(op) {
		return
	}
	for _, automation := range automations {
		m.dispatchEvent(automation.ID, evt)
	}
}

// dispatchEvent runs one automation against one event. The subscription's
// snapshot can be stale, so the definition is re-read first: automations
// deactivated or deleted since EnableListeners stop firing without a
// re-enable. Conditions are evaluated against the document data; the pipeline
// sees the wrapped trigger payload. Run-level errors are swallowed here so
// the listener keeps serving other automations and later events.
func (m *ListenerManager) dispatchEvent(automationID string, evt store.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	automation, err := m.registry.Get(ctx, automationID)
	if err != nil {
		if !errors.Is(err, ErrAutomationNotFound) {
			m.logger.Errorf("automation %s: reload for dispatch: %v", automationID, err)
		}
		return
	}
	if automation.Status != models.AutomationStatusActive {
		return
	}
	if !MatchesConditions(automation.Conditions, evt.Data) {
		metrics.IncMatchSkipped()
		return
	}

	triggerData := map[string]interface{}{
		"trigger_type":  "event",
		"operation":     string(evt.Type),
		"collection":    evt.Collection,
		"document_id":   evt.ID,
		"document_data": map[string]interface{}(evt.Data),
	}

	if _, err := m.run(ctx, automation, triggerData, "system"); err != nil {
		m.logger.Errorf("automation %s (%s): run aborted: %v", automation.Name, automation.ID, err)
	}
}

// ExecuteAutomation is the entry point for manual, condition and schedule
// triggers. It refuses to run anything that is not active, then executes the
// same start → pipeline → complete/fail → counters sequence synchronously and
// returns the resulting log. Action failures do not surface as an error; the
// caller reads them from the log.
func (m *ListenerManager) ExecuteAutomation(ctx context.Context, id string, data map[string]interface{}, executedBy string) (*models.ExecutionLog, error) {
	automation, err := m.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if automation.Status != models.AutomationStatusActive {
		return nil, fmt.Errorf("%w: automation %s has status %s", ErrAutomationNotActive, id, automation.Status)
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	return m.run(ctx, automation, data, executedBy)
}

// run executes the full lifecycle of one automation run. The returned error
// covers run-level problems only (log bookkeeping); per-action failures live
// inside the log.
func (m *ListenerManager) run(ctx context.Context, automation *models.Automation, triggerData map[string]interface{}, executedBy string) (*models.ExecutionLog, error) {
	log, err := m.logs.Start(ctx, automation.ID, triggerData, executedBy)
	if err != nil {
		if log == nil {
			// Not even a pending row exists; nothing to fail.
			return nil, fmt.Errorf("start execution log: %w", err)
		}
		m.resolve(ctx, automation, log, nil, err)
		return log, nil
	}
	metrics.IncRunDispatched()

	results := RunActions(ctx, m.executor, automation.Actions, triggerData)
	if err := m.logs.Complete(ctx, log, results); err != nil {
		m.resolve(ctx, automation, log, results, err)
		return log, nil
	}

	m.resolve(ctx, automation, log, results, nil)
	return log, nil
}

// resolve finalizes bookkeeping for a run: fails the log if a run-level error
// occurred, bumps exactly one counter, and publishes the outcome.
func (m *ListenerManager) resolve(ctx context.Context, automation *models.Automation, log *models.ExecutionLog, results []models.ActionResult, runErr error) {
	if runErr != nil {
		if ferr := m.logs.Fail(ctx, log, runErr); ferr != nil && ferr != ErrLogFinalized {
			m.logger.Errorf("automation %s: fail log %s: %v", automation.ID, log.ID, ferr)
		}
	}

	failed := runErr != nil
	failedActions := 0
	for _, r := range results {
		if r.Status == models.ActionResultFailed {
			failed = true
			failedActions++
		}
	}

	if err := m.registry.RecordRun(ctx, automation.ID, failed); err != nil {
		m.logger.Errorf("automation %s: record run counters: %v", automation.ID, err)
	}
	if failed {
		metrics.IncRunFailed()
	} else {
		metrics.IncRunCompleted()
	}

	if m.hub != nil {
		m.hub.Publish(ExecutionEvent{
			AutomationID:   automation.ID,
			AutomationName: automation.Name,
			ExecutionLogID: log.ID,
			Status:         string(log.Status),
			ActionCount:    len(results),
			FailedActions:  failedActions,
			Timestamp:      time.Now(),
		})
	}
}
