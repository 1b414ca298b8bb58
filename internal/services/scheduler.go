package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ScheduleRunner is the periodic external caller for schedule-triggered
// automations. The listener manager owns event listening only; this runner
// feeds schedule triggers through the same ExecuteAutomation entry point, so
// they get identical logging and counter semantics.
type ScheduleRunner struct {
	registry *AutomationService
	manager  *ListenerManager
	logger   *logrus.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
}

func NewScheduleRunner(registry *AutomationService, manager *ListenerManager, logger *logrus.Logger) *ScheduleRunner {
	if logger == nil {
		logger = logrus.New()
	}
	return &ScheduleRunner{
		registry: registry,
		manager:  manager,
		logger:   logger,
		entries:  make(map[string]cron.EntryID),
	}
}

// Start loads active schedule-triggered automations and registers one cron
// entry per automation. Restarting is idempotent: the previous cron is torn
// down first. A malformed schedule config skips that automation only.
func (r *ScheduleRunner) Start(ctx context.Context) error {
	r.Stop()

	automations, err := r.registry.ListActiveScheduled(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled automations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cron = cron.New()
	for _, a := range automations {
		frequency, at, err := a.Trigger.ScheduleConfig()
		if err != nil {
			r.logger.Warnf("automation %s (%s): schedule not registered: %v", a.Name, a.ID, err)
			continue
		}
		spec, err := cronSpec(frequency, at)
		if err != nil {
			r.logger.Warnf("automation %s (%s): schedule not registered: %v", a.Name, a.ID, err)
			continue
		}
		id := a.ID
		entryID, err := r.cron.AddFunc(spec, func() { r.fire(id) })
		if err != nil {
			r.logger.Warnf("automation %s (%s): cron registration failed: %v", a.Name, a.ID, err)
			continue
		}
		r.entries[id] = entryID
	}
	r.cron.Start()
	r.logger.Infof("schedule runner started: %d entries", len(r.entries))
	return nil
}

// Stop halts the cron loop. In-flight runs complete on their own.
func (r *ScheduleRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
	r.entries = make(map[string]cron.EntryID)
}

// EntryCount reports the number of registered schedule entries.
func (r *ScheduleRunner) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *ScheduleRunner) fire(automationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	data := map[string]interface{}{
		"trigger_type": "schedule",
		"fired_at":     time.Now().Format(time.RFC3339),
	}
	if _, err := r.manager.ExecuteAutomation(ctx, automationID, data, "system"); err != nil {
		// The automation may have been deactivated or deleted since Start;
		// the entry stays until the next reload.
		r.logger.Warnf("scheduled automation %s: %v", automationID, err)
	}
}

// cronSpec maps a {frequency, time} schedule config onto a cron expression.
// time is "HH:MM" (24h); it is ignored for hourly schedules beyond the
// minute component.
func cronSpec(frequency, at string) (string, error) {
	hour, minute := 9, 0
	if at != "" {
		var h, m int
		if _, err := fmt.Sscanf(at, "%d:%d", &h, &m); err != nil {
			return "", fmt.Errorf("invalid schedule time %q", at)
		}
		if h < 0 || h > 23 || m < 0 || m > 59 {
			return "", fmt.Errorf("invalid schedule time %q", at)
		}
		hour, minute = h, m
	}

	switch frequency {
	case "hourly":
		return fmt.Sprintf("%d * * * *", minute), nil
	case "daily":
		return fmt.Sprintf("%d %d * * *", minute, hour), nil
	case "weekly":
		return fmt.Sprintf("%d %d * * 1", minute, hour), nil
	case "monthly":
		return fmt.Sprintf("%d %d 1 * *", minute, hour), nil
	default:
		return "", fmt.Errorf("unsupported schedule frequency: %s", frequency)
	}
}
