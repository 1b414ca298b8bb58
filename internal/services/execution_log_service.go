package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flowdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrLogFinalized is returned when Complete/Fail is called on a log that
// already reached a terminal state.
var ErrLogFinalized = errors.New("execution log already finalized")

// ExecutionLogService persists one log row per automation run for audit and
// statistics. Terminal logs are immutable.
type ExecutionLogService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewExecutionLogService(db *gorm.DB, logger *logrus.Logger) *ExecutionLogService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ExecutionLogService{db: db, logger: logger}
}

// Start creates the log in status pending, then immediately moves it to
// running before any action executes. The two visible states let external
// observers detect runs stuck before dispatch.
func (s *ExecutionLogService) Start(ctx context.Context, automationID string, triggerData map[string]interface{}, executedBy string) (*models.ExecutionLog, error) {
	if executedBy == "" {
		executedBy = "system"
	}
	log := &models.ExecutionLog{
		ID:           uuid.NewString(),
		AutomationID: automationID,
		Status:       models.ExecutionStatusPending,
		TriggerData:  triggerData,
		ExecutedBy:   executedBy,
		StartTime:    time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return nil, fmt.Errorf("create execution log: %w", err)
	}
	if err := s.db.WithContext(ctx).
		Model(&models.ExecutionLog{}).
		Where("id = ?", log.ID).
		Update("status", models.ExecutionStatusRunning).Error; err != nil {
		// The pending row exists; hand it back so the caller can fail it.
		return log, fmt.Errorf("mark execution log running: %w", err)
	}
	log.Status = models.ExecutionStatusRunning
	return log, nil
}

// Complete finalizes a run with its per-action results.
func (s *ExecutionLogService) Complete(ctx context.Context, log *models.ExecutionLog, results []models.ActionResult) error {
	now := time.Now()
	encoded, err := jsonColumn(results)
	if err != nil {
		return fmt.Errorf("encode action results: %w", err)
	}
	if err := s.finalize(ctx, log.ID, map[string]interface{}{
		"status":         models.ExecutionStatusCompleted,
		"action_results": encoded,
		"end_time":       now,
	}); err != nil {
		return err
	}
	log.Status = models.ExecutionStatusCompleted
	log.ActionResults = results
	log.EndTime = &now
	return nil
}

// Fail finalizes a run that aborted outside the action pipeline, e.g. the
// automation could not be loaded or log persistence broke mid-run.
func (s *ExecutionLogService) Fail(ctx context.Context, log *models.ExecutionLog, runErr error) error {
	now := time.Now()
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := s.finalize(ctx, log.ID, map[string]interface{}{
		"status":   models.ExecutionStatusFailed,
		"error":    msg,
		"end_time": now,
	}); err != nil {
		return err
	}
	log.Status = models.ExecutionStatusFailed
	log.Error = msg
	log.EndTime = &now
	return nil
}

// finalize applies a terminal update guarded against already-terminal rows,
// so a double Complete/Fail cannot mutate history.
func (s *ExecutionLogService) finalize(ctx context.Context, id string, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).
		Model(&models.ExecutionLog{}).
		Where("id = ? AND status IN ?", id, []models.ExecutionStatus{
			models.ExecutionStatusPending,
			models.ExecutionStatusRunning,
		}).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLogFinalized
	}
	return nil
}

// Get loads one log by id.
func (s *ExecutionLogService) Get(ctx context.Context, id string) (*models.ExecutionLog, error) {
	var log models.ExecutionLog
	err := s.db.WithContext(ctx).First(&log, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("execution log %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// ExecutionLogFilter narrows List results.
type ExecutionLogFilter struct {
	Status models.ExecutionStatus
	Limit  int
}

// List returns logs for one automation, newest first. Logs outlive their
// automation: deletion of the definition does not cascade here.
func (s *ExecutionLogService) List(ctx context.Context, automationID string, filter ExecutionLogFilter) ([]models.ExecutionLog, error) {
	q := s.db.WithContext(ctx).
		Where("automation_id = ?", automationID).
		Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var logs []models.ExecutionLog
	if err := q.Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// CountForAutomation reports how many runs have been recorded for an
// automation, used by invariants checks and stats.
func (s *ExecutionLogService) CountForAutomation(ctx context.Context, automationID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&models.ExecutionLog{}).
		Where("automation_id = ?", automationID).
		Count(&n).Error
	return n, err
}
