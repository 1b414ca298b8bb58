package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"flowdesk/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrAutomationNotFound signals a definition error: the id does not exist.
	ErrAutomationNotFound = errors.New("automation not found")
	// ErrAutomationNotActive signals a manual execution against a non-active
	// automation; the run is refused, no log or counter is touched.
	ErrAutomationNotActive = errors.New("automation is not active")
)

// tagFilterLimit caps any-of tag queries, mirroring the query limits of the
// document stores this registry fronts.
const tagFilterLimit = 10

// systemOwnedFields may not be changed through Update; they are written only
// by the registry itself or by the listener manager after a run.
var systemOwnedFields = map[string]bool{
	"id":               true,
	"created_at":       true,
	"created_by":       true,
	"execution_count":  true,
	"error_count":      true,
	"last_executed_at": true,
	"updated_at":       true,
}

// jsonColumn marshals a value destined for a serializer:json column written
// through a map-based Updates call. gorm only runs field serializers on the
// struct path, so map updates must carry the already-encoded text.
func jsonColumn(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// AutomationService is the registry: CRUD over automation definitions plus
// the post-run counter mutation.
type AutomationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{db: db, logger: logger}
}

// AutomationCreateRequest carries a new definition.
type AutomationCreateRequest struct {
	Name        string                  `json:"name" binding:"required"`
	Description string                  `json:"description"`
	Status      models.AutomationStatus `json:"status"`
	Trigger     models.TriggerSpec      `json:"trigger" binding:"required"`
	Conditions  []models.Condition      `json:"conditions"`
	Actions     []models.Action         `json:"actions"`
	WorkspaceID string                  `json:"workspace_id"`
	IsSystem    bool                    `json:"is_system"`
	Tags        []string                `json:"tags"`
}

// Create validates and stores a new automation. Status defaults to draft.
func (s *AutomationService) Create(ctx context.Context, req *AutomationCreateRequest, createdBy string) (*models.Automation, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name required")
	}
	if err := validateTrigger(req.Trigger); err != nil {
		return nil, err
	}
	if err := validateConditions(req.Conditions); err != nil {
		return nil, err
	}
	if err := validateActions(req.Actions); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = models.AutomationStatusDraft
	}
	if !validStatus(status) {
		return nil, fmt.Errorf("unsupported status: %s", status)
	}
	if createdBy == "" {
		createdBy = "system"
	}

	automation := &models.Automation{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      status,
		Trigger:     req.Trigger,
		Conditions:  req.Conditions,
		Actions:     req.Actions,
		CreatedBy:   createdBy,
		WorkspaceID: req.WorkspaceID,
		IsSystem:    req.IsSystem,
		Tags:        req.Tags,
	}
	if err := s.db.WithContext(ctx).Create(automation).Error; err != nil {
		return nil, err
	}
	return automation, nil
}

// Get loads one automation by id.
func (s *AutomationService) Get(ctx context.Context, id string) (*models.Automation, error) {
	var automation models.Automation
	err := s.db.WithContext(ctx).First(&automation, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAutomationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &automation, nil
}

// automationPatch is the set of caller-writable fields.
type automationPatch struct {
	Name        *string                  `json:"name"`
	Description *string                  `json:"description"`
	Status      *models.AutomationStatus `json:"status"`
	Trigger     *models.TriggerSpec      `json:"trigger"`
	Conditions  *[]models.Condition      `json:"conditions"`
	Actions     *[]models.Action         `json:"actions"`
	WorkspaceID *string                  `json:"workspace_id"`
	IsSystem    *bool                    `json:"is_system"`
	Tags        *[]string                `json:"tags"`
}

// Update applies a partial patch. Any attempt to write a system-owned field
// (id, created_at, created_by, counters, last_executed_at) is rejected.
func (s *AutomationService) Update(ctx context.Context, id string, patch map[string]interface{}) (*models.Automation, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("empty patch")
	}
	for key := range patch {
		if systemOwnedFields[key] {
			return nil, fmt.Errorf("field %q is system-owned and cannot be updated", key)
		}
	}

	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}
	var p automationPatch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid patch: %w", err)
	}

	updates := map[string]interface{}{}
	if p.Name != nil {
		if *p.Name == "" {
			return nil, fmt.Errorf("name cannot be empty")
		}
		updates["name"] = *p.Name
	}
	if p.Description != nil {
		updates["description"] = *p.Description
	}
	if p.Status != nil {
		if !validStatus(*p.Status) {
			return nil, fmt.Errorf("unsupported status: %s", *p.Status)
		}
		updates["status"] = *p.Status
	}
	if p.Trigger != nil {
		if err := validateTrigger(*p.Trigger); err != nil {
			return nil, err
		}
		encoded, err := jsonColumn(*p.Trigger)
		if err != nil {
			return nil, fmt.Errorf("invalid patch: %w", err)
		}
		updates["trigger"] = encoded
	}
	if p.Conditions != nil {
		if err := validateConditions(*p.Conditions); err != nil {
			return nil, err
		}
		encoded, err := jsonColumn(*p.Conditions)
		if err != nil {
			return nil, fmt.Errorf("invalid patch: %w", err)
		}
		updates["conditions"] = encoded
	}
	if p.Actions != nil {
		if err := validateActions(*p.Actions); err != nil {
			return nil, err
		}
		encoded, err := jsonColumn(*p.Actions)
		if err != nil {
			return nil, fmt.Errorf("invalid patch: %w", err)
		}
		updates["actions"] = encoded
	}
	if p.WorkspaceID != nil {
		updates["workspace_id"] = *p.WorkspaceID
	}
	if p.IsSystem != nil {
		updates["is_system"] = *p.IsSystem
	}
	if p.Tags != nil {
		encoded, err := jsonColumn(*p.Tags)
		if err != nil {
			return nil, fmt.Errorf("invalid patch: %w", err)
		}
		updates["tags"] = encoded
	}
	if len(updates) == 0 {
		return s.Get(ctx, id)
	}

	res := s.db.WithContext(ctx).
		Model(&models.Automation{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAutomationNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the definition. Historical execution logs are retained for
// audit on purpose.
func (s *AutomationService) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Automation{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAutomationNotFound
	}
	return nil
}

// AutomationListFilter narrows List results. Tags match if the automation
// carries ANY of the requested tags; only the first 10 tags are considered.
// CreatedBefore is the pagination cursor (last-seen created_at).
type AutomationListFilter struct {
	Status        models.AutomationStatus
	WorkspaceID   string
	IsSystem      *bool
	Tags          []string
	CreatedBefore *time.Time
	Limit         int
}

// List returns automations newest-first.
func (s *AutomationService) List(ctx context.Context, filter AutomationListFilter) ([]models.Automation, error) {
	q := s.db.WithContext(ctx).Model(&models.Automation{}).Order("created_at DESC")
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.WorkspaceID != "" {
		q = q.Where("workspace_id = ?", filter.WorkspaceID)
	}
	if filter.IsSystem != nil {
		q = q.Where("is_system = ?", *filter.IsSystem)
	}
	if len(filter.Tags) > 0 {
		tags := filter.Tags
		if len(tags) > tagFilterLimit {
			tags = tags[:tagFilterLimit]
		}
		// Tags are stored as a JSON array; an element match is a substring
		// match on its quoted form.
		sub := s.db.Session(&gorm.Session{NewDB: true})
		for i, tag := range tags {
			quoted, _ := json.Marshal(tag)
			pattern := "%" + string(quoted) + "%"
			if i == 0 {
				sub = sub.Where("tags LIKE ?", pattern)
			} else {
				sub = sub.Or("tags LIKE ?", pattern)
			}
		}
		q = q.Where(sub)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at < ?", *filter.CreatedBefore)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var automations []models.Automation
	if err := q.Limit(limit).Find(&automations).Error; err != nil {
		return nil, err
	}
	return automations, nil
}

// ListActiveEventTriggered returns the automations the listener manager must
// register feeds for. The trigger column is JSON, so the type filter happens
// after the scan.
func (s *AutomationService) ListActiveEventTriggered(ctx context.Context) ([]models.Automation, error) {
	var automations []models.Automation
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.AutomationStatusActive).
		Order("created_at DESC").
		Find(&automations).Error; err != nil {
		return nil, err
	}
	out := automations[:0]
	for _, a := range automations {
		if a.Trigger.Type == models.TriggerTypeEvent {
			out = append(out, a)
		}
	}
	return out, nil
}

// ListActiveScheduled returns active schedule-triggered automations for the
// external schedule runner.
func (s *AutomationService) ListActiveScheduled(ctx context.Context) ([]models.Automation, error) {
	var automations []models.Automation
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.AutomationStatusActive).
		Find(&automations).Error; err != nil {
		return nil, err
	}
	out := automations[:0]
	for _, a := range automations {
		if a.Trigger.Type == models.TriggerTypeSchedule {
			out = append(out, a)
		}
	}
	return out, nil
}

// RecordRun bumps the run counters exactly once per resolved run. The
// increment is a SQL expression, not read-then-write, so concurrent
// completions stay additive.
func (s *AutomationService) RecordRun(ctx context.Context, id string, failed bool) error {
	column := "execution_count"
	if failed {
		column = "error_count"
	}
	return s.db.WithContext(ctx).
		Model(&models.Automation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			column:             gorm.Expr(column+" + 1"),
			"last_executed_at": time.Now(),
		}).Error
}

func validStatus(st models.AutomationStatus) bool {
	switch st {
	case models.AutomationStatusDraft, models.AutomationStatusActive,
		models.AutomationStatusInactive, models.AutomationStatusError:
		return true
	default:
		return false
	}
}

func validateTrigger(t models.TriggerSpec) error {
	switch t.Type {
	case models.TriggerTypeEvent:
		_, _, err := t.EventConfig()
		return err
	case models.TriggerTypeSchedule:
		_, _, err := t.ScheduleConfig()
		return err
	case models.TriggerTypeCondition, models.TriggerTypeManual:
		return nil
	default:
		return fmt.Errorf("unsupported trigger type: %s", t.Type)
	}
}

func validateConditions(conditions []models.Condition) error {
	for i, c := range conditions {
		if c.Field == "" {
			return fmt.Errorf("condition %d: field required", i)
		}
		switch c.Operator {
		case models.OperatorEquals, models.OperatorNotEquals, models.OperatorContains,
			models.OperatorGreaterThan, models.OperatorLessThan,
			models.OperatorExists, models.OperatorNotExists:
		default:
			return fmt.Errorf("condition %d: unsupported operator %q", i, c.Operator)
		}
	}
	return nil
}

func validateActions(actions []models.Action) error {
	for i, a := range actions {
		switch a.Type {
		case models.ActionCreateTask, models.ActionUpdateRecord, models.ActionSendEmail,
			models.ActionSendNotification, models.ActionCreateCalendarEvent,
			models.ActionCallWebhook, models.ActionCustomFunction:
		default:
			return fmt.Errorf("action %d: unsupported type %q", i, a.Type)
		}
	}
	return nil
}
