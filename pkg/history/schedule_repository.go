package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporttools/GoPanelGuard/pkg/config"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// ScheduleRepository handles database operations for schedule rules
type ScheduleRepository struct {
	db *gorm.DB
}

// NewScheduleRepository creates a new ScheduleRepository instance
func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// GetAllSchedules retrieves all schedule rules
func (r *ScheduleRepository) GetAllSchedules() ([]ScheduleEntry, error) {
	var schedules []ScheduleEntry

	err := r.db.Order("panel_name, database_name").Find(&schedules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get schedules: %w", err)
	}

	return schedules, nil
}

// GetScheduleByID retrieves a schedule rule by ID
func (r *ScheduleRepository) GetScheduleByID(id string) (*ScheduleEntry, error) {
	var schedule ScheduleEntry

	err := r.db.Where("id = ?", id).First(&schedule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("schedule not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return &schedule, nil
}

// CreateSchedule creates a new schedule rule
func (r *ScheduleRepository) CreateSchedule(schedule *ScheduleEntry) error {
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}

	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if err := r.db.Create(schedule).Error; err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// UpdateSchedule updates an existing schedule rule
func (r *ScheduleRepository) UpdateSchedule(schedule *ScheduleEntry) error {
	schedule.UpdatedAt = time.Now()

	result := r.db.Model(&ScheduleEntry{}).Where("id = ?", schedule.ID).Updates(schedule)
	if result.Error != nil {
		return fmt.Errorf("failed to update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("schedule not found: %s", schedule.ID)
	}
	return nil
}

// DeleteSchedule deletes a schedule rule
func (r *ScheduleRepository) DeleteSchedule(id string) error {
	result := r.db.Where("id = ?", id).Delete(&ScheduleEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("schedule not found: %s", id)
	}
	return nil
}

// SetScheduleEnabled enables or disables a schedule rule
func (r *ScheduleRepository) SetScheduleEnabled(id string, enabled bool) error {
	result := r.db.Model(&ScheduleEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"enabled":    enabled,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("schedule not found: %s", id)
	}
	return nil
}

// SeedFromConfig populates the schedule table from the YAML configuration
// when the table is empty. Existing rows always win over the file.
func (r *ScheduleRepository) SeedFromConfig(rules []config.ScheduleRuleConfig) error {
	var count int64
	if err := r.db.Model(&ScheduleEntry{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count schedules: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, rule := range rules {
		entry := ScheduleEntry{
			PanelName:    rule.PanelName,
			DatabaseName: rule.Database,
			Kind:         rule.Kind,
			AnchorTime:   rule.AnchorTime,
			AnchorDay:    rule.AnchorDay,
			CronExpr:     rule.CronExpr,
			Enabled:      rule.Enabled,
		}
		if err := r.CreateSchedule(&entry); err != nil {
			return err
		}
	}
	return nil
}

// ToRule converts a database entry to a scheduler rule. Database IDs are
// resolved at trigger time, not stored in the rule.
func (e ScheduleEntry) ToRule() scheduler.Rule {
	return scheduler.Rule{
		ID:         e.ID,
		PanelName:  e.PanelName,
		Database:   panel.Database{Name: e.DatabaseName},
		Kind:       e.Kind,
		AnchorTime: e.AnchorTime,
		AnchorDay:  e.AnchorDay,
		CronExpr:   e.CronExpr,
		Enabled:    e.Enabled,
	}
}
