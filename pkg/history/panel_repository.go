package history

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporttools/GoPanelGuard/pkg/config"
)

// PanelRepository handles database operations for panel configurations
type PanelRepository struct {
	db *gorm.DB
}

// NewPanelRepository creates a new PanelRepository instance
func NewPanelRepository(db *gorm.DB) *PanelRepository {
	return &PanelRepository{db: db}
}

// GetAllPanels retrieves all panel configurations
func (r *PanelRepository) GetAllPanels() ([]PanelEntry, error) {
	var panels []PanelEntry

	err := r.db.Order("name").Find(&panels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get panels: %w", err)
	}

	return panels, nil
}

// GetPanelByName retrieves a panel configuration by name
func (r *PanelRepository) GetPanelByName(name string) (*PanelEntry, error) {
	var panel PanelEntry

	err := r.db.Where("name = ?", name).First(&panel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("panel not found: %s", name)
		}
		return nil, fmt.Errorf("failed to get panel: %w", err)
	}

	return &panel, nil
}

// CreatePanel creates a new panel configuration
func (r *PanelRepository) CreatePanel(panel *PanelEntry) error {
	if panel.ID == "" {
		panel.ID = uuid.New().String()
	}

	now := time.Now()
	panel.CreatedAt = now
	panel.UpdatedAt = now

	if err := r.db.Create(panel).Error; err != nil {
		return fmt.Errorf("failed to create panel: %w", err)
	}
	return nil
}

// UpdatePanel updates an existing panel configuration
func (r *PanelRepository) UpdatePanel(panel *PanelEntry) error {
	panel.UpdatedAt = time.Now()

	result := r.db.Model(&PanelEntry{}).Where("id = ?", panel.ID).Updates(panel)
	if result.Error != nil {
		return fmt.Errorf("failed to update panel: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("panel not found: %s", panel.ID)
	}
	return nil
}

// DeletePanel deletes a panel configuration
func (r *PanelRepository) DeletePanel(id string) error {
	result := r.db.Where("id = ?", id).Delete(&PanelEntry{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete panel: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("panel not found: %s", id)
	}
	return nil
}

// SetPanelEnabled enables or disables a panel
func (r *PanelRepository) SetPanelEnabled(id string, enabled bool) error {
	result := r.db.Model(&PanelEntry{}).Where("id = ?", id).Updates(map[string]interface{}{
		"enabled":    enabled,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update panel: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("panel not found: %s", id)
	}
	return nil
}

// SeedFromConfig populates the panel table from the YAML configuration when
// the table is empty. Existing rows always win over the file.
func (r *PanelRepository) SeedFromConfig(panels []config.PanelConfig) error {
	var count int64
	if err := r.db.Model(&PanelEntry{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count panels: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, p := range panels {
		entry := PanelEntry{
			Name:    p.Name,
			URL:     p.URL,
			APIKey:  p.APIKey,
			Enabled: p.Enabled,
		}
		if err := r.CreatePanel(&entry); err != nil {
			return err
		}
	}
	return nil
}

// ToPanelConfig converts a database entry to the runtime configuration type
func (e PanelEntry) ToPanelConfig() config.PanelConfig {
	return config.PanelConfig{
		Name:    e.Name,
		URL:     e.URL,
		APIKey:  e.APIKey,
		Enabled: e.Enabled,
	}
}
