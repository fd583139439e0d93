package history

import (
	"time"
)

// JobEntry represents a backup job record
type JobEntry struct {
	ID             string    `gorm:"primaryKey;type:varchar(64)"`
	PanelName      string    `gorm:"type:varchar(255);not null;index"`
	DatabaseName   string    `gorm:"column:database_name;type:varchar(255);not null;index"`
	DatabaseID     int       `gorm:"not null"`
	TriggerKind    string    `gorm:"type:varchar(20);not null"`
	State          string    `gorm:"type:varchar(30);not null;index"`
	CreatedAt      time.Time `gorm:"not null;index"`
	CompletedAt    *time.Time
	ArtifactName   string `gorm:"type:varchar(1024)"`
	ArtifactSize   int64
	DeliveryStatus string `gorm:"type:varchar(20)"`
	DeliveryRef    string `gorm:"type:varchar(1024)"`
	ErrorMessage   string `gorm:"type:text"`
	Transitions    string `gorm:"type:text"`
}

// TableName specifies the table name for the JobEntry model
func (JobEntry) TableName() string {
	return "backup_jobs"
}

// PanelEntry represents a hosting panel connection configuration
type PanelEntry struct {
	ID        string    `gorm:"primaryKey;type:varchar(255)"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex"`
	URL       string    `gorm:"type:varchar(1024);not null"`
	APIKey    string    `gorm:"type:varchar(255);not null"`
	Enabled   bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for the PanelEntry model
func (PanelEntry) TableName() string {
	return "panel_configs"
}

// ScheduleEntry represents a backup schedule rule
type ScheduleEntry struct {
	ID           string    `gorm:"primaryKey;type:varchar(255)"`
	PanelName    string    `gorm:"type:varchar(255);not null;index"`
	DatabaseName string    `gorm:"column:database_name;type:varchar(255);not null"`
	Kind         string    `gorm:"type:varchar(20);not null"`
	AnchorTime   string    `gorm:"type:varchar(10)"`
	AnchorDay    int       `gorm:"not null;default:0"`
	CronExpr     string    `gorm:"type:varchar(100)"`
	Enabled      bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for the ScheduleEntry model
func (ScheduleEntry) TableName() string {
	return "backup_schedules"
}
