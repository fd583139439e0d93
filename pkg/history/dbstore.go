package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

// DBStore persists job history in the history database
type DBStore struct {
	db *gorm.DB
}

// NewDBStore creates a database-backed history store
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// toEntry converts a job record to its database model
func toEntry(rec jobs.Record) JobEntry {
	entry := JobEntry{
		ID:             rec.ID,
		PanelName:      rec.PanelName,
		DatabaseName:   rec.Database,
		DatabaseID:     rec.DatabaseID,
		TriggerKind:    string(rec.Trigger),
		State:          string(rec.State),
		CreatedAt:      rec.CreatedAt,
		ArtifactName:   rec.ArtifactName,
		ArtifactSize:   rec.ArtifactSize,
		DeliveryStatus: string(rec.DeliveryStatus),
		DeliveryRef:    rec.DeliveryRef,
		ErrorMessage:   rec.Error,
	}

	if !rec.CompletedAt.IsZero() {
		t := rec.CompletedAt
		entry.CompletedAt = &t
	}

	if len(rec.Transitions) > 0 {
		data, err := json.Marshal(rec.Transitions)
		if err == nil {
			entry.Transitions = string(data)
		}
	}

	return entry
}

// toRecord converts a database model back to a job record
func toRecord(entry JobEntry) jobs.Record {
	rec := jobs.Record{
		ID:             entry.ID,
		PanelName:      entry.PanelName,
		Database:       entry.DatabaseName,
		DatabaseID:     entry.DatabaseID,
		Trigger:        jobs.Trigger(entry.TriggerKind),
		State:          jobs.State(entry.State),
		CreatedAt:      entry.CreatedAt,
		ArtifactName:   entry.ArtifactName,
		ArtifactSize:   entry.ArtifactSize,
		DeliveryStatus: jobs.DeliveryStatus(entry.DeliveryStatus),
		DeliveryRef:    entry.DeliveryRef,
		Error:          entry.ErrorMessage,
	}

	if entry.CompletedAt != nil {
		rec.CompletedAt = *entry.CompletedAt
	}

	if entry.Transitions != "" {
		// Transitions are informational; a decode failure leaves them empty
		_ = json.Unmarshal([]byte(entry.Transitions), &rec.Transitions)
	}

	return rec
}

// Record upserts a job snapshot
func (s *DBStore) Record(rec jobs.Record) error {
	entry := toEntry(rec)

	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to save job record: %w", err)
	}

	return nil
}

// GetJobs returns records matching the filter, newest first
func (s *DBStore) GetJobs(filter Filter) ([]jobs.Record, error) {
	query := s.db.Model(&JobEntry{})

	if filter.PanelName != "" {
		query = query.Where("panel_name = ?", filter.PanelName)
	}
	if filter.Database != "" {
		query = query.Where("database_name = ?", filter.Database)
	}
	if filter.State != "" {
		query = query.Where("state = ?", string(filter.State))
	}
	if filter.ActiveOnly {
		query = query.Where("state NOT IN ?", []string{
			string(jobs.StateSucceeded), string(jobs.StateFailed),
		})
	}

	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []JobEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get jobs: %w", err)
	}

	records := make([]jobs.Record, 0, len(entries))
	for _, entry := range entries {
		records = append(records, toRecord(entry))
	}
	return records, nil
}

// GetJobByID returns a single record
func (s *DBStore) GetJobByID(id string) (jobs.Record, bool, error) {
	var entry JobEntry

	err := s.db.Where("id = ?", id).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobs.Record{}, false, nil
		}
		return jobs.Record{}, false, fmt.Errorf("failed to get job: %w", err)
	}

	return toRecord(entry), true, nil
}

// ActiveJob returns the non-terminal job for a pair, if any
func (s *DBStore) ActiveJob(panelName, database string) (jobs.Record, bool, error) {
	var entry JobEntry

	err := s.db.Where("panel_name = ? AND database_name = ? AND state NOT IN ?",
		panelName, database, []string{
			string(jobs.StateSucceeded), string(jobs.StateFailed),
		}).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jobs.Record{}, false, nil
		}
		return jobs.Record{}, false, fmt.Errorf("failed to query active job: %w", err)
	}

	return toRecord(entry), true, nil
}

// PurgeOldJobs deletes terminal records older than age
func (s *DBStore) PurgeOldJobs(age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)

	result := s.db.Where("state IN ? AND completed_at < ?", []string{
		string(jobs.StateSucceeded), string(jobs.StateFailed),
	}, cutoff).Delete(&JobEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge old jobs: %w", result.Error)
	}

	return int(result.RowsAffected), nil
}
