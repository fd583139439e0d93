package history

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/jobs"
)

// fileData is the on-disk shape of the history file
type fileData struct {
	Jobs        []jobs.Record `json:"jobs"`
	LastUpdated time.Time     `json:"lastUpdated"`
	Version     string        `json:"version"`
}

// FileStore keeps job history in a single JSON file
type FileStore struct {
	mutex    sync.RWMutex
	data     fileData
	filepath string
}

// NewFileStore creates a file-backed history store under dir, loading any
// existing history
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	store := &FileStore{
		data: fileData{
			Jobs:    make([]jobs.Record, 0),
			Version: "1.0",
		},
		filepath: filepath.Join(dir, "history.json"),
	}

	if err := store.load(); err != nil {
		log.Printf("Warning: could not load existing job history, starting fresh: %v", err)
	}
	return store, nil
}

// load reads the history file if present
func (s *FileStore) load() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, err := os.Stat(s.filepath); os.IsNotExist(err) {
		return s.save() // Create empty history file
	}

	data, err := os.ReadFile(s.filepath)
	if err != nil {
		return fmt.Errorf("failed to read history file: %w", err)
	}

	if err := json.Unmarshal(data, &s.data); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	log.Printf("Loaded job history with %d records", len(s.data.Jobs))
	return nil
}

// save persists the history without locking; callers hold the mutex
func (s *FileStore) save() error {
	s.data.LastUpdated = time.Now()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.WriteFile(s.filepath, data, 0644); err != nil {
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return nil
}

// Record upserts a job snapshot
func (s *FileStore) Record(rec jobs.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i := range s.data.Jobs {
		if s.data.Jobs[i].ID == rec.ID {
			s.data.Jobs[i] = rec
			return s.save()
		}
	}

	s.data.Jobs = append(s.data.Jobs, rec)
	return s.save()
}

// GetJobs returns records matching the filter, newest first
func (s *FileStore) GetJobs(filter Filter) ([]jobs.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []jobs.Record
	for _, rec := range s.data.Jobs {
		if !matches(rec, filter) {
			continue
		}
		result = append(result, rec)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// matches applies a filter to one record
func matches(rec jobs.Record, filter Filter) bool {
	if filter.PanelName != "" && rec.PanelName != filter.PanelName {
		return false
	}
	if filter.Database != "" && rec.Database != filter.Database {
		return false
	}
	if filter.State != "" && rec.State != filter.State {
		return false
	}
	if filter.ActiveOnly && rec.State.Terminal() {
		return false
	}
	return true
}

// GetJobByID returns a single record
func (s *FileStore) GetJobByID(id string) (jobs.Record, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, rec := range s.data.Jobs {
		if rec.ID == id {
			return rec, true, nil
		}
	}
	return jobs.Record{}, false, nil
}

// ActiveJob returns the non-terminal job for a pair, if any
func (s *FileStore) ActiveJob(panelName, database string) (jobs.Record, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, rec := range s.data.Jobs {
		if rec.PanelName == panelName && rec.Database == database && !rec.State.Terminal() {
			return rec, true, nil
		}
	}
	return jobs.Record{}, false, nil
}

// PurgeOldJobs deletes terminal records older than age
func (s *FileStore) PurgeOldJobs(age time.Duration) (int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := time.Now().Add(-age)
	kept := s.data.Jobs[:0]
	purged := 0

	for _, rec := range s.data.Jobs {
		if rec.State.Terminal() && !rec.CompletedAt.IsZero() && rec.CompletedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	s.data.Jobs = kept

	if purged > 0 {
		if err := s.save(); err != nil {
			return purged, err
		}
	}
	return purged, nil
}
