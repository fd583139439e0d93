package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/jobs"
	"github.com/supporttools/GoPanelGuard/pkg/panel"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// JobHandler handles job history queries and manual backup triggers
type JobHandler struct {
	store   history.Store
	pool    *jobs.Pool
	sched   *scheduler.Scheduler
	lookup  scheduler.ConnectionLookup
	clients jobs.ClientFactory
}

// NewJobHandler creates a new job handler
func NewJobHandler(store history.Store, pool *jobs.Pool, sched *scheduler.Scheduler, lookup scheduler.ConnectionLookup, clients jobs.ClientFactory) *JobHandler {
	return &JobHandler{
		store:   store,
		pool:    pool,
		sched:   sched,
		lookup:  lookup,
		clients: clients,
	}
}

// RegisterRoutes registers the job API routes
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/jobs", h.handleListJobs)
	mux.HandleFunc("/api/jobs/status", h.handleJobStatus)
	mux.HandleFunc("/api/jobs/cancel", h.handleCancelJob)
	mux.HandleFunc("/api/backup/run", h.handleRunBackup)
	mux.HandleFunc("/api/stats", h.handleStats)
}

// handleListJobs returns job records with optional filtering
func (h *JobHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := history.Filter{
		PanelName:  r.URL.Query().Get("panel"),
		Database:   r.URL.Query().Get("database"),
		State:      jobs.State(r.URL.Query().Get("state")),
		ActiveOnly: r.URL.Query().Get("activeOnly") == "true",
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit parameter", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	records, err := h.store.GetJobs(filter)
	if err != nil {
		log.Printf("Error listing jobs: %v", err)
		http.Error(w, "Error listing jobs", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  records,
		"count": len(records),
	}); err != nil {
		log.Printf("Error encoding jobs response: %v", err)
	}
}

// handleJobStatus returns a single job record by ID
func (h *JobHandler) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}

	rec, found, err := h.store.GetJobByID(id)
	if err != nil {
		log.Printf("Error fetching job %s: %v", id, err)
		http.Error(w, "Error fetching job", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, fmt.Sprintf("Job with ID %s not found", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		log.Printf("Error encoding job response: %v", err)
	}
}

// handleCancelJob marks an active job for cancellation. The job fails at
// its next transition boundary; an in-flight transfer is never aborted, so
// cancellation is not instant.
func (h *JobHandler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}

	if !h.pool.Cancel(id) {
		http.Error(w, fmt.Sprintf("No active job with ID %s", id), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "cancelling",
		"id":      id,
		"message": "Job will stop at its next transition boundary",
	}); err != nil {
		log.Printf("Error encoding cancel response: %v", err)
	}
}

// handleRunBackup triggers a manual backup for one (panel, database) pair
func (h *JobHandler) handleRunBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	panelName := r.URL.Query().Get("panel")
	dbName := r.URL.Query().Get("database")
	if panelName == "" || dbName == "" {
		http.Error(w, "Missing required parameters: panel, database", http.StatusBadRequest)
		return
	}

	conn, ok := h.lookup(panelName)
	if !ok {
		http.Error(w, fmt.Sprintf("Panel not found or disabled: %s", panelName), http.StatusNotFound)
		return
	}

	// Reject before resolving the database so a held lock answers fast
	if h.pool.Busy(panelName, dbName) {
		http.Error(w, fmt.Sprintf("A backup for %s/%s is already running", panelName, dbName), http.StatusConflict)
		return
	}

	db, err := h.resolveDatabase(r.Context(), conn, dbName)
	if err != nil {
		if errors.Is(err, errDatabaseNotFound) {
			http.Error(w, fmt.Sprintf("Database not found on panel %s: %s", panelName, dbName), http.StatusNotFound)
			return
		}
		log.Printf("Error resolving database %s on %s: %v", dbName, panelName, err)
		http.Error(w, "Failed to query panel: "+err.Error(), http.StatusBadGateway)
		return
	}

	job, err := h.pool.Trigger(conn, db, jobs.TriggerManual)
	if err != nil {
		http.Error(w, "Failed to queue backup: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	// Trigger rejects synchronously when the pair was locked between the
	// Busy pre-check and the enqueue
	if job.State() == jobs.StateFailed {
		http.Error(w, fmt.Sprintf("A backup for %s/%s is already running", panelName, dbName), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status":  "accepted",
		"id":      job.ID,
		"message": fmt.Sprintf("Backup of %s/%s initiated", panelName, dbName),
	}); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

var errDatabaseNotFound = errors.New("database not found")

// resolveDatabase asks the panel for its database list and picks the
// requested one by name
func (h *JobHandler) resolveDatabase(ctx context.Context, conn panel.Connection, name string) (panel.Database, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client := h.clients(conn)
	databases, err := client.ListDatabases(ctx)
	if err != nil {
		return panel.Database{}, err
	}

	for _, db := range databases {
		if db.Name == name {
			return db, nil
		}
	}
	return panel.Database{}, errDatabaseNotFound
}

// handleStats returns aggregate job statistics and scheduler state
func (h *JobHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.GetJobs(history.Filter{})
	if err != nil {
		log.Printf("Error computing stats: %v", err)
		http.Error(w, "Error computing stats", http.StatusInternalServerError)
		return
	}

	byState := make(map[string]int)
	var lastSuccess time.Time
	for _, rec := range records {
		byState[string(rec.State)]++
		if rec.State == jobs.StateSucceeded && rec.CompletedAt.After(lastSuccess) {
			lastSuccess = rec.CompletedAt
		}
	}

	stats := map[string]interface{}{
		"totalCount":  len(records),
		"byState":     byState,
		"lastSuccess": lastSuccess,
	}
	if h.sched != nil {
		stats["schedules"] = h.sched.Entries()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		log.Printf("Error encoding stats response: %v", err)
	}
}
