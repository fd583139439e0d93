package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/supporttools/GoPanelGuard/pkg/history"
	"github.com/supporttools/GoPanelGuard/pkg/scheduler"
)

// ScheduleHandler handles schedule rule management API endpoints
type ScheduleHandler struct {
	scheduleRepo *history.ScheduleRepository
	reload       func() error
}

// NewScheduleHandler creates a new schedule handler. reload is invoked
// after any mutation so the scheduler picks up the new rule set.
func NewScheduleHandler(reload func() error) *ScheduleHandler {
	h := &ScheduleHandler{reload: reload}

	if history.DB == nil {
		log.Println("Warning: history database is not initialized, schedule management API will not work")
		return h
	}

	h.scheduleRepo = history.NewScheduleRepository(history.DB)
	return h
}

// RegisterRoutes registers the schedule API routes
func (h *ScheduleHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/schedules", h.handleSchedules)
	mux.HandleFunc("/api/schedules/delete", h.handleDeleteSchedule)
	mux.HandleFunc("/api/schedules/enable", h.handleEnableSchedule)
}

// scheduleRequest is the request structure for creating/updating a rule
type scheduleRequest struct {
	ID         string `json:"id,omitempty"`
	PanelName  string `json:"panel"`
	Database   string `json:"database"`
	Kind       string `json:"kind"`
	AnchorTime string `json:"anchorTime,omitempty"`
	AnchorDay  int    `json:"anchorDay,omitempty"`
	CronExpr   string `json:"cronExpr,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// scheduleResponse is the response structure for rule information
type scheduleResponse struct {
	ID         string    `json:"id"`
	PanelName  string    `json:"panel"`
	Database   string    `json:"database"`
	Kind       string    `json:"kind"`
	AnchorTime string    `json:"anchorTime,omitempty"`
	AnchorDay  int       `json:"anchorDay"`
	CronExpr   string    `json:"cronExpr,omitempty"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func convertScheduleToResponse(s *history.ScheduleEntry) scheduleResponse {
	return scheduleResponse{
		ID:         s.ID,
		PanelName:  s.PanelName,
		Database:   s.DatabaseName,
		Kind:       s.Kind,
		AnchorTime: s.AnchorTime,
		AnchorDay:  s.AnchorDay,
		CronExpr:   s.CronExpr,
		Enabled:    s.Enabled,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// handleSchedules handles GET and POST requests for schedule management
func (h *ScheduleHandler) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if h.scheduleRepo == nil {
		http.Error(w, "Schedule management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getSchedules(w, r)
	case http.MethodPost:
		h.createOrUpdateSchedule(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// getSchedules returns all schedule rules or a specific rule
func (h *ScheduleHandler) getSchedules(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id != "" {
		s, err := h.scheduleRepo.GetScheduleByID(id)
		if err != nil {
			http.Error(w, "Schedule not found: "+err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(convertScheduleToResponse(s))
		return
	}

	schedules, err := h.scheduleRepo.GetAllSchedules()
	if err != nil {
		http.Error(w, "Failed to retrieve schedules: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		response = append(response, convertScheduleToResponse(&schedules[i]))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// createOrUpdateSchedule creates a new rule or updates an existing one
func (h *ScheduleHandler) createOrUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.PanelName == "" || req.Database == "" || req.Kind == "" {
		http.Error(w, "Missing required fields: panel, database, kind", http.StatusBadRequest)
		return
	}

	entry := history.ScheduleEntry{
		ID:           req.ID,
		PanelName:    req.PanelName,
		DatabaseName: req.Database,
		Kind:         req.Kind,
		AnchorTime:   req.AnchorTime,
		AnchorDay:    req.AnchorDay,
		CronExpr:     req.CronExpr,
		Enabled:      req.Enabled,
	}

	// Reject rules the scheduler cannot evaluate before persisting them
	if _, err := scheduler.BuildSchedule(entry.ToRule()); err != nil {
		http.Error(w, "Invalid schedule rule: "+err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.ID == "" {
		err = h.scheduleRepo.CreateSchedule(&entry)
	} else {
		err = h.scheduleRepo.UpdateSchedule(&entry)
	}
	if err != nil {
		http.Error(w, "Failed to save schedule: "+err.Error(), http.StatusInternalServerError)
		return
	}

	h.reloadRules()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convertScheduleToResponse(&entry))
}

// handleDeleteSchedule deletes a schedule rule
func (h *ScheduleHandler) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.scheduleRepo == nil {
		http.Error(w, "Schedule management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}

	if err := h.scheduleRepo.DeleteSchedule(id); err != nil {
		http.Error(w, "Failed to delete schedule: "+err.Error(), http.StatusNotFound)
		return
	}

	h.reloadRules()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted", "id": id})
}

// handleEnableSchedule enables or disables a schedule rule
func (h *ScheduleHandler) handleEnableSchedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.scheduleRepo == nil {
		http.Error(w, "Schedule management is not available: database not initialized", http.StatusServiceUnavailable)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing required parameter: id", http.StatusBadRequest)
		return
	}
	enabled := r.URL.Query().Get("enabled") == "true"

	if err := h.scheduleRepo.SetScheduleEnabled(id, enabled); err != nil {
		http.Error(w, "Failed to update schedule: "+err.Error(), http.StatusNotFound)
		return
	}

	h.reloadRules()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "updated", "id": id, "enabled": enabled})
}

// reloadRules asks the scheduler to rebuild its rule set
func (h *ScheduleHandler) reloadRules() {
	if h.reload == nil {
		return
	}
	if err := h.reload(); err != nil {
		log.Printf("Error reloading schedule rules: %v", err)
	}
}
